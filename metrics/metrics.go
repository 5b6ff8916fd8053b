package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "repository_core"

// Collectors groups the prometheus collectors of the repository core.
// All methods are safe on a nil *Collectors and then record nothing.
type Collectors struct {
	CacheLookups   *prometheus.CounterVec
	CachePopulate  *prometheus.CounterVec
	LockOperations *prometheus.CounterVec
	SaveChanges    *prometheus.CounterVec
	SaveCommands   prometheus.Counter
	SaveDuration   prometheus.Histogram
}

// New creates unregistered collectors.
func New() *Collectors {
	return &Collectors{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache-aside lookups by cached type and result (hit, miss)",
		}, []string{"type", "result"}),
		CachePopulate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "populate_total",
			Help:      "Populate calls after a cache miss by cached type and outcome",
		}, []string{"type", "outcome"}),
		LockOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "operations_total",
			Help:      "Resource lock operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		SaveChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit_of_work",
			Name:      "saves_total",
			Help:      "Unit of work flushes by outcome (committed, failed, empty)",
		}, []string{"outcome"}),
		SaveCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "unit_of_work",
			Name:      "commands_total",
			Help:      "Commands drained from the unit of work queue",
		}),
		SaveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "unit_of_work",
			Name:      "save_duration_seconds",
			Help:      "Duration of unit of work flushes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}

// Register registers every collector on reg (or the default registerer if nil).
// Collectors that are already registered are skipped.
func (c *Collectors) Register(reg prometheus.Registerer) error {
	if c == nil {
		return nil
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, col := range []prometheus.Collector{
		c.CacheLookups, c.CachePopulate, c.LockOperations,
		c.SaveChanges, c.SaveCommands, c.SaveDuration,
	} {
		if err := reg.Register(col); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

func (c *Collectors) CacheHit(typ string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(typ, "hit").Inc()
}

func (c *Collectors) CacheMiss(typ string) {
	if c == nil {
		return
	}
	c.CacheLookups.WithLabelValues(typ, "miss").Inc()
}

// CachePopulated records a populate call; a nil err counts as "ok".
func (c *Collectors) CachePopulated(typ string, err error) {
	if c == nil {
		return
	}
	c.CachePopulate.WithLabelValues(typ, outcome(err, "ok")).Inc()
}

// LockOperation records a lock call. acquired reports the boolean outcome when
// err is nil.
func (c *Collectors) LockOperation(op string, acquired bool, err error) {
	if c == nil {
		return
	}
	result := "lost"
	switch {
	case err != nil:
		result = "error"
	case acquired:
		result = "ok"
	}
	c.LockOperations.WithLabelValues(op, result).Inc()
}

// SaveCompleted records one unit of work flush of n commands.
func (c *Collectors) SaveCompleted(n int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	if n == 0 && err == nil {
		c.SaveChanges.WithLabelValues("empty").Inc()
		return
	}
	c.SaveChanges.WithLabelValues(outcome(err, "committed")).Inc()
	c.SaveCommands.Add(float64(n))
	c.SaveDuration.Observe(elapsed.Seconds())
}

func outcome(err error, ok string) string {
	if err != nil {
		return "failed"
	}
	return ok
}
