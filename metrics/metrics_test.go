package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors_Record(t *testing.T) {
	c := New()

	c.CacheHit("user")
	c.CacheHit("user")
	c.CacheMiss("user")
	c.CachePopulated("user", nil)
	c.CachePopulated("user", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("user", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("user", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CachePopulate.WithLabelValues("user", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CachePopulate.WithLabelValues("user", "failed")))

	c.LockOperation("create", true, nil)
	c.LockOperation("create", false, nil)
	c.LockOperation("release", false, errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LockOperations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LockOperations.WithLabelValues("create", "lost")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.LockOperations.WithLabelValues("release", "error")))

	c.SaveCompleted(0, 0, nil)
	c.SaveCompleted(3, time.Millisecond, nil)
	c.SaveCompleted(2, time.Millisecond, errors.New("conflict"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SaveChanges.WithLabelValues("empty")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SaveChanges.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SaveChanges.WithLabelValues("failed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.SaveCommands))
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.CacheHit("x")
		c.CacheMiss("x")
		c.CachePopulated("x", nil)
		c.LockOperation("create", true, nil)
		c.SaveCompleted(1, time.Second, nil)
	})
	assert.NoError(t, c.Register(prometheus.NewRegistry()))
}

func TestCollectors_RegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New()
	require.NoError(t, c.Register(reg))
	require.NoError(t, c.Register(reg))

	c.CacheHit("user")
	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
