package unitofwork

import (
	"time"

	"github.com/goliatone/go-repository-core/metrics"
	"go.uber.org/zap"
)

// Config holds the unit of work settings loaded by the config package.
type Config struct {
	Transactions   bool          `koanf:"transactions"`
	CloseTimeout   time.Duration `koanf:"close_timeout" validate:"gte=0"`
	MaxConcurrency int           `koanf:"max_concurrency" validate:"gte=0"`
}

// DefaultConfig returns the default unit of work settings.
func DefaultConfig() Config {
	return Config{Transactions: true, CloseTimeout: DefaultCloseTimeout}
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithTransactions toggles the per-save transaction. Enabled by default.
func WithTransactions(enabled bool) Option {
	return func(u *UnitOfWork) {
		u.transactions = enabled
	}
}

// WithConfig applies cfg.
func WithConfig(cfg Config) Option {
	return func(u *UnitOfWork) {
		u.transactions = cfg.Transactions
		WithCloseTimeout(cfg.CloseTimeout)(u)
		u.maxConcurrency = cfg.MaxConcurrency
	}
}

// WithDatabase sets the initial logical database.
func WithDatabase(name string) Option {
	return func(u *UnitOfWork) {
		u.database = name
	}
}

// WithCloseTimeout bounds how long Close waits for an in-flight flush.
func WithCloseTimeout(d time.Duration) Option {
	return func(u *UnitOfWork) {
		if d > 0 {
			u.closeTimeout = d
		}
	}
}

// WithMaxConcurrency limits how many commands run at once. Zero means no limit.
func WithMaxConcurrency(n int) Option {
	return func(u *UnitOfWork) {
		u.maxConcurrency = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(u *UnitOfWork) {
		u.logger = l
	}
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(u *UnitOfWork) {
		u.metrics = m
	}
}
