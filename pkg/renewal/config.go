package renewal

import (
	"errors"
	"time"

	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

// Config tunes a renewal pass.
type Config struct {
	Concurrency   int           `env:"RENEWAL_CONCURRENCY" envDefault:"8"`
	ChargeTimeout time.Duration `env:"RENEWAL_CHARGE_TIMEOUT" envDefault:"30s"`
	GraceDays     int           `env:"RENEWAL_GRACE_DAYS" envDefault:"7"`
	Lookahead     time.Duration `env:"RENEWAL_LOOKAHEAD" envDefault:"24h"`
	LockKey       string        `env:"RENEWAL_LOCK_KEY" envDefault:"renewal-pass"`
	LockTTL       time.Duration `env:"RENEWAL_LOCK_TTL" envDefault:"30m"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:   8,
		ChargeTimeout: 30 * time.Second,
		GraceDays:     subscription.DefaultGraceDays,
		Lookahead:     24 * time.Hour,
		LockKey:       "renewal-pass",
		LockTTL:       30 * time.Minute,
	}
}

// Validate implements config.Validator.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	if c.ChargeTimeout <= 0 {
		errs = append(errs, errors.New("charge timeout must be positive"))
	}
	if c.GraceDays < 1 {
		errs = append(errs, errors.New("grace days must be at least 1"))
	}
	if c.Lookahead < 0 {
		errs = append(errs, errors.New("lookahead must not be negative"))
	}
	if c.LockKey == "" {
		errs = append(errs, errors.New("lock key is required"))
	}
	if c.LockTTL <= c.ChargeTimeout {
		errs = append(errs, errors.New("lock TTL must exceed the charge timeout"))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}
