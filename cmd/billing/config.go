package main

import (
	"errors"
	"time"

	"github.com/dmitrymomot/speakbill/pkg/httpserver"
	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/pg"
	"github.com/dmitrymomot/speakbill/pkg/redis"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
)

type appConfig struct {
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL"`

	// PlansFile loads the catalog from YAML instead of the plans table.
	PlansFile string `env:"PLANS_FILE"`

	ScheduleEnabled bool `env:"RENEWAL_SCHEDULE_ENABLED" envDefault:"true"`
	ScheduleHour    int  `env:"RENEWAL_SCHEDULE_HOUR" envDefault:"3"`
	ScheduleMinute  int  `env:"RENEWAL_SCHEDULE_MINUTE" envDefault:"0"`

	EntitlementCacheSize int           `env:"ENTITLEMENT_CACHE_SIZE" envDefault:"10000"`
	EntitlementCacheTTL  time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"30s"`

	Postgres pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	Renewal  renewal.Config
	Stripe   payment.StripeConfig
	Paddle   payment.PaddleConfig
}

func (c appConfig) Validate() error {
	var errs []error
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		errs = append(errs, errors.New("RENEWAL_SCHEDULE_HOUR must be within 0..23"))
	}
	if c.ScheduleMinute < 0 || c.ScheduleMinute > 59 {
		errs = append(errs, errors.New("RENEWAL_SCHEDULE_MINUTE must be within 0..59"))
	}
	if c.EntitlementCacheSize < 1 {
		errs = append(errs, errors.New("ENTITLEMENT_CACHE_SIZE must be positive"))
	}
	if c.EntitlementCacheTTL < 0 {
		errs = append(errs, errors.New("ENTITLEMENT_CACHE_TTL must not be negative"))
	}
	if err := c.Renewal.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
