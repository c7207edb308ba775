package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Validator is implemented by config structs that check their own invariants
// after environment parsing (for example, a positive worker count).
type Validator interface {
	Validate() error
}

var (
	cache           sync.Map // reflect.Type -> any (a parsed T)
	loadMu          sync.Mutex
	defaultEnvFiles sync.Once
)

// Load parses environment variables into v and caches the result per type,
// so later calls for the same type return the first parsed value.
// A .env file in the working directory is loaded once, if present.
// If T implements Validator, Validate is called before the value is cached.
//
//	type RenewalConfig struct {
//		Concurrency int `env:"RENEWAL_CONCURRENCY" envDefault:"4"`
//	}
//
//	var cfg RenewalConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}
	defaultEnvFiles.Do(func() {
		_ = godotenv.Load() // missing .env is fine
	})

	typ := reflect.TypeFor[T]()
	if cached, ok := cache.Load(typ); ok {
		*v = cached.(T)
		return nil
	}

	loadMu.Lock()
	defer loadMu.Unlock()

	if cached, ok := cache.Load(typ); ok {
		*v = cached.(T)
		return nil
	}

	parsed, err := Parse[T]()
	if err != nil {
		return err
	}
	cache.Store(typ, parsed)
	*v = parsed
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}

// Parse reads the current environment into a fresh T without touching the cache.
func Parse[T any]() (T, error) {
	var v T
	if err := env.Parse(&v); err != nil {
		return v, errors.Join(ErrParsingConfig, err)
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, errors.Join(ErrInvalidConfig, err)
		}
	}
	return v, nil
}

// LoadDotenv loads the given files into the process environment without
// overriding variables that are already set.
func LoadDotenv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return errors.Join(ErrDotenvNotFound, err)
		}
	}
	return godotenv.Load(files...)
}
