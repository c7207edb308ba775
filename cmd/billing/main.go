// Command billing runs the subscription billing service.
//
//	billing serve    HTTP API plus the daily renewal schedule
//	billing renew    a single renewal pass, then exit
//	billing migrate  apply database migrations (and sync PLANS_FILE if set)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrymomot/speakbill/pkg/api"
	"github.com/dmitrymomot/speakbill/pkg/config"
	"github.com/dmitrymomot/speakbill/pkg/logger"
)

const serviceName = "billing"

func main() {
	cmd := "serve"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "serve":
		err = serve(ctx, cfg, log)
	case "renew":
		err = renewOnce(ctx, cfg, log)
	case "migrate":
		err = migrate(ctx, cfg, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (want serve, renew or migrate)\n", cmd)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("command failed", slog.String("command", cmd), logger.Error(err))
		os.Exit(1)
	}
}

func newLogger(cfg appConfig) *slog.Logger {
	opts := []logger.Option{
		logger.WithEnvironment(cfg.Env, serviceName),
		logger.WithContextExtractors(api.RequestIDExtractor()),
	}
	if cfg.LogLevel != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err == nil {
			opts = append(opts, logger.WithLevel(lvl))
		}
	}
	return logger.New(opts...)
}
