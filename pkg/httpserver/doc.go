// Package httpserver runs the billing HTTP API with configured timeouts and
// graceful shutdown, and provides the liveness/readiness handler.
//
// Run blocks until ctx is canceled or the listener fails. Signal handling is
// the caller's job (cmd/billing derives ctx from signal.NotifyContext).
//
//	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		return err
//	}
package httpserver
