package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/speakbill/pkg/logger"
)

// Check is a named readiness dependency, e.g. pg.Healthcheck(pool).
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// HealthCheckHandler serves liveness when no checks are given and readiness
// otherwise. Each check runs with timeout; any failure answers 503 with the
// per-check status so the failing dependency is visible.
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if log == nil {
		log = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]string{"status": "ok"}

		if len(checks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()

			for _, c := range checks {
				if err := c.Fn(ctx); err != nil {
					log.ErrorContext(ctx, "readiness check failed", slog.String("check", c.Name), logger.Error(err))
					body[c.Name] = "unavailable"
					body["status"] = "unavailable"
					status = http.StatusServiceUnavailable
					continue
				}
				body[c.Name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
