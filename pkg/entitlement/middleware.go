package entitlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

type userIDCtxKey struct{}

// SetUserIDToContext stores the authenticated user ID for RequireFeature.
func SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// GetUserIDFromContext returns the user ID stored by SetUserIDToContext.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(userIDCtxKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// Response bodies written by RequireFeature.
const (
	MsgFeatureUnavailable = "feature not available on your plan"
	MsgUnauthenticated    = "authentication required"
	MsgUnavailable        = "entitlement check unavailable"
)

// RequireFeature gates next behind feature. Denials answer 402 Payment
// Required; lookup failures answer 503 so callers retry instead of treating
// an outage as a downgrade. The user ID is read from the request context.
func RequireFeature(c Checker, feature plan.Feature, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserIDFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, MsgUnauthenticated)
				return
			}

			d, err := c.Check(r.Context(), userID, feature)
			if err != nil {
				log.ErrorContext(r.Context(), "entitlement check failed",
					logger.UserID(userID),
					logger.Feature(string(feature)),
					logger.Error(err))
				writeError(w, http.StatusServiceUnavailable, MsgUnavailable)
				return
			}
			if !d.Allowed {
				writeError(w, http.StatusPaymentRequired, MsgFeatureUnavailable)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
