package logger

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Error logs err under "error". A nil error yields an empty Attr, which slog
// drops, so callers can pass it unconditionally.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

func UserID(id uuid.UUID) slog.Attr { return idAttr("user_id", id) }
func OrganizationID(id uuid.UUID) slog.Attr { return idAttr("organization_id", id) }
func SubscriptionID(id uuid.UUID) slog.Attr { return idAttr("subscription_id", id) }

// RequestID logs the chi request id; empty ids are dropped.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func PlanKey(key string) slog.Attr { return slog.String("plan_key", key) }
func Feature(name string) slog.Attr { return slog.String("feature", name) }
func Status(status string) slog.Attr { return slog.String("status", status) }
func Event(name string) slog.Attr { return slog.String("event", name) }
func Component(name string) slog.Attr { return slog.String("component", name) }
func Duration(d time.Duration) slog.Attr { return slog.Duration("duration", d) }

// Transition groups a state change as transition.from / transition.to.
func Transition(from, to string) slog.Attr {
	return slog.Group("transition", slog.String("from", from), slog.String("to", to))
}

func idAttr(key string, id uuid.UUID) slog.Attr {
	if id == uuid.Nil {
		return slog.Attr{}
	}
	return slog.String(key, id.String())
}
