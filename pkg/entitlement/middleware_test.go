package entitlement_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/plan"
)

func TestRequireFeature(t *testing.T) {
	t.Parallel()

	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		checker  checkerFunc
		withUser bool
		wantCode int
		wantBody string
	}{
		{
			name: "allowed",
			checker: func(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
				return entitlement.Decision{Allowed: true, PlanKey: "pro"}, nil
			},
			withUser: true,
			wantCode: http.StatusNoContent,
		},
		{
			name: "denied",
			checker: func(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
				return entitlement.Decision{PlanKey: "basic", Reason: entitlement.ReasonFeatureDisabled}, nil
			},
			withUser: true,
			wantCode: http.StatusPaymentRequired,
			wantBody: `{"error":"feature not available on your plan"}`,
		},
		{
			name: "lookup failure",
			checker: func(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
				return entitlement.Decision{}, errors.New("db down")
			},
			withUser: true,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name: "anonymous",
			checker: func(context.Context, uuid.UUID, plan.Feature) (entitlement.Decision, error) {
				t.Fatal("checker must not run without a user")
				return entitlement.Decision{}, nil
			},
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := entitlement.RequireFeature(tt.checker, plan.FeatureTTS, logger.Discard())(ok)

			req := httptest.NewRequest(http.MethodPost, "/tts", nil)
			if tt.withUser {
				req = req.WithContext(entitlement.SetUserIDToContext(req.Context(), uuid.New()))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}
