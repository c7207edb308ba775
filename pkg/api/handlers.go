package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/speakbill/pkg/entitlement"
	"github.com/dmitrymomot/speakbill/pkg/ledger"
	"github.com/dmitrymomot/speakbill/pkg/logger"
	"github.com/dmitrymomot/speakbill/pkg/payment"
	"github.com/dmitrymomot/speakbill/pkg/plan"
	"github.com/dmitrymomot/speakbill/pkg/renewal"
	"github.com/dmitrymomot/speakbill/pkg/subscription"
)

type subscriptionResponse struct {
	ID                 uuid.UUID           `json:"id"`
	OrganizationID     uuid.UUID           `json:"organization_id"`
	PlanID             string              `json:"plan_id"`
	Status             subscription.Status `json:"status"`
	CurrentPeriodStart time.Time           `json:"current_period_start"`
	CurrentPeriodEnd   time.Time           `json:"current_period_end"`
	CancelAtPeriodEnd  bool                `json:"cancel_at_period_end"`
	CanceledAt         *time.Time          `json:"canceled_at,omitempty"`
	Billing            *billingResponse    `json:"billing,omitempty"`
}

type billingResponse struct {
	Attempts          int        `json:"attempts"`
	Paid              int        `json:"paid"`
	Failed            int        `json:"failed"`
	PaidAmount        int64      `json:"paid_amount"`
	LastPaidAt        *time.Time `json:"last_paid_at,omitempty"`
	DaysSinceLastPaid *int       `json:"days_since_last_paid,omitempty"`
	LastFailureReason string     `json:"last_failure_reason,omitempty"`
}

func toResponse(sub subscription.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                 sub.ID,
		OrganizationID:     sub.OrganizationID,
		PlanID:             sub.PlanID,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CanceledAt:         sub.CanceledAt,
	}
}

func uuidParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func (s *server) checkEntitlement(w http.ResponseWriter, r *http.Request) {
	userID, ok := uuidParam(r, "userID")
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	d, err := s.Entitlements.Check(r.Context(), userID, plan.Feature(chi.URLParam(r, "feature")))
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "entitlement check unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

func (s *server) checkQuota(w http.ResponseWriter, r *http.Request) {
	if s.Quotas == nil {
		WriteError(w, http.StatusNotImplemented, "quota checks are not configured")
		return
	}
	userID, ok := uuidParam(r, "userID")
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	q := plan.Quota(chi.URLParam(r, "quota"))
	var (
		d   entitlement.QuotaDecision
		err error
	)
	if raw := r.URL.Query().Get("used"); raw != "" {
		used, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || used < 0 {
			WriteError(w, http.StatusBadRequest, "used must be a non-negative integer")
			return
		}
		d, err = s.Quotas.CanCreate(r.Context(), userID, q, used)
	} else {
		d, err = s.Quotas.CheckQuota(r.Context(), userID, q)
	}
	if err != nil {
		s.Logger.ErrorContext(r.Context(), "quota check failed", logger.UserID(userID), logger.Error(err))
		WriteError(w, http.StatusServiceUnavailable, "quota check unavailable")
		return
	}
	WriteJSON(w, http.StatusOK, d)
}

type subscribeBody struct {
	OrganizationID    uuid.UUID `json:"organization_id" validate:"required"`
	PlanID            string    `json:"plan_id" validate:"required"`
	BillingCredential string    `json:"billing_credential" validate:"required"`
	ProviderReference string    `json:"provider_reference" validate:"required"`
	Amount            int64     `json:"amount" validate:"gte=0"`
	Currency          string    `json:"currency" validate:"required,len=3,uppercase"`
}

// subscribe records a checkout completed out of band, for providers without
// a webhook integration.
func (s *server) subscribe(w http.ResponseWriter, r *http.Request) {
	var body subscribeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	sub, err := s.Subscriptions.Subscribe(r.Context(), subscription.SubscribeRequest{
		OrganizationID:    body.OrganizationID,
		PlanID:            body.PlanID,
		BillingCredential: body.BillingCredential,
		ProviderReference: body.ProviderReference,
		Amount:            plan.Money{Amount: body.Amount, Currency: body.Currency},
		PaidAt:            s.Now(),
	})
	if err != nil {
		s.writeSubscriptionError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, toResponse(sub))
}

func (s *server) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(r, "id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := s.Subscriptions.Get(r.Context(), id)
	if err != nil {
		s.writeSubscriptionError(w, r, err)
		return
	}
	resp := toResponse(sub)

	if s.Ledger != nil {
		records, err := s.Ledger.ListBySubscription(r.Context(), id)
		if err != nil {
			s.Logger.ErrorContext(r.Context(), "ledger read failed", logger.SubscriptionID(id), logger.Error(err))
			WriteError(w, http.StatusServiceUnavailable, "ledger unavailable")
			return
		}
		sum := ledger.Summarize(records)
		resp.Billing = &billingResponse{
			Attempts:   sum.Attempts,
			Paid:       sum.Paid,
			Failed:     sum.Failed,
			PaidAmount: sum.PaidAmount,
			LastPaidAt: sum.LastPaidAt,
		}
		if sum.LastFailed != nil {
			resp.Billing.LastFailureReason = sum.LastFailed.FailureReason
		}
		if days, ok, err := ledger.DaysSinceLastPaid(r.Context(), s.Ledger, id, s.Now()); err == nil && ok {
			resp.Billing.DaysSinceLastPaid = &days
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}

func (s *server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, s.Subscriptions.RequestCancel)
}

func (s *server) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	s.subscriptionAction(w, r, s.Subscriptions.Resume)
}

func (s *server) subscriptionAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, id uuid.UUID) (subscription.Subscription, error)) {
	id, ok := uuidParam(r, "id")
	if !ok {
		WriteError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := action(r.Context(), id)
	if err != nil {
		s.writeSubscriptionError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, toResponse(sub))
}

func (s *server) writeSubscriptionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		WriteError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, subscription.ErrSubscriptionAlreadyExists):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.Is(err, subscription.ErrInvalidTransition):
		WriteError(w, http.StatusConflict, "action not allowed in the current subscription state")
	case errors.Is(err, subscription.ErrConcurrentUpdate):
		WriteError(w, http.StatusConflict, "subscription is being updated, retry")
	case errors.Is(err, subscription.ErrInvalidSubscribeRequest),
		errors.Is(err, subscription.ErrFreePlanNotSubscribable),
		errors.Is(err, subscription.ErrPlanNotFound):
		WriteError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.Logger.ErrorContext(r.Context(), "subscription request failed", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *server) runRenewals(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Renewals.Run(r.Context())
	switch {
	case errors.Is(err, renewal.ErrPassInProgress):
		WriteError(w, http.StatusConflict, "a renewal pass is already running")
	case err != nil:
		s.Logger.ErrorContext(r.Context(), "renewal pass failed", logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "renewal pass failed")
	default:
		WriteJSON(w, http.StatusOK, summary)
	}
}

func (s *server) checkoutWebhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	hook, ok := s.Webhooks[provider]
	if !ok {
		WriteError(w, http.StatusNotFound, "unknown provider")
		return
	}

	evt, ok, err := hook.ParseCheckout(r)
	switch {
	case errors.Is(err, payment.ErrWebhookVerificationFailed):
		WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	case err != nil:
		s.Logger.WarnContext(r.Context(), "rejected webhook payload", slog.String("provider", provider), logger.Error(err))
		WriteError(w, http.StatusBadRequest, "invalid payload")
		return
	case !ok:
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	sub, err := s.Subscriptions.Subscribe(r.Context(), subscription.SubscribeRequest{
		OrganizationID:    evt.OrganizationID,
		PlanID:            evt.PlanID,
		BillingCredential: evt.Credential,
		ProviderReference: evt.ProviderReference,
		Amount:            evt.Amount,
		PaidAt:            evt.OccurredAt,
	})
	switch {
	case errors.Is(err, subscription.ErrSubscriptionAlreadyExists), errors.Is(err, ledger.ErrDuplicateRecord):
		// Providers redeliver; acknowledge so they stop.
		WriteJSON(w, http.StatusOK, map[string]string{"status": "exists"})
	case errors.Is(err, subscription.ErrInvalidSubscribeRequest),
		errors.Is(err, subscription.ErrFreePlanNotSubscribable),
		errors.Is(err, subscription.ErrPlanNotFound):
		s.Logger.WarnContext(r.Context(), "checkout webhook not actionable",
			slog.String("provider", provider),
			logger.OrganizationID(evt.OrganizationID),
			logger.Error(err))
		WriteJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
	case err != nil:
		s.Logger.ErrorContext(r.Context(), "checkout webhook failed", slog.String("provider", provider), logger.Error(err))
		WriteError(w, http.StatusInternalServerError, "internal error")
	default:
		WriteJSON(w, http.StatusCreated, toResponse(sub))
	}
}
