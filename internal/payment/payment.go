// Package payment sells credit packs through Stripe Checkout and credits them
// when Stripe confirms the payment.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/metrics"
)

// CheckoutClient creates Checkout sessions. *session.Client satisfies it.
type CheckoutClient interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewCheckoutClient returns a Stripe client bound to secretKey without
// touching the package-level stripe.Key.
func NewCheckoutClient(secretKey string) CheckoutClient {
	return &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey}
}

type Config struct {
	WebhookSecret string
	PriceIDs      map[string]string // pack id -> Stripe price id
	SuccessURL    string
	CancelURL     string
}

type Checkout struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

type WebhookResult struct {
	EventType    string
	UserID       string
	CreditsAdded int64
	Duplicate    bool
}

type Service struct {
	ledger   billing.Ledger
	checkout CheckoutClient
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewService(ledger billing.Ledger, checkout CheckoutClient, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Service {
	return &Service{ledger: ledger, checkout: checkout, cfg: cfg, metrics: m, logger: logger}
}

// CreateCheckout opens a one-off payment session for packID. origin, when
// set, overrides the configured return URLs' host.
func (s *Service) CreateCheckout(ctx context.Context, userID, packID, origin string) (*Checkout, error) {
	if userID == "" || packID == "" {
		return nil, apperr.Validation("Missing userId or packId")
	}
	if _, ok := billing.LookupPack(packID); !ok {
		return nil, apperr.Validation(fmt.Sprintf("Unknown pack: %s", packID))
	}
	priceID := s.cfg.PriceIDs[packID]
	if priceID == "" {
		return nil, apperr.Validation(fmt.Sprintf("Unknown pack: %s", packID))
	}

	user, err := s.ledger.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, billing.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found", err)
		}
		return nil, apperr.Internal("failed to load user", err)
	}

	successURL, cancelURL := s.returnURLs(origin)
	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(priceID), Quantity: stripe.Int64(1)},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(userID),
	}
	if user.Email != "" {
		params.CustomerEmail = stripe.String(user.Email)
	}
	params.AddMetadata("userId", userID)
	params.AddMetadata("packId", packID)
	params.Context = ctx

	cs, err := s.checkout.New(params)
	if err != nil {
		return nil, apperr.Internal("failed to create checkout session", err)
	}

	s.logger.Info("checkout session created",
		zap.String("user_id", userID),
		zap.String("pack_id", packID),
		zap.String("session_id", cs.ID),
	)
	return &Checkout{SessionID: cs.ID, URL: cs.URL}, nil
}

func (s *Service) returnURLs(origin string) (string, string) {
	success, cancel := s.cfg.SuccessURL, s.cfg.CancelURL
	if origin = strings.TrimRight(origin, "/"); origin != "" {
		success = origin + "/payment-success?session_id={CHECKOUT_SESSION_ID}"
		cancel = origin + "/payment-cancel"
	}
	return success, cancel
}

// HandleWebhook verifies and applies one Stripe event. Crediting is keyed by
// the Checkout session id, so redeliveries are acknowledged without
// crediting again.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		s.logger.Warn("invalid webhook signature", zap.Error(err))
		return nil, apperr.Validation(fmt.Sprintf("Webhook Error: %v", err))
	}

	result := &WebhookResult{EventType: string(event.Type)}
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, &event, result)
	case "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err == nil {
			s.logger.Warn("payment failed", zap.String("payment_intent_id", pi.ID))
		}
	default:
		s.logger.Debug("unhandled webhook event type", zap.String("type", string(event.Type)))
	}
	return result, nil
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event, result *WebhookResult) (*WebhookResult, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, apperr.Validation("invalid checkout session")
	}

	userID, packID := cs.Metadata["userId"], cs.Metadata["packId"]
	if userID == "" || packID == "" {
		s.logger.Error("checkout session without metadata", zap.String("session_id", cs.ID))
		return nil, apperr.Validation("Missing metadata")
	}
	pack, ok := billing.LookupPack(packID)
	if !ok {
		s.logger.Error("checkout session for unknown pack", zap.String("session_id", cs.ID), zap.String("pack_id", packID))
		return nil, apperr.Validation("Unknown pack")
	}
	if cs.AmountTotal != pack.PriceCents {
		s.logger.Error("checkout amount mismatch",
			zap.String("session_id", cs.ID),
			zap.Int64("expected", pack.PriceCents),
			zap.Int64("got", cs.AmountTotal),
		)
		return nil, apperr.Validation("Amount mismatch")
	}

	purchase := &billing.Purchase{
		SessionID:   cs.ID,
		UserID:      userID,
		PackID:      packID,
		Credits:     pack.Credits,
		AmountCents: cs.AmountTotal,
	}
	if cs.PaymentIntent != nil {
		purchase.PaymentIntentID = cs.PaymentIntent.ID
	}

	result.UserID = userID
	balance, err := s.ledger.ApplyPurchase(ctx, purchase)
	switch {
	case errors.Is(err, billing.ErrDuplicatePurchase):
		s.logger.Info("checkout session already credited", zap.String("session_id", cs.ID))
		result.Duplicate = true
		return result, nil
	case errors.Is(err, billing.ErrUserNotFound):
		return nil, apperr.NotFound("User not found", err)
	case err != nil:
		return nil, apperr.Internal("failed to credit purchase", err)
	}

	s.metrics.CreditsTotal.WithLabelValues("credit").Add(float64(pack.Credits))
	s.logger.Info("purchase credited",
		zap.String("user_id", userID),
		zap.String("pack_id", packID),
		zap.String("session_id", cs.ID),
		zap.Int64("credits", pack.Credits),
		zap.Int64("balance", balance),
	)
	result.CreditsAdded = pack.Credits
	return result, nil
}
