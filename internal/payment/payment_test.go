package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/vnmchuo/gen-broker/internal/apperr"
	"github.com/vnmchuo/gen-broker/internal/billing"
	"github.com/vnmchuo/gen-broker/internal/metrics"
	"github.com/vnmchuo/gen-broker/internal/store/memstore"
)

const testSecret = "whsec_test"

type mockCheckout struct {
	params *stripe.CheckoutSessionParams
	err    error
}

func (m *mockCheckout) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}, nil
}

func setup(t *testing.T, checkout *mockCheckout) (*Service, *memstore.Store, *metrics.Metrics) {
	t.Helper()
	store := memstore.New()
	store.PutUser(billing.User{ID: "u1", Email: "u1@example.com", Credits: 5})
	m := metrics.New("test")
	svc := NewService(store, checkout, Config{
		WebhookSecret: testSecret,
		PriceIDs:      map[string]string{"pack_1000": "price_1000", "pack_5000": "price_5000"},
		SuccessURL:    "https://app/success",
		CancelURL:     "https://app/cancel",
	}, m, zap.NewNop())
	return svc, store, m
}

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func checkoutEvent(sessionID, userID, packID string, amount int64) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_%s",
		"object": "event",
		"type": "checkout.session.completed",
		"data": {"object": {
			"id": %q,
			"object": "checkout.session",
			"amount_total": %d,
			"payment_intent": "pi_123",
			"metadata": {"userId": %q, "packId": %q}
		}}
	}`, sessionID, sessionID, amount, userID, packID))
}

func TestCreateCheckout(t *testing.T) {
	checkout := &mockCheckout{}
	svc, _, _ := setup(t, checkout)

	c, err := svc.CreateCheckout(context.Background(), "u1", "pack_1000", "")
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", c.SessionID)
	assert.NotEmpty(t, c.URL)

	p := checkout.params
	require.NotNil(t, p)
	assert.Equal(t, "price_1000", *p.LineItems[0].Price)
	assert.Equal(t, "payment", *p.Mode)
	assert.Equal(t, "u1", *p.ClientReferenceID)
	assert.Equal(t, "u1@example.com", *p.CustomerEmail)
	assert.Equal(t, "https://app/success", *p.SuccessURL)
	assert.Equal(t, map[string]string{"userId": "u1", "packId": "pack_1000"}, p.Metadata)
}

func TestCreateCheckout_OriginOverridesReturnURLs(t *testing.T) {
	checkout := &mockCheckout{}
	svc, _, _ := setup(t, checkout)

	_, err := svc.CreateCheckout(context.Background(), "u1", "pack_5000", "https://web.example/")
	require.NoError(t, err)
	assert.Equal(t, "https://web.example/payment-success?session_id={CHECKOUT_SESSION_ID}", *checkout.params.SuccessURL)
	assert.Equal(t, "https://web.example/payment-cancel", *checkout.params.CancelURL)
}

func TestCreateCheckout_Errors(t *testing.T) {
	tests := []struct {
		name   string
		user   string
		pack   string
		err    error
		status int
	}{
		{"missing fields", "", "pack_1000", nil, 400},
		{"unknown pack", "u1", "pack_42", nil, 400},
		{"pack without price id", "u1", "pack_10000", nil, 400},
		{"unknown user", "ghost", "pack_1000", nil, 404},
		{"stripe error", "u1", "pack_1000", errors.New("card_declined"), 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := setup(t, &mockCheckout{err: tt.err})
			_, err := svc.CreateCheckout(context.Background(), tt.user, tt.pack, "")
			assert.Equal(t, tt.status, apperr.StatusCode(err))
		})
	}
}

func TestHandleWebhook_CreditsOnce(t *testing.T) {
	svc, store, m := setup(t, &mockCheckout{})
	ctx := context.Background()
	payload := checkoutEvent("cs_1", "u1", "pack_5000", 6250)

	res, err := svc.HandleWebhook(ctx, payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, int64(5500), res.CreditsAdded)
	assert.False(t, res.Duplicate)

	bal, _ := store.GetBalance(ctx, "u1")
	assert.Equal(t, int64(5505), bal)

	res, err = svc.HandleWebhook(ctx, payload, sign(payload, testSecret))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Zero(t, res.CreditsAdded)

	bal, _ = store.GetBalance(ctx, "u1")
	assert.Equal(t, int64(5505), bal, "redelivery does not credit twice")
	assert.Equal(t, 5500.0, testutil.ToFloat64(m.CreditsTotal.WithLabelValues("credit")))
}

func TestHandleWebhook_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		secret  string
		status  int
	}{
		{"bad signature", checkoutEvent("cs_1", "u1", "pack_1000", 1250), "whsec_other", 400},
		{"missing metadata", checkoutEvent("cs_1", "", "pack_1000", 1250), testSecret, 400},
		{"unknown pack", checkoutEvent("cs_1", "u1", "pack_7", 1250), testSecret, 400},
		{"amount mismatch", checkoutEvent("cs_1", "u1", "pack_1000", 100), testSecret, 400},
		{"unknown user", checkoutEvent("cs_1", "ghost", "pack_1000", 1250), testSecret, 404},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, _ := setup(t, &mockCheckout{})
			_, err := svc.HandleWebhook(context.Background(), tt.payload, sign(tt.payload, tt.secret))
			assert.Equal(t, tt.status, apperr.StatusCode(err))

			bal, _ := store.GetBalance(context.Background(), "u1")
			assert.Equal(t, int64(5), bal)
		})
	}
}

func TestHandleWebhook_OtherEventsAcknowledged(t *testing.T) {
	svc, _, _ := setup(t, &mockCheckout{})
	for _, typ := range []string{"payment_intent.payment_failed", "customer.created"} {
		payload := []byte(fmt.Sprintf(`{"id":"evt_x","object":"event","type":%q,"data":{"object":{"id":"pi_1","object":"payment_intent"}}}`, typ))
		res, err := svc.HandleWebhook(context.Background(), payload, sign(payload, testSecret))
		require.NoError(t, err, typ)
		assert.Equal(t, typ, res.EventType)
		assert.Zero(t, res.CreditsAdded)
	}
}
