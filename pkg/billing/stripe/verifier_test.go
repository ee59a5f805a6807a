package stripe

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

func TestNewVerifier_RejectsPlaceholderSecrets(t *testing.T) {
	for _, secret := range []string{"", "   ", "whsec_", "whsec_xxx", "whsec_XXXXXXXX", "changeme", "<webhook-secret>", "your_webhook_secret"} {
		_, err := NewVerifier(secret)
		assert.Truef(t, errors.Is(err, billing.ErrProviderNotConfigured), "secret %q: got %v", secret, err)
	}
}

func TestVerifier_Verify(t *testing.T) {
	verifier, err := NewVerifier(testWebhookSecret)
	require.NoError(t, err)

	payload := []byte(eventJSON("evt_1", EventCustomerSubscriptionUpdated, time.Now(),
		subscriptionJSON(testSubID, testCustomerID, testAccountID, "active", testPriceFeatured)))
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})

	t.Run("valid signature", func(t *testing.T) {
		event, err := verifier.Verify(signed.Payload, signed.Header)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, EventCustomerSubscriptionUpdated, string(event.Type))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := verifier.Verify(signed.Payload, "")
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})

	t.Run("malformed header", func(t *testing.T) {
		_, err := verifier.Verify(signed.Payload, "not-a-signature")
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		tampered := append([]byte(nil), signed.Payload...)
		tampered[len(tampered)-2] = ' '
		_, err := verifier.Verify(tampered, signed.Header)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewVerifier("whsec_some_other_secret_1")
		require.NoError(t, err)
		_, err = other.Verify(signed.Payload, signed.Header)
		assert.ErrorIs(t, err, billing.ErrInvalidWebhookSignature)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		eventType string
		kind      EventKind
		handled   bool
	}{
		{EventCheckoutSessionCompleted, KindCheckoutCompleted, true},
		{EventCustomerSubscriptionCreated, KindSubscriptionChanged, true},
		{EventCustomerSubscriptionUpdated, KindSubscriptionChanged, true},
		{EventCustomerSubscriptionDeleted, KindSubscriptionDeleted, true},
		{"invoice.payment_succeeded", KindIgnored, false},
		{"customer.created", KindIgnored, false},
		{"", KindIgnored, false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			kind, handled := Classify(stripeEventType(tt.eventType))
			assert.Equal(t, tt.handled, handled)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
