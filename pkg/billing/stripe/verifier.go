package stripe

import (
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

// Verifier authenticates webhook payloads against the endpoint secret.
type Verifier struct {
	secret string
}

// NewVerifier creates a verifier. Empty or placeholder secrets return
// billing.ErrProviderNotConfigured so the endpoint can fail closed.
func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if billing.IsPlaceholderSecret(secret) {
		return nil, fmt.Errorf("%w: webhook secret is missing or a placeholder", billing.ErrProviderNotConfigured)
	}
	return &Verifier{secret: secret}, nil
}

// Verify checks the Stripe-Signature header over the exact raw body and returns the
// decoded event. The body must not have been re-encoded.
func (v *Verifier) Verify(payload []byte, signature string) (stripe.Event, error) {
	if strings.TrimSpace(signature) == "" {
		return stripe.Event{}, fmt.Errorf("%w: missing signature header", billing.ErrInvalidWebhookSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", billing.ErrInvalidWebhookSignature, err)
	}
	return event, nil
}
