package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/billing/internal"
)

// outcomes reported to metrics and logs
const (
	outcomeIgnored    = "ignored"
	outcomeUnresolved = "unresolved"
	outcomeDeferred   = "deferred"
	outcomeError      = "error"
)

// handleWebhook processes incoming Stripe webhook events
func (p *Provider) handleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if p.verifier == nil {
		p.logger.Error("stripe webhook rejected: secret not configured", billing.F("error", p.verifierErr))
		p.metrics.RecordWebhookError(providerName, "not_configured")
		http.Error(w, "webhook not configured", http.StatusBadRequest)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBodyBytes, p.logger)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			p.metrics.RecordWebhookError(providerName, "payload_too_large")
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		p.metrics.RecordWebhookError(providerName, "invalid_payload")
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	event, err := p.verifier.Verify(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		p.logger.Warn("stripe webhook signature verification failed",
			billing.F("reason", err.Error()), billing.F("remote_ip", internal.GetClientIP(r)))
		p.metrics.RecordWebhookError(providerName, "auth_failed")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	eventType := string(event.Type)
	if eventType == "" {
		eventType = "unknown"
	}

	outcome, err := p.processEvent(r.Context(), &event)
	if errors.Is(err, billing.ErrAccountUnresolved) {
		outcome, err = p.parkUnresolved(r.Context(), &event, body, err)
	}
	if err != nil {
		p.logger.Error("stripe webhook processing failed",
			billing.F("event_id", event.ID), billing.F("event_type", eventType), billing.F("error", err))
		p.metrics.RecordWebhookEvent(providerName, eventType, outcomeError)
		p.metrics.RecordWebhookError(providerName, "processing_error")
		p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		return
	}

	p.metrics.RecordWebhookEvent(providerName, eventType, outcome)
	p.metrics.RecordWebhookProcessingDuration(providerName, eventType, time.Since(startTime))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// parkUnresolved hands an event without a resolvable account to the deferrer.
// Without a deferrer the event is logged and dropped. Either way the provider
// gets a 2xx: redelivery would not change the outcome.
func (p *Provider) parkUnresolved(
	ctx context.Context, event *stripe.Event, payload []byte, cause error,
) (string, error) {
	if p.deferrer == nil {
		p.logger.Warn("stripe event dropped: account unresolved",
			billing.F("event_id", event.ID), billing.F("event_type", string(event.Type)),
			billing.F("reason", cause.Error()))
		return outcomeUnresolved, nil
	}

	err := p.deferrer.Defer(ctx, billing.DeferredEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Payload:   payload,
		Reason:    cause.Error(),
		EventAt:   eventTime(event),
	})
	if err != nil {
		return outcomeError, fmt.Errorf("failed to defer unresolved event: %w", err)
	}
	return outcomeDeferred, nil
}

// Replay re-processes a payload that was verified when it was first received.
// It returns billing.ErrAccountUnresolved while the account still cannot be found.
func (p *Provider) Replay(ctx context.Context, payload []byte) error {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %w", billing.ErrInvalidWebhookPayload, err)
	}
	if event.ID == "" || event.Data == nil {
		return fmt.Errorf("%w: event id or data missing", billing.ErrInvalidWebhookPayload)
	}

	outcome, err := p.processEvent(ctx, &event)
	if err != nil {
		return err
	}
	p.metrics.RecordWebhookEvent(providerName, string(event.Type), outcome)
	return nil
}

// processEvent routes a verified event to its handler and reports the outcome.
func (p *Provider) processEvent(ctx context.Context, event *stripe.Event) (string, error) {
	kind, ok := Classify(event.Type)
	if !ok {
		p.logger.Debug("stripe event ignored",
			billing.F("event_id", event.ID), billing.F("event_type", string(event.Type)))
		return outcomeIgnored, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return outcomeError, fmt.Errorf("%w: event %s has no data", billing.ErrInvalidWebhookPayload, event.ID)
	}

	meta := billing.EventMeta{ID: event.ID, Type: string(event.Type), At: eventTime(event)}

	var (
		result billing.WriteResult
		err    error
	)
	switch kind {
	case KindCheckoutCompleted:
		result, err = p.handleCheckoutSessionCompleted(ctx, event, meta)
	case KindSubscriptionChanged:
		result, err = p.handleSubscriptionChanged(ctx, event, meta)
	case KindSubscriptionDeleted:
		result, err = p.handleSubscriptionDeleted(ctx, event, meta)
	}
	if err != nil {
		return outcomeError, err
	}
	if result == "" {
		return outcomeIgnored, nil
	}
	return string(result), nil
}

// handleCheckoutSessionCompleted reconciles the subscription created by a checkout.
// Sessions in payment or setup mode carry no subscription and are ignored.
func (p *Provider) handleCheckoutSessionCompleted(
	ctx context.Context, event *stripe.Event, meta billing.EventMeta,
) (billing.WriteResult, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("%w: checkout session: %w", billing.ErrInvalidWebhookPayload, err)
	}
	if session.Mode != stripe.CheckoutSessionModeSubscription || session.Subscription == nil || session.Subscription.ID == "" {
		p.logger.Debug("checkout session without subscription ignored",
			billing.F("event_id", event.ID), billing.F("session_id", session.ID))
		return "", nil
	}

	sub, err := p.fetchSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return "", err
	}

	ref := billing.AccountRef{
		AccountID:  session.Metadata[metadataAccountID],
		CustomerID: customerID(session.Customer),
	}
	if ref.AccountID == "" {
		ref.AccountID = session.ClientReferenceID
	}
	if ref.AccountID == "" {
		ref.AccountID = sub.Metadata[metadataAccountID]
	}
	if ref.CustomerID == "" {
		ref.CustomerID = customerID(sub.Customer)
	}

	return p.apply(ctx, ref, sub, meta)
}

// handleSubscriptionChanged re-fetches the subscription so the latest state wins
// even when created and updated events arrive out of order.
func (p *Provider) handleSubscriptionChanged(
	ctx context.Context, event *stripe.Event, meta billing.EventMeta,
) (billing.WriteResult, error) {
	var payload stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return "", fmt.Errorf("%w: subscription: %w", billing.ErrInvalidWebhookPayload, err)
	}
	if payload.ID == "" {
		return "", fmt.Errorf("%w: subscription id missing", billing.ErrInvalidWebhookPayload)
	}

	sub, err := p.fetchSubscription(ctx, payload.ID)
	if err != nil {
		return "", err
	}
	return p.apply(ctx, subscriptionRef(sub), sub, meta)
}

// handleSubscriptionDeleted cancels from the payload alone; a deleted
// subscription has no newer state to fetch.
func (p *Provider) handleSubscriptionDeleted(
	ctx context.Context, event *stripe.Event, meta billing.EventMeta,
) (billing.WriteResult, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return "", fmt.Errorf("%w: subscription: %w", billing.ErrInvalidWebhookPayload, err)
	}

	accountID, err := p.resolver.Resolve(ctx, subscriptionRef(&sub))
	if err != nil {
		return "", err
	}
	return p.reconciler.Cancel(ctx, accountID, meta)
}

func (p *Provider) apply(
	ctx context.Context, ref billing.AccountRef, sub *stripe.Subscription, meta billing.EventMeta,
) (billing.WriteResult, error) {
	accountID, err := p.resolver.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return p.reconciler.Apply(ctx, accountID, snapshotFromSubscription(sub), meta)
}

func (p *Provider) fetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	const endpoint = "/v1/subscriptions/{id}"
	start := time.Now()

	sub, err := p.api.RetrieveSubscription(ctx, id)
	p.metrics.RecordAPICallDuration(providerName, endpoint, time.Since(start))
	if err != nil {
		p.metrics.RecordAPICall(providerName, endpoint, "error")
		return nil, fmt.Errorf("%w: retrieve subscription %s: %w", billing.ErrProviderAPIError, id, err)
	}
	p.metrics.RecordAPICall(providerName, endpoint, "success")
	return sub, nil
}

// snapshotFromSubscription keeps the first line item's price and period end.
// Subscriptions here never carry more than one item.
func snapshotFromSubscription(sub *stripe.Subscription) billing.Snapshot {
	snap := billing.Snapshot{
		SubscriptionID: sub.ID,
		CustomerID:     customerID(sub.Customer),
		Status:         billing.Status(sub.Status),
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0] == nil {
		return snap
	}

	item := sub.Items.Data[0]
	if item.Price != nil && item.Price.ID != "" {
		plan := item.Price.ID
		snap.PlanID = &plan
	}
	if item.CurrentPeriodEnd > 0 {
		end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
		snap.CurrentPeriodEnd = &end
	}
	return snap
}

func subscriptionRef(sub *stripe.Subscription) billing.AccountRef {
	return billing.AccountRef{
		AccountID:  sub.Metadata[metadataAccountID],
		CustomerID: customerID(sub.Customer),
	}
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func eventTime(event *stripe.Event) time.Time {
	return time.Unix(event.Created, 0).UTC()
}
