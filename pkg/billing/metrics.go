package billing

import "time"

// Metrics defines the interface for tracking billing operations.
// All methods are optional - components fall back to NoopMetrics when nil.
type Metrics interface {
	// RecordWebhookEvent records a webhook event received from the billing provider.
	// outcome: "applied", "unchanged", "stale", "ignored", "unresolved", "deferred" or "error"
	RecordWebhookEvent(provider, eventType, outcome string)

	// RecordWebhookProcessingDuration records how long it took to process a webhook.
	RecordWebhookProcessingDuration(provider, eventType string, duration time.Duration)

	// RecordWebhookError records a webhook processing error.
	// errorType: e.g. "not_configured", "auth_failed", "payload_too_large", "processing_error"
	RecordWebhookError(provider, errorType string)

	// RecordAccountSync records an account synchronization operation.
	// status: "success" or "error"
	RecordAccountSync(provider, status string)

	// RecordAccountSyncDuration records how long an account sync took.
	RecordAccountSyncDuration(provider string, duration time.Duration)

	// RecordStatusChange records a subscription status transition written by the reconciler.
	RecordStatusChange(fromStatus, toStatus string)

	// RecordAPICall records an API call to the billing provider.
	// status: "success" or "error"
	RecordAPICall(provider, endpoint, status string)

	// RecordAPICallDuration records how long an API call took.
	RecordAPICallDuration(provider, endpoint string, duration time.Duration)

	// RecordDeferredEvent records deferred queue activity.
	// action: "enqueued", "replayed", "rescheduled" or "dead_lettered"
	RecordDeferredEvent(action string)
}

// NoopMetrics is a no-op implementation of the Metrics interface.
type NoopMetrics struct{}

func (n *NoopMetrics) RecordWebhookEvent(_, _, _ string)                            {}
func (n *NoopMetrics) RecordWebhookProcessingDuration(_, _ string, _ time.Duration) {}
func (n *NoopMetrics) RecordWebhookError(_, _ string)                               {}
func (n *NoopMetrics) RecordAccountSync(_, _ string)                                {}
func (n *NoopMetrics) RecordAccountSyncDuration(_ string, _ time.Duration)          {}
func (n *NoopMetrics) RecordStatusChange(_, _ string)                               {}
func (n *NoopMetrics) RecordAPICall(_, _, _ string)                                 {}
func (n *NoopMetrics) RecordAPICallDuration(_, _ string, _ time.Duration)           {}
func (n *NoopMetrics) RecordDeferredEvent(_ string)                                 {}
