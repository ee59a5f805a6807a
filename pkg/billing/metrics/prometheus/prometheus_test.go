package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mihaimyh/jobgate/pkg/billing"
)

var _ billing.Metrics = (*Metrics)(nil)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "jobgate")

	m.RecordWebhookEvent("stripe", "customer.subscription.updated", "applied")
	m.RecordWebhookEvent("stripe", "customer.subscription.updated", "applied")
	m.RecordWebhookEvent("stripe", "customer.subscription.updated", "stale")
	m.RecordWebhookError("stripe", "auth_failed")
	m.RecordAccountSync("stripe", "success")
	m.RecordAPICall("stripe", "subscriptions.retrieve", "error")
	m.RecordDeferredEvent("enqueued")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("stripe", "customer.subscription.updated", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEventsTotal.WithLabelValues("stripe", "customer.subscription.updated", "stale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookErrorsTotal.WithLabelValues("stripe", "auth_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accountSyncTotal.WithLabelValues("stripe", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiCallsTotal.WithLabelValues("stripe", "subscriptions.retrieve", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deferredEventsTotal.WithLabelValues("enqueued")))
}

func TestMetrics_StatusChangeFromNothing(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), "jobgate")

	m.RecordStatusChange("", "active")
	m.RecordStatusChange("active", "canceled")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusChangesTotal.WithLabelValues("none", "active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.statusChangesTotal.WithLabelValues("active", "canceled")))
}

func TestMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "jobgate")

	m.RecordWebhookProcessingDuration("stripe", "checkout.session.completed", 20*time.Millisecond)
	m.RecordAccountSyncDuration("stripe", time.Second)
	m.RecordAPICallDuration("stripe", "subscriptions.list", 150*time.Millisecond)

	assert.Equal(t, 1, testutil.CollectAndCount(m.webhookProcessingDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.accountSyncDuration))
	assert.Equal(t, 1, testutil.CollectAndCount(m.apiCallDuration))

	families, err := reg.Gather()
	assert.NoError(t, err)
	assert.Len(t, families, 3)
}
