package stripe

import "github.com/stripe/stripe-go/v83"

// EventKind is the reconciliation action an event type maps to.
type EventKind int

const (
	KindIgnored EventKind = iota
	KindCheckoutCompleted
	KindSubscriptionChanged
	KindSubscriptionDeleted
)

const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCustomerSubscriptionCreated = "customer.subscription.created"
	EventCustomerSubscriptionUpdated = "customer.subscription.updated"
	EventCustomerSubscriptionDeleted = "customer.subscription.deleted"
)

var handledEvents = map[stripe.EventType]EventKind{
	EventCheckoutSessionCompleted:    KindCheckoutCompleted,
	EventCustomerSubscriptionCreated: KindSubscriptionChanged,
	EventCustomerSubscriptionUpdated: KindSubscriptionChanged,
	EventCustomerSubscriptionDeleted: KindSubscriptionDeleted,
}

// Classify maps an event type to its kind. The second result is false for every
// type outside the fixed allow-list; those are acknowledged without action.
func Classify(eventType stripe.EventType) (EventKind, bool) {
	kind, ok := handledEvents[eventType]
	return kind, ok
}

func (k EventKind) String() string {
	switch k {
	case KindCheckoutCompleted:
		return "checkout_completed"
	case KindSubscriptionChanged:
		return "subscription_changed"
	case KindSubscriptionDeleted:
		return "subscription_deleted"
	default:
		return "ignored"
	}
}
