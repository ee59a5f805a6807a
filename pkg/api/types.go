package api

import "time"

// EntitlementResponse is the caller's paid-access standing
type EntitlementResponse struct {
	AccountID        string     `json:"account_id"`
	Entitled         bool       `json:"entitled"`
	Status           string     `json:"status"` // subscription status or "none"
	PlanID           string     `json:"plan_id,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// CheckoutRequest starts a subscription checkout
type CheckoutRequest struct {
	Plan       string `json:"plan"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// PortalRequest opens the billing portal
type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

// RedirectResponse carries a provider-hosted URL
type RedirectResponse struct {
	URL string `json:"url"`
}

// ApprovalResponse reports when an approved post goes public
type ApprovalResponse struct {
	PostID     string    `json:"post_id"`
	ApprovedAt time.Time `json:"approved_at"`
	PublishAt  time.Time `json:"publish_at"`
	Delayed    bool      `json:"delayed"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}
