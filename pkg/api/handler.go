// Package api exposes the account billing and moderation endpoints over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mihaimyh/jobgate/pkg/billing"
	"github.com/mihaimyh/jobgate/pkg/entitlement"
	"github.com/mihaimyh/jobgate/pkg/identity"
	"github.com/mihaimyh/jobgate/pkg/moderation"
)

const (
	statusNone      = "none"
	maxAccountIDLen = 255
	maxRequestBytes = 16 << 10
)

var (
	errForbidden   = errors.New("forbidden")
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("endpoint not configured")
)

// Handler provides the HTTP endpoints
type Handler struct {
	config Config
}

// Routes registers the endpoints on mux using method patterns.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/billing/entitlement", h.GetEntitlement)
	mux.HandleFunc("POST /v1/billing/sync", h.SyncAccount)
	mux.HandleFunc("POST /v1/billing/checkout", h.Checkout)
	mux.HandleFunc("POST /v1/billing/portal", h.Portal)
	mux.HandleFunc("POST /v1/moderation/posts/{id}/approve", h.ApprovePost)
}

// GetEntitlement returns the caller's entitlement
func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}

	ent, err := h.config.Gate.Check(r.Context(), id.AccountID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entitlementResponse(ent))
}

// SyncAccount re-reads the caller's subscription from the provider
func (h *Handler) SyncAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.config.Billing == nil {
		h.handleError(w, r, errUnavailable)
		return
	}

	if _, err := h.config.Billing.SyncAccount(r.Context(), id.AccountID); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.config.Gate.Invalidate(id.AccountID)

	ent, err := h.config.Gate.Check(r.Context(), id.AccountID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entitlementResponse(ent))
}

// Checkout returns a hosted checkout URL for the requested plan
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.config.Billing == nil {
		h.handleError(w, r, errUnavailable)
		return
	}

	var req CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if req.Plan == "" || req.SuccessURL == "" || req.CancelURL == "" {
		h.handleError(w, r, fmt.Errorf("%w: plan, success_url and cancel_url are required", errBadRequest))
		return
	}

	url, err := h.config.Billing.CheckoutURL(r.Context(), id.AccountID, id.Email, req.Plan, req.SuccessURL, req.CancelURL)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// Portal returns a billing portal URL for the caller
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	if h.config.Billing == nil {
		h.handleError(w, r, errUnavailable)
		return
	}

	var req PortalRequest
	if err := decodeJSON(r, &req); err != nil {
		h.handleError(w, r, err)
		return
	}
	if req.ReturnURL == "" {
		h.handleError(w, r, fmt.Errorf("%w: return_url is required", errBadRequest))
		return
	}

	url, err := h.config.Billing.PortalURL(r.Context(), id.AccountID, req.ReturnURL)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RedirectResponse{URL: url})
}

// ApprovePost approves a pending post and reports its publish time
func (h *Handler) ApprovePost(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	if !id.HasRole(h.config.ModeratorRoles...) {
		h.handleError(w, r, errForbidden)
		return
	}
	if h.config.Moderation == nil {
		h.handleError(w, r, errUnavailable)
		return
	}

	postID := strings.TrimSpace(h.config.GetPostID(r))
	if postID == "" {
		h.handleError(w, r, fmt.Errorf("%w: post id is required", errBadRequest))
		return
	}

	post, err := h.config.Moderation.Approve(r.Context(), postID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ApprovalResponse{
		PostID:     post.ID,
		ApprovedAt: *post.ApprovedAt,
		PublishAt:  *post.PublishAt,
		Delayed:    post.PublishAt.After(*post.ApprovedAt),
	})
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	id, ok := h.config.GetIdentity(r)
	if !ok || id.AccountID == "" {
		h.handleError(w, r, identity.ErrUnauthenticated)
		return identity.Identity{}, false
	}
	if len(id.AccountID) > maxAccountIDLen {
		h.handleError(w, r, fmt.Errorf("%w: invalid account id", errBadRequest))
		return identity.Identity{}, false
	}
	return id, true
}

func entitlementResponse(ent entitlement.Entitlement) EntitlementResponse {
	resp := EntitlementResponse{
		AccountID:        ent.AccountID,
		Entitled:         ent.Entitled,
		Status:           string(ent.Status),
		CurrentPeriodEnd: ent.CurrentPeriodEnd,
	}
	if resp.Status == "" {
		resp.Status = statusNone
	}
	if ent.PlanID != nil {
		resp.PlanID = *ent.PlanID
	}
	return resp
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, identity.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, errForbidden):
		return http.StatusForbidden
	case errors.Is(err, errBadRequest),
		errors.Is(err, billing.ErrPlanNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrCustomerNotFound),
		errors.Is(err, billing.ErrNoSubscription),
		errors.Is(err, moderation.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, moderation.ErrAlreadyApproved):
		return http.StatusConflict
	case errors.Is(err, billing.ErrProviderAPIError):
		return http.StatusBadGateway
	case errors.Is(err, entitlement.ErrGateUnavailable),
		errors.Is(err, entitlement.ErrCircuitOpen),
		errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err as JSON with the mapped status code
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.config.Logger.Error("request failed", billing.F("path", r.URL.Path), billing.F("error", err))
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
