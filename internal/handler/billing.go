package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dukerupert/earmark/internal/auth"
	"github.com/dukerupert/earmark/internal/billing"
	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/websocket"
)

const maxWebhookBody = 65536

// BillingHandler starts Stripe checkouts and receives Stripe webhooks. A nil
// service means billing is not configured.
type BillingHandler struct {
	broadcaster
	svc    *billing.Service
	logger *slog.Logger
}

func NewBillingHandler(svc *billing.Service, hub *websocket.Hub, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{broadcaster: broadcaster{hub}, svc: svc, logger: logger}
}

// Checkout handles POST /api/subscription/checkout
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	var req struct {
		Plan model.Plan `json:"plan"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	ac, _ := auth.FromContext(r.Context())
	url, err := h.svc.Checkout(ac.Email, req.Plan)
	switch {
	case errors.Is(err, billing.ErrNoPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("create checkout session", "error", err)
		writeError(w, http.StatusBadGateway, "failed to start checkout")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// Webhook handles POST /api/billing/webhook
func (h *BillingHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.svc == nil {
		http.NotFound(w, r)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	before := h.svc.Account()
	err = h.svc.HandleWebhook(body, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, billing.ErrInvalidEvent) {
		h.logger.Warn("rejected webhook", "error", err)
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}
	if err != nil {
		// Stripe retries non-2xx responses.
		h.logger.Error("apply webhook", "error", err)
		http.Error(w, "webhook failed", http.StatusInternalServerError)
		return
	}

	if after := h.svc.Account(); after != before {
		h.broadcast(websocket.NewMessage("subscription", "updated", "", map[string]any{"plan": after.Plan}))
	}
	w.WriteHeader(http.StatusOK)
}
