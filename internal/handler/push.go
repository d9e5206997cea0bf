package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/earmark/internal/auth"
	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/push"
)

// PushHandler manages browser push subscriptions. A nil notifier means push
// is not configured and every route answers 503.
type PushHandler struct {
	notifier *push.Notifier
	vapidKey string
	logger   *slog.Logger
}

func NewPushHandler(notifier *push.Notifier, vapidPublicKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{notifier: notifier, vapidKey: vapidPublicKey, logger: logger}
}

func (h *PushHandler) enabled(w http.ResponseWriter) bool {
	if h.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "push notifications are not configured")
		return false
	}
	return true
}

type subscribeRequest struct {
	Endpoint   string `json:"endpoint"`
	P256dh     string `json:"p256dh"`
	Auth       string `json:"auth"`
	DeviceName string `json:"device_name"`
}

// Subscribe handles POST /api/push/subscriptions
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	var req subscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Endpoint == "" || req.P256dh == "" || req.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint, p256dh, and auth are required")
		return
	}
	if !strings.HasPrefix(req.Endpoint, "https://") {
		writeError(w, http.StatusBadRequest, "endpoint must be an https URL")
		return
	}

	sub := h.notifier.Registry().Subscribe(auth.UserID(r.Context()), model.PushSubscription{
		Endpoint:   req.Endpoint,
		P256dhKey:  req.P256dh,
		AuthKey:    req.Auth,
		DeviceName: req.DeviceName,
	})
	writeJSON(w, http.StatusCreated, sub)
}

// Unsubscribe handles DELETE /api/push/subscriptions/{id}
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	err := h.notifier.Registry().Unsubscribe(auth.UserID(r.Context()), r.PathValue("id"))
	if errors.Is(err, push.ErrSubscriptionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSubscriptions handles GET /api/push/subscriptions
func (h *PushHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.notifier.Registry().ListByUser(auth.UserID(r.Context())))
}

// GetVAPIDKey handles GET /api/push/vapid-key
func (h *PushHandler) GetVAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}

// TestNotification handles POST /api/push/test
func (h *PushHandler) TestNotification(w http.ResponseWriter, r *http.Request) {
	if !h.enabled(w) {
		return
	}
	sent := h.notifier.SendToUser(r.Context(), auth.UserID(r.Context()), push.Payload{
		Title: "Earmark",
		Body:  "Notifications are working.",
		Tag:   "test",
	})
	if sent == 0 {
		writeError(w, http.StatusBadGateway, "no device accepted the notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"sent": sent})
}
