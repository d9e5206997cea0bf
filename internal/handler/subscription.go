package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/websocket"
)

// upgradePromptInterval is the minimum time between upgrade prompts.
const upgradePromptInterval = 24 * time.Hour

type SubscriptionHandler struct {
	broadcaster
	engine *entitlement.Engine
	logger *slog.Logger
}

func NewSubscriptionHandler(engine *entitlement.Engine, hub *websocket.Hub, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{broadcaster: broadcaster{hub}, engine: engine, logger: logger}
}

type subscriptionResponse struct {
	State         model.SubscriptionState `json:"state"`
	Today         model.UsageRecord       `json:"today"`
	PromptUpgrade bool                    `json:"prompt_upgrade"`
}

func (h *SubscriptionHandler) respond(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, subscriptionResponse{
		State:         h.engine.State(),
		Today:         h.engine.TodayUsage(),
		PromptUpgrade: h.engine.ShouldPromptUpgrade(upgradePromptInterval),
	})
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w)
}

func (h *SubscriptionHandler) Upgrade(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Plan model.Plan `json:"plan"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.engine.UpgradePlan(req.Plan); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("plan changed", "plan", req.Plan)
	h.broadcast(websocket.NewMessage("subscription", "updated", "", map[string]any{"plan": req.Plan}))
	h.respond(w)
}

func (h *SubscriptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.engine.CancelSubscription()
	h.broadcast(websocket.NewMessage("subscription", "updated", "", map[string]any{"plan": model.PlanFree}))
	h.respond(w)
}

// Prompted records that the client just showed an upgrade prompt.
func (h *SubscriptionHandler) Prompted(w http.ResponseWriter, r *http.Request) {
	h.engine.MarkUpgradePrompted()
	w.WriteHeader(http.StatusNoContent)
}

// Check answers a permission question without consuming anything:
// ?action=record|document|chat|export with item_id for chat and format for
// export.
func (h *SubscriptionHandler) Check(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var d entitlement.Decision
	switch q.Get("action") {
	case "record":
		d = h.engine.CanRecord()
	case "document":
		d = h.engine.CanAddDocument()
	case "chat":
		d = h.engine.CanUseAIChat(q.Get("item_id"))
	case "export":
		d = h.engine.CanExport(q.Get("format"))
	default:
		writeError(w, http.StatusBadRequest, "action must be record, document, chat or export")
		return
	}
	writeJSON(w, http.StatusOK, d)
}
