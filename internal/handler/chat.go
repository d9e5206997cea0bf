package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/model"
)

// backgroundSendTimeout bounds replies completed after the request returned.
const backgroundSendTimeout = 2 * time.Minute

type ChatHandler struct {
	svc    *chat.Service
	store  *content.Store
	logger *slog.Logger

	wg sync.WaitGroup
}

func NewChatHandler(svc *chat.Service, store *content.Store, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, store: store, logger: logger}
}

// Wait blocks until background replies have finished.
func (h *ChatHandler) Wait() {
	h.wg.Wait()
}

func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.store.Sessions()
	if sessions == nil {
		sessions = []model.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Open returns the session for an item, creating it on first use.
func (h *ChatHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemType string `json:"item_type"`
		ItemID   string `json:"item_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	itemType, ok := parseItemType(req.ItemType)
	if !ok || req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_type must be recording or document and item_id is required")
		return
	}

	res, err := h.svc.Open(itemType, req.ItemID)
	switch {
	case errors.Is(err, chat.ErrItemNotFound):
		writeError(w, http.StatusNotFound, string(itemType)+" not found")
		return
	case err != nil:
		h.logger.Error("open chat", "item_type", itemType, "item_id", req.ItemID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open chat")
		return
	case !res.Decision.Allowed:
		writeDenied(w, res.Decision)
		return
	}
	writeJSON(w, http.StatusOK, res.Session)
}

func (h *ChatHandler) OpenGeneral(w http.ResponseWriter, r *http.Request) {
	session, err := h.svc.OpenGeneral()
	if err != nil {
		h.logger.Error("open general chat", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open chat")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.store.Session(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}

	id := r.PathValue("id")
	if h.store.UpdateSession(id, content.SessionPatch{Title: &title}) == content.NotFound {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	session, _ := h.store.Session(id)
	writeJSON(w, http.StatusOK, session)
}

func (h *ChatHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.store.DeleteSession(r.PathValue("id")) == content.NotFound {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Send appends the user's message and answers it. With ?async=true the
// optimistic session is returned immediately and the reply arrives as a
// chat_session_updated notification.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	pending, err := h.svc.Begin(id, req.Content)
	var denied *chat.DeniedError
	switch {
	case errors.As(err, &denied):
		writeDenied(w, denied.Decision)
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
		return
	case errors.Is(err, chat.ErrSendInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("begin send", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), backgroundSendTimeout)
			defer cancel()
			if _, err := pending.Complete(ctx); err != nil {
				h.logger.Warn("background reply failed", "session_id", id, "error", err)
			}
		}()
		writeJSON(w, http.StatusAccepted, pending.View())
		return
	}

	session, err := pending.Complete(r.Context())
	switch {
	case errors.Is(err, chat.ErrCompletion):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":   "the assistant could not reply, try again",
			"session": session,
		})
		return
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session was deleted")
		return
	case err != nil:
		h.logger.Error("complete send", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	writeJSON(w, http.StatusOK, session)
}
