package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/library"
	"github.com/dukerupert/earmark/internal/model"
)

type RecordingHandler struct {
	itemActions
	store *content.Store
}

func NewRecordingHandler(lib *library.Service, store *content.Store, chatSvc *chat.Service, logger *slog.Logger) *RecordingHandler {
	return &RecordingHandler{
		itemActions: itemActions{itemType: model.ItemTypeRecording, lib: lib, chat: chatSvc, logger: logger},
		store:       store,
	}
}

// Start is called before the microphone opens.
func (h *RecordingHandler) Start(w http.ResponseWriter, r *http.Request) {
	d := h.lib.StartRecording()
	if !d.Allowed {
		writeDenied(w, d)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":      true,
		"max_duration": h.lib.MaxRecordingDuration(),
	})
}

// Create stores a finished recording and queues its transcription.
func (h *RecordingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req library.FinishedRecording
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, d, err := h.lib.FinishRecording(req)
	switch {
	case errors.Is(err, library.ErrMissingAudio), errors.Is(err, library.ErrBadDuration):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("finish recording", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save recording")
		return
	case !d.Allowed:
		writeDenied(w, d)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *RecordingHandler) List(w http.ResponseWriter, r *http.Request) {
	recs := h.store.Recordings()
	if recs == nil {
		recs = []model.Recording{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *RecordingHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.store.Recording(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordingHandler) Rename(w http.ResponseWriter, r *http.Request) {
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
	if h.store.UpdateRecording(id, content.RecordingPatch{Title: &title}) == content.NotFound {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	rec, _ := h.store.Recording(id)
	writeJSON(w, http.StatusOK, rec)
}

func (h *RecordingHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.lib.DeleteRecording(r.PathValue("id")) == content.NotFound {
		writeError(w, http.StatusNotFound, "recording not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retranscribe queues another transcription attempt.
func (h *RecordingHandler) Retranscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := h.lib.Retranscribe(id)
	switch {
	case errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, "recording not found")
		return
	case errors.Is(err, library.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error("retranscribe", "recording_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to schedule transcription")
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}
