package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/earmark/internal/backup"
)

type BackupHandler struct {
	mgr    *backup.Manager
	logger *slog.Logger
}

func NewBackupHandler(mgr *backup.Manager, logger *slog.Logger) *BackupHandler {
	return &BackupHandler{mgr: mgr, logger: logger}
}

func (h *BackupHandler) writeBackupError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, backup.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, backup.ErrNoPassphrase):
		writeError(w, http.StatusBadRequest, "passphrase is required")
	case errors.Is(err, backup.ErrWrongPassphrase), errors.Is(err, backup.ErrCiphertextTooShort):
		writeError(w, http.StatusBadRequest, backup.ErrWrongPassphrase.Error())
	case errors.Is(err, backup.ErrInvalidArchive):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(op, "error", err)
		writeError(w, http.StatusBadGateway, op+" failed")
	}
}

func (h *BackupHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.Status())
}

// Run takes a backup now. With remember set, the passphrase is kept in
// memory for scheduled backups.
func (h *BackupHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Passphrase string `json:"passphrase"`
		Remember   bool   `json:"remember"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	key, err := h.mgr.RunNow(r.Context(), req.Passphrase)
	if err != nil {
		h.writeBackupError(w, "backup", err)
		return
	}
	if req.Remember {
		h.mgr.CachePassphrase(req.Passphrase)
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (h *BackupHandler) List(w http.ResponseWriter, r *http.Request) {
	objs, err := h.mgr.List(r.Context())
	if err != nil {
		h.writeBackupError(w, "list backups", err)
		return
	}
	if objs == nil {
		objs = []backup.Object{}
	}
	writeJSON(w, http.StatusOK, objs)
}

// Restore replaces all local state with the named backup.
func (h *BackupHandler) Restore(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key        string `json:"key"`
		Passphrase string `json:"passphrase"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}

	if err := h.mgr.Restore(r.Context(), req.Key, req.Passphrase); err != nil {
		h.writeBackupError(w, "restore", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
