package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/export"
	"github.com/dukerupert/earmark/internal/library"
	"github.com/dukerupert/earmark/internal/model"
)

// itemActions are the operations recordings and documents share.
type itemActions struct {
	itemType model.ItemType
	lib      *library.Service
	chat     *chat.Service
	logger   *slog.Logger
}

func (a itemActions) Summarize(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	summary, err := a.chat.Summarize(r.Context(), a.itemType, id)
	switch {
	case errors.Is(err, chat.ErrItemNotFound):
		writeError(w, http.StatusNotFound, string(a.itemType)+" not found")
		return
	case errors.Is(err, chat.ErrNoContent):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case errors.Is(err, chat.ErrCompletion):
		writeError(w, http.StatusBadGateway, "summary could not be generated")
		return
	case err != nil:
		a.logger.Error("summarize", "item_type", a.itemType, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to summarize")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (a itemActions) Export(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "txt"
	}

	out, d, err := a.lib.Export(a.itemType, id, format)
	switch {
	case errors.Is(err, library.ErrNotFound):
		writeError(w, http.StatusNotFound, string(a.itemType)+" not found")
		return
	case errors.Is(err, export.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.logger.Error("export", "item_type", a.itemType, "id", id, "format", format, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export")
		return
	case !d.Allowed:
		writeDenied(w, d)
		return
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+out.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	w.Write(out.Data)
}
