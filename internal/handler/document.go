package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dukerupert/earmark/internal/chat"
	"github.com/dukerupert/earmark/internal/content"
	"github.com/dukerupert/earmark/internal/library"
	"github.com/dukerupert/earmark/internal/model"
)

const maxUploadSize = 25 << 20

type DocumentHandler struct {
	itemActions
	store *content.Store
}

func NewDocumentHandler(lib *library.Service, store *content.Store, chatSvc *chat.Service, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		itemActions: itemActions{itemType: model.ItemTypeDocument, lib: lib, chat: chatSvc, logger: logger},
		store:       store,
	}
}

// Import accepts either a multipart upload in the "file" field or a JSON
// body naming a URL.
func (h *DocumentHandler) Import(w http.ResponseWriter, r *http.Request) {
	var in library.DocumentImport
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var ok bool
		if in, ok = h.readUpload(w, r); !ok {
			return
		}
	} else {
		var req struct {
			URL  string `json:"url"`
			Name string `json:"name"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		in = library.DocumentImport{Name: req.Name, URL: strings.TrimSpace(req.URL)}
		if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
			writeError(w, http.StatusBadRequest, "url must be http or https")
			return
		}
	}

	doc, d, err := h.lib.ImportDocument(r.Context(), in)
	switch {
	case errors.Is(err, library.ErrEmptyDocument):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("import document", "name", in.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to import document")
		return
	case !d.Allowed:
		writeDenied(w, d)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (h *DocumentHandler) readUpload(w http.ResponseWriter, r *http.Request) (library.DocumentImport, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (max 25MB)")
		return library.DocumentImport{}, false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return library.DocumentImport{}, false
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(filepath.Ext(header.Filename)); byExt != "" {
			mimeType = byExt
		}
	}
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	return library.DocumentImport{Name: name, MimeType: mimeType, Data: data}, true
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	docs := h.store.Documents()
	if docs == nil {
		docs = []model.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.store.Document(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	id := r.PathValue("id")
	if h.store.UpdateDocument(id, content.DocumentPatch{Name: &name}) == content.NotFound {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	doc, _ := h.store.Document(id)
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h.lib.DeleteDocument(r.PathValue("id")) == content.NotFound {
		writeError(w, http.StatusNotFound, "document not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
