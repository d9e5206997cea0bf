// Package handler exposes the library, chat, subscription, auth and backup
// services as a JSON API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dukerupert/earmark/internal/entitlement"
	"github.com/dukerupert/earmark/internal/model"
	"github.com/dukerupert/earmark/internal/websocket"
)

const maxJSONBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDenied reports a plan limit. Clients show the reason with an upgrade
// prompt.
func writeDenied(w http.ResponseWriter, d entitlement.Decision) {
	writeJSON(w, http.StatusForbidden, map[string]any{
		"error":   d.Reason,
		"upgrade": true,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func parseItemType(s string) (model.ItemType, bool) {
	t := model.ItemType(strings.ToLower(strings.TrimSpace(s)))
	return t, t.Valid()
}

type broadcaster struct {
	hub *websocket.Hub
}

func (b broadcaster) broadcast(msg websocket.Message) {
	if b.hub != nil {
		b.hub.Broadcast(msg)
	}
}
