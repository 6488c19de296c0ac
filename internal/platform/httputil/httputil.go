// Package httputil holds the plain-text response helpers used by both node
// roles. Responses carry exactly one status and one body.
package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/dreamware/ledgermesh/internal/bankerr"
)

const textContentType = "text/plain; charset=UTF-8"

// WriteText writes a plain-text body with the given status.
func WriteText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", textContentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// WriteError translates a classified error to its status and an "Error: ..." body.
func WriteError(w http.ResponseWriter, err error) {
	WriteText(w, bankerr.HTTPStatus(bankerr.KindOf(err)), "Error: "+bankerr.Message(err))
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// MethodNotAllowed is installed as the router's 405 handler.
func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	WriteText(w, http.StatusMethodNotAllowed, "Method not allowed")
}
