package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/tallyd/tallyd/internal/log"
)

// ErrorResponse is the error envelope for all non-2xx JSON responses:
// a machine-readable kind plus a human-readable message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response with the given status code. The body is
// encoded into a buffer first so headers go out only after a successful
// encode and a proper 500 can still be returned on encoder failure.
func writeJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		logger.Error("encoding JSON response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, kind, message string, logger log.Logger) {
	writeJSON(w, status, ErrorResponse{Error: kind, Message: message}, logger)
}
