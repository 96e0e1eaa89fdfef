package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tallyd/tallyd/internal/chat"
	"github.com/tallyd/tallyd/internal/log"
	"github.com/tallyd/tallyd/internal/mcpserver"
	"github.com/tallyd/tallyd/internal/tools"
)

// maxBodyBytes bounds request bodies; tool arguments and chat histories are
// small, anything larger is abuse.
const maxBodyBytes = 1 << 20

type entriesHandler struct {
	entries EntryLister
	logger  log.Logger
}

// list serves GET /entries with page/pageSize query parameters. Out-of-range
// and non-numeric values are clamped, never rejected.
func (h *entriesHandler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))

	result, err := h.entries.List(r.Context(), page, pageSize)
	if err != nil {
		h.logger.Error("listing entries", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "listing entries failed", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, result, h.logger)
}

type toolsHandler struct {
	bridge *tools.Bridge
	logger log.Logger
}

// store serves POST /tools/store. The raw body goes straight into the
// bridge so REST and the tool protocol share one validation path.
func (h *toolsHandler) store(w http.ResponseWriter, r *http.Request) {
	var args json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	res := h.bridge.Invoke(r.Context(), tools.ToolStore, args)
	if res.IsError {
		writeError(w, http.StatusBadRequest, res.Text, "", h.logger)
		return
	}

	// The result text is the created entry, already encoded.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if _, err := w.Write([]byte(res.Text)); err != nil {
		h.logger.Debug("writing response body", "error", err)
	}
}

// sum serves GET /tools/sum?from=<ISO>&to=<ISO>.
func (h *toolsHandler) sum(w http.ResponseWriter, r *http.Request) {
	args, err := json.Marshal(tools.SumInput{
		From: r.URL.Query().Get("from"),
		To:   r.URL.Query().Get("to"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "encoding arguments failed", h.logger)
		return
	}

	res := h.bridge.Invoke(r.Context(), tools.ToolSum, args)
	if res.IsError {
		writeError(w, http.StatusBadRequest, res.Text, "", h.logger)
		return
	}

	total, err := strconv.ParseInt(strings.TrimSpace(res.Text), 10, 64)
	if err != nil {
		h.logger.Error("parsing sum result", "text", res.Text, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected sum result", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"total": total}, h.logger)
}

type chatHandler struct {
	chat   Chatter
	logger log.Logger
}

// send serves POST /chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	if h.chat == nil {
		writeError(w, http.StatusServiceUnavailable, "chat_unavailable", "chat model not configured", h.logger)
		return
	}

	var req chat.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	resp, err := h.chat.Run(r.Context(), req)
	switch {
	case errors.Is(err, chat.ErrEmptyRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	case errors.Is(err, chat.ErrUpstream):
		h.logger.Error("chat upstream failure", "error", err)
		writeError(w, http.StatusBadGateway, "upstream_failure", "chat model or tool session failed", h.logger)
		return
	case err != nil:
		h.logger.Error("chat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "chat failed", h.logger)
		return
	}

	if resp.ToolLogs == nil {
		resp.ToolLogs = []chat.ToolLog{}
	}
	writeJSON(w, http.StatusOK, resp, h.logger)
}

type sessionHandler struct {
	sessions SessionBroker
	secret   string
	logger   log.Logger
}

// messageRequest is the POST /mcp/message body.
type messageRequest struct {
	SessionID string          `json:"sessionId"`
	Method    string          `json:"method"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// connect serves POST /mcp/connect: opens a session and returns its id.
func (h *sessionHandler) connect(w http.ResponseWriter, r *http.Request) {
	if h.secret != "" && !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "connect secret required", h.logger)
		return
	}

	id, err := h.sessions.Accept()
	if err != nil {
		h.logger.Error("accepting session", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "opening session failed", h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": id}, h.logger)
}

// message serves POST /mcp/message: routes one request to an open session.
func (h *sessionHandler) message(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "sessionId is required", h.logger)
		return
	}

	out, err := h.sessions.Dispatch(r.Context(), req.SessionID, mcpserver.Request{
		Method:    req.Method,
		Name:      req.Name,
		Arguments: req.Arguments,
	})
	switch {
	case errors.Is(err, mcpserver.ErrUnknownSession):
		writeError(w, http.StatusBadRequest, "unknown_session", "session id was never issued or is closed", h.logger)
		return
	case errors.Is(err, mcpserver.ErrUnknownMethod):
		writeError(w, http.StatusBadRequest, "unknown_method", "method must be tools/list or tools/call", h.logger)
		return
	case err != nil:
		h.logger.Error("dispatching session message", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusBadGateway, "session_failure", "session transport failed", h.logger)
		return
	}
	writeJSON(w, http.StatusOK, out, h.logger)
}

// release serves DELETE /mcp/sessions/{id}. Idempotent.
func (h *sessionHandler) release(w http.ResponseWriter, r *http.Request) {
	h.sessions.Release(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

// authorized checks the shared connect secret: bearer header first, then
// the secret query parameter.
func (h *sessionHandler) authorized(r *http.Request) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token == h.secret
		}
		return false
	}
	return r.URL.Query().Get("secret") == h.secret
}
