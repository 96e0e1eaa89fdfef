package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tallyd/tallyd/internal/chat"
	"github.com/tallyd/tallyd/internal/log"
	"github.com/tallyd/tallyd/internal/mcpserver"
	"github.com/tallyd/tallyd/internal/store"
	"github.com/tallyd/tallyd/internal/tools"
)

// fakeEntryStore backs the tool bridge in handler tests.
type fakeEntryStore struct {
	entries []store.Entry
	sum     int64
}

func (f *fakeEntryStore) Insert(_ context.Context, value int64, description string) (*store.Entry, error) {
	e := store.Entry{
		ID:          int64(len(f.entries) + 1),
		Value:       value,
		Description: description,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.entries = append(f.entries, e)
	return &e, nil
}

func (f *fakeEntryStore) SumRange(context.Context, string, string) (int64, error) {
	return f.sum, nil
}

// fakeEntries serves listing without a database.
type fakeEntries struct {
	page     *store.Page
	err      error
	gotPage  int
	gotSize  int
}

func (f *fakeEntries) List(_ context.Context, page, pageSize int) (*store.Page, error) {
	f.gotPage, f.gotSize = page, pageSize
	if f.err != nil {
		return nil, f.err
	}
	return f.page, nil
}

// fakeChatter returns a canned chat outcome.
type fakeChatter struct {
	resp *chat.Response
	err  error
}

func (f *fakeChatter) Run(context.Context, chat.Request) (*chat.Response, error) {
	return f.resp, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

// newTestHandler wires a server over fakes plus a real session registry.
func newTestHandler(t *testing.T, cfg ServerConfig) http.Handler {
	t.Helper()

	fake := &fakeEntryStore{sum: 9}
	bridge := tools.NewBridge(fake)
	if cfg.Bridge == nil {
		cfg.Bridge = bridge
	}
	if cfg.Entries == nil {
		cfg.Entries = &fakeEntries{page: &store.Page{Items: []store.Entry{}, Page: 1, PageSize: 20}}
	}
	if cfg.Sessions == nil {
		mcpSrv, err := mcpserver.New(mcpserver.Config{
			Name:    "tallyd-test",
			Version: "0.0.1",
			Bridge:  cfg.Bridge,
			Logger:  log.NewNop(),
		})
		if err != nil {
			t.Fatalf("mcpserver.New() unexpected error: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		reg := mcpserver.NewSessionRegistry(ctx, mcpSrv, log.NewNop())
		t.Cleanup(func() {
			reg.Close()
			cancel()
		})
		cfg.Sessions = reg
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() unexpected error: %v", err)
	}
	return srv.Handler()
}

func do(handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decoding error envelope: %v (body %q)", err, w.Body.String())
	}
	return e
}

func TestHealthEndpoints(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	w := do(handler, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", w.Code)
	}

	w = do(handler, http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready without storage = %d, want 503", w.Code)
	}

	handler = newTestHandler(t, ServerConfig{Pinger: &fakePinger{}})
	w = do(handler, http.MethodGet, "/ready", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /ready = %d, want 200", w.Code)
	}

	handler = newTestHandler(t, ServerConfig{Pinger: &fakePinger{err: errors.New("down")}})
	w = do(handler, http.MethodGet, "/ready", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /ready with failing ping = %d, want 503", w.Code)
	}
}

func TestListEntries(t *testing.T) {
	entries := &fakeEntries{page: &store.Page{
		Items:    []store.Entry{},
		Page:     2,
		PageSize: 10,
		Total:    25,
		Pages:    3,
	}}
	handler := newTestHandler(t, ServerConfig{Entries: entries})

	w := do(handler, http.MethodGet, "/entries?page=2&pageSize=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /entries = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if entries.gotPage != 2 || entries.gotSize != 10 {
		t.Errorf("list called with page=%d size=%d, want 2/10", entries.gotPage, entries.gotSize)
	}

	var page store.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decoding page: %v", err)
	}
	if page.Total != 25 || page.Pages != 3 {
		t.Errorf("page = %+v", page)
	}

	// Garbage pagination params are clamped downstream, not rejected.
	w = do(handler, http.MethodGet, "/entries?page=x&pageSize=y", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET /entries with garbage params = %d, want 200", w.Code)
	}
	if entries.gotPage != 0 || entries.gotSize != 0 {
		t.Errorf("garbage params parsed to %d/%d, want 0/0", entries.gotPage, entries.gotSize)
	}
}

func TestStoreEndpoint(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	w := do(handler, http.MethodPost, "/tools/store", `{"value": 4, "description": "lunch"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /tools/store = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	var entry struct {
		ID          int64  `json:"id"`
		Value       int64  `json:"value"`
		Description string `json:"description"`
		CreatedAt   string `json:"createdAt"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decoding entry: %v", err)
	}
	if entry.Value != 4 || entry.Description != "lunch" || entry.CreatedAt == "" {
		t.Errorf("entry = %+v", entry)
	}
}

func TestStoreEndpoint_Validation(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	cases := []struct {
		name string
		body string
		want string
	}{
		{"fractional value", `{"value": 1.5, "description": "x"}`, "value must be an integer"},
		{"string value", `{"value": "7", "description": "x"}`, "value must be an integer"},
		{"missing description", `{"value": 7}`, "description is required"},
		{"blank description", `{"value": 7, "description": "  "}`, "description is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(handler, http.MethodPost, "/tools/store", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", w.Code)
			}
			if e := decodeError(t, w); e.Error != tc.want {
				t.Errorf("error = %q, want %q", e.Error, tc.want)
			}
		})
	}

	w := do(handler, http.MethodPost, "/tools/store", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", w.Code)
	}
}

func TestSumEndpoint(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	w := do(handler, http.MethodGet, "/tools/sum?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET /tools/sum = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var out map[string]int64
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding sum: %v", err)
	}
	if out["total"] != 9 {
		t.Errorf("total = %d, want 9", out["total"])
	}

	w = do(handler, http.MethodGet, "/tools/sum?from=2026-01-01T00:00:00Z", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing to = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Error != "from and to are required (ISO datetime)" {
		t.Errorf("error = %q", e.Error)
	}
}

func TestChatEndpoint(t *testing.T) {
	chatter := &fakeChatter{resp: &chat.Response{
		Role:    chat.RoleAssistant,
		Content: "the total is 9",
		Model:   "scripted-model",
		ToolLogs: []chat.ToolLog{
			{Name: "sum", Args: `{"from":"a","to":"b"}`, Output: "9"},
		},
	}}
	handler := newTestHandler(t, ServerConfig{Chat: chatter})

	w := do(handler, http.MethodPost, "/chat", `{"message": "total?"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /chat = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var resp chat.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding chat response: %v", err)
	}
	if resp.Role != "assistant" || resp.Content != "the total is 9" {
		t.Errorf("response = %+v", resp)
	}
	if len(resp.ToolLogs) != 1 || resp.ToolLogs[0].Name != "sum" {
		t.Errorf("toolLogs = %+v", resp.ToolLogs)
	}
}

func TestChatEndpoint_Errors(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{Chat: &fakeChatter{err: chat.ErrEmptyRequest}})
	w := do(handler, http.MethodPost, "/chat", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty request = %d, want 400", w.Code)
	}

	handler = newTestHandler(t, ServerConfig{Chat: &fakeChatter{
		err: errors.New("chat model: boom: " + chat.ErrUpstream.Error()),
	}})
	w = do(handler, http.MethodPost, "/chat", `{"message": "hi"}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("opaque error = %d, want 500", w.Code)
	}

	handler = newTestHandler(t, ServerConfig{Chat: &fakeChatter{
		err: chat.ErrUpstream,
	}})
	w = do(handler, http.MethodPost, "/chat", `{"message": "hi"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("upstream error = %d, want 502", w.Code)
	}
	if e := decodeError(t, w); e.Error != "upstream_failure" {
		t.Errorf("error kind = %q, want upstream_failure", e.Error)
	}

	handler = newTestHandler(t, ServerConfig{})
	w = do(handler, http.MethodPost, "/chat", `{"message": "hi"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("no chat configured = %d, want 503", w.Code)
	}
}

func TestSessionEndpoints(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	w := do(handler, http.MethodPost, "/mcp/connect", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("POST /mcp/connect = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	var conn map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &conn); err != nil {
		t.Fatalf("decoding connect response: %v", err)
	}
	id := conn["sessionId"]
	if id == "" {
		t.Fatal("connect returned no session id")
	}

	w = do(handler, http.MethodPost, "/mcp/message",
		`{"sessionId": "`+id+`", "method": "tools/list"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/list = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var list mcpserver.ListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Errorf("tools = %+v, want 2", list.Tools)
	}

	w = do(handler, http.MethodPost, "/mcp/message",
		`{"sessionId": "`+id+`", "method": "tools/call", "name": "store", "arguments": {"value": 3, "description": "tea"}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("tools/call = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var call mcpserver.CallResponse
	if err := json.Unmarshal(w.Body.Bytes(), &call); err != nil {
		t.Fatalf("decoding call response: %v", err)
	}
	if call.IsError || len(call.Content) != 1 {
		t.Errorf("call = %+v", call)
	}

	w = do(handler, http.MethodDelete, "/mcp/sessions/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("DELETE session = %d, want 204", w.Code)
	}
	// Releasing again stays a no-op.
	w = do(handler, http.MethodDelete, "/mcp/sessions/"+id, "")
	if w.Code != http.StatusNoContent {
		t.Errorf("repeat DELETE = %d, want 204", w.Code)
	}

	w = do(handler, http.MethodPost, "/mcp/message",
		`{"sessionId": "`+id+`", "method": "tools/list"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("released session dispatch = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Error != "unknown_session" {
		t.Errorf("error kind = %q, want unknown_session", e.Error)
	}
}

func TestSessionEndpoints_Rejections(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	w := do(handler, http.MethodPost, "/mcp/message", `{"sessionId": "never-issued", "method": "tools/list"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown session = %d, want 400", w.Code)
	}

	w = do(handler, http.MethodPost, "/mcp/message", `{"method": "tools/list"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing sessionId = %d, want 400", w.Code)
	}

	w = do(handler, http.MethodPost, "/mcp/connect", "")
	var conn map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &conn)

	w = do(handler, http.MethodPost, "/mcp/message",
		`{"sessionId": "`+conn["sessionId"]+`", "method": "tools/destroy"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown method = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Error != "unknown_method" {
		t.Errorf("error kind = %q, want unknown_method", e.Error)
	}
}

func TestConnectSecret(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{ConnectSecret: "hunter2"})

	w := do(handler, http.MethodPost, "/mcp/connect", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no secret = %d, want 401", w.Code)
	}

	r := httptest.NewRequest(http.MethodPost, "/mcp/connect", nil)
	r.Header.Set("Authorization", "Bearer hunter2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	if rec.Code != http.StatusCreated {
		t.Errorf("bearer secret = %d, want 201", rec.Code)
	}

	w = do(handler, http.MethodPost, "/mcp/connect?secret=hunter2", "")
	if w.Code != http.StatusCreated {
		t.Errorf("query secret = %d, want 201", w.Code)
	}

	w = do(handler, http.MethodPost, "/mcp/connect?secret=wrong", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret = %d, want 401", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := newTestHandler(t, ServerConfig{})

	w := do(handler, http.MethodGet, "/entries", "")
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}

func TestNewServer_ConfigValidation(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("expected error for missing entry lister")
	}
}
