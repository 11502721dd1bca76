package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
)

func TestHealth(t *testing.T) {
	server := NewServer(notes.NewMemoryRepository())
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/health"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("unexpected health body %s", resp.Body.String())
	}
}

func TestNotesLifecycle(t *testing.T) {
	server := NewServer(notes.NewMemoryRepository())

	listResp := doRequest(t, server, request{method: http.MethodGet, path: "/notes"})
	if listResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on empty list, got %d", listResp.Code)
	}
	if strings.TrimSpace(listResp.Body.String()) != `{"data":[],"online":true}` {
		t.Fatalf("unexpected empty list body %s", listResp.Body.String())
	}

	createResp := doRequest(t, server, request{
		method:  http.MethodPost,
		path:    "/notes",
		headers: map[string]string{"X-Correlation-Id": "corr_1"},
		body:    map[string]any{"title": "A", "content": "B"},
	})
	if createResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on create, got %d (%s)", createResp.Code, createResp.Body.String())
	}
	created := decodeNoteEnvelope(t, createResp)
	if created.Message != "Note created successfully" || !created.Online {
		t.Fatalf("unexpected create envelope %+v", created)
	}
	id := created.Data.ID
	if id == "" || created.Data.Title != "A" || created.Data.Content != "B" {
		t.Fatalf("unexpected created note %+v", created.Data)
	}

	getResp := doRequest(t, server, request{method: http.MethodGet, path: "/notes?id=" + id})
	if getResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", getResp.Code)
	}
	if got := decodeNoteEnvelope(t, getResp); got.Data.ID != id {
		t.Fatalf("expected note %s, got %+v", id, got.Data)
	}

	updateResp := doRequest(t, server, request{
		method: http.MethodPut,
		path:   "/notes?id=" + id,
		body:   map[string]any{"title": "A2", "content": ""},
	})
	if updateResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d (%s)", updateResp.Code, updateResp.Body.String())
	}
	updated := decodeNoteEnvelope(t, updateResp)
	if updated.Message != "Note updated successfully" || updated.Data.Title != "A2" || updated.Data.Content != "" {
		t.Fatalf("unexpected update envelope %+v", updated)
	}

	deleteResp := doRequest(t, server, request{method: http.MethodDelete, path: "/notes?id=" + id})
	if deleteResp.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", deleteResp.Code)
	}
	if strings.TrimSpace(deleteResp.Body.String()) != `{"message":"Note deleted successfully","online":true}` {
		t.Fatalf("unexpected delete body %s", deleteResp.Body.String())
	}

	again := doRequest(t, server, request{method: http.MethodDelete, path: "/notes?id=" + id})
	if again.Code != http.StatusNotFound {
		t.Fatalf("expected 404 deleting twice, got %d", again.Code)
	}
}

func TestGetMissingNoteReturns404(t *testing.T) {
	server := NewServer(notes.NewMemoryRepository())
	resp := doRequest(t, server, request{method: http.MethodGet, path: "/notes?id=999"})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"error":"Note not found","online":true}` {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestCreateRequiresTitleAndContent(t *testing.T) {
	server := NewServer(notes.NewMemoryRepository())
	for _, body := range []string{`{"content":"x"}`, `{"title":"x"}`, `{"title":5,"content":"x"}`, `not json`, ``} {
		resp := doRawRequest(t, server, rawRequest{method: http.MethodPost, path: "/notes", body: []byte(body)})
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %q, got %d", body, resp.Code)
		}
		if strings.TrimSpace(resp.Body.String()) != `{"error":"Title and content are required","online":true}` {
			t.Fatalf("unexpected body for %q: %s", body, resp.Body.String())
		}
	}
}

func TestUpdateAndDeleteRequireID(t *testing.T) {
	server := NewServer(notes.NewMemoryRepository())
	resp := doRequest(t, server, request{method: http.MethodPut, path: "/notes", body: map[string]any{"title": "a", "content": "b"}})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for PUT without id, got %d", resp.Code)
	}
	resp = doRequest(t, server, request{method: http.MethodDelete, path: "/notes"})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for DELETE without id, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "Note ID is required") {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}

	resp = doRequest(t, server, request{method: http.MethodPut, path: "/notes?id=42", body: map[string]any{"title": "a", "content": "b"}})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 updating a missing note, got %d", resp.Code)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	server := NewServer(notes.NewMemoryRepository())
	resp := doRequest(t, server, request{method: http.MethodPatch, path: "/notes"})
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if strings.TrimSpace(resp.Body.String()) != `{"error":"Method not allowed"}` {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestStoreOutageReturns503BeforeValidation(t *testing.T) {
	repo := notes.NewMemoryRepository()
	repo.SetAvailable(false)
	server := NewServer(repo)

	for _, r := range []rawRequest{
		{method: http.MethodGet, path: "/notes"},
		{method: http.MethodGet, path: "/notes?id=1"},
		{method: http.MethodPost, path: "/notes", body: []byte(`{"content":"missing title"}`)},
		{method: http.MethodPut, path: "/notes?id=1", body: []byte(`{"title":"a","content":"b"}`)},
		{method: http.MethodDelete, path: "/notes?id=1"},
	} {
		resp := doRawRequest(t, server, r)
		if resp.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s %s: expected 503, got %d", r.method, r.path, resp.Code)
		}
		if strings.TrimSpace(resp.Body.String()) != `{"error":"Database connection failed","online":false}` {
			t.Fatalf("%s %s: unexpected body %s", r.method, r.path, resp.Body.String())
		}
	}
}

func TestStoreFailureReturns500WithOperation(t *testing.T) {
	server := NewServer(failingRepository{Repository: notes.NewMemoryRepository()})
	resp := doRequest(t, server, request{method: http.MethodPost, path: "/notes", body: map[string]any{"title": "a", "content": "b"}})
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"error":"Error creating note: disk full"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}

func TestBodyLimit(t *testing.T) {
	server := NewServerWithConfig(notes.NewMemoryRepository(), ServerConfig{MaxBodyBytes: 16})
	resp := doRawRequest(t, server, rawRequest{
		method: http.MethodPost,
		path:   "/notes",
		body:   []byte(`{"title":"` + strings.Repeat("x", 64) + `","content":"y"}`),
	})
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}

func TestAccessLogIncludesCorrelationID(t *testing.T) {
	logger := &recordingLogger{}
	server := NewServerWithConfig(notes.NewMemoryRepository(), ServerConfig{Logger: logger})
	doRequest(t, server, request{method: http.MethodGet, path: "/notes", headers: map[string]string{"X-Correlation-Id": "corr_log"}})
	if len(logger.lines) == 0 || !strings.Contains(logger.lines[len(logger.lines)-1], "correlation_id=corr_log") {
		t.Fatalf("expected access log with correlation id, got %v", logger.lines)
	}
}

func TestSyncEngineAgainstServer(t *testing.T) {
	repo := notes.NewMemoryRepository()
	httpServer := httptest.NewServer(NewServer(repo))
	defer httpServer.Close()

	cache := &memoryCache{}
	client := notesync.NewHTTPClient(httpServer.URL, httpServer.Client())
	engine, err := notesync.NewEngine(client, cache, notesync.EngineOptions{})
	if err != nil {
		t.Fatalf("new engine failed: %v", err)
	}
	ctx := context.Background()

	if !engine.Probe(ctx) {
		t.Fatalf("expected server to be reachable")
	}
	online, err := engine.Create(ctx, notes.NewInput("online", "1"))
	if err != nil || notes.IsTemporaryID(online.ID) {
		t.Fatalf("expected server-assigned id, got %+v err=%v", online, err)
	}

	repo.SetAvailable(false)
	offline, err := engine.Create(ctx, notes.NewInput("offline", "2"))
	if err != nil {
		t.Fatalf("offline create failed: %v", err)
	}
	if !notes.IsTemporaryID(offline.ID) || engine.Online() {
		t.Fatalf("expected temporary note and offline engine, got %+v online=%v", offline, engine.Online())
	}

	repo.SetAvailable(true)
	report, err := engine.Replay(ctx)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if report.Succeeded != 1 {
		t.Fatalf("expected one replayed create, got %+v", report)
	}
	items, err := engine.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected two notes, got %+v", items)
	}
	for _, note := range items {
		if notes.IsTemporaryID(note.ID) {
			t.Fatalf("temporary id %s survived replay", note.ID)
		}
	}

	if _, err := engine.Get(ctx, "999"); !errors.Is(err, notes.ErrNotFound) {
		t.Fatalf("expected not found through the wire, got %v", err)
	}
}

type failingRepository struct {
	notes.Repository
}

func (failingRepository) Create(context.Context, notes.NoteInput) (notes.Note, error) {
	return notes.Note{}, &notes.StoreError{Op: "creating", Err: errors.New("disk full")}
}

type recordingLogger struct {
	lines []string
}

func (l *recordingLogger) Printf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

type memoryCache struct {
	items []notes.Note
	queue []notesync.PendingOperation
	state notesync.SyncState
}

func (c *memoryCache) ReadNotes() ([]notes.Note, error) {
	return append([]notes.Note(nil), c.items...), nil
}

func (c *memoryCache) WriteNotes(items []notes.Note) error {
	c.items = append([]notes.Note(nil), items...)
	return nil
}

func (c *memoryCache) ReadQueue() ([]notesync.PendingOperation, error) {
	return append([]notesync.PendingOperation(nil), c.queue...), nil
}

func (c *memoryCache) WriteQueue(queue []notesync.PendingOperation) error {
	c.queue = append([]notesync.PendingOperation(nil), queue...)
	return nil
}

func (c *memoryCache) ReadState() (notesync.SyncState, error) {
	return c.state, nil
}

func (c *memoryCache) WriteState(state notesync.SyncState) error {
	c.state = state
	return nil
}

type noteEnvelope struct {
	Message string     `json:"message"`
	Error   string     `json:"error"`
	Data    notes.Note `json:"data"`
	Online  bool       `json:"online"`
}

func decodeNoteEnvelope(t *testing.T, resp *httptest.ResponseRecorder) noteEnvelope {
	t.Helper()
	var out noteEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

type request struct {
	method  string
	path    string
	headers map[string]string
	body    map[string]any
}

type rawRequest struct {
	method  string
	path    string
	headers map[string]string
	body    []byte
}

func doRequest(t *testing.T, server http.Handler, r request) *httptest.ResponseRecorder {
	t.Helper()
	var bodyBytes []byte
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		bodyBytes = data
	}
	return doRawRequest(t, server, rawRequest{method: r.method, path: r.path, headers: r.headers, body: bodyBytes})
}

func doRawRequest(t *testing.T, server http.Handler, r rawRequest) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(r.method, r.path, bytes.NewReader(r.body))
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}
