package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentworkforce/notesync/internal/httpapi"
	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
)

func TestFloatEnvParsesValue(t *testing.T) {
	t.Setenv("NOTES_TEST_FLOAT", "0.35")
	if got := floatEnv("NOTES_TEST_FLOAT", 0.1); got != 0.35 {
		t.Fatalf("expected 0.35, got %f", got)
	}
	t.Setenv("NOTES_TEST_FLOAT", "oops")
	if got := floatEnv("NOTES_TEST_FLOAT", 0.25); got != 0.25 {
		t.Fatalf("expected fallback 0.25, got %f", got)
	}
}

func TestClampJitterRatio(t *testing.T) {
	if got := clampJitterRatio(-0.1); got != 0 {
		t.Fatalf("expected clamp to 0, got %f", got)
	}
	if got := clampJitterRatio(1.5); got != 1 {
		t.Fatalf("expected clamp to 1, got %f", got)
	}
	if got := clampJitterRatio(0.4); got != 0.4 {
		t.Fatalf("expected passthrough 0.4, got %f", got)
	}
}

func TestJitteredIntervalWithSample(t *testing.T) {
	base := 30 * time.Second
	if got := jitteredIntervalWithSample(base, 0, 0.2); got != base {
		t.Fatalf("expected no jitter interval %s, got %s", base, got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 0); got != 24*time.Second {
		t.Fatalf("expected min jitter interval 24s, got %s", got)
	}
	if got := jitteredIntervalWithSample(base, 0.2, 1); got != 36*time.Second {
		t.Fatalf("expected max jitter interval 36s, got %s", got)
	}
}

func TestRenderNotes(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	renderNotes(&out, []notes.Note{
		{ID: "tmp-abc", Title: "draft", Content: "line one\nline two", UpdatedAt: now.Add(-2 * time.Minute)},
		{ID: "3", Title: "", Content: strings.Repeat("x", 200), UpdatedAt: now.Add(-3 * time.Hour)},
	}, now)
	text := out.String()
	for _, want := range []string{"tmp-abc (pending)", "draft", "2 minutes ago", "line one line two", "#3", "(untitled)", "3 hours ago", "…"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}

	out.Reset()
	renderNotes(&out, nil, now)
	if !strings.Contains(out.String(), "No notes yet.") {
		t.Fatalf("unexpected empty rendering %q", out.String())
	}
}

func TestRenderNoteWithoutCreationTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	renderNote(&out, notes.Note{ID: "77", Title: "t", Content: "c", UpdatedAt: now.Add(-time.Minute)}, now)
	if strings.Contains(out.String(), "created") || !strings.Contains(out.String(), "updated 1 minute ago") {
		t.Fatalf("unexpected rendering %q", out.String())
	}
}

func TestRenderStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var out bytes.Buffer
	renderStatus(&out, "http://notes.local", false, []notesync.PendingOperation{
		{ID: "op-1", Action: notesync.ActionUpdate, Note: notes.Note{ID: "4"}, EnqueuedAt: now.Add(-time.Hour), Attempts: 2, LastError: "http 500"},
	}, []notesync.PendingOperation{
		{ID: "op-2", Action: notesync.ActionCreate, Note: notes.Note{ID: "tmp-parked"}, Attempts: 10, LastError: "disk full"},
	}, now)
	text := out.String()
	for _, want := range []string{"offline", "1 change", "update", "#4", "1 hour ago", "2 failed attempts", "parked", "tmp-parked (pending)", "last error: disk full"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
}

func TestCLIOfflineRoundTrip(t *testing.T) {
	clearNotesEnv(t)
	repo := notes.NewMemoryRepository()
	server := httptest.NewServer(httpapi.NewServer(repo))
	defer server.Close()
	base := []string{"--server", server.URL, "--cache", "file://" + filepath.Join(t.TempDir(), "cache")}

	stdout, _, err := runCLI(t, append(base, "add", "--title", "A", "--content", "B")...)
	if err != nil {
		t.Fatalf("online add failed: %v", err)
	}
	if !strings.Contains(stdout, "note 1 created") {
		t.Fatalf("unexpected add output %q", stdout)
	}

	repo.SetAvailable(false)
	stdout, stderr, err := runCLI(t, append(base, "add", "--title", "C", "--content", "D")...)
	if err != nil {
		t.Fatalf("offline add failed: %v", err)
	}
	if !strings.Contains(stderr, "You are offline") || !strings.Contains(stdout, "queued") {
		t.Fatalf("expected offline banner and queued note, stdout=%q stderr=%q", stdout, stderr)
	}

	stdout, _, err = runCLI(t, append(base, "status")...)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !strings.Contains(stdout, "offline") || !strings.Contains(stdout, "1 change") {
		t.Fatalf("unexpected status %q", stdout)
	}

	stdout, _, err = runCLI(t, append(base, "list", "--json")...)
	if err != nil {
		t.Fatalf("offline list failed: %v", err)
	}
	var cached []notes.Note
	if err := json.Unmarshal([]byte(stdout), &cached); err != nil {
		t.Fatalf("decode list: %v (%q)", err, stdout)
	}
	if len(cached) != 2 || !notes.IsTemporaryID(cached[0].ID) {
		t.Fatalf("expected temp note first in cached list, got %+v", cached)
	}

	repo.SetAvailable(true)
	stdout, _, err = runCLI(t, append(base, "sync")...)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if !strings.Contains(stdout, "1 synced") || !strings.Contains(stdout, "0 changes still queued") {
		t.Fatalf("unexpected sync output %q", stdout)
	}

	stdout, _, err = runCLI(t, append(base, "list", "--json")...)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var synced []notes.Note
	if err := json.Unmarshal([]byte(stdout), &synced); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(synced) != 2 {
		t.Fatalf("expected 2 notes, got %+v", synced)
	}
	for _, note := range synced {
		if notes.IsTemporaryID(note.ID) {
			t.Fatalf("temporary id %s survived sync", note.ID)
		}
	}

	if _, _, err := runCLI(t, append(base, "edit", "1", "--content", "B2")...); err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	got, err := repo.Get(context.Background(), "1")
	if err != nil || got.Title != "A" || got.Content != "B2" {
		t.Fatalf("expected edit to keep title and change content, got %+v err=%v", got, err)
	}

	if _, _, err := runCLI(t, append(base, "add", "--title", "only")...); err == nil {
		t.Fatalf("expected add without content to fail")
	}

	stdout, _, err = runCLI(t, append(base, "rm", "1")...)
	if err != nil || !strings.Contains(stdout, "note 1 deleted") {
		t.Fatalf("rm failed: %v (%q)", err, stdout)
	}
}

func TestConfigFileSetsServer(t *testing.T) {
	t.Setenv("NOTES_SERVER", "")
	path := filepath.Join(t.TempDir(), "notes.yaml")
	if err := os.WriteFile(path, []byte("server: http://from-config.invalid:9\ncache: memory://\ntimeout: 50ms\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	stdout, _, err := runCLI(t, "--config", path, "status", "--json")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var status struct {
		Online bool   `json:"online"`
		Server string `json:"server"`
	}
	if err := json.Unmarshal([]byte(stdout), &status); err != nil {
		t.Fatalf("decode status: %v (%q)", err, stdout)
	}
	if status.Server != "http://from-config.invalid:9" || status.Online {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestWatchIgnoresItsOwnQueueWrites(t *testing.T) {
	clearNotesEnv(t)
	cache := "file://" + filepath.Join(t.TempDir(), "cache")

	down := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	downURL := down.URL
	down.Close()
	if _, _, err := runCLI(t, "--server", downURL, "--cache", cache, "add", "--title", "A", "--content", "B"); err != nil {
		t.Fatalf("offline add failed: %v", err)
	}

	var posts atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodPost {
			posts.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"Error creating note: disk full","online":true}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[],"online":true}`))
	}))
	defer failing.Close()
	base := []string{"--server", failing.URL, "--cache", cache}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	if _, _, err := runCLIContext(ctx, t, append(base, "watch", "--interval", "1h", "--probe-interval", "1h")...); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if got := posts.Load(); got != 1 {
		t.Fatalf("expected one create attempt from the startup pass, got %d", got)
	}

	stdout, _, err := runCLI(t, append(base, "list", "--json")...)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	var items []notes.Note
	if err := json.Unmarshal([]byte(stdout), &items); err != nil {
		t.Fatalf("decode list: %v (%q)", err, stdout)
	}
	if len(items) != 1 || !notes.IsTemporaryID(items[0].ID) || items[0].Title != "A" {
		t.Fatalf("expected the offline note to survive, got %+v", items)
	}

	stdout, _, err = runCLI(t, append(base, "status", "--json")...)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	var status struct {
		Pending []notesync.PendingOperation `json:"pending"`
	}
	if err := json.Unmarshal([]byte(stdout), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(status.Pending) != 1 || status.Pending[0].Attempts != 1 {
		t.Fatalf("expected create queued with one attempt, got %+v", status.Pending)
	}
}

func TestCLIEditByTemporaryIDAfterSync(t *testing.T) {
	clearNotesEnv(t)
	repo := notes.NewMemoryRepository()
	server := httptest.NewServer(httpapi.NewServer(repo))
	defer server.Close()
	base := []string{"--server", server.URL, "--cache", "file://" + filepath.Join(t.TempDir(), "cache")}

	repo.SetAvailable(false)
	stdout, _, err := runCLI(t, append(base, "add", "--title", "A", "--content", "B")...)
	if err != nil {
		t.Fatalf("offline add failed: %v", err)
	}
	fields := strings.Fields(stdout)
	if len(fields) < 2 || !notes.IsTemporaryID(fields[1]) {
		t.Fatalf("expected temporary id in %q", stdout)
	}
	tempID := fields[1]

	repo.SetAvailable(true)
	if _, _, err := runCLI(t, append(base, "sync")...); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	stdout, _, err = runCLI(t, append(base, "edit", tempID, "--title", "X")...)
	if err != nil {
		t.Fatalf("edit by temporary id failed: %v", err)
	}
	if !strings.Contains(stdout, "note 1 updated") || strings.Contains(stdout, "queued") {
		t.Fatalf("unexpected edit output %q", stdout)
	}
	got, err := repo.Get(context.Background(), "1")
	if err != nil || got.Title != "X" || got.Content != "B" {
		t.Fatalf("expected edit on server note 1, got %+v err=%v", got, err)
	}

	repo.SetAvailable(false)
	stdout, _, err = runCLI(t, append(base, "edit", "1", "--title", "Y", "--content", "C")...)
	if err != nil {
		t.Fatalf("offline edit failed: %v", err)
	}
	if !strings.Contains(stdout, "queued") {
		t.Fatalf("expected offline edit reported as queued, got %q", stdout)
	}

	if _, _, err := runCLI(t, append(base, "edit", "tmp-unknown", "--title", "Z", "--content", "Z")...); !errors.Is(err, notes.ErrNotFound) {
		t.Fatalf("expected not found for unknown temporary id, got %v", err)
	}
}

func clearNotesEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"NOTES_SERVER", "NOTES_CACHE", "NOTES_TIMEOUT", "NOTES_LOG_FILE", "NOTES_JSON", "NOTES_VERBOSE", "NOTES_INTERVAL", "NOTES_PROBE_INTERVAL"} {
		t.Setenv(name, "")
	}
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLIContext(context.Background(), t, args...)
}

func runCLIContext(ctx context.Context, t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}
