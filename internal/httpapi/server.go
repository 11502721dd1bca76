package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Messages that clients match on; keep them byte-for-byte stable.
const (
	msgCreated          = "Note created successfully"
	msgUpdated          = "Note updated successfully"
	msgDeleted          = "Note deleted successfully"
	msgNotFound         = "Note not found"
	msgValidation       = "Title and content are required"
	msgUnavailable      = "Database connection failed"
	msgMethodNotAllowed = "Method not allowed"
	msgIDRequired       = "Note ID is required"
	msgRouteNotFound    = "Not found"
	msgTooLarge         = "Request body too large"
)

type Logger interface {
	Printf(format string, args ...any)
}

type ServerConfig struct {
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	Logger         Logger
}

type Server struct {
	repo   notes.Repository
	cfg    ServerConfig
	router chi.Router
}

// envelope is the body of every /notes response. Online is left out only
// for 405, which never reaches the store.
type envelope struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
	Online  *bool  `json:"online,omitempty"`
}

func NewServer(repo notes.Repository) *Server {
	return NewServerWithConfig(repo, ServerConfig{})
}

func NewServerWithConfig(repo notes.Repository, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		repo: repo,
		cfg:  cfg,
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Error: msgRouteNotFound})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: msgMethodNotAllowed})
	})
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/notes", s.handleRead)
	r.Post("/notes", s.handleCreate)
	r.Put("/notes", s.handleUpdate)
	r.Delete("/notes", s.handleDelete)
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if !s.requireStore(ctx, w) {
		return
	}
	id := noteID(r)
	if id == "" {
		items, err := s.repo.List(ctx)
		if err != nil {
			s.writeStoreError(w, r, err)
			return
		}
		if items == nil {
			items = []notes.Note{}
		}
		writeJSON(w, http.StatusOK, envelope{Data: items, Online: online(true)})
		return
	}
	note, err := s.repo.Get(ctx, id)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: note, Online: online(true)})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if !s.requireStore(ctx, w) {
		return
	}
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	note, err := s.repo.Create(ctx, in)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: msgCreated, Data: note, Online: online(true)})
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if !s.requireStore(ctx, w) {
		return
	}
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Error: msgIDRequired, Online: online(true)})
		return
	}
	in, ok := s.decodeInput(w, r)
	if !ok {
		return
	}
	note, err := s.repo.Update(ctx, id, in)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: msgUpdated, Data: note, Online: online(true)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if !s.requireStore(ctx, w) {
		return
	}
	id := noteID(r)
	if id == "" {
		writeJSON(w, http.StatusBadRequest, envelope{Error: msgIDRequired, Online: online(true)})
		return
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Message: msgDeleted, Online: online(true)})
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
}

// requireStore answers 503 when the store cannot be reached. Every /notes
// handler calls it before looking at the request.
func (s *Server) requireStore(ctx context.Context, w http.ResponseWriter) bool {
	if err := s.repo.Ping(ctx); err != nil {
		s.logf("store ping failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: msgUnavailable, Online: online(false)})
		return false
	}
	return true
}

func (s *Server) decodeInput(w http.ResponseWriter, r *http.Request) (notes.NoteInput, bool) {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return notes.NoteInput{}, false
	}
	in, err := notes.DecodeInput(body)
	if err != nil {
		if !errors.Is(err, notes.ErrValidation) {
			s.logf("decode note input: %v", err)
		}
		writeJSON(w, http.StatusBadRequest, envelope{Error: msgValidation, Online: online(true)})
		return notes.NoteInput{}, false
	}
	return in, true
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, envelope{Error: msgTooLarge, Online: online(true)})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, envelope{Error: msgValidation, Online: online(true)})
		return nil, false
	}
	return body, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var storeErr *notes.StoreError
	switch {
	case errors.Is(err, notes.ErrNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Error: msgNotFound, Online: online(true)})
	case errors.Is(err, notes.ErrValidation):
		writeJSON(w, http.StatusBadRequest, envelope{Error: msgValidation, Online: online(true)})
	case notes.IsUnavailable(err):
		s.logf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusServiceUnavailable, envelope{Error: msgUnavailable, Online: online(false)})
	case errors.As(err, &storeErr):
		s.logf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, envelope{Error: storeFailureMessage(storeErr), Online: online(true)})
	default:
		s.logf("%s %s: %v", r.Method, r.URL.Path, err)
		writeJSON(w, http.StatusInternalServerError, envelope{Error: fmt.Sprintf("Error %s note: %v", operationFor(r.Method), err), Online: online(true)})
	}
}

func storeFailureMessage(err *notes.StoreError) string {
	if err.Err == nil {
		return fmt.Sprintf("Error %s note", err.Op)
	}
	return fmt.Sprintf("Error %s note: %v", err.Op, err.Err)
}

func operationFor(method string) string {
	switch method {
	case http.MethodPost:
		return "creating"
	case http.MethodPut:
		return "updating"
	case http.MethodDelete:
		return "deleting"
	default:
		return "reading"
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Logger == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logf("%s %s status=%d duration=%s correlation_id=%s",
			r.Method, r.URL.RequestURI(), ww.Status(), time.Since(start).Round(time.Microsecond), getCorrelationID(r))
	})
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func noteID(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("id"))
}

func online(v bool) *bool {
	return &v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
