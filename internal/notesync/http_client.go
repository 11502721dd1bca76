package notesync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/notesync/internal/notes"
)

// RemoteClient talks to the notes backend. A backend that cannot be reached
// is reported as an error matching notes.ErrUnavailable.
type RemoteClient interface {
	List(ctx context.Context) ([]notes.Note, error)
	Get(ctx context.Context, id string) (notes.Note, error)
	Create(ctx context.Context, in notes.NoteInput) (notes.Note, error)
	Update(ctx context.Context, id string, in notes.NoteInput) (notes.Note, error)
	Delete(ctx context.Context, id string) error
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == notes.ErrNotFound
	case http.StatusBadRequest:
		return target == notes.ErrValidation
	}
	return false
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
	}
}

func (c *HTTPClient) List(ctx context.Context) ([]notes.Note, error) {
	var out []notes.Note
	if err := c.doJSON(ctx, "reading", http.MethodGet, "/notes", nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []notes.Note{}
	}
	return out, nil
}

func (c *HTTPClient) Get(ctx context.Context, id string) (notes.Note, error) {
	var out notes.Note
	err := c.doJSON(ctx, "reading", http.MethodGet, notePath(id), nil, &out)
	return out, err
}

func (c *HTTPClient) Create(ctx context.Context, in notes.NoteInput) (notes.Note, error) {
	var out notes.Note
	err := c.doJSON(ctx, "creating", http.MethodPost, "/notes", in, &out)
	return out, err
}

func (c *HTTPClient) Update(ctx context.Context, id string, in notes.NoteInput) (notes.Note, error) {
	var out notes.Note
	err := c.doJSON(ctx, "updating", http.MethodPut, notePath(id), in, &out)
	return out, err
}

func (c *HTTPClient) Delete(ctx context.Context, id string) error {
	return c.doJSON(ctx, "deleting", http.MethodDelete, notePath(id), nil, nil)
}

type responseEnvelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Online  *bool           `json:"online"`
}

// doJSON sends one request and classifies the outcome. There are no retries:
// an unreachable backend is the engine's cue to queue the operation.
func (c *HTTPClient) doJSON(ctx context.Context, op, method, requestPath string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Correlation-Id", correlationID())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &notes.UnavailableError{Err: err}
	}
	payloadBytes, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return &notes.UnavailableError{Err: readErr}
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &notes.UnavailableError{Err: &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(payloadBytes)}}
	}

	var envelope responseEnvelope
	if err := json.Unmarshal(payloadBytes, &envelope); err != nil {
		return &notes.UnavailableError{Err: fmt.Errorf("decode %s %s response: %w", method, requestPath, err)}
	}
	if envelope.Online != nil && !*envelope.Online {
		return &notes.UnavailableError{Err: &HTTPError{StatusCode: resp.StatusCode, Message: envelope.Error}}
	}

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		if out == nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
			return nil
		}
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return &notes.StoreError{Op: op, Err: fmt.Errorf("decode note payload: %w", err)}
		}
		return nil
	}

	httpErr := &HTTPError{StatusCode: resp.StatusCode, Message: envelope.Error}
	if errors.Is(httpErr, notes.ErrNotFound) || errors.Is(httpErr, notes.ErrValidation) {
		return httpErr
	}
	return &notes.StoreError{Op: op, Err: httpErr}
}

func notePath(id string) string {
	q := url.Values{}
	q.Set("id", strings.TrimSpace(id))
	return "/notes?" + q.Encode()
}

func errorMessage(payload []byte) string {
	var envelope responseEnvelope
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return strings.TrimSpace(string(payload))
}

func correlationID() string {
	return fmt.Sprintf("notes_%d", time.Now().UnixNano())
}
