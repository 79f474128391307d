package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/quill/internal/coordinator"
	"github.com/MikeSquared-Agency/quill/internal/feedback"
	"github.com/MikeSquared-Agency/quill/internal/intake"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeCoordinator struct {
	status     coordinator.Status
	candidates []string
	cleared    int
	selectErr  error
}

func (f *fakeCoordinator) Status(context.Context) (coordinator.Status, error) {
	return f.status, nil
}

func (f *fakeCoordinator) Select(_ context.Context, index int) (feedback.Record, error) {
	if f.selectErr != nil {
		return feedback.Record{}, f.selectErr
	}
	if len(f.candidates) == 0 {
		return feedback.Record{}, coordinator.ErrNoSuggestions
	}
	if index < 0 || index >= len(f.candidates) {
		return feedback.Record{}, fmt.Errorf("%w: index %d", coordinator.ErrInvalidChoice, index)
	}
	return feedback.Record{Candidates: f.candidates, Chosen: f.candidates[index]}, nil
}

func (f *fakeCoordinator) SelectText(_ context.Context, chosen string) (feedback.Record, error) {
	if len(f.candidates) == 0 {
		return feedback.Record{}, coordinator.ErrNoSuggestions
	}
	return feedback.Record{Candidates: f.candidates, Chosen: chosen}, nil
}

func (f *fakeCoordinator) ClearContext(context.Context) error {
	f.cleared++
	return nil
}

func (f *fakeCoordinator) CopyAll(context.Context) (string, error) {
	if len(f.candidates) == 0 {
		return "", coordinator.ErrNoSuggestions
	}
	return strings.Join(f.candidates, "\n"), nil
}

func newTestServer(token string, coord *fakeCoordinator, delivered *[]string) *Server {
	deliver := func(_ context.Context, text string) intake.Decision {
		if strings.TrimSpace(text) == "" {
			return intake.Decision{Reason: intake.ReasonEmpty}
		}
		*delivered = append(*delivered, text)
		return intake.Decision{Accept: true, Cleaned: text, Advance: true}
	}
	return NewServer(8760, token, coord, deliver, discardLogger())
}

func do(srv *Server, method, path, body, token string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	var delivered []string
	srv := newTestServer("secret", &fakeCoordinator{}, &delivered)

	w := do(srv, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	var delivered []string
	coord := &fakeCoordinator{status: coordinator.Status{
		State:      coordinator.Generating,
		Pending:    true,
		ContextLen: 2,
		Candidates: []string{"a"},
		Text:       "生成中...",
	}}
	srv := newTestServer("", coord, &delivered)

	w := do(srv, "GET", "/api/v1/quill/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["agent"] != "quill" {
		t.Errorf("expected agent quill, got %v", body["agent"])
	}
	if body["state"] != "generating" {
		t.Errorf("expected state generating, got %v", body["state"])
	}
	if body["pending"] != true {
		t.Errorf("expected pending true, got %v", body["pending"])
	}
	if body["status"] != "生成中..." {
		t.Errorf("expected status text, got %v", body["status"])
	}
}

func TestBearerAuth(t *testing.T) {
	var delivered []string
	srv := newTestServer("secret", &fakeCoordinator{}, &delivered)

	if w := do(srv, "GET", "/api/v1/quill/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", w.Code)
	}
	if w := do(srv, "GET", "/api/v1/quill/status", "", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with wrong token, got %d", w.Code)
	}
	if w := do(srv, "GET", "/api/v1/quill/status", "", "secret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", w.Code)
	}
}

func TestPostMessage(t *testing.T) {
	var delivered []string
	srv := newTestServer("", &fakeCoordinator{}, &delivered)

	w := do(srv, "POST", "/api/v1/quill/messages", `{"text":"晚上吃什么"}`, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(delivered) != 1 || delivered[0] != "晚上吃什么" {
		t.Errorf("unexpected deliveries: %v", delivered)
	}

	w = do(srv, "POST", "/api/v1/quill/messages", `{"text":"  "}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for rejected message, got %d", w.Code)
	}
	var resp messageResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Accepted || resp.Reason != "empty" {
		t.Errorf("unexpected response %+v", resp)
	}

	if w := do(srv, "POST", "/api/v1/quill/messages", `not json`, ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad JSON, got %d", w.Code)
	}
}

func TestPostFeedback(t *testing.T) {
	var delivered []string
	coord := &fakeCoordinator{candidates: []string{"a", "b", "c"}}
	srv := newTestServer("", coord, &delivered)

	w := do(srv, "POST", "/api/v1/quill/feedback", `{"index":1}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var rec feedback.Record
	json.NewDecoder(w.Body).Decode(&rec)
	if rec.Chosen != "b" {
		t.Errorf("expected chosen b, got %q", rec.Chosen)
	}

	w = do(srv, "POST", "/api/v1/quill/feedback", `{"chosen":"my own"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	tests := []struct {
		name string
		body string
		want int
	}{
		{"index 0 is valid", `{"index":0}`, http.StatusOK},
		{"out of range", `{"index":7}`, http.StatusBadRequest},
		{"missing fields", `{}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(srv, "POST", "/api/v1/quill/feedback", tt.body, ""); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestPostFeedback_Errors(t *testing.T) {
	var delivered []string

	srv := newTestServer("", &fakeCoordinator{}, &delivered)
	if w := do(srv, "POST", "/api/v1/quill/feedback", `{"index":0}`, ""); w.Code != http.StatusConflict {
		t.Errorf("expected 409 without suggestions, got %d", w.Code)
	}

	srv = newTestServer("", &fakeCoordinator{selectErr: coordinator.ErrStopped}, &delivered)
	if w := do(srv, "POST", "/api/v1/quill/feedback", `{"index":0}`, ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when stopped, got %d", w.Code)
	}

	srv = newTestServer("", &fakeCoordinator{selectErr: fmt.Errorf("append feedback: disk full")}, &delivered)
	if w := do(srv, "POST", "/api/v1/quill/feedback", `{"index":0}`, ""); w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on sink failure, got %d", w.Code)
	}
}

func TestClearContext(t *testing.T) {
	var delivered []string
	coord := &fakeCoordinator{}
	srv := newTestServer("", coord, &delivered)

	if w := do(srv, "POST", "/api/v1/quill/context/clear", "", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if coord.cleared != 1 {
		t.Errorf("expected one clear, got %d", coord.cleared)
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	var delivered []string
	srv := newTestServer("", &fakeCoordinator{}, &delivered)

	if w := do(srv, "GET", "/nonexistent", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestCopyAllEndpoint(t *testing.T) {
	var delivered []string
	coord := &fakeCoordinator{}
	srv := newTestServer("", coord, &delivered)

	w := do(srv, "POST", "/api/v1/quill/suggestions/copy", "", "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 without suggestions, got %d", w.Code)
	}

	coord.candidates = []string{"在的", "怎么啦"}
	w = do(srv, "POST", "/api/v1/quill/suggestions/copy", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["text"] != "在的\n怎么啦" {
		t.Errorf("expected joined suggestions, got %q", body["text"])
	}
}
