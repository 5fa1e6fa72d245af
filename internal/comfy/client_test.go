package comfy_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/graymont/easel/internal/comfy"
	"github.com/graymont/easel/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// newClient points a Client at the given test server.
func newClient(t *testing.T, ts *httptest.Server) *comfy.Client {
	t.Helper()
	host := strings.TrimPrefix(ts.URL, "http://")
	return comfy.NewClient(host, discardLogger())
}

func noSleep(time.Duration) {}

func TestWaitForReadySucceedsOnLaterAttempt(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newClient(t, ts)
	if !c.WaitForReady(context.Background(), 5, time.Millisecond, noSleep) {
		t.Fatal("WaitForReady = false, want true")
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("probe attempts = %d, want 3", got)
	}
}

// The probe budget is exact: maxAttempts probes, not one more.
func TestWaitForReadyExhaustsBudget(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := newClient(t, ts)
	if c.WaitForReady(context.Background(), 4, time.Millisecond, noSleep) {
		t.Fatal("WaitForReady = true, want false")
	}
	if got := hits.Load(); got != 4 {
		t.Errorf("probe attempts = %d, want 4", got)
	}
}

func TestWaitForReadyTransportError(t *testing.T) {
	// A server that is immediately closed refuses connections.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newClient(t, ts)
	ts.Close()

	if c.WaitForReady(context.Background(), 2, time.Millisecond, noSleep) {
		t.Fatal("WaitForReady = true against a closed server, want false")
	}
}

func TestUploadImage(t *testing.T) {
	var gotName, gotOverwrite, gotContent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload/image" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		gotOverwrite = r.FormValue("overwrite")

		file, header, err := r.FormFile("image")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		gotName = header.Filename
		content, _ := io.ReadAll(file)
		gotContent = string(content)

		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c := newClient(t, ts)
	if err := c.UploadImage(context.Background(), "input.png", []byte("png-bytes")); err != nil {
		t.Fatalf("UploadImage: %v", err)
	}

	if gotName != "input.png" {
		t.Errorf("filename = %q, want input.png", gotName)
	}
	if gotOverwrite != "true" {
		t.Errorf("overwrite = %q, want true", gotOverwrite)
	}
	if gotContent != "png-bytes" {
		t.Errorf("content = %q, want png-bytes", gotContent)
	}
}

func TestUploadImageEngineRejects(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad image", http.StatusBadRequest)
	}))
	defer ts.Close()

	c := newClient(t, ts)
	err := c.UploadImage(context.Background(), "input.png", []byte("x"))
	if err == nil {
		t.Fatal("UploadImage succeeded, want error")
	}
	if !strings.Contains(err.Error(), "input.png") {
		t.Errorf("error %q does not name the image", err)
	}
}

func TestSubmitWorkflow(t *testing.T) {
	var gotBody map[string]json.RawMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/prompt" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": "p-42"})
	}))
	defer ts.Close()

	c := newClient(t, ts)
	spec := model.WorkflowSpec(`{"1": {"class_type": "KSampler"}}`)
	id, err := c.SubmitWorkflow(context.Background(), spec)
	if err != nil {
		t.Fatalf("SubmitWorkflow: %v", err)
	}

	if id != "p-42" {
		t.Errorf("prompt id = %q, want p-42", id)
	}
	prompt, ok := gotBody["prompt"]
	if !ok {
		t.Fatal("request body has no prompt key")
	}
	if string(prompt) != `{"1": {"class_type": "KSampler"}}` {
		t.Errorf("prompt = %s, want the workflow verbatim", prompt)
	}
}

func TestSubmitWorkflowMissingPromptID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer ts.Close()

	c := newClient(t, ts)
	if _, err := c.SubmitWorkflow(context.Background(), model.WorkflowSpec(`{}`)); err == nil {
		t.Fatal("SubmitWorkflow succeeded with no prompt id, want error")
	}
}

func TestHistoryPendingAndComplete(t *testing.T) {
	responses := map[string]string{
		"/history/pending": `{}`,
		"/history/empty":   `{"empty": {"outputs": {}}}`,
		"/history/done":    `{"done": {"outputs": {"9": {"images": [{"filename": "a.png", "subfolder": "sub"}]}}}}`,
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := responses[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, body)
	}))
	defer ts.Close()

	c := newClient(t, ts)

	out, err := c.History(context.Background(), "pending")
	if err != nil {
		t.Fatalf("History(pending): %v", err)
	}
	if out != nil {
		t.Errorf("History(pending) = %v, want nil", out)
	}

	// An outputs section with no entries still counts as pending.
	out, err = c.History(context.Background(), "empty")
	if err != nil {
		t.Fatalf("History(empty): %v", err)
	}
	if out != nil {
		t.Errorf("History(empty) = %v, want nil", out)
	}

	out, err = c.History(context.Background(), "done")
	if err != nil {
		t.Fatalf("History(done): %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("History(done) nodes = %d, want 1", len(out))
	}
	images := out["9"].Images
	if len(images) != 1 || images[0].Filename != "a.png" || images[0].Subfolder != "sub" {
		t.Errorf("images = %+v, want one a.png in sub", images)
	}
}

func TestHistoryEngineError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := newClient(t, ts)
	if _, err := c.History(context.Background(), "x"); err == nil {
		t.Fatal("History succeeded against a failing engine, want error")
	}
}
