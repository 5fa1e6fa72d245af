// Package comfy is the HTTP client for the external image-generation engine.
// The engine exposes a readiness probe at /, input-image staging at
// /upload/image, workflow submission at /prompt, and completion state at
// /history/{id}.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/graymont/easel/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// ArtifactRef locates one produced file relative to the engine's output root.
type ArtifactRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type,omitempty"`
}

// NodeOutput is the per-node slice of an engine history entry. Only the
// images list matters to the orchestrator; other node fields are ignored.
type NodeOutput struct {
	Images []ArtifactRef `json:"images"`
}

// Outputs maps node id to that node's outputs for one completed submission.
type Outputs map[string]NodeOutput

// Client talks to one engine instance.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a client for the engine at host (host:port, no scheme).
func NewClient(host string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: "http://" + host,
		httpc:   &http.Client{Timeout: defaultRequestTimeout},
		logger:  logger,
	}
}

// Ready performs a single readiness probe against the engine base URL.
func (c *Client) Ready(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// WaitForReady probes the engine until it responds healthy, waiting interval
// between attempts, up to maxAttempts. It returns false once the budget is
// exhausted; individual failed attempts are never surfaced as errors. The
// sleep function is injectable so tests run without real delays.
func (c *Client) WaitForReady(ctx context.Context, maxAttempts int, interval time.Duration, sleep func(time.Duration)) bool {
	for i := 0; i < maxAttempts; i++ {
		if c.Ready(ctx) {
			c.logger.Info("engine is reachable", "url", c.baseURL)
			return true
		}
		if i < maxAttempts-1 {
			sleep(interval)
		}
	}
	c.logger.Error("failed to connect to engine", "url", c.baseURL, "attempts", maxAttempts)
	return false
}

// UploadImage stages one input image on the engine as multipart form data
// with the overwrite flag set, so re-staging the same name is idempotent.
func (c *Client) UploadImage(ctx context.Context, name string, content []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("image", name)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return fmt.Errorf("write form file: %w", err)
	}
	if err := mw.WriteField("overwrite", "true"); err != nil {
		return fmt.Errorf("write overwrite field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/image", &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("upload image %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upload image %s: engine returned %d: %s", name, resp.StatusCode, string(msg))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// submitResponse is the engine's reply to a workflow submission.
type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// SubmitWorkflow queues one workflow on the engine and returns the opaque
// prompt id the engine assigned to it. The engine requires the workflow to be
// wrapped under a top-level "prompt" key.
func (c *Client) SubmitWorkflow(ctx context.Context, spec model.WorkflowSpec) (string, error) {
	payload, err := json.Marshal(map[string]json.RawMessage{"prompt": json.RawMessage(spec)})
	if err != nil {
		return "", fmt.Errorf("encode workflow: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit workflow: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("submit workflow: engine returned %d: %s", resp.StatusCode, string(msg))
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	if sr.PromptID == "" {
		return "", fmt.Errorf("submit workflow: engine response carried no prompt id")
	}
	return sr.PromptID, nil
}

// historyEntry is one submission's record in the engine history. A non-empty
// outputs section signals the submission has completed.
type historyEntry struct {
	Outputs Outputs `json:"outputs"`
}

// History queries the engine for the state of one submission. It returns the
// outputs when the submission has completed, or nil while it is still
// pending. The error is reserved for transport and decode failures.
func (c *Client) History(ctx context.Context, promptID string) (Outputs, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s: %w", promptID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("fetch history %s: engine returned %d", promptID, resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", promptID, err)
	}

	entry, ok := history[promptID]
	if !ok || len(entry.Outputs) == 0 {
		return nil, nil
	}
	return entry.Outputs, nil
}
