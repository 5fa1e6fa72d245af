// Package webhook delivers per-artifact notifications signed with
// HMAC-SHA256. Delivery is best-effort: failures are reported as a boolean
// and never propagate to the caller.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// payload is the canonical notification body. The signature is computed over
// these exact serialized bytes.
type payload struct {
	JobID          string `json:"job_id"`
	ImageURL       string `json:"image_url"`
	ImageName      string `json:"image_name"`
	InferenceJobID string `json:"inferenceJobId"`
}

// Notifier posts signed artifact notifications to a configured endpoint.
type Notifier struct {
	endpoint string
	secret   string
	httpc    *http.Client
	logger   *slog.Logger
}

// New creates a Notifier. Endpoint and secret may be empty, in which case
// Configured reports false and Notify refuses to send.
func New(endpoint, secret string, logger *slog.Logger) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		secret:   secret,
		httpc:    &http.Client{Timeout: defaultTimeout},
		logger:   logger,
	}
}

// Configured reports whether both the endpoint and the shared secret are set.
func (n *Notifier) Configured() bool {
	return n.endpoint != "" && n.secret != ""
}

// Notify sends one artifact notification. It returns true only for a 2xx
// response; transport errors, timeouts, and non-2xx statuses all yield false.
// A missing inference job id skips delivery entirely.
func (n *Notifier) Notify(ctx context.Context, imageURL, jobID, inferenceJobID string) bool {
	if !n.Configured() {
		n.logger.Warn("webhook endpoint or secret not configured, skipping webhook")
		return false
	}
	if inferenceJobID == "" {
		n.logger.Warn("no inference job id provided, skipping webhook")
		return false
	}

	body, err := json.Marshal(payload{
		JobID:          jobID,
		ImageURL:       imageURL,
		ImageName:      imageName(imageURL),
		InferenceJobID: inferenceJobID,
	})
	if err != nil {
		n.logger.Error("encode webhook payload", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("build webhook request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(n.secret, body))

	resp, err := n.httpc.Do(req)
	if err != nil {
		n.logger.Error("send webhook", "image_url", imageURL, "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Sign computes the hex-encoded HMAC-SHA256 of body under secret. An
// independent receiver recomputing this over the received bytes must get the
// exact header value.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// imageName derives the artifact filename from its URL, stripped of any query
// component.
func imageName(imageURL string) string {
	base := path.Base(imageURL)
	if i := strings.Index(base, "?"); i >= 0 {
		base = base[:i]
	}
	return base
}
