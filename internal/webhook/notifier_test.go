package webhook_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graymont/easel/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// verify recomputes the HMAC over the received body, exactly as a webhook
// consumer would.
func verify(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(signature))
}

func TestNotifySignsExactBody(t *testing.T) {
	const secret = "shh"

	var gotBody []byte
	var gotSignature string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		gotBody, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		gotSignature = r.Header.Get(webhook.SignatureHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	n := webhook.New(ts.URL, secret, discardLogger())
	ok := n.Notify(context.Background(), "https://bucket.example.com/job-1/ab12cd34.png?X-Amz-Signature=zzz", "job-1", "inf-9")
	require.True(t, ok)

	// The signature must verify over the exact received bytes.
	require.NotEmpty(t, gotSignature)
	assert.True(t, verify(secret, gotBody, gotSignature))

	// Any single altered byte must be rejected.
	tampered := append([]byte(nil), gotBody...)
	tampered[0] ^= 0x01
	assert.False(t, verify(secret, tampered, gotSignature))

	var payload map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "job-1", payload["job_id"])
	assert.Equal(t, "https://bucket.example.com/job-1/ab12cd34.png?X-Amz-Signature=zzz", payload["image_url"])
	assert.Equal(t, "ab12cd34.png", payload["image_name"], "image_name must strip the query component")
	assert.Equal(t, "inf-9", payload["inferenceJobId"])
}

func TestNotifyNon2xxIsFalse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	n := webhook.New(ts.URL, "s", discardLogger())
	assert.False(t, n.Notify(context.Background(), "https://x/y.png", "job-1", "inf-9"))
}

func TestNotifyTransportErrorIsFalse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	n := webhook.New(url, "s", discardLogger())
	assert.False(t, n.Notify(context.Background(), "https://x/y.png", "job-1", "inf-9"))
}

func TestNotifySkipsWithoutInferenceJobID(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	n := webhook.New(ts.URL, "s", discardLogger())
	assert.False(t, n.Notify(context.Background(), "https://x/y.png", "job-1", ""))
	assert.Zero(t, hits.Load())
}

func TestNotifySkipsWhenUnconfigured(t *testing.T) {
	n := webhook.New("", "", discardLogger())
	assert.False(t, n.Configured())
	assert.False(t, n.Notify(context.Background(), "https://x/y.png", "job-1", "inf-9"))
}

func TestSignIsDeterministic(t *testing.T) {
	body := []byte(`{"job_id":"a"}`)
	assert.Equal(t, webhook.Sign("secret", body), webhook.Sign("secret", body))
	assert.NotEqual(t, webhook.Sign("secret", body), webhook.Sign("other", body))
}
