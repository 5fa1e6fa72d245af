package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/graymont/easel/internal/storage"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "easel.db"
	defaultComfyHost  = "127.0.0.1:8188"
	defaultOutputRoot = "/comfyui/output"

	defaultPollInterval     = 250 * time.Millisecond
	defaultPollMaxAttempts  = 500
	defaultProbeInterval    = 50 * time.Millisecond
	defaultProbeMaxAttempts = 500

	envListenAddr = "EASEL_LISTEN_ADDR"
	envDBPath     = "EASEL_DB_PATH"
	envLogLevel   = "EASEL_LOG_LEVEL"

	// Engine and pipeline settings keep the environment names the worker has
	// always used so existing deployments carry over unchanged.
	envComfyHost        = "COMFY_HOST"
	envOutputRoot       = "COMFY_OUTPUT_PATH"
	envPollIntervalMS   = "COMFY_POLLING_INTERVAL_MS"
	envPollMaxAttempts  = "COMFY_POLLING_MAX_RETRIES"
	envProbeIntervalMS  = "COMFY_API_AVAILABLE_INTERVAL_MS"
	envProbeMaxAttempts = "COMFY_API_AVAILABLE_MAX_RETRIES"
	envRefreshWorker    = "REFRESH_WORKER"

	envBucketEndpoint  = "BUCKET_ENDPOINT_URL"
	envBucketAccessKey = "BUCKET_ACCESS_KEY_ID"
	envBucketSecretKey = "BUCKET_SECRET_ACCESS_KEY"
	envBucketRegion    = "S3_REGION"
	envBucketName      = "S3_BUCKET_NAME"

	envWebhookURL    = "RESULT_IMAGE_WEBHOOK_URL"
	envWebhookSecret = "RESULT_IMAGE_WEBHOOK_SECRET"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	ComfyHost  string
	OutputRoot string

	PollInterval     time.Duration
	PollMaxAttempts  int
	ProbeInterval    time.Duration
	ProbeMaxAttempts int
	RefreshWorker    bool

	Bucket storage.S3Config

	WebhookURL    string
	WebhookSecret string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is honored when present.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:       defaultListenAddr,
		DBPath:           defaultDBPath,
		LogLevel:         slog.LevelInfo,
		ComfyHost:        defaultComfyHost,
		OutputRoot:       defaultOutputRoot,
		PollInterval:     defaultPollInterval,
		PollMaxAttempts:  defaultPollMaxAttempts,
		ProbeInterval:    defaultProbeInterval,
		ProbeMaxAttempts: defaultProbeMaxAttempts,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envComfyHost); v != "" {
		cfg.ComfyHost = v
	}
	if v := os.Getenv(envOutputRoot); v != "" {
		cfg.OutputRoot = v
	}

	cfg.PollInterval = durationMSEnv(envPollIntervalMS, cfg.PollInterval)
	cfg.PollMaxAttempts = intEnv(envPollMaxAttempts, cfg.PollMaxAttempts)
	cfg.ProbeInterval = durationMSEnv(envProbeIntervalMS, cfg.ProbeInterval)
	cfg.ProbeMaxAttempts = intEnv(envProbeMaxAttempts, cfg.ProbeMaxAttempts)
	cfg.RefreshWorker = boolEnv(envRefreshWorker, false)

	cfg.Bucket = storage.S3Config{
		Endpoint:  strings.TrimSpace(os.Getenv(envBucketEndpoint)),
		AccessKey: strings.TrimSpace(os.Getenv(envBucketAccessKey)),
		SecretKey: strings.TrimSpace(os.Getenv(envBucketSecretKey)),
		Region:    strings.TrimSpace(os.Getenv(envBucketRegion)),
		Bucket:    strings.TrimSpace(os.Getenv(envBucketName)),
	}

	cfg.WebhookURL = strings.TrimSpace(os.Getenv(envWebhookURL))
	cfg.WebhookSecret = strings.TrimSpace(os.Getenv(envWebhookSecret))

	return cfg
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func durationMSEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func boolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return fallback
	}
	return b
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
