package main

import (
	"log"
	"os"

	"github.com/graymont/easel/internal/api"
	"github.com/graymont/easel/internal/comfy"
	"github.com/graymont/easel/internal/config"
	"github.com/graymont/easel/internal/engine"
	"github.com/graymont/easel/internal/storage"
	"github.com/graymont/easel/internal/store"
	"github.com/graymont/easel/internal/webhook"
)

func main() {
	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	logger.Info("easel: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"comfy_host", cfg.ComfyHost,
		"output_root", cfg.OutputRoot,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	var uploader storage.Uploader
	if cfg.Bucket.Complete() {
		s3, err := storage.NewS3Uploader(cfg.Bucket)
		if err != nil {
			log.Fatalf("failed to init storage uploader: %v", err)
		}
		uploader = s3
	} else {
		logger.Warn("bucket configuration incomplete, artifacts will be delivered inline",
			"missing_keys", cfg.Bucket.MissingKeys())
	}

	notifier := webhook.New(cfg.WebhookURL, cfg.WebhookSecret, logger)
	if !notifier.Configured() {
		logger.Warn("webhook endpoint or secret not configured, notifications disabled")
	}

	client := comfy.NewClient(cfg.ComfyHost, logger)
	pipeline := engine.New(client, uploader, notifier, engine.Config{
		PollInterval:     cfg.PollInterval,
		PollMaxAttempts:  cfg.PollMaxAttempts,
		ProbeInterval:    cfg.ProbeInterval,
		ProbeMaxAttempts: cfg.ProbeMaxAttempts,
		OutputRoot:       cfg.OutputRoot,
		RefreshWorker:    cfg.RefreshWorker,
	}, logger)

	srv := api.NewServer(cfg.ListenAddr, db, pipeline, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
