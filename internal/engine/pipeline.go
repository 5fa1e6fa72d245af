package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/graymont/easel/internal/comfy"
	"github.com/graymont/easel/internal/model"
	"github.com/graymont/easel/internal/storage"
	"github.com/graymont/easel/internal/webhook"
)

// Config holds the pipeline's retry budgets and output location.
type Config struct {
	PollInterval     time.Duration
	PollMaxAttempts  int
	ProbeInterval    time.Duration
	ProbeMaxAttempts int
	OutputRoot       string
	RefreshWorker    bool
}

// Pipeline drives one job through the engine: validate, probe, stage inputs,
// submit workflows, poll for completion, and deliver each artifact as its
// workflow finishes.
type Pipeline struct {
	comfy    *comfy.Client
	uploader storage.Uploader
	notifier *webhook.Notifier
	cfg      Config
	logger   *slog.Logger

	// sleep is injectable so tests drive the retry loops without real delays.
	sleep func(time.Duration)
}

// New creates a Pipeline. uploader may be nil, in which case artifacts are
// delivered inline as base64. notifier may be nil to disable webhooks.
func New(client *comfy.Client, uploader storage.Uploader, notifier *webhook.Notifier, cfg Config, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		comfy:    client,
		uploader: uploader,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// SetSleep replaces the inter-attempt sleep function. Intended for tests.
func (p *Pipeline) SetSleep(fn func(time.Duration)) {
	p.sleep = fn
}

// Ready performs a single engine readiness probe.
func (p *Pipeline) Ready(ctx context.Context) bool {
	return p.comfy.Ready(ctx)
}

// Run executes one job end to end. Job-level failures return an error and a
// nil result, except for a poll timeout, which returns the partial result
// list alongside ErrPollTimeout: artifacts delivered before the budget ran
// out have already been uploaded and notified, so their URLs are reported
// rather than discarded.
func (p *Pipeline) Run(ctx context.Context, jobID string, raw json.RawMessage) (*model.JobResult, error) {
	in, err := ValidateInput(raw)
	if err != nil {
		p.logger.Error("input validation failed", "job_id", jobID, "error", err)
		jobsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	p.logger.Info("input validation succeeded", "job_id", jobID, "workflows", len(in.Workflows), "images", len(in.Images))

	if !p.comfy.WaitForReady(ctx, p.cfg.ProbeMaxAttempts, p.cfg.ProbeInterval, p.sleep) {
		jobsTotal.WithLabelValues("failed").Inc()
		return nil, ErrEngineUnavailable
	}

	if err := p.stageImages(ctx, in.Images); err != nil {
		p.logger.Error("image staging failed", "job_id", jobID, "error", err)
		jobsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	handles, err := p.submitAll(ctx, in.Workflows)
	if err != nil {
		p.logger.Error("workflow submission failed", "job_id", jobID, "error", err)
		jobsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("error queuing workflows: %w", err)
	}

	results, err := p.pollAndDeliver(ctx, jobID, in.InferenceJobID, handles)
	if err != nil {
		jobsTotal.WithLabelValues("failed").Inc()
		return &model.JobResult{Result: results, RefreshWorker: p.cfg.RefreshWorker}, err
	}

	jobsTotal.WithLabelValues("completed").Inc()
	p.logger.Info("job completed", "job_id", jobID, "artifacts", len(results))
	return &model.JobResult{Result: results, RefreshWorker: p.cfg.RefreshWorker}, nil
}

// stageImages pushes input images to the engine before submission. Failures
// are collected per image, not short-circuited; any failure aborts the job
// afterwards. Already-staged images are left in place — staging overwrites by
// name, so a retry reconciles them.
func (p *Pipeline) stageImages(ctx context.Context, images []model.InputImage) error {
	if len(images) == 0 {
		p.logger.Info("no images to upload")
		return nil
	}

	var details []string
	for _, img := range images {
		content, err := base64.StdEncoding.DecodeString(img.Image)
		if err != nil {
			details = append(details, fmt.Sprintf("error decoding %s: %v", img.Name, err))
			continue
		}
		if err := p.comfy.UploadImage(ctx, img.Name, content); err != nil {
			details = append(details, fmt.Sprintf("error uploading %s: %v", img.Name, err))
			continue
		}
		p.logger.Info("uploaded input image", "image_name", img.Name)
	}

	if len(details) > 0 {
		return &StagingError{Details: details}
	}
	return nil
}

// submitAll queues every workflow in document order, one handle per
// workflow. The first failure aborts; handles already queued are not
// cancelled — the engine will still run them, but this job never polls them.
func (p *Pipeline) submitAll(ctx context.Context, workflows []model.WorkflowSpec) ([]model.SubmissionHandle, error) {
	handles := make([]model.SubmissionHandle, 0, len(workflows))
	for i, spec := range workflows {
		promptID, err := p.comfy.SubmitWorkflow(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("workflow %d: %w", i, err)
		}
		handles = append(handles, model.SubmissionHandle{WorkflowIndex: i, PromptID: promptID})
		p.logger.Info("queued workflow", "workflow_index", i, "prompt_id", promptID)
	}
	return handles, nil
}

// pollAndDeliver repeatedly queries the engine for every still-pending handle
// and delivers a workflow's artifacts the moment it completes. History
// queries within one pass run concurrently; completion marking and result
// processing are serialized so each handle is processed exactly once. The
// loop fails with ErrPollTimeout once the attempt budget is exhausted with
// handles still pending; results delivered up to that point are returned.
func (p *Pipeline) pollAndDeliver(ctx context.Context, jobID, inferenceJobID string, handles []model.SubmissionHandle) ([]model.DeliveryResult, error) {
	completed := make(map[int]bool, len(handles))
	var results []model.DeliveryResult

	for attempt := 0; attempt < p.cfg.PollMaxAttempts; attempt++ {
		type polled struct {
			outputs comfy.Outputs
			err     error
		}
		pass := make([]polled, len(handles))

		var wg sync.WaitGroup
		for i, h := range handles {
			if completed[h.WorkflowIndex] {
				continue
			}
			wg.Add(1)
			go func(i int, promptID string) {
				defer wg.Done()
				out, err := p.comfy.History(ctx, promptID)
				pass[i] = polled{outputs: out, err: err}
			}(i, h.PromptID)
		}
		wg.Wait()
		pollIterations.Inc()

		for i, h := range handles {
			if completed[h.WorkflowIndex] {
				continue
			}
			if pass[i].err != nil {
				return results, fmt.Errorf("error waiting for image generation: %w", pass[i].err)
			}
			if pass[i].outputs == nil {
				continue
			}
			// Mark complete before processing so the handle is never
			// polled or delivered twice.
			completed[h.WorkflowIndex] = true
			p.logger.Info("workflow completed, processing results", "job_id", jobID, "prompt_id", h.PromptID)
			results = append(results, p.processOutputs(ctx, pass[i].outputs, jobID, inferenceJobID)...)
		}

		if len(completed) == len(handles) {
			return results, nil
		}
		p.sleep(p.cfg.PollInterval)
	}

	p.logger.Error("poll budget exhausted", "job_id", jobID, "completed", len(completed), "total", len(handles))
	return results, ErrPollTimeout
}
