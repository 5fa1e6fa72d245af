package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/graymont/easel/internal/engine"
	"github.com/graymont/easel/internal/model"
	"github.com/graymont/easel/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 32 << 20 // 32 MB: jobs may inline base64 input images
)

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// jobDetailResponse is the JSON response for GET /v1/jobs/{id}.
type jobDetailResponse struct {
	Job        *model.Job       `json:"job"`
	Deliveries []model.Delivery `json:"deliveries"`
}

// timeoutResponse reports a poll-budget exhaustion together with the
// artifacts that were already delivered before the budget ran out.
type timeoutResponse struct {
	Error         string                 `json:"error"`
	Result        []model.DeliveryResult `json:"result,omitempty"`
	RefreshWorker bool                   `json:"refresh_worker"`
}

// handleRunJob runs one job synchronously: the body is the raw job payload,
// the response is the job result or a job-level error. The generated job id
// is exposed in the X-Job-Id header so the body stays exactly the result
// schema.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	jobID := model.NewID()
	w.Header().Set("X-Job-Id", jobID)

	in, verr := engine.ValidateInput(raw)

	now := time.Now().UTC()
	job := &model.Job{
		ID:        jobID,
		Status:    model.StatusPending,
		CreatedAt: now,
	}
	if verr == nil {
		job.InferenceJobID = in.InferenceJobID
		job.WorkflowCount = len(in.Workflows)
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.logger.Error("create job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if verr != nil {
		s.finishJob(job, model.StatusFailed, verr.Error(), nil, nil)
		s.writeError(w, http.StatusBadRequest, verr.Error())
		return
	}

	if err := s.store.UpdateJobStatus(r.Context(), jobID, model.StatusRunning); err != nil {
		s.logger.Error("transition job to running", "job_id", jobID, "error", err)
	}

	start := time.Now()
	result, runErr := s.pipeline.Run(r.Context(), jobID, raw)

	if runErr == nil {
		s.finishJob(job, model.StatusCompleted, "", &start, result)
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	s.finishJob(job, model.StatusFailed, runErr.Error(), &start, result)

	switch {
	case engine.IsValidationError(runErr):
		s.writeError(w, http.StatusBadRequest, runErr.Error())
	case errors.Is(runErr, engine.ErrEngineUnavailable):
		s.writeError(w, http.StatusBadGateway, runErr.Error())
	case errors.Is(runErr, engine.ErrPollTimeout):
		resp := timeoutResponse{Error: runErr.Error()}
		if result != nil {
			resp.Result = result.Result
			resp.RefreshWorker = result.RefreshWorker
		}
		s.writeJSON(w, http.StatusGatewayTimeout, resp)
	default:
		s.writeError(w, http.StatusBadGateway, runErr.Error())
	}
}

// finishJob persists a job's terminal state and its delivery records. Runs
// against a background-derived context so a canceled request context cannot
// lose the record.
func (s *Server) finishJob(job *model.Job, status, errMsg string, startedAt *time.Time, result *model.JobResult) {
	ctx, cancel := contextWithStoreTimeout()
	defer cancel()

	now := time.Now().UTC()
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = &now
	if startedAt != nil {
		started := startedAt.UTC()
		job.StartedAt = &started
		durationMS := int(time.Since(*startedAt).Milliseconds())
		job.DurationMS = &durationMS
	}
	if result != nil {
		job.RefreshWorker = result.RefreshWorker
	}

	if err := s.store.FinishJob(ctx, job); err != nil {
		s.logger.Error("finish job", "job_id", job.ID, "error", err)
	}
	if result != nil && len(result.Result) > 0 {
		if err := s.store.InsertDeliveries(ctx, job.ID, result.Result); err != nil {
			s.logger.Error("record deliveries", "job_id", job.ID, "error", err)
		}
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	deliveries, err := s.store.GetDeliveries(r.Context(), id)
	if err != nil {
		s.logger.Error("get deliveries", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get deliveries")
		return
	}
	if deliveries == nil {
		deliveries = []model.Delivery{}
	}

	s.writeJSON(w, http.StatusOK, jobDetailResponse{Job: job, Deliveries: deliveries})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.store.ListJobs(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// contextWithStoreTimeout bounds post-run bookkeeping writes.
func contextWithStoreTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
