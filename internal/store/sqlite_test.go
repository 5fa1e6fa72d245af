package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graymont/easel/internal/model"
	"github.com/graymont/easel/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeJob() *model.Job {
	return &model.Job{
		ID:             model.NewID(),
		Status:         model.StatusPending,
		InferenceJobID: "inf-1",
		WorkflowCount:  2,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := makeJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("id = %q, want %q", got.ID, j.ID)
	}
	if got.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.InferenceJobID != "inf-1" {
		t.Errorf("inference_job_id = %q, want inf-1", got.InferenceJobID)
	}
	if got.WorkflowCount != 2 {
		t.Errorf("workflow_count = %d, want 2", got.WorkflowCount)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetJob(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := makeJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusRunning); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusRunning {
		t.Errorf("status = %q, want running", got.Status)
	}

	if err := s.UpdateJobStatus(ctx, "missing", model.StatusRunning); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFinishJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := makeJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	started := time.Now().UTC().Add(-2 * time.Second)
	finished := time.Now().UTC()
	duration := 2000
	j.Status = model.StatusFailed
	j.Error = "max retries reached while waiting for image generation"
	j.RefreshWorker = true
	j.StartedAt = &started
	j.FinishedAt = &finished
	j.DurationMS = &duration

	if err := s.FinishJob(ctx, j); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.Error == "" {
		t.Error("error message not persisted")
	}
	if !got.RefreshWorker {
		t.Error("refresh_worker not persisted")
	}
	if got.DurationMS == nil || *got.DurationMS != 2000 {
		t.Errorf("duration_ms = %v, want 2000", got.DurationMS)
	}
	if got.StartedAt == nil || got.FinishedAt == nil {
		t.Error("timestamps not persisted")
	}
}

func TestListJobsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		j := makeJob()
		j.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob[%d]: %v", i, err)
		}
	}

	jobs, total, err := s.ListJobs(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(jobs) != 2 {
		t.Errorf("page size = %d, want 2", len(jobs))
	}

	jobs, _, err = s.ListJobs(ctx, 10, 4)
	if err != nil {
		t.Fatalf("ListJobs offset: %v", err)
	}
	if len(jobs) != 1 {
		t.Errorf("offset page size = %d, want 1", len(jobs))
	}
}

func TestDeliveriesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	j := makeJob()
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	results := []model.DeliveryResult{
		{Status: model.DeliverySuccess, Message: "https://bucket/a.png"},
		{Status: model.DeliveryError, Message: "the image does not exist in the specified output folder: /out/b.png"},
		{Status: model.DeliverySuccess, Message: "https://bucket/c.png"},
	}
	if err := s.InsertDeliveries(ctx, j.ID, results); err != nil {
		t.Fatalf("InsertDeliveries: %v", err)
	}

	got, err := s.GetDeliveries(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetDeliveries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(got))
	}
	for i, d := range got {
		if d.Seq != i {
			t.Errorf("delivery[%d].seq = %d, want %d", i, d.Seq, i)
		}
		if d.Status != results[i].Status || d.Message != results[i].Message {
			t.Errorf("delivery[%d] = %+v, want %+v", i, d, results[i])
		}
	}
}

func TestInsertDeliveriesEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.InsertDeliveries(context.Background(), "any", nil); err != nil {
		t.Errorf("InsertDeliveries(nil): %v", err)
	}
}

func TestGetJobStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, status := range []string{model.StatusCompleted, model.StatusCompleted, model.StatusFailed} {
		j := makeJob()
		j.Status = status
		duration := 100
		j.DurationMS = &duration
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	stats, err := s.GetJobStats(ctx)
	if err != nil {
		t.Fatalf("GetJobStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 {
		t.Errorf("completed = %d, want 2", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByStatus[model.StatusFailed] != 1 {
		t.Errorf("failed = %d, want 1", stats.CountByStatus[model.StatusFailed])
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("avg duration = %v, want 100", stats.AvgDurationMS)
	}
}
