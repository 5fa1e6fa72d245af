package store

import (
	"context"
	"errors"

	"github.com/graymont/easel/internal/model"
)

// ErrNotFound is returned when a job is not found.
var ErrNotFound = errors.New("job not found")

// JobStats holds aggregate job-run statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for job runs and their artifact
// deliveries.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	ListJobs(ctx context.Context, limit, offset int) ([]*model.Job, int, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	FinishJob(ctx context.Context, j *model.Job) error
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertDeliveries(ctx context.Context, jobID string, results []model.DeliveryResult) error
	GetDeliveries(ctx context.Context, jobID string) ([]model.Delivery, error)
	Close() error
}
