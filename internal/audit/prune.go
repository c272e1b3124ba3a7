package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/agoracloud/agora/internal/jobs"
)

// TaskPrune is the asynq task type for audit retention.
const TaskPrune = "audit:prune"

// PrunePayload configures one retention run.
type PrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewPruneTask builds a retention task.
func NewPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(PrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPrune, data), nil
}

// PruneJob deletes entries older than the retention window.
type PruneJob struct {
	repo    Repository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
	now     func() time.Time
}

// NewPruneJob constructs a PruneJob.
func NewPruneJob(repo Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *PruneJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &PruneJob{repo: repo, logger: logger, metrics: metrics, now: time.Now}
}

// Handle processes TaskPrune tasks.
func (j *PruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload PrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RetentionDays <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track(TaskPrune)
	cutoff := j.now().UTC().AddDate(0, 0, -payload.RetentionDays)
	n, err := j.repo.Prune(ctx, cutoff)
	if err != nil {
		j.logger.Error("audit prune", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("audit prune", slog.Int64("deleted", n), slog.Time("cutoff", cutoff))
	return tracker.End(nil)
}
