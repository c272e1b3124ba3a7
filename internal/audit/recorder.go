package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Recorder persists entries off the request path. Failures are logged and
// never reach the client.
type Recorder struct {
	repo    Repository
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewRecorder constructs a Recorder.
func NewRecorder(repo Repository, logger *slog.Logger, timeout time.Duration) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Recorder{repo: repo, logger: logger, timeout: timeout, now: time.Now}
}

// Record stores e asynchronously. The write outlives the request context.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		if err := r.repo.Insert(writeCtx, e); err != nil {
			r.logger.Error("audit record",
				slog.String("path", e.Path),
				slog.String("user_id", e.UserID),
				slog.Any("error", err),
			)
		}
	}()
}

// Wait blocks until in-flight writes finish.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
