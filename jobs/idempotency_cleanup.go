package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/ledgergate/ledgergate/internal/jobs"
)

// IdempotencyCleanupJob purges failed idempotency records past retention.
// Completed records are never purged: they back the at-most-once guarantee.
type IdempotencyCleanupJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIdempotencyCleanupJob initialises the cleanup handler.
func NewIdempotencyCleanupJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	return &IdempotencyCleanupJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	var payload IdempotencyCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		payload.RetentionHours = 720
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	return tracker.End(j.cleanup(ctx, payload))
}

func (j *IdempotencyCleanupJob) cleanup(ctx context.Context, payload IdempotencyCleanupPayload) error {
	cutoff := j.clock().Add(-time.Duration(payload.RetentionHours) * time.Hour)
	cmd, err := j.Pool.Exec(ctx, `DELETE FROM ledger_idempotency WHERE status = 'failed' AND failed_at < $1`, cutoff)
	if err != nil {
		return err
	}
	if j.Logger != nil {
		j.Logger.Info("idempotency cleanup done",
			slog.Int64("purged", cmd.RowsAffected()),
			slog.Time("cutoff", cutoff))
	}
	return nil
}
