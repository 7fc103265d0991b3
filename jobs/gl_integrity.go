package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/ledgergate/ledgergate/internal/jobs"
)

// IntegrityScanJob re-verifies committed entries against the double-entry
// invariant. Violations indicate storage-level corruption or a gateway bug;
// they are reported, never repaired in place.
type IntegrityScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewIntegrityScanJob initialises the integrity scan handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the integrity scan.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("integrity scan: handler not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.WindowHours <= 0 {
		payload.WindowHours = 24
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrityScan)
	err := tracker.End(j.scan(ctx, payload))
	return err
}

func (j *IntegrityScanJob) scan(ctx context.Context, payload IntegrityScanPayload) error {
	cutoff := j.clock().Add(-time.Duration(payload.WindowHours) * time.Hour)
	rows, err := j.Pool.Query(ctx, `SELECT e.id, e.total::text, COALESCE(SUM(l.debit), 0)::text, COALESCE(SUM(l.credit), 0)::text
FROM ledger_entries e
LEFT JOIN ledger_lines l ON l.entry_id = e.id
WHERE e.created_at >= $1
GROUP BY e.id, e.total
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0)
    OR COALESCE(SUM(l.debit), 0) <> e.total`, cutoff)
	if err != nil {
		return fmt.Errorf("integrity scan: query: %w", err)
	}
	defer rows.Close()
	violations := 0
	for rows.Next() {
		var (
			entryID              int64
			total, debit, credit string
		)
		if err := rows.Scan(&entryID, &total, &debit, &credit); err != nil {
			return err
		}
		violations++
		if j.Logger != nil {
			j.Logger.Error("ledger integrity violation",
				slog.Int64("entry_id", entryID),
				slog.String("total", total),
				slog.String("debit", debit),
				slog.String("credit", credit))
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	j.Metrics.AddViolations(violations)
	if violations > 0 {
		return fmt.Errorf("integrity scan: %d entries violate the double-entry invariant", violations)
	}
	if j.Logger != nil {
		j.Logger.Info("ledger integrity scan clean", slog.Int("window_hours", payload.WindowHours))
	}
	return nil
}
