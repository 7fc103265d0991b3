package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metrics receives gateway outcome counters. Implemented by the
// observability package; a nil Metrics disables instrumentation.
type Metrics interface {
	EntryPosted()
	EntryRejected(reason string)
	ConsistencyFailure()
}

// Service is the ledger transaction orchestrator. It composes source
// validation, line validation, idempotency reservation, persistence and audit
// into one atomic unit of work.
type Service struct {
	repo      Repository
	allowlist *SourceAllowlist
	cache     *ResultCache
	metrics   Metrics
	logger    *slog.Logger
	now       func() time.Time
}

var _ Gateway = (*Service)(nil)

// NewService constructs the orchestrator.
func NewService(repo Repository, allowlist *SourceAllowlist) *Service {
	return &Service{
		repo:      repo,
		allowlist: allowlist,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithCache attaches the non-authoritative result cache.
func (s *Service) WithCache(cache *ResultCache) *Service {
	s.cache = cache
	return s
}

// WithMetrics attaches outcome counters.
func (s *Service) WithMetrics(m Metrics) *Service {
	s.metrics = m
	return s
}

// WithLogger replaces the default logger.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CreateEntry runs the posting state machine: reserve idempotency, validate
// source, validate lines, persist entry and lines, re-check the persisted
// rows, complete the reservation, audit, commit. Any failure rolls the whole
// unit back; a failed idempotency record and a failure audit record are then
// retained in a separate diagnostic unit.
func (s *Service) CreateEntry(ctx context.Context, in CreateEntryInput) (Entry, error) {
	if in.IdempotencyKey == "" {
		return Entry{}, &RequestValidationError{Field: "idempotency_key", Reason: "is required"}
	}
	if in.Actor == "" {
		return Entry{}, &RequestValidationError{Field: "actor", Reason: "is required"}
	}
	if cached, ok := s.cache.Get(ctx, OpCreateEntry, in.IdempotencyKey); ok {
		return cached, nil
	}

	// One correlation id per posting attempt ties the audit record to logs.
	attemptID := uuid.NewString()

	var (
		entry    Entry
		replayed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.ReserveIdempotency(ctx, OpCreateEntry, in.IdempotencyKey)
		if err != nil {
			return err
		}
		if res.AlreadyCompleted {
			if err := json.Unmarshal(res.Result, &entry); err != nil {
				return fmt.Errorf("ledger: decode stored result: %w", err)
			}
			replayed = true
			return nil
		}

		validator := NewSourceValidator(s.allowlist, tx)
		if err := validator.Validate(ctx, in.SourceModule, in.SourceKind, in.SourceID); err != nil {
			return err
		}

		if len(in.Lines) == 0 {
			return ErrNoLines
		}
		if err := ValidateLines(in.Lines); err != nil {
			return err
		}
		debit, credit := Totals(in.Lines)
		if !debit.Equal(credit) {
			return &UnbalancedEntryError{TotalDebit: debit, TotalCredit: credit}
		}

		inserted, err := tx.InsertEntry(ctx, in, debit)
		if err != nil {
			return err
		}
		if inserted.Lines, err = tx.InsertLines(ctx, inserted.ID, in.Lines); err != nil {
			return err
		}

		if err := s.recheck(ctx, tx, inserted, debit); err != nil {
			return err
		}

		snapshot, err := json.Marshal(inserted)
		if err != nil {
			return err
		}
		if err := tx.CompleteIdempotency(ctx, OpCreateEntry, in.IdempotencyKey, snapshot); err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, AuditRecord{
			Entity:        "ledger_entry",
			EntityID:      fmt.Sprintf("%d", inserted.ID),
			Action:        AuditActionEntryPosted,
			Actor:         in.Actor,
			SourceService: in.SourceModule,
			After:         snapshot,
			Context: map[string]any{
				"attempt_id":      attemptID,
				"idempotency_key": in.IdempotencyKey,
				"total":           debit.StringFixed(AmountPlaces),
				"source_kind":     in.SourceKind,
				"source_id":       in.SourceID,
			},
			OccurredAt: s.now(),
		}); err != nil {
			return err
		}
		entry = inserted
		return nil
	})
	if err != nil {
		return Entry{}, s.fail(ctx, in, attemptID, err)
	}
	if replayed {
		return entry, nil
	}
	if s.cache != nil {
		if cacheErr := s.cache.Put(ctx, OpCreateEntry, in.IdempotencyKey, entry); cacheErr != nil {
			s.logger.Warn("result cache write failed", slog.Any("error", cacheErr))
		}
	}
	if s.metrics != nil {
		s.metrics.EntryPosted()
	}
	return entry, nil
}

// recheck is the defense-in-depth assertion: it re-reads the just-written
// rows and verifies they still satisfy the double-entry invariant.
func (s *Service) recheck(ctx context.Context, tx TxRepository, inserted Entry, wantTotal decimal.Decimal) error {
	persisted, err := tx.GetEntryWithLines(ctx, inserted.ID)
	if err != nil {
		return &InternalConsistencyError{EntryID: inserted.ID, Detail: fmt.Sprintf("re-read failed: %v", err)}
	}
	debit, credit := Totals(linesToInputs(persisted.Lines))
	if !debit.Equal(credit) {
		return &InternalConsistencyError{EntryID: inserted.ID, Detail: fmt.Sprintf("persisted lines unbalanced: debit %s credit %s", debit, credit)}
	}
	if !debit.Equal(wantTotal) {
		return &InternalConsistencyError{EntryID: inserted.ID, Detail: fmt.Sprintf("persisted total %s differs from requested %s", debit, wantTotal)}
	}
	if len(persisted.Lines) != len(inserted.Lines) {
		return &InternalConsistencyError{EntryID: inserted.ID, Detail: "persisted line count differs from request"}
	}
	return nil
}

// fail classifies the rollback cause, retains the diagnostic artifacts and
// returns the typed error to the caller.
func (s *Service) fail(ctx context.Context, in CreateEntryInput, attemptID string, cause error) error {
	reason := classify(cause)
	if s.metrics != nil {
		s.metrics.EntryRejected(reason)
	}
	var consistency *InternalConsistencyError
	if errors.As(cause, &consistency) {
		if s.metrics != nil {
			s.metrics.ConsistencyFailure()
		}
		s.logger.Error("ledger internal consistency check failed",
			slog.Int64("entry_id", consistency.EntryID),
			slog.String("detail", consistency.Detail),
			slog.String("idempotency_key", in.IdempotencyKey))
	}
	// A concurrency conflict must not mark the winner's in-flight
	// reservation as failed; the caller simply retries.
	if errors.Is(cause, ErrConcurrentOperation) {
		return cause
	}
	audit := AuditRecord{
		Entity:        "ledger_entry",
		EntityID:      in.IdempotencyKey,
		Action:        AuditActionEntryRejected,
		Actor:         in.Actor,
		SourceService: in.SourceModule,
		Context: map[string]any{
			"attempt_id":      attemptID,
			"idempotency_key": in.IdempotencyKey,
			"reason":          reason,
			"error":           cause.Error(),
			"source_kind":     in.SourceKind,
			"source_id":       in.SourceID,
		},
		OccurredAt: s.now(),
	}
	if recErr := s.repo.RecordFailure(ctx, OpCreateEntry, in.IdempotencyKey, cause.Error(), audit); recErr != nil {
		s.logger.Error("recording posting failure", slog.Any("error", recErr), slog.String("idempotency_key", in.IdempotencyKey))
	}
	return cause
}

func classify(err error) string {
	var (
		source      *SourceLinkageError
		line        *LineValidationError
		unbalanced  *UnbalancedEntryError
		consistency *InternalConsistencyError
	)
	switch {
	case errors.As(err, &source):
		return "source_linkage"
	case errors.As(err, &line):
		return "line_validation"
	case errors.As(err, &unbalanced), errors.Is(err, ErrNoLines):
		return "unbalanced"
	case errors.As(err, &consistency):
		return "internal_consistency"
	case errors.Is(err, ErrConcurrentOperation):
		return "concurrent"
	default:
		return "storage"
	}
}

// GetEntry returns one committed entry.
func (s *Service) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return s.repo.GetEntry(ctx, id)
}

// ListEntries returns committed entries matching the filter.
func (s *Service) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, filter)
}

func linesToInputs(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{AccountCode: l.AccountCode, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
	}
	return out
}
