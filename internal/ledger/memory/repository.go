// Package memory provides a deterministic in-memory Repository honoring the
// same contract as the pgx implementation, for unit tests and local tooling.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/ledger"
)

// Repository keeps all gateway state in process memory. Reservations become
// visible to concurrent callers as soon as they are taken, mirroring the
// unique-index behavior of the storage engine; entry, line and audit writes
// stay staged until commit.
type Repository struct {
	mu          sync.Mutex
	entries     map[int64]ledger.Entry
	idem        map[string]ledger.IdempotencyRecord
	audits      []ledger.AuditRecord
	sources     map[string]map[int64]bool
	nextEntryID int64
	nextNumber  int64
	nextLineID  int64
	nextIdemID  int64
	nextAuditID int64
	now         func() time.Time
}

var _ ledger.Repository = (*Repository)(nil)

// NewRepository constructs an empty in-memory repository.
func NewRepository() *Repository {
	return &Repository{
		entries: make(map[int64]ledger.Entry),
		idem:    make(map[string]ledger.IdempotencyRecord),
		sources: make(map[string]map[int64]bool),
		now:     time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (r *Repository) WithNow(now func() time.Time) *Repository {
	if now != nil {
		r.now = now
	}
	return r
}

// AddSource registers originating records so existence probes succeed.
func (r *Repository) AddSource(table string, ids ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sources[table] == nil {
		r.sources[table] = make(map[int64]bool)
	}
	for _, id := range ids {
		r.sources[table][id] = true
	}
}

func idemKey(opType, key string) string {
	return opType + "\x00" + key
}

func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	tx := &txRepository{repo: r}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	tx.commit()
	return nil
}

func (r *Repository) RecordFailure(ctx context.Context, opType, key, reason string, audit ledger.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := idemKey(opType, key)
	rec, ok := r.idem[k]
	if !ok {
		r.nextIdemID++
		rec = ledger.IdempotencyRecord{ID: r.nextIdemID, OperationType: opType, Key: key, ReservedAt: r.now()}
	}
	if rec.Status != ledger.IdempotencyCompleted {
		failedAt := r.now()
		rec.Status = ledger.IdempotencyFailed
		rec.LastError = reason
		rec.FailedAt = &failedAt
		r.idem[k] = rec
	}
	r.nextAuditID++
	audit.ID = r.nextAuditID
	if audit.OccurredAt.IsZero() {
		audit.OccurredAt = r.now()
	}
	r.audits = append(r.audits, audit)
	return nil
}

func (r *Repository) GetEntry(ctx context.Context, id int64) (ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (r *Repository) ListEntries(ctx context.Context, filter ledger.EntryFilter) ([]ledger.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ledger.Entry
	for _, entry := range r.entries {
		if filter.Actor != "" && entry.CreatedBy != filter.Actor {
			continue
		}
		if filter.SourceModule != "" && entry.SourceModule != filter.SourceModule {
			continue
		}
		if !filter.From.IsZero() && entry.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, cloneEntry(entry))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IdempotencyRecord exposes reservation state for assertions.
func (r *Repository) IdempotencyRecord(opType, key string) (ledger.IdempotencyRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.idem[idemKey(opType, key)]
	return rec, ok
}

// AuditRecords returns a copy of the trail for assertions.
func (r *Repository) AuditRecords() []ledger.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ledger.AuditRecord(nil), r.audits...)
}

// EntryCount reports the number of committed entries.
func (r *Repository) EntryCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

type txRepository struct {
	repo *Repository

	reservedKey     string
	tookReservation bool
	priorFailed     *ledger.IdempotencyRecord

	entry     *ledger.Entry
	completed *json.RawMessage
	audits    []ledger.AuditRecord
}

func (t *txRepository) ReserveIdempotency(ctx context.Context, opType, key string) (ledger.Reservation, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	k := idemKey(opType, key)
	rec, ok := t.repo.idem[k]
	if ok {
		switch rec.Status {
		case ledger.IdempotencyCompleted:
			return ledger.Reservation{AlreadyCompleted: true, Result: rec.Result}, nil
		case ledger.IdempotencyPending:
			return ledger.Reservation{}, ledger.ErrConcurrentOperation
		case ledger.IdempotencyFailed:
			prior := rec
			t.priorFailed = &prior
		}
	}
	if rec.ID == 0 {
		t.repo.nextIdemID++
		rec.ID = t.repo.nextIdemID
	}
	rec.OperationType = opType
	rec.Key = key
	rec.Status = ledger.IdempotencyPending
	rec.LastError = ""
	rec.FailedAt = nil
	rec.ReservedAt = t.repo.now()
	t.repo.idem[k] = rec
	t.reservedKey = k
	t.tookReservation = true
	return ledger.Reservation{}, nil
}

func (t *txRepository) InsertEntry(ctx context.Context, in ledger.CreateEntryInput, total decimal.Decimal) (ledger.Entry, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.nextEntryID++
	t.repo.nextNumber++
	entry := ledger.Entry{
		ID:             t.repo.nextEntryID,
		Number:         t.repo.nextNumber,
		SourceModule:   in.SourceModule,
		SourceKind:     in.SourceKind,
		SourceID:       in.SourceID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         ledger.EntryStatusPosted,
		Total:          total,
		Description:    in.Description,
		CreatedBy:      in.Actor,
		CreatedAt:      t.repo.now(),
	}
	t.entry = &entry
	return cloneEntry(entry), nil
}

func (t *txRepository) InsertLines(ctx context.Context, entryID int64, lines []ledger.LineInput) ([]ledger.Line, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.entry == nil || t.entry.ID != entryID {
		return nil, ledger.ErrEntryNotFound
	}
	out := make([]ledger.Line, 0, len(lines))
	for _, in := range lines {
		t.repo.nextLineID++
		line := ledger.Line{
			ID:          t.repo.nextLineID,
			EntryID:     entryID,
			AccountCode: in.AccountCode,
			Debit:       in.Debit,
			Credit:      in.Credit,
			Description: in.Description,
		}
		out = append(out, line)
	}
	t.entry.Lines = append([]ledger.Line(nil), out...)
	return out, nil
}

func (t *txRepository) GetEntryWithLines(ctx context.Context, entryID int64) (ledger.Entry, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.entry != nil && t.entry.ID == entryID {
		return cloneEntry(*t.entry), nil
	}
	entry, ok := t.repo.entries[entryID]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return cloneEntry(entry), nil
}

func (t *txRepository) CompleteIdempotency(ctx context.Context, opType, key string, result json.RawMessage) error {
	if !t.tookReservation || t.reservedKey != idemKey(opType, key) {
		return ledger.ErrConcurrentOperation
	}
	snapshot := append(json.RawMessage(nil), result...)
	t.completed = &snapshot
	return nil
}

func (t *txRepository) InsertAudit(ctx context.Context, rec ledger.AuditRecord) error {
	t.audits = append(t.audits, rec)
	return nil
}

func (t *txRepository) SourceExists(ctx context.Context, table string, id int64) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.sources[table][id], nil
}

func (t *txRepository) commit() {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if t.entry != nil {
		t.repo.entries[t.entry.ID] = cloneEntry(*t.entry)
	}
	if t.completed != nil && t.tookReservation {
		rec := t.repo.idem[t.reservedKey]
		completedAt := t.repo.now()
		rec.Status = ledger.IdempotencyCompleted
		rec.Result = *t.completed
		rec.CompletedAt = &completedAt
		t.repo.idem[t.reservedKey] = rec
	}
	for _, audit := range t.audits {
		t.repo.nextAuditID++
		audit.ID = t.repo.nextAuditID
		t.repo.audits = append(t.repo.audits, audit)
	}
}

// rollback undoes the eager reservation so no pending row survives a failed
// unit of work. A claimed failed record is restored as it was.
func (t *txRepository) rollback() {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	if !t.tookReservation {
		return
	}
	if t.priorFailed != nil {
		t.repo.idem[t.reservedKey] = *t.priorFailed
		return
	}
	delete(t.repo.idem, t.reservedKey)
}

func cloneEntry(entry ledger.Entry) ledger.Entry {
	out := entry
	out.Lines = append([]ledger.Line(nil), entry.Lines...)
	return out
}
