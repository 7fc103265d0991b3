package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ledgergate/ledgergate/internal/platform/db"
)

// Repository encapsulates storage access for the gateway.
type Repository interface {
	// WithTx runs fn inside one all-or-nothing transaction.
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// RecordFailure durably retains a failed idempotency record and a
	// failure audit record in its own unit of work, after the main
	// transaction has rolled back. It never downgrades a completed record.
	RecordFailure(ctx context.Context, opType, key, reason string, audit AuditRecord) error
	GetEntry(ctx context.Context, id int64) (Entry, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error)
}

// TxRepository exposes the operations available within a transaction.
type TxRepository interface {
	ReserveIdempotency(ctx context.Context, opType, key string) (Reservation, error)
	InsertEntry(ctx context.Context, in CreateEntryInput, total decimal.Decimal) (Entry, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) ([]Line, error)
	GetEntryWithLines(ctx context.Context, entryID int64) (Entry, error)
	CompleteIdempotency(ctx context.Context, opType, key string, result json.RawMessage) error
	InsertAudit(ctx context.Context, rec AuditRecord) error
	SourceExists(ctx context.Context, table string, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the pgx-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *repository) RecordFailure(ctx context.Context, opType, key, reason string, audit AuditRecord) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO ledger_idempotency (operation_type, idempotency_key, status, last_error, reserved_at, failed_at)
VALUES ($1, $2, 'failed', $3, now(), now())
ON CONFLICT (operation_type, idempotency_key)
DO UPDATE SET status = 'failed', last_error = EXCLUDED.last_error, failed_at = now()
WHERE ledger_idempotency.status <> 'completed'`, opType, key, reason)
		if err != nil {
			return err
		}
		return insertAudit(ctx, tx, audit)
	})
}

func (r *repository) GetEntry(ctx context.Context, id int64) (Entry, error) {
	return getEntryWithLines(ctx, r.db, id)
}

func (r *repository) ListEntries(ctx context.Context, filter EntryFilter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if filter.Actor != "" {
		args = append(args, filter.Actor)
		where = append(where, "created_by = $"+strconv.Itoa(len(args)))
	}
	if filter.SourceModule != "" {
		args = append(args, filter.SourceModule)
		where = append(where, "source_module = $"+strconv.Itoa(len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, "created_at >= $"+strconv.Itoa(len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, "created_at < $"+strconv.Itoa(len(args)))
	}
	query := `SELECT id, number, source_module, source_kind, source_id, idempotency_key, status, total::text, description, created_by, created_at FROM ledger_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY number DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += " LIMIT $" + strconv.Itoa(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += " OFFSET $" + strconv.Itoa(len(args))
	}
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachLines(ctx, r.db, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// attachLines batch-loads the lines for a page of entries so list results
// carry the same shape as GetEntry.
func attachLines(ctx context.Context, q queryer, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(entries))
	byID := make(map[int64]*Entry, len(entries))
	for i := range entries {
		ids = append(ids, entries[i].ID)
		byID[entries[i].ID] = &entries[i]
	}
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_code, debit::text, credit::text, description
FROM ledger_lines WHERE entry_id = ANY($1) ORDER BY entry_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line          Line
			debit, credit string
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountCode, &debit, &credit, &line.Description); err != nil {
			return err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return err
		}
		if entry, ok := byID[line.EntryID]; ok {
			entry.Lines = append(entry.Lines, line)
		}
	}
	return rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) ReserveIdempotency(ctx context.Context, opType, key string) (Reservation, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_idempotency (operation_type, idempotency_key, status, reserved_at)
VALUES ($1, $2, 'pending', now())
ON CONFLICT (operation_type, idempotency_key)
DO UPDATE SET status = 'pending', reserved_at = now(), last_error = NULL, failed_at = NULL
WHERE ledger_idempotency.status = 'failed'
RETURNING id`, opType, key).Scan(&id)
	if err == nil {
		return Reservation{}, nil
	}
	// A concurrent transaction holding the (operation_type, idempotency_key)
	// slot surfaces as a serialization failure or unique violation at
	// RepeatableRead, never as ErrNoRows.
	if isConcurrencyConflict(err) {
		return Reservation{}, ErrConcurrentOperation
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, err
	}
	// The key exists and is not failed: either a completed record whose
	// result we replay, or an in-flight reservation.
	var (
		status IdempotencyStatus
		result json.RawMessage
	)
	err = r.tx.QueryRow(ctx, `SELECT status, result FROM ledger_idempotency WHERE operation_type = $1 AND idempotency_key = $2`, opType, key).
		Scan(&status, &result)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isConcurrencyConflict(err) {
			return Reservation{}, ErrConcurrentOperation
		}
		return Reservation{}, err
	}
	if status == IdempotencyCompleted {
		return Reservation{AlreadyCompleted: true, Result: result}, nil
	}
	return Reservation{}, ErrConcurrentOperation
}

func (r *txRepository) InsertEntry(ctx context.Context, in CreateEntryInput, total decimal.Decimal) (Entry, error) {
	entry := Entry{
		SourceModule:   in.SourceModule,
		SourceKind:     in.SourceKind,
		SourceID:       in.SourceID,
		IdempotencyKey: in.IdempotencyKey,
		Status:         EntryStatusPosted,
		Total:          total,
		Description:    in.Description,
		CreatedBy:      in.Actor,
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (source_module, source_kind, source_id, idempotency_key, status, total, description, created_by)
VALUES ($1, $2, $3, $4, 'POSTED', $5, $6, $7)
RETURNING id, number, created_at`, in.SourceModule, in.SourceKind, in.SourceID, in.IdempotencyKey, total.StringFixed(AmountPlaces), in.Description, in.Actor).
		Scan(&entry.ID, &entry.Number, &entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, in := range lines {
		line := Line{
			EntryID:     entryID,
			AccountCode: in.AccountCode,
			Debit:       in.Debit,
			Credit:      in.Credit,
			Description: in.Description,
		}
		err := r.tx.QueryRow(ctx, `INSERT INTO ledger_lines (entry_id, account_code, debit, credit, description)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, entryID, in.AccountCode, in.Debit.StringFixed(AmountPlaces), in.Credit.StringFixed(AmountPlaces), in.Description).
			Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) GetEntryWithLines(ctx context.Context, entryID int64) (Entry, error) {
	return getEntryWithLines(ctx, r.tx, entryID)
}

func (r *txRepository) CompleteIdempotency(ctx context.Context, opType, key string, result json.RawMessage) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_idempotency SET status = 'completed', result = $3, completed_at = now()
WHERE operation_type = $1 AND idempotency_key = $2 AND status = 'pending'`, opType, key, result)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("ledger: no pending reservation for (%s, %s)", opType, key)
	}
	return nil
}

func (r *txRepository) InsertAudit(ctx context.Context, rec AuditRecord) error {
	return insertAudit(ctx, r.tx, rec)
}

func (r *txRepository) SourceExists(ctx context.Context, table string, id int64) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, pgx.Identifier{table}.Sanitize())
	if err := r.tx.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// isConcurrencyConflict reports whether err is Postgres signalling that a
// concurrent transaction owns the contested row: serialization failure,
// deadlock, or the unique index itself.
func isConcurrencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func getEntryWithLines(ctx context.Context, q queryer, entryID int64) (Entry, error) {
	row := q.QueryRow(ctx, `SELECT id, number, source_module, source_kind, source_id, idempotency_key, status, total::text, description, created_by, created_at
FROM ledger_entries WHERE id = $1`, entryID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	rows, err := q.Query(ctx, `SELECT id, entry_id, account_code, debit::text, credit::text, description
FROM ledger_lines WHERE entry_id = $1 ORDER BY id ASC`, entryID)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line          Line
			debit, credit string
		)
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountCode, &debit, &credit, &line.Description); err != nil {
			return Entry{}, err
		}
		if line.Debit, err = decimal.NewFromString(debit); err != nil {
			return Entry{}, err
		}
		if line.Credit, err = decimal.NewFromString(credit); err != nil {
			return Entry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		entry Entry
		total string
	)
	err := row.Scan(&entry.ID, &entry.Number, &entry.SourceModule, &entry.SourceKind, &entry.SourceID, &entry.IdempotencyKey, &entry.Status, &total, &entry.Description, &entry.CreatedBy, &entry.CreatedAt)
	if err != nil {
		return Entry{}, err
	}
	if entry.Total, err = decimal.NewFromString(total); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, rec AuditRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO audit_records (entity, entity_id, action, actor, source_service, before, after, context, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, now()))`,
		rec.Entity, rec.EntityID, rec.Action, rec.Actor, rec.SourceService, nullJSON(rec.Before), nullJSON(rec.After), contextJSON, nullTime(rec.OccurredAt))
	return err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
