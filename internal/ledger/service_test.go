package ledger_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/ledger"
	"github.com/ledgergate/ledgergate/internal/ledger/memory"
	_ "github.com/ledgergate/ledgergate/internal/testing/guard"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newFixture(t *testing.T) (*ledger.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	repo.AddSource("fee_receipts", 1, 2, 3)
	repo.AddSource("payroll_runs", 10)
	allowlist, err := ledger.ParseSourceAllowlist("fees:FeeReceipt:fee_receipts,payroll:PayrollRun:payroll_runs")
	require.NoError(t, err)
	svc := ledger.NewService(repo, allowlist)
	return svc, repo
}

func feeInput(key string) ledger.CreateEntryInput {
	return ledger.CreateEntryInput{
		SourceModule:   "fees",
		SourceKind:     "FeeReceipt",
		SourceID:       1,
		IdempotencyKey: key,
		Actor:          "svc:fees",
		Description:    "term fee collection",
		Lines: []ledger.LineInput{
			{AccountCode: "1001", Debit: dec("100.00"), Description: "cash"},
			{AccountCode: "2001", Credit: dec("100.00"), Description: "fee income"},
		},
	}
}

func TestCreateEntrySuccess(t *testing.T) {
	svc, repo := newFixture(t)
	entry, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-001"))
	require.NoError(t, err)
	require.NotZero(t, entry.ID)
	require.Equal(t, ledger.EntryStatusPosted, entry.Status)
	require.True(t, entry.Total.Equal(dec("100.00")))
	require.Len(t, entry.Lines, 2)

	require.Equal(t, 1, repo.EntryCount())

	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "fee-2024-001")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyCompleted, rec.Status)
	require.NotEmpty(t, rec.Result)

	audits := repo.AuditRecords()
	require.Len(t, audits, 1)
	require.Equal(t, ledger.AuditActionEntryPosted, audits[0].Action)
	require.Equal(t, "svc:fees", audits[0].Actor)
}

func TestCreateEntryReplaySameKey(t *testing.T) {
	svc, repo := newFixture(t)
	first, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-001"))
	require.NoError(t, err)

	second, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-001"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.True(t, first.Total.Equal(second.Total))

	// Exactly one entry row and one success audit: the replay executed no
	// side effects.
	require.Equal(t, 1, repo.EntryCount())
	require.Len(t, repo.AuditRecords(), 1)
}

func TestCreateEntryUnbalanced(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-002")
	in.Lines[1].Credit = dec("50.00")

	_, err := svc.CreateEntry(context.Background(), in)
	var unbalanced *ledger.UnbalancedEntryError
	require.ErrorAs(t, err, &unbalanced)
	require.True(t, unbalanced.TotalDebit.Equal(dec("100.00")))
	require.True(t, unbalanced.TotalCredit.Equal(dec("50.00")))

	// Nothing persisted except the diagnostic artifacts.
	require.Equal(t, 0, repo.EntryCount())
	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "fee-2024-002")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyFailed, rec.Status)
	audits := repo.AuditRecords()
	require.Len(t, audits, 1)
	require.Equal(t, ledger.AuditActionEntryRejected, audits[0].Action)
}

func TestCreateEntryZeroLines(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-003")
	in.Lines = nil

	_, err := svc.CreateEntry(context.Background(), in)
	require.ErrorIs(t, err, ledger.ErrNoLines)
	require.Equal(t, 0, repo.EntryCount())
}

func TestCreateEntryUnknownSource(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-004")
	in.SourceModule = "unknown"
	in.SourceKind = "GhostModel"

	_, err := svc.CreateEntry(context.Background(), in)
	var srcErr *ledger.SourceLinkageError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, 0, repo.EntryCount())

	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "fee-2024-004")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyFailed, rec.Status)
}

func TestCreateEntryMissingSourceRecord(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-005")
	in.SourceID = 42

	_, err := svc.CreateEntry(context.Background(), in)
	var srcErr *ledger.SourceLinkageError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, 0, repo.EntryCount())
}

func TestCreateEntryRetryAfterFailure(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-006")
	in.Lines[1].Credit = dec("50.00")
	_, err := svc.CreateEntry(context.Background(), in)
	require.Error(t, err)

	// A failed record does not block retry with the same key.
	entry, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-006"))
	require.NoError(t, err)
	require.NotZero(t, entry.ID)
	require.Equal(t, 1, repo.EntryCount())

	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "fee-2024-006")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyCompleted, rec.Status)
}

func TestCreateEntryLineValidationFailure(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-007")
	in.Lines[0].Credit = dec("100.00") // both sides set

	_, err := svc.CreateEntry(context.Background(), in)
	var lineErr *ledger.LineValidationError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 0, lineErr.Index)
	require.Equal(t, 0, repo.EntryCount())
}

func TestCreateEntryExcessPrecisionRejected(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("fee-2024-008")
	in.Lines[0].Debit = dec("100.001")
	in.Lines[1].Credit = dec("100.001")

	_, err := svc.CreateEntry(context.Background(), in)
	var lineErr *ledger.LineValidationError
	require.ErrorAs(t, err, &lineErr)
	require.Equal(t, 0, repo.EntryCount())
}

func TestCreateEntryMissingKeyOrActor(t *testing.T) {
	svc, repo := newFixture(t)
	in := feeInput("")
	_, err := svc.CreateEntry(context.Background(), in)
	var reqErr *ledger.RequestValidationError
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "idempotency_key", reqErr.Field)

	in = feeInput("fee-2024-009")
	in.Actor = ""
	_, err = svc.CreateEntry(context.Background(), in)
	require.ErrorAs(t, err, &reqErr)
	require.Equal(t, "actor", reqErr.Field)
	require.Equal(t, 0, repo.EntryCount())
}

func TestCreateEntryConcurrentSameKey(t *testing.T) {
	svc, repo := newFixture(t)
	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	entries := make([]ledger.Entry, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i], results[i] = svc.CreateEntry(context.Background(), feeInput("fee-2024-race"))
		}(i)
	}
	wg.Wait()

	// Exactly one winner reached the write phase; everyone else saw the
	// cached result or a retryable concurrency error.
	require.Equal(t, 1, repo.EntryCount())
	var winnerID int64
	for i := 0; i < workers; i++ {
		if results[i] == nil {
			if winnerID == 0 {
				winnerID = entries[i].ID
			}
			require.Equal(t, winnerID, entries[i].ID)
			continue
		}
		require.ErrorIs(t, results[i], ledger.ErrConcurrentOperation)
	}
}

func TestCreateEntryConcurrentLoserCanRetry(t *testing.T) {
	svc, _ := newFixture(t)
	_, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-010"))
	require.NoError(t, err)

	entry, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-010"))
	require.NoError(t, err)
	require.NotZero(t, entry.ID)
}

// tamperingRepo wraps the in-memory repository and corrupts the re-read so
// the defense-in-depth check trips.
type tamperingRepo struct {
	*memory.Repository
}

type tamperingTx struct {
	ledger.TxRepository
}

func (r *tamperingRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.Repository.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return fn(ctx, &tamperingTx{TxRepository: tx})
	})
}

func (t *tamperingTx) GetEntryWithLines(ctx context.Context, entryID int64) (ledger.Entry, error) {
	entry, err := t.TxRepository.GetEntryWithLines(ctx, entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if len(entry.Lines) > 0 {
		entry.Lines[0].Debit = entry.Lines[0].Debit.Add(dec("0.01"))
	}
	return entry, nil
}

func TestCreateEntryConsistencyCheckFailureRollsBack(t *testing.T) {
	repo := memory.NewRepository()
	repo.AddSource("fee_receipts", 1)
	allowlist, err := ledger.ParseSourceAllowlist("fees:FeeReceipt:fee_receipts")
	require.NoError(t, err)
	svc := ledger.NewService(&tamperingRepo{Repository: repo}, allowlist)

	_, err = svc.CreateEntry(context.Background(), feeInput("fee-2024-011"))
	var consistency *ledger.InternalConsistencyError
	require.ErrorAs(t, err, &consistency)

	// Fatal internal error still rolls back cleanly.
	require.Equal(t, 0, repo.EntryCount())
	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "fee-2024-011")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyFailed, rec.Status)
}

func TestCreateEntryResultSnapshotRoundTrip(t *testing.T) {
	svc, repo := newFixture(t)
	entry, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-012"))
	require.NoError(t, err)

	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "fee-2024-012")
	require.True(t, ok)
	var stored ledger.Entry
	require.NoError(t, json.Unmarshal(rec.Result, &stored))
	require.Equal(t, entry.ID, stored.ID)
	require.True(t, entry.Total.Equal(stored.Total))
	require.Len(t, stored.Lines, 2)
}

func TestListEntriesFilters(t *testing.T) {
	svc, _ := newFixture(t)
	_, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-013"))
	require.NoError(t, err)
	payroll := ledger.CreateEntryInput{
		SourceModule:   "payroll",
		SourceKind:     "PayrollRun",
		SourceID:       10,
		IdempotencyKey: "payroll-2024-001",
		Actor:          "svc:payroll",
		Lines: []ledger.LineInput{
			{AccountCode: "5001", Debit: dec("2500.00")},
			{AccountCode: "1001", Credit: dec("2500.00")},
		},
	}
	_, err = svc.CreateEntry(context.Background(), payroll)
	require.NoError(t, err)

	all, err := svc.ListEntries(context.Background(), ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	// List results carry lines, same shape as GetEntry.
	for _, entry := range all {
		require.Len(t, entry.Lines, 2)
	}

	fees, err := svc.ListEntries(context.Background(), ledger.EntryFilter{SourceModule: "fees"})
	require.NoError(t, err)
	require.Len(t, fees, 1)

	byActor, err := svc.ListEntries(context.Background(), ledger.EntryFilter{Actor: "svc:payroll"})
	require.NoError(t, err)
	require.Len(t, byActor, 1)
	require.Equal(t, "payroll", byActor[0].SourceModule)

	none, err := svc.ListEntries(context.Background(), ledger.EntryFilter{To: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestGetEntry(t *testing.T) {
	svc, _ := newFixture(t)
	entry, err := svc.CreateEntry(context.Background(), feeInput("fee-2024-014"))
	require.NoError(t, err)

	got, err := svc.GetEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	require.Equal(t, entry.ID, got.ID)
	require.Len(t, got.Lines, 2)

	_, err = svc.GetEntry(context.Background(), 9999)
	require.ErrorIs(t, err, ledger.ErrEntryNotFound)
}
