package memory

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ledgergate/ledgergate/internal/ledger"
)

func TestReserveMakesPendingVisibleImmediately(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	blocker := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
			_, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1")
			require.NoError(t, err)
			close(blocker)
			<-release
			return errors.New("abort")
		})
	}()
	<-blocker

	// A second caller sees the in-flight reservation.
	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1")
		return err
	})
	require.ErrorIs(t, err, ledger.ErrConcurrentOperation)
	close(release)
}

func TestRollbackDeletesFreshReservation(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1")
		require.NoError(t, err)
		return errors.New("abort")
	})
	require.Error(t, err)

	_, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "k1")
	require.False(t, ok)
}

func TestRollbackRestoresPriorFailedRecord(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	require.NoError(t, repo.RecordFailure(ctx, ledger.OpCreateEntry, "k1", "unbalanced", ledger.AuditRecord{Action: ledger.AuditActionEntryRejected}))

	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1")
		require.NoError(t, err)
		return errors.New("abort again")
	})
	require.Error(t, err)

	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "k1")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyFailed, rec.Status)
	require.Equal(t, "unbalanced", rec.LastError)
}

func TestCompletedRecordReplaysWithoutReservation(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	snapshot := json.RawMessage(`{"id":1}`)
	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1"); err != nil {
			return err
		}
		return tx.CompleteIdempotency(ctx, ledger.OpCreateEntry, "k1", snapshot)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		res, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1")
		require.NoError(t, err)
		require.True(t, res.AlreadyCompleted)
		require.JSONEq(t, string(snapshot), string(res.Result))
		return nil
	})
	require.NoError(t, err)
}

func TestRecordFailureNeverDowngradesCompleted(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1"); err != nil {
			return err
		}
		return tx.CompleteIdempotency(ctx, ledger.OpCreateEntry, "k1", json.RawMessage(`{"id":1}`))
	})
	require.NoError(t, err)

	require.NoError(t, repo.RecordFailure(ctx, ledger.OpCreateEntry, "k1", "late failure", ledger.AuditRecord{Action: ledger.AuditActionEntryRejected}))

	rec, ok := repo.IdempotencyRecord(ledger.OpCreateEntry, "k1")
	require.True(t, ok)
	require.Equal(t, ledger.IdempotencyCompleted, rec.Status)
	// The failure audit is still retained.
	require.Len(t, repo.AuditRecords(), 1)
}

func TestCompleteRequiresOwnReservation(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		return tx.CompleteIdempotency(ctx, ledger.OpCreateEntry, "k1", json.RawMessage(`{}`))
	})
	require.ErrorIs(t, err, ledger.ErrConcurrentOperation)
}

func TestStagedWritesDiscardedOnRollback(t *testing.T) {
	repo := NewRepository()
	repo.AddSource("fee_receipts", 1)
	ctx := context.Background()

	err := repo.WithTx(ctx, func(ctx context.Context, tx ledger.TxRepository) error {
		if _, err := tx.ReserveIdempotency(ctx, ledger.OpCreateEntry, "k1"); err != nil {
			return err
		}
		in := ledger.CreateEntryInput{
			SourceModule:   "fees",
			SourceKind:     "FeeReceipt",
			SourceID:       1,
			IdempotencyKey: "k1",
			Actor:          "svc:fees",
		}
		entry, err := tx.InsertEntry(ctx, in, decimal.RequireFromString("10.00"))
		if err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, ledger.AuditRecord{Action: ledger.AuditActionEntryPosted, EntityID: strconv.FormatInt(entry.ID, 10)}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	require.Equal(t, 0, repo.EntryCount())
	require.Empty(t, repo.AuditRecords())
}
