package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/payment-engine/internal/domain/payment"
	"github.com/yourorg/payment-engine/internal/idempotency"
	"github.com/yourorg/payment-engine/internal/storage"
	"github.com/yourorg/payment-engine/internal/storage/memory"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newPayment(t *testing.T) *payment.Payment {
	t.Helper()
	p, err := payment.New(payment.NewParams{
		Amount:     decimal.RequireFromString("100.00"),
		Currency:   "USD",
		Method:     "CreditCard",
		Provider:   "providerX",
		MerchantID: "merchant-123",
		OrderID:    "order-456",
		Now:        testNow,
	})
	require.NoError(t, err)
	return p
}

func record(key, paymentID string) idempotency.Record {
	return idempotency.Record{
		Key:         key,
		PaymentID:   paymentID,
		RequestHash: "h1",
		CreatedAt:   testNow,
		ExpiresAt:   testNow.Add(24 * time.Hour),
	}
}

func TestStore_CreatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and read back", func(t *testing.T) {
		s := memory.New()
		p := newPayment(t)
		require.NoError(t, s.CreatePayment(ctx, p, record("k1", p.ID)))

		got, err := s.GetPayment(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, got.ID)
		assert.Equal(t, payment.StatusCreated, got.Status)

		rec, err := s.GetIdempotencyRecord(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, p.ID, rec.PaymentID)
	})

	t.Run("Duplicate key is rejected, first writer wins", func(t *testing.T) {
		s := memory.New()
		first := newPayment(t)
		require.NoError(t, s.CreatePayment(ctx, first, record("k1", first.ID)))

		second := newPayment(t)
		err := s.CreatePayment(ctx, second, record("k1", second.ID))
		require.ErrorIs(t, err, storage.ErrDuplicateIdempotencyKey)

		rec, err := s.GetIdempotencyRecord(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, first.ID, rec.PaymentID, "losing writer must not overwrite the record")
		_, err = s.GetPayment(ctx, second.ID)
		assert.ErrorIs(t, err, storage.ErrPaymentNotFound, "losing writer's payment must not persist")
	})

	t.Run("Expired record is reclaimable", func(t *testing.T) {
		s := memory.New()
		first := newPayment(t)
		expired := record("k1", first.ID)
		expired.ExpiresAt = testNow.Add(-time.Minute)
		require.NoError(t, s.CreatePayment(ctx, first, expired))

		second := newPayment(t)
		assert.NoError(t, s.CreatePayment(ctx, second, record("k1", second.ID)))
	})
}

func TestStore_UpdatePayment_OutboxAtomicity(t *testing.T) {
	ctx := context.Background()

	t.Run("Successful persist yields one outbox row per event", func(t *testing.T) {
		s := memory.New()
		p := newPayment(t)
		require.NoError(t, s.CreatePayment(ctx, p, record("k1", p.ID)))

		require.NoError(t, p.MarkProcessing(testNow))
		require.NoError(t, s.UpdatePayment(ctx, p))
		assert.Empty(t, p.Events(), "save must clear the aggregate's event buffer")

		require.NoError(t, p.MarkSucceeded("txn-1", nil, testNow))
		require.NoError(t, s.UpdatePayment(ctx, p))

		rows := s.OutboxMessages()
		require.Len(t, rows, 2)
		assert.Equal(t, "payment.processing", rows[0].Topic)
		assert.Equal(t, "payment.completed", rows[1].Topic)
		assert.Equal(t, p.ID, rows[1].PaymentID)
		assert.Nil(t, rows[0].ProcessedAt)
		assert.Contains(t, string(rows[1].Payload), p.ID)
	})

	t.Run("Storage failure applies neither state nor outbox row", func(t *testing.T) {
		s := memory.New()
		p := newPayment(t)
		require.NoError(t, s.CreatePayment(ctx, p, record("k1", p.ID)))

		require.NoError(t, p.MarkProcessing(testNow))
		s.FailNextWrite(errors.New("disk on fire"))
		err := s.UpdatePayment(ctx, p)
		require.Error(t, err)

		stored, getErr := s.GetPayment(ctx, p.ID)
		require.NoError(t, getErr)
		assert.Equal(t, payment.StatusCreated, stored.Status, "status change must not be applied")
		assert.Empty(t, s.OutboxMessages(), "no outbox row without the state change")
		assert.Len(t, p.Events(), 1, "events stay buffered so the save can be retried")

		// The same save succeeds once storage recovers.
		require.NoError(t, s.UpdatePayment(ctx, p))
		stored, getErr = s.GetPayment(ctx, p.ID)
		require.NoError(t, getErr)
		assert.Equal(t, payment.StatusProcessing, stored.Status)
		assert.Len(t, s.OutboxMessages(), 1)
	})

	t.Run("Unknown payment", func(t *testing.T) {
		s := memory.New()
		p := newPayment(t)
		assert.ErrorIs(t, s.UpdatePayment(ctx, p), storage.ErrPaymentNotFound)
	})
}

func TestStore_PendingOutbox(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	p := newPayment(t)
	require.NoError(t, s.CreatePayment(ctx, p, record("k1", p.ID)))
	require.NoError(t, p.MarkProcessing(testNow))
	require.NoError(t, p.MarkSucceeded("txn-1", nil, testNow))
	require.NoError(t, s.UpdatePayment(ctx, p))

	rows := s.OutboxMessages()
	require.Len(t, rows, 2)

	t.Run("Processed rows are excluded", func(t *testing.T) {
		require.NoError(t, s.MarkOutboxProcessed(ctx, rows[0].ID))
		pending, err := s.PendingOutbox(ctx, 10, 5)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, rows[1].ID, pending[0].ID)
	})

	t.Run("Rows at the retry ceiling are excluded", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, s.MarkOutboxFailed(ctx, rows[1].ID, "broker down"))
		}
		pending, err := s.PendingOutbox(ctx, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, pending)

		all := s.OutboxMessages()
		assert.Equal(t, 5, all[1].RetryCount)
		assert.Equal(t, "broker down", all[1].LastError)
	})

	t.Run("Marking a missing row errors", func(t *testing.T) {
		assert.ErrorIs(t, s.MarkOutboxProcessed(ctx, "no-such-row"), storage.ErrOutboxMessageNotFound)
		assert.ErrorIs(t, s.MarkOutboxFailed(ctx, "no-such-row", "broker down"), storage.ErrOutboxMessageNotFound)
	})

	t.Run("Limit is honored", func(t *testing.T) {
		s := memory.New()
		p := newPayment(t)
		require.NoError(t, s.CreatePayment(ctx, p, record("k1", p.ID)))
		require.NoError(t, p.MarkProcessing(testNow))
		require.NoError(t, p.MarkSucceeded("txn", nil, testNow))
		require.NoError(t, s.UpdatePayment(ctx, p))

		pending, err := s.PendingOutbox(ctx, 1, 5)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})
}

func TestStore_DeleteExpiredIdempotencyRecords(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	p1 := newPayment(t)
	rec1 := record("old", p1.ID)
	rec1.ExpiresAt = testNow.Add(time.Hour)
	require.NoError(t, s.CreatePayment(ctx, p1, rec1))

	p2 := newPayment(t)
	rec2 := record("fresh", p2.ID)
	rec2.ExpiresAt = testNow.Add(48 * time.Hour)
	require.NoError(t, s.CreatePayment(ctx, p2, rec2))

	deleted, err := s.DeleteExpiredIdempotencyRecords(ctx, testNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetIdempotencyRecord(ctx, "old")
	assert.ErrorIs(t, err, idempotency.ErrRecordNotFound)
	_, err = s.GetIdempotencyRecord(ctx, "fresh")
	assert.NoError(t, err)
}
