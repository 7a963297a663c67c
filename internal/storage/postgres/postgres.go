// Package postgres implements storage.Store on PostgreSQL via pgx. The
// transactional-outbox guarantee maps directly onto a database transaction:
// the payment row, the idempotency record, and the outbox rows commit or roll
// back together.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/yourorg/payment-engine/internal/domain/payment"
	"github.com/yourorg/payment-engine/internal/idempotency"
	"github.com/yourorg/payment-engine/internal/storage"
)

const uniqueViolation = "23505"

// Store is the PostgreSQL unit of work.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. Statements are idempotent so repeated startup
// is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS payments (
    id                      TEXT PRIMARY KEY,
    amount                  NUMERIC(20, 4) NOT NULL,
    currency                TEXT NOT NULL,
    method                  TEXT NOT NULL DEFAULT '',
    provider                TEXT NOT NULL,
    merchant_id             TEXT NOT NULL,
    order_id                TEXT NOT NULL,
    project_code            TEXT NOT NULL DEFAULT '',
    status                  TEXT NOT NULL,
    split                   JSONB,
    metadata                JSONB,
    settlement_currency     TEXT NOT NULL DEFAULT '',
    settlement_amount       NUMERIC(20, 4),
    settlement_rate         NUMERIC(20, 8),
    provider_transaction_id TEXT NOT NULL DEFAULT '',
    failure_reason          TEXT NOT NULL DEFAULT '',
    refunded_amount         NUMERIC(20, 4) NOT NULL DEFAULT 0,
    created_at              TIMESTAMPTZ NOT NULL,
    updated_at              TIMESTAMPTZ NOT NULL,
    refunded_at             TIMESTAMPTZ,
    settled_at              TIMESTAMPTZ,
    UNIQUE (merchant_id, order_id)
);

CREATE TABLE IF NOT EXISTS idempotent_requests (
    key          TEXT PRIMARY KEY,
    payment_id   TEXT NOT NULL REFERENCES payments (id),
    request_hash TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_idempotent_requests_expires_at ON idempotent_requests (expires_at);

CREATE TABLE IF NOT EXISTS outbox_messages (
    id           TEXT PRIMARY KEY,
    payment_id   TEXT NOT NULL,
    event_type   TEXT NOT NULL,
    topic        TEXT NOT NULL,
    payload      JSONB NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ,
    retry_count  INT NOT NULL DEFAULT 0,
    last_error   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending ON outbox_messages (created_at) WHERE processed_at IS NULL;
`

// CreatePayment implements storage.Store.
func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment, rec idempotency.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertPayment(ctx, tx, p); err != nil {
		return err
	}

	// Expired records are reclaimable: the upsert claims the row when its TTL
	// has passed. Zero affected rows means a live record holds the key.
	tag, err := tx.Exec(ctx,
		`INSERT INTO idempotent_requests (key, payment_id, request_hash, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (key) DO UPDATE
		 SET payment_id = EXCLUDED.payment_id,
		     request_hash = EXCLUDED.request_hash,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at
		 WHERE idempotent_requests.expires_at <= EXCLUDED.created_at`,
		rec.Key, rec.PaymentID, rec.RequestHash, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("inserting idempotency record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrDuplicateIdempotencyKey
	}

	if err := insertOutbox(ctx, tx, p); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing create: %w", err)
	}
	p.ClearEvents()
	return nil
}

// UpdatePayment implements storage.Store.
func (s *Store) UpdatePayment(ctx context.Context, p *payment.Payment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	split, metadata, err := encodeJSONFields(p)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx,
		`UPDATE payments SET
		    status = $2, split = $3, metadata = $4,
		    settlement_currency = $5, settlement_amount = NULLIF($6, '')::numeric, settlement_rate = NULLIF($7, '')::numeric,
		    provider_transaction_id = $8, failure_reason = $9, refunded_amount = $10::numeric,
		    updated_at = $11, refunded_at = $12, settled_at = $13
		 WHERE id = $1`,
		p.ID, string(p.Status), split, metadata,
		p.SettlementCurrency, numericOrEmpty(p.SettlementAmount), numericOrEmpty(p.SettlementRate),
		p.ProviderTransactionID, p.FailureReason, p.RefundedAmount.String(),
		p.UpdatedAt, p.RefundedAt, p.SettledAt)
	if err != nil {
		return fmt.Errorf("updating payment %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrPaymentNotFound
	}

	if err := insertOutbox(ctx, tx, p); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing update: %w", err)
	}
	p.ClearEvents()
	return nil
}

func insertPayment(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	split, metadata, err := encodeJSONFields(p)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO payments (
		    id, amount, currency, method, provider, merchant_id, order_id, project_code,
		    status, split, metadata, settlement_currency, settlement_amount, settlement_rate,
		    provider_transaction_id, failure_reason, refunded_amount,
		    created_at, updated_at, refunded_at, settled_at
		 ) VALUES (
		    $1, $2::numeric, $3, $4, $5, $6, $7, $8,
		    $9, $10, $11, $12, NULLIF($13, '')::numeric, NULLIF($14, '')::numeric,
		    $15, $16, $17::numeric,
		    $18, $19, $20, $21
		 )`,
		p.ID, p.Amount.String(), p.Currency, p.Method, p.Provider, p.MerchantID, p.OrderID, p.ProjectCode,
		string(p.Status), split, metadata, p.SettlementCurrency,
		numericOrEmpty(p.SettlementAmount), numericOrEmpty(p.SettlementRate),
		p.ProviderTransactionID, p.FailureReason, p.RefundedAmount.String(),
		p.CreatedAt, p.UpdatedAt, p.RefundedAt, p.SettledAt)
	if err != nil {
		return fmt.Errorf("inserting payment %s: %w", p.ID, err)
	}
	return nil
}

func insertOutbox(ctx context.Context, tx pgx.Tx, p *payment.Payment) error {
	for _, evt := range p.Events() {
		row, err := storage.NewOutboxMessage(evt)
		if err != nil {
			return fmt.Errorf("encoding outbox payload for event %s: %w", evt.ID, err)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO outbox_messages (id, payment_id, event_type, topic, payload, created_at, retry_count, last_error)
			 VALUES ($1, $2, $3, $4, $5, $6, 0, '')`,
			row.ID, row.PaymentID, row.EventType, row.Topic, row.Payload, row.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting outbox row for event %s: %w", evt.ID, err)
		}
	}
	return nil
}

func encodeJSONFields(p *payment.Payment) (split, metadata []byte, err error) {
	if p.Split != nil {
		split, err = json.Marshal(p.Split)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding split: %w", err)
		}
	}
	if p.Metadata != nil {
		metadata, err = json.Marshal(p.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding metadata: %w", err)
		}
	}
	return split, metadata, nil
}

func numericOrEmpty(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

// GetPayment implements storage.Store.
func (s *Store) GetPayment(ctx context.Context, id string) (*payment.Payment, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, amount::text, currency, method, provider, merchant_id, order_id, project_code,
		        status, split, metadata, settlement_currency,
		        COALESCE(settlement_amount::text, ''), COALESCE(settlement_rate::text, ''),
		        provider_transaction_id, failure_reason, refunded_amount::text,
		        created_at, updated_at, refunded_at, settled_at
		 FROM payments WHERE id = $1`, id)

	var (
		p                                        payment.Payment
		amount, settleAmount, settleRate, refunded string
		splitRaw, metadataRaw                    []byte
		status                                   string
	)
	err := row.Scan(&p.ID, &amount, &p.Currency, &p.Method, &p.Provider, &p.MerchantID, &p.OrderID, &p.ProjectCode,
		&status, &splitRaw, &metadataRaw, &p.SettlementCurrency,
		&settleAmount, &settleRate,
		&p.ProviderTransactionID, &p.FailureReason, &refunded,
		&p.CreatedAt, &p.UpdatedAt, &p.RefundedAt, &p.SettledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("loading payment %s: %w", id, err)
	}

	p.Status = payment.Status(status)
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("decoding amount for payment %s: %w", id, err)
	}
	if p.RefundedAmount, err = decimal.NewFromString(refunded); err != nil {
		return nil, fmt.Errorf("decoding refunded amount for payment %s: %w", id, err)
	}
	if settleAmount != "" {
		if p.SettlementAmount, err = decimal.NewFromString(settleAmount); err != nil {
			return nil, fmt.Errorf("decoding settlement amount for payment %s: %w", id, err)
		}
	}
	if settleRate != "" {
		if p.SettlementRate, err = decimal.NewFromString(settleRate); err != nil {
			return nil, fmt.Errorf("decoding settlement rate for payment %s: %w", id, err)
		}
	}
	if len(splitRaw) > 0 {
		var sp payment.SplitPayment
		if err := json.Unmarshal(splitRaw, &sp); err != nil {
			return nil, fmt.Errorf("decoding split for payment %s: %w", id, err)
		}
		p.Split = &sp
	}
	if len(metadataRaw) > 0 {
		if err := json.Unmarshal(metadataRaw, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for payment %s: %w", id, err)
		}
	}
	return &p, nil
}

// GetIdempotencyRecord implements storage.Store.
func (s *Store) GetIdempotencyRecord(ctx context.Context, key string) (*idempotency.Record, error) {
	var rec idempotency.Record
	err := s.pool.QueryRow(ctx,
		`SELECT key, payment_id, request_hash, created_at, expires_at
		 FROM idempotent_requests WHERE key = $1`, key).
		Scan(&rec.Key, &rec.PaymentID, &rec.RequestHash, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, idempotency.ErrRecordNotFound
		}
		return nil, fmt.Errorf("loading idempotency record %q: %w", key, err)
	}
	return &rec, nil
}

// DeleteExpiredIdempotencyRecords implements storage.Store.
func (s *Store) DeleteExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotent_requests WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PendingOutbox implements storage.Store.
func (s *Store) PendingOutbox(ctx context.Context, limit, maxRetries int) ([]storage.OutboxMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, payment_id, event_type, topic, payload, created_at, processed_at, retry_count, last_error
		 FROM outbox_messages
		 WHERE processed_at IS NULL AND retry_count < $1
		 ORDER BY created_at
		 LIMIT $2`, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending outbox: %w", err)
	}
	defer rows.Close()

	var pending []storage.OutboxMessage
	for rows.Next() {
		var msg storage.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.PaymentID, &msg.EventType, &msg.Topic, &msg.Payload,
			&msg.CreatedAt, &msg.ProcessedAt, &msg.RetryCount, &msg.LastError); err != nil {
			return nil, fmt.Errorf("scanning outbox row: %w", err)
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}

// MarkOutboxProcessed implements storage.Store.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET processed_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("marking outbox row %s processed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking outbox row %s processed: %w", id, storage.ErrOutboxMessageNotFound)
	}
	return nil
}

// MarkOutboxFailed implements storage.Store.
func (s *Store) MarkOutboxFailed(ctx context.Context, id, lastError string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox_messages SET retry_count = retry_count + 1, last_error = $2 WHERE id = $1`,
		id, lastError)
	if err != nil {
		return fmt.Errorf("marking outbox row %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("marking outbox row %s failed: %w", id, storage.ErrOutboxMessageNotFound)
	}
	return nil
}
