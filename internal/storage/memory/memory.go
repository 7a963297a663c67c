// Package memory is an in-memory Store used by tests and local development.
// It mirrors the transactional semantics of the Postgres store: a save either
// applies entirely (fields, idempotency record, outbox rows) or not at all,
// and the unique constraint on the idempotency key makes the first writer
// win.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yourorg/payment-engine/internal/domain/payment"
	"github.com/yourorg/payment-engine/internal/idempotency"
	"github.com/yourorg/payment-engine/internal/storage"
)

// Store is a race-safe in-memory implementation of storage.Store.
type Store struct {
	mu       sync.RWMutex
	payments map[string]*payment.Payment
	records  map[string]idempotency.Record
	outbox   []storage.OutboxMessage

	failNext error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		payments: make(map[string]*payment.Payment),
		records:  make(map[string]idempotency.Record),
	}
}

// FailNextWrite makes the next mutating operation fail with err without
// applying anything, simulating a storage outage mid-flow.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *Store) takeFailure() error {
	if s.failNext == nil {
		return nil
	}
	err := s.failNext
	s.failNext = nil
	return err
}

func clonePayment(p *payment.Payment) *payment.Payment {
	c := *p
	if p.Metadata != nil {
		c.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			c.Metadata[k] = v
		}
	}
	if p.Split != nil {
		split := *p.Split
		c.Split = &split
	}
	if p.RefundedAt != nil {
		t := *p.RefundedAt
		c.RefundedAt = &t
	}
	if p.SettledAt != nil {
		t := *p.SettledAt
		c.SettledAt = &t
	}
	c.ClearEvents()
	return &c
}

// CreatePayment implements storage.Store.
func (s *Store) CreatePayment(_ context.Context, p *payment.Payment, rec idempotency.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}

	if existing, ok := s.records[rec.Key]; ok && !existing.Expired(rec.CreatedAt) {
		return storage.ErrDuplicateIdempotencyKey
	}

	rows, err := outboxRows(p)
	if err != nil {
		return err
	}

	s.payments[p.ID] = clonePayment(p)
	s.records[rec.Key] = rec
	s.outbox = append(s.outbox, rows...)
	p.ClearEvents()
	return nil
}

// UpdatePayment implements storage.Store.
func (s *Store) UpdatePayment(_ context.Context, p *payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(); err != nil {
		return err
	}
	if _, ok := s.payments[p.ID]; !ok {
		return storage.ErrPaymentNotFound
	}

	rows, err := outboxRows(p)
	if err != nil {
		return err
	}

	s.payments[p.ID] = clonePayment(p)
	s.outbox = append(s.outbox, rows...)
	p.ClearEvents()
	return nil
}

func outboxRows(p *payment.Payment) ([]storage.OutboxMessage, error) {
	events := p.Events()
	rows := make([]storage.OutboxMessage, 0, len(events))
	for _, evt := range events {
		row, err := storage.NewOutboxMessage(evt)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// GetPayment implements storage.Store.
func (s *Store) GetPayment(_ context.Context, id string) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, storage.ErrPaymentNotFound
	}
	return clonePayment(p), nil
}

// GetIdempotencyRecord implements storage.Store.
func (s *Store) GetIdempotencyRecord(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, idempotency.ErrRecordNotFound
	}
	return &rec, nil
}

// DeleteExpiredIdempotencyRecords implements storage.Store.
func (s *Store) DeleteExpiredIdempotencyRecords(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for key, rec := range s.records {
		if rec.Expired(now) {
			delete(s.records, key)
			deleted++
		}
	}
	return deleted, nil
}

// PendingOutbox implements storage.Store.
func (s *Store) PendingOutbox(_ context.Context, limit, maxRetries int) ([]storage.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var pending []storage.OutboxMessage
	for _, msg := range s.outbox {
		if msg.ProcessedAt != nil || msg.RetryCount >= maxRetries {
			continue
		}
		pending = append(pending, msg)
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

// MarkOutboxProcessed implements storage.Store.
func (s *Store) MarkOutboxProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			now := time.Now().UTC()
			s.outbox[i].ProcessedAt = &now
			return nil
		}
	}
	return fmt.Errorf("marking outbox row %s processed: %w", id, storage.ErrOutboxMessageNotFound)
}

// MarkOutboxFailed implements storage.Store.
func (s *Store) MarkOutboxFailed(_ context.Context, id, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id {
			s.outbox[i].RetryCount++
			s.outbox[i].LastError = lastError
			return nil
		}
	}
	return fmt.Errorf("marking outbox row %s failed: %w", id, storage.ErrOutboxMessageNotFound)
}

// OutboxMessages returns a snapshot of every outbox row, delivered or not.
// Intended for tests.
func (s *Store) OutboxMessages() []storage.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.OutboxMessage, len(s.outbox))
	copy(out, s.outbox)
	return out
}
