package order

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentMethod recorded on orders settled through this service.
const PaymentMethod = "yookassa"

// Store applies verified payment outcomes to the external order records.
type Store interface {
	// MarkPaid transitions the order identified by orderID to the paid
	// state, recording the provider payment id. The write is an upsert
	// keyed by order id: applying it twice with the same values leaves
	// the record unchanged.
	MarkPaid(ctx context.Context, orderID, paymentID string) error
}

// PG is the Postgres-backed order store.
type PG struct {
	Pool *pgxpool.Pool
}

const markPaidSQL = `
INSERT INTO orders (order_id, status, payment_id, is_paid, payment_method)
VALUES ($1, 'paid', $2, TRUE, $3)
ON CONFLICT (order_id) DO UPDATE
SET status = 'paid',
    payment_id = EXCLUDED.payment_id,
    is_paid = TRUE,
    payment_method = EXCLUDED.payment_method`

// MarkPaid upserts the paid state for the order.
func (s PG) MarkPaid(ctx context.Context, orderID, paymentID string) error {
	if s.Pool == nil {
		return errors.New("order store not configured")
	}
	if strings.TrimSpace(orderID) == "" {
		return errors.New("order id is required")
	}
	_, err := s.Pool.Exec(ctx, markPaidSQL, orderID, paymentID, PaymentMethod)
	return err
}

// Record is the slice of an order this service touches.
type Record struct {
	OrderID       string
	Status        string
	PaymentID     string
	IsPaid        bool
	PaymentMethod string
}

// Memory is an in-process order store used in tests and in deployments that
// run without an order database.
type Memory struct {
	mu      sync.Mutex
	records map[string]Record
}

// MarkPaid records the paid state in memory.
func (m *Memory) MarkPaid(_ context.Context, orderID, paymentID string) error {
	if strings.TrimSpace(orderID) == "" {
		return errors.New("order id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]Record)
	}
	m.records[orderID] = Record{
		OrderID:       orderID,
		Status:        "paid",
		PaymentID:     paymentID,
		IsPaid:        true,
		PaymentMethod: PaymentMethod,
	}
	return nil
}

// Get returns the stored record for an order id.
func (m *Memory) Get(orderID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[orderID]
	return rec, ok
}
