package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNoBaseline indicates no persisted baseline exists for the currency.
	ErrNoBaseline = errors.New("storage: no baseline recorded")
)

const (
	selectInitialBalanceSQL = `SELECT
        currency,
        start_date,
        amount,
        updated_at
    FROM initial_balances
    WHERE currency = $1;`

	upsertInitialBalanceSQL = `INSERT INTO initial_balances (
        currency,
        start_date,
        amount
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (currency) DO UPDATE
    SET start_date = EXCLUDED.start_date,
        amount     = EXCLUDED.amount,
        updated_at = now();`

	insertOfferEventSQL = `INSERT INTO offer_events (
        order_id,
        currency,
        kind,
        amount,
        rate,
        period
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    ) RETURNING id, created_at;`

	listRecentOfferEventsSQL = `SELECT
        id,
        order_id,
        currency,
        kind,
        amount,
        rate,
        period,
        created_at
    FROM offer_events
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteOfferEventsBeforeSQL = `DELETE FROM offer_events WHERE created_at < $1;`
)

// BaselineStore looks up the persisted starting balance per currency.
type BaselineStore interface {
	InitialBalance(ctx context.Context, currency string) (InitialBalance, error)
	UpsertInitialBalance(ctx context.Context, baseline InitialBalance) error
}

// OfferEventStore records offer lifecycle transitions for auditing.
type OfferEventStore interface {
	RecordOfferEvent(ctx context.Context, event OfferEvent) (OfferEvent, error)
	ListRecentOfferEvents(ctx context.Context, limit int) ([]OfferEvent, error)
	DeleteOfferEventsBefore(ctx context.Context, olderThan time.Time) error
}

// Store is the pgx-backed implementation of both store interfaces.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an established pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitialBalance fetches the baseline row for currency.
func (s *Store) InitialBalance(ctx context.Context, currency string) (InitialBalance, error) {
	if s.pool == nil {
		return InitialBalance{}, ErrNotConfigured
	}

	row := s.pool.QueryRow(ctx, selectInitialBalanceSQL, currency)

	var baseline InitialBalance
	err := row.Scan(&baseline.Currency, &baseline.StartDate, &baseline.Amount, &baseline.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InitialBalance{}, ErrNoBaseline
	}
	if err != nil {
		return InitialBalance{}, fmt.Errorf("select initial balance: %w", err)
	}
	return baseline, nil
}

// UpsertInitialBalance writes the baseline row for a currency.
func (s *Store) UpsertInitialBalance(ctx context.Context, baseline InitialBalance) error {
	if s.pool == nil {
		return ErrNotConfigured
	}

	_, err := s.pool.Exec(ctx, upsertInitialBalanceSQL, baseline.Currency, baseline.StartDate, baseline.Amount)
	if err != nil {
		return fmt.Errorf("upsert initial balance: %w", err)
	}
	return nil
}

// RecordOfferEvent appends one lifecycle audit row.
func (s *Store) RecordOfferEvent(ctx context.Context, event OfferEvent) (OfferEvent, error) {
	if s.pool == nil {
		return OfferEvent{}, ErrNotConfigured
	}

	row := s.pool.QueryRow(ctx, insertOfferEventSQL,
		event.OrderID, event.Currency, event.Kind, event.Amount, event.Rate, event.Period)
	if err := row.Scan(&event.ID, &event.CreatedAt); err != nil {
		return OfferEvent{}, fmt.Errorf("insert offer event: %w", err)
	}
	return event, nil
}

// ListRecentOfferEvents returns the newest audit rows, newest first.
func (s *Store) ListRecentOfferEvents(ctx context.Context, limit int) ([]OfferEvent, error) {
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, listRecentOfferEventsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list offer events: %w", err)
	}
	defer rows.Close()

	var events []OfferEvent
	for rows.Next() {
		var ev OfferEvent
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Currency, &ev.Kind, &ev.Amount, &ev.Rate, &ev.Period, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offer event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteOfferEventsBefore prunes audit rows older than the cutoff.
func (s *Store) DeleteOfferEventsBefore(ctx context.Context, olderThan time.Time) error {
	if s.pool == nil {
		return ErrNotConfigured
	}
	_, err := s.pool.Exec(ctx, deleteOfferEventsBeforeSQL, olderThan)
	if err != nil {
		return fmt.Errorf("delete offer events: %w", err)
	}
	return nil
}

var (
	_ BaselineStore   = (*Store)(nil)
	_ OfferEventStore = (*Store)(nil)
)
