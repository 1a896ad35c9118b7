package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-bot/internal/config"
	"funding-bot/internal/storage"
)

type fakeBaselineStore struct {
	rows      map[string]storage.InitialBalance
	lookupErr error
	upserts   []storage.InitialBalance
}

func (f *fakeBaselineStore) InitialBalance(ctx context.Context, currency string) (storage.InitialBalance, error) {
	if f.lookupErr != nil {
		return storage.InitialBalance{}, f.lookupErr
	}
	row, ok := f.rows[currency]
	if !ok {
		return storage.InitialBalance{}, storage.ErrNoBaseline
	}
	return row, nil
}

func (f *fakeBaselineStore) UpsertInitialBalance(ctx context.Context, baseline storage.InitialBalance) error {
	f.upserts = append(f.upserts, baseline)
	return nil
}

var _ storage.BaselineStore = (*fakeBaselineStore)(nil)

type fakeEventPruner struct {
	cutoffs []time.Time
}

func (f *fakeEventPruner) RecordOfferEvent(ctx context.Context, event storage.OfferEvent) (storage.OfferEvent, error) {
	return event, nil
}

func (f *fakeEventPruner) ListRecentOfferEvents(ctx context.Context, limit int) ([]storage.OfferEvent, error) {
	return nil, nil
}

func (f *fakeEventPruner) DeleteOfferEventsBefore(ctx context.Context, olderThan time.Time) error {
	f.cutoffs = append(f.cutoffs, olderThan)
	return nil
}

var _ storage.OfferEventStore = (*fakeEventPruner)(nil)

func newTestApp(cfg *config.Config) *App {
	return NewApp(cfg, zerolog.Nop())
}

func TestResolveBaselineUsesPersistedRow(t *testing.T) {
	store := &fakeBaselineStore{rows: map[string]storage.InitialBalance{
		"fUSD": {
			Currency:  "fUSD",
			StartDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			Amount:    decimal.NewFromInt(2500),
		},
	}}
	a := newTestApp(&config.Config{})

	baseline := a.resolveBaseline(context.Background(), store, "fUSD", config.CurrencyConfig{InitialBalance: 1000})

	if !baseline.Amount.Equal(decimal.NewFromInt(2500)) {
		t.Fatalf("amount = %s, want the persisted 2500", baseline.Amount)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("upserts = %d, a persisted row must not be reseeded", len(store.upserts))
	}
}

func TestResolveBaselineSeedsOnMiss(t *testing.T) {
	store := &fakeBaselineStore{}
	a := newTestApp(&config.Config{})

	baseline := a.resolveBaseline(context.Background(), store, "fUSD", config.CurrencyConfig{
		InitialBalance: 1000,
		StartDate:      "2026-01-15",
	})

	if !baseline.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("amount = %s, want the configured 1000", baseline.Amount)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("upserts = %d, a miss must seed the store", len(store.upserts))
	}
	seeded := store.upserts[0]
	if seeded.Currency != "fUSD" || !seeded.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("seeded row = %+v", seeded)
	}
	if seeded.StartDate != time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC) {
		t.Fatalf("seeded start date = %v, want the configured date", seeded.StartDate)
	}
}

func TestResolveBaselineTransientErrorDoesNotSeed(t *testing.T) {
	store := &fakeBaselineStore{lookupErr: errors.New("connection refused")}
	a := newTestApp(&config.Config{})

	baseline := a.resolveBaseline(context.Background(), store, "fUSD", config.CurrencyConfig{InitialBalance: 1000})

	if !baseline.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("amount = %s, want the configured fallback", baseline.Amount)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("upserts = %d, a transient failure must not overwrite the row", len(store.upserts))
	}
}

func TestPruneEventsAppliesRetention(t *testing.T) {
	pruner := &fakeEventPruner{}
	a := newTestApp(&config.Config{
		Database: config.DatabaseConfig{EventRetention: 720 * time.Hour},
	})

	a.pruneEvents(context.Background(), pruner)

	if len(pruner.cutoffs) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(pruner.cutoffs))
	}
	want := time.Now().Add(-720 * time.Hour)
	if diff := pruner.cutoffs[0].Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Fatalf("cutoff = %v, want about %v", pruner.cutoffs[0], want)
	}
}

func TestPruneEventsDisabledWithoutRetention(t *testing.T) {
	pruner := &fakeEventPruner{}
	a := newTestApp(&config.Config{})

	a.pruneEvents(context.Background(), pruner)

	if len(pruner.cutoffs) != 0 {
		t.Fatalf("prune calls = %d, zero retention must disable pruning", len(pruner.cutoffs))
	}
}

func TestFormatOfferEvents(t *testing.T) {
	created := time.Date(2026, 8, 30, 14, 5, 0, 0, time.UTC)
	out := formatOfferEvents([]storage.OfferEvent{
		{OrderID: 42, Currency: "fUSD", Kind: storage.EventSubmitted, Amount: decimal.NewFromInt(120), Rate: 0.0005, Period: 5, CreatedAt: created},
		{OrderID: 42, Currency: "fUSD", Kind: storage.EventExecuted, Amount: decimal.NewFromInt(120), Rate: 0.0005, Period: 5, CreatedAt: created.Add(time.Hour)},
	})

	if !strings.HasPrefix(out, "Recent Offer Events:") {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "2026-08-30 14:05 fUSD offer 42 submitted: amount 120 rate 0.0005 period 5d") {
		t.Fatalf("submitted line misformatted:\n%s", out)
	}
	if !strings.Contains(out, "executed") {
		t.Fatalf("executed line missing:\n%s", out)
	}
}
