package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-bot/internal/account"
	"funding-bot/internal/tracker"
)

func TestBuildSummaryReportsROI(t *testing.T) {
	client := &fakeClient{
		candles: candlesClearingFloor(),
		balance: decimal.NewFromInt(1010),
	}
	notifier := &recordingNotifier{}

	start := time.Now().AddDate(0, 0, -73) // 1% gain over 73 days -> 5% annualized
	s := NewSession(Options{
		Symbol: "fUSD",
		Settings: account.Settings{
			MinOrderAmount: decimal.NewFromInt(50),
			MinAnnualRate:  5,
		},
		Baseline:     account.Baseline{Date: start, Amount: decimal.NewFromInt(1000)},
		Tracker:      tracker.Options{WindowSize: 15, ShortTimeframe: "5m", LongTimeframe: "30m", DiscountFactor: 0.985},
		OfferTimeout: time.Hour,
	}, client, notifier, nil, zerolog.Nop())

	m := NewManager(map[string]*Session{"fUSD": s}, nil, client, notifier, 0, zerolog.Nop())

	summary := m.BuildSummary(context.Background())

	for _, want := range []string{
		"Summary Report @",
		"USD:",
		"Initial Balance: 1000",
		"Current Balance: 1010",
		"Gain: 10 USD",
		"ROI: 1 %",
		"Annualized ROI: 5 %",
	} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
	if !strings.Contains(summary, "Lending Rates") {
		t.Fatalf("summary missing funding table:\n%s", summary)
	}
}

func TestCycleCoversAllCurrencies(t *testing.T) {
	usd := &fakeClient{candles: candlesClearingFloor(), available: decimal.NewFromInt(120)}
	eth := &fakeClient{candles: candlesClearingFloor(), available: decimal.NewFromInt(10)}
	notifier := &recordingNotifier{}

	sessions := map[string]*Session{
		"fUSD": newTestSession(usd, notifier),
		"fETH": NewSession(Options{
			Symbol: "fETH",
			Settings: account.Settings{
				MinOrderAmount: decimal.NewFromFloat(0.5),
				MinAnnualRate:  3,
			},
			Tracker:      tracker.Options{WindowSize: 15, ShortTimeframe: "5m", LongTimeframe: "30m", DiscountFactor: 0.985},
			OfferTimeout: time.Hour,
		}, eth, notifier, nil, zerolog.Nop()),
	}

	m := NewManager(sessions, nil, usd, notifier, 0, zerolog.Nop())
	if err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle: %v", err)
	}

	if len(usd.submitted) != 1 {
		t.Fatalf("fUSD submitted = %d, want 1", len(usd.submitted))
	}
	if len(eth.submitted) != 1 {
		t.Fatalf("fETH submitted = %d, want 1", len(eth.submitted))
	}
}
