package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// FundingTick is one raw ticker observation for a funding symbol.
type FundingTick struct {
	FRR       float64
	Bid       float64
	BidPeriod int
	Ask       float64
	AskPeriod int
	Last      float64
	High      float64
	Low       float64
}

// Candle is the latest OHLC bucket for one timeframe.
type Candle struct {
	Open  float64
	Close float64
	High  float64
	Low   float64
}

// ActiveOffer is a live (not yet taken) funding offer on the book.
type ActiveOffer struct {
	ID     int64
	Symbol string
	Amount decimal.Decimal
	Status string
	Rate   float64
	Period int
}

// ActiveCredit is funding currently lent out.
type ActiveCredit struct {
	ID     int64
	Symbol string
	Amount decimal.Decimal
	Rate   float64
	Period int
}

// Client is the boundary to the lending market. Implementations must treat
// every call as independent; the control loop never relies on client-side
// state between calls.
type Client interface {
	// Ticker returns the current funding ticker row for symbol.
	Ticker(ctx context.Context, symbol string) (FundingTick, error)
	// LastCandle returns the most recent candle for symbol at timeframe
	// (e.g. "5m", "30m").
	LastCandle(ctx context.Context, symbol, timeframe string) (Candle, error)

	// AvailableFunding reports the balance free to lend, as a positive
	// amount regardless of the provider's sign convention.
	AvailableFunding(ctx context.Context, symbol string) (decimal.Decimal, error)
	// CurrencyBalance reports the total wallet balance for symbol.
	CurrencyBalance(ctx context.Context, symbol string) (decimal.Decimal, error)

	// SubmitOffer places a funding offer and returns the assigned order id.
	SubmitOffer(ctx context.Context, symbol, amount, rate string, period int) (int64, error)
	// CancelOffer withdraws a pending offer.
	CancelOffer(ctx context.Context, id int64) error
	// ActiveOffers lists offers still on the book for symbol.
	ActiveOffers(ctx context.Context, symbol string) ([]ActiveOffer, error)
	// ActiveCredits lists funding currently taken (lent out) for symbol.
	ActiveCredits(ctx context.Context, symbol string) ([]ActiveCredit, error)
	// OfferHistory maps recently closed offer ids to their terminal status.
	OfferHistory(ctx context.Context, symbol string) (map[int64]string, error)

	// WalletSummary renders wallet balances as an aligned text table.
	WalletSummary(ctx context.Context) (string, error)
	// FundingSummary renders per-symbol lending yield and duration.
	FundingSummary(ctx context.Context, symbols []string) (string, error)
}
