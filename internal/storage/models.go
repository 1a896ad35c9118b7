package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// InitialBalance is the persisted baseline used for ROI reporting.
type InitialBalance struct {
	Currency  string
	StartDate time.Time
	Amount    decimal.Decimal
	UpdatedAt time.Time
}

// OfferEvent is one audit row in an offer's lifecycle.
type OfferEvent struct {
	ID        int64
	OrderID   int64
	Currency  string
	Kind      string
	Amount    decimal.Decimal
	Rate      float64
	Period    int
	CreatedAt time.Time
}

// Offer event kinds.
const (
	EventSubmitted   = "submitted"
	EventExecuted    = "executed"
	EventCancelled   = "cancelled"
	EventResubmitted = "resubmitted"
)
