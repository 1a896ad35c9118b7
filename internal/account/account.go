// Package account holds per-currency lending state and turns a target rate
// plus available balance into a sized, tiered funding offer.
package account

import (
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-bot/internal/exchange"
)

// daysPerYear*100: converts a daily fractional rate to an annualized percent.
const annualizedFactor = 36500

// Offer is a concrete, constraint-respecting funding offer. Amount is a
// decimal string truncated to 5 fractional digits, so the serialized value
// never exceeds the true computed amount.
type Offer struct {
	Symbol string
	Amount string
	Rate   float64
	Period int
}

// Baseline is the balance recorded when lending started, used for ROI.
type Baseline struct {
	Date   time.Time
	Amount decimal.Decimal
}

// Settings are the validated per-currency constraints.
type Settings struct {
	// MinOrderAmount is the smallest offer the market accepts.
	MinOrderAmount decimal.Decimal
	// MinAnnualRate is the operator's rate floor, in percent per year.
	MinAnnualRate float64
	// MaxLendingAmount caps total exposure; zero means unlimited.
	MaxLendingAmount decimal.Decimal
}

// State tracks one currency's balances and generates offers. A State is
// owned by exactly one session and is not safe for concurrent use.
type State struct {
	symbol   string
	settings Settings
	baseline Baseline
	logger   zerolog.Logger

	available decimal.Decimal
	lent      decimal.Decimal
	pending   decimal.Decimal
}

// NewState constructs the per-currency account state.
func NewState(symbol string, settings Settings, baseline Baseline, logger zerolog.Logger) *State {
	return &State{
		symbol:   symbol,
		settings: settings,
		baseline: baseline,
		logger:   logger.With().Str("component", "account").Str("symbol", symbol).Logger(),
	}
}

// Baseline returns the recorded starting balance and date.
func (s *State) Baseline() Baseline { return s.baseline }

// MinDailyRate converts the configured annual floor to a daily fraction,
// rounded to 7 places the way the rest of the rate pipeline expects.
func (s *State) MinDailyRate() float64 {
	return math.Round(s.settings.MinAnnualRate/annualizedFactor*1e7) / 1e7
}

// SetAvailableFunding overwrites the cached reported balance.
func (s *State) SetAvailableFunding(amount decimal.Decimal) {
	s.available = amount
}

// SetActiveFunding recomputes the currently-lent amount from a fresh list.
func (s *State) SetActiveFunding(credits []exchange.ActiveCredit) {
	total := decimal.Zero
	for _, credit := range credits {
		total = total.Add(credit.Amount)
	}
	s.lent = total
}

// SetPendingOffers recomputes the currently-pending amount from a fresh list.
func (s *State) SetPendingOffers(offers []exchange.ActiveOffer) {
	total := decimal.Zero
	for _, offer := range offers {
		total = total.Add(offer.Amount)
	}
	s.pending = total
}

// LentAmount reports the current total lent out.
func (s *State) LentAmount() decimal.Decimal { return s.lent }

// PendingAmount reports the current total sitting in open offers.
func (s *State) PendingAmount() decimal.Decimal { return s.pending }

// FundingForOffer computes the amount actually available for a new offer,
// honoring the exposure cap when one is configured. Never negative.
func (s *State) FundingForOffer() decimal.Decimal {
	available := s.available
	if s.settings.MaxLendingAmount.IsPositive() {
		headroom := s.settings.MaxLendingAmount.Sub(s.lent).Sub(s.pending)
		if headroom.LessThan(available) {
			available = headroom
		}
		if available.IsNegative() {
			return decimal.Zero
		}
	}
	return available
}

// GenerateOffer sizes a new offer at the given daily rate from the available
// balance, or returns nil when conditions don't support one.
func (s *State) GenerateOffer(rate float64) *Offer {
	return s.buildOffer(rate, s.FundingForOffer())
}

// RegenerateOffer re-sizes an offer from the literal amount string of a
// cancelled predecessor, preserving the originally committed size.
func (s *State) RegenerateOffer(rate float64, priorAmount string) *Offer {
	amount, err := decimal.NewFromString(priorAmount)
	if err != nil {
		s.logger.Warn().Str("amount", priorAmount).Err(err).Msg("unparseable prior offer amount")
		return nil
	}
	return s.buildOffer(rate, amount)
}

func (s *State) buildOffer(rate float64, amount decimal.Decimal) *Offer {
	if rate <= 0 {
		return nil
	}
	if amount.LessThan(s.settings.MinOrderAmount) {
		return nil
	}

	annual := rate * annualizedFactor

	// Committing a large balance at a poor rate locks capital away from
	// better tiers, so oversized low-rate offers collapse to the minimum.
	if amount.Div(s.settings.MinOrderAmount).GreaterThan(decimal.NewFromInt(2)) && annual < 15 {
		amount = s.settings.MinOrderAmount
	}

	return &Offer{
		Symbol: s.symbol,
		Amount: truncateAmount(amount),
		Rate:   rate,
		Period: tierPeriod(annual),
	}
}

// tierPeriod maps an annualized percent rate to an offer duration. Ties at
// the breakpoints fall to the lower tier.
func tierPeriod(annual float64) int {
	switch {
	case annual > 30:
		return 30
	case annual > 25:
		return 20
	case annual > 20:
		return 10
	case annual > 15:
		return 5
	default:
		return 2
	}
}

// truncateAmount renders amount with 6 fractional digits rounded toward
// zero, then drops the last digit. The result is always <= the input.
func truncateAmount(amount decimal.Decimal) string {
	s := amount.Abs().RoundDown(6).StringFixed(6)
	return s[:len(s)-1]
}
