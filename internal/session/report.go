package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// emitHourlyReport sends the periodic summary: runtime, per-currency balance
// and ROI against the baseline, plus wallet and funding tables. Pure side
// effect; no session state changes.
func (m *Manager) emitHourlyReport(ctx context.Context) {
	report := m.BuildSummary(ctx)
	m.logger.Info().Msg(report)
	if m.notifier != nil {
		_ = m.notifier.Send(ctx, report)
	}
}

// BuildSummary renders the summary report text.
func (m *Manager) BuildSummary(ctx context.Context) string {
	now := m.now()

	var b strings.Builder
	fmt.Fprintf(&b, "Summary Report @ %s\n", now.Format("2006-01-02"))
	fmt.Fprintf(&b, "Runtime: %s\n", now.Sub(m.startTime).Round(time.Second))

	for _, symbol := range m.order {
		baseline := m.sessions[symbol].Account().Baseline()
		name := strings.TrimPrefix(symbol, "f")

		fmt.Fprintf(&b, "\n%s:\n", name)
		fmt.Fprintf(&b, "Initial Balance: %s\n", baseline.Amount.String())
		fmt.Fprintf(&b, "Start Date: %s\n", baseline.Date.Format("2006-01-02"))

		balance, err := m.client.CurrencyBalance(ctx, symbol)
		if err != nil {
			fmt.Fprintf(&b, "Current Balance: unknown\n")
			continue
		}
		fmt.Fprintf(&b, "Current Balance: %s\n", balance.String())

		if !baseline.Amount.IsPositive() {
			continue
		}

		gain := balance.Sub(baseline.Amount)
		days := int64(now.Sub(baseline.Date).Hours() / 24)
		if days < 1 {
			days = 1
		}
		roi := gain.Div(baseline.Amount)
		annualized := roi.Mul(decimal.NewFromInt(365)).Div(decimal.NewFromInt(days))

		fmt.Fprintf(&b, "Gain: %s %s\n", gain.String(), name)
		fmt.Fprintf(&b, "ROI: %s %%\n", roi.Mul(decimal.NewFromInt(100)).Round(2).String())
		fmt.Fprintf(&b, "Annualized ROI: %s %%\n", annualized.Mul(decimal.NewFromInt(100)).Round(2).String())
	}

	if wallet, err := m.client.WalletSummary(ctx); err == nil {
		b.WriteString("\n")
		b.WriteString(wallet)
		b.WriteString("\n")
	} else {
		m.logger.Warn().Err(err).Msg("wallet summary unavailable")
	}

	if funding, err := m.client.FundingSummary(ctx, m.order); err == nil {
		b.WriteString("\n")
		b.WriteString(funding)
		b.WriteString("\n")
	} else {
		m.logger.Warn().Err(err).Msg("funding summary unavailable")
	}

	return b.String()
}
