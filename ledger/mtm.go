package ledger

import (
	"github.com/shopspring/decimal"

	"prop-ledger/models"
)

// MarkToMarket recomputes the unrealized PnL of every open position from quotes
// and sets equity to the balance plus their sum. A position without a quote
// keeps its previous PnL. The inputs are not modified.
func MarkToMarket(account models.ChallengeAccount, positions []models.Position, quotes models.Quotes) (models.ChallengeAccount, []models.Position) {
	out := make([]models.Position, len(positions))
	unrealized := decimal.Zero
	for i, p := range positions {
		if q, ok := quotes[p.Symbol]; ok && q.Price.IsPositive() {
			p.UnrealizedPnl = p.PnLAt(q.Price)
		}
		unrealized = unrealized.Add(p.UnrealizedPnl)
		out[i] = p
	}
	account.Equity = account.CurrentBalance.Add(unrealized)
	return account, out
}

// quoted reports whether every position has a usable quote
func quoted(positions []models.Position, quotes models.Quotes) bool {
	for _, p := range positions {
		if q, ok := quotes[p.Symbol]; !ok || !q.Price.IsPositive() {
			return false
		}
	}
	return true
}

// profitProgress is the share of the profit target reached, in percent, floored at zero
func profitProgress(account *models.ChallengeAccount, limits models.RiskLimits) decimal.Decimal {
	if account == nil || !limits.ProfitTarget.IsPositive() {
		return decimal.Zero
	}
	pnl := account.TotalPnL()
	if !pnl.IsPositive() {
		return decimal.Zero
	}
	return pnl.Mul(decimal.NewFromInt(100)).Div(limits.ProfitTarget).Round(2)
}
