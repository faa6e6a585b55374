package risk

import (
	"math"

	"main/internal/ledger"
)

// Size maps a candidate entry onto an order quantity. Pure and deterministic:
// the per-trade risk budget is StartCapital * RiskPerTradePercent; the
// instrument's default lot is reduced to fit the budget, rounded down to a
// lot multiple. Returns 0 when no lot fits the budget or the remaining
// capital, so used capital never exceeds start capital.
func Size(price float64, wallet ledger.WalletView, lotSize int64) int64 {
	if price <= 0 || lotSize <= 0 {
		return 0
	}
	riskAmount := wallet.StartCapital * wallet.RiskPerTradePercent
	if riskAmount <= 0 {
		return 0
	}

	qty := lotSize
	if price*float64(qty) > riskAmount {
		affordable := int64(math.Floor(riskAmount / price))
		qty = (affordable / lotSize) * lotSize
		if qty <= 0 {
			return 0
		}
	}

	available := wallet.StartCapital - wallet.UsedCapital
	if price*float64(qty) > available {
		affordable := int64(math.Floor(available / price))
		qty = (affordable / lotSize) * lotSize
		if qty <= 0 {
			return 0
		}
	}
	return qty
}
