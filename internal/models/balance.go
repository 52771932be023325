package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioBalance is one asset row of the ledger. Total is always derived
// as Free + Locked, never stored independently.
type PortfolioBalance struct {
	Asset     string          `json:"asset"`
	Free      decimal.Decimal `json:"free"`
	Locked    decimal.Decimal `json:"locked"`
	USDValue  decimal.Decimal `json:"usd_value"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Total returns the derived total balance.
func (b PortfolioBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}
