package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceMetric is the per (date, symbol) rollup of realized trade
// outcomes. Rows are upserted as orders close and never deleted.
type PerformanceMetric struct {
	ID          int64           `json:"id"`
	Date        time.Time       `json:"metric_date"`
	Symbol      string          `json:"symbol"`
	PnL         decimal.Decimal `json:"pnl"`
	Volume      decimal.Decimal `json:"volume"`
	TradeCount  int             `json:"trade_count"`
	Winners     int             `json:"winners"`
	Losers      int             `json:"losers"`
	FlatCloses  int             `json:"flat_closes"`
	WinRate     float64         `json:"win_rate"`
	AvgProfit   decimal.Decimal `json:"avg_profit"`
	AvgLoss     decimal.Decimal `json:"avg_loss"`
	MaxDrawdown decimal.Decimal `json:"max_drawdown"`
	SharpeRatio float64         `json:"sharpe_ratio"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// DailySummary aggregates metric rows across symbols for one trading day.
type DailySummary struct {
	Date       time.Time       `json:"date"`
	PnL        decimal.Decimal `json:"pnl"`
	Volume     decimal.Decimal `json:"volume"`
	TradeCount int             `json:"trade_count"`
}
