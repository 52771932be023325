// Package performance rolls realized trade outcomes up into per-day,
// per-symbol metric rows.
package performance

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
)

// MetricStore is the persistence collaborator for metric rows.
type MetricStore interface {
	UpsertMetric(ctx context.Context, m *models.PerformanceMetric) error
}

// MetricHistory supplies previously persisted rows for rehydration after a
// restart.
type MetricHistory interface {
	MetricsSince(ctx context.Context, from time.Time) ([]*models.PerformanceMetric, error)
}

// position is the running cost basis for one symbol: BUY fills accumulate
// at average cost, SELL fills realize against it.
type position struct {
	quantity decimal.Decimal
	cost     decimal.Decimal // total cost of the open quantity
}

// dayKey is a UTC calendar date in 2006-01-02 form.
type dayKey string

type symbolDay struct {
	pnl        decimal.Decimal
	volume     decimal.Decimal
	tradeCount int
	winners    int
	losers     int
	flats      int
	sumProfit  decimal.Decimal
	sumLoss    decimal.Decimal
	cumPnL     decimal.Decimal // intraday cumulative realized P&L
	minCumPnL  decimal.Decimal // most negative cumulative value observed
}

// Aggregator folds closed orders into (date, symbol) metric rows and keeps
// the trailing daily P&L series per symbol for the Sharpe ratio.
type Aggregator struct {
	mu          sync.Mutex
	positions   map[string]*position
	days        map[dayKey]map[string]*symbolDay
	dailySeries map[string]map[dayKey]decimal.Decimal // symbol -> date -> realized P&L

	store      MetricStore // optional
	windowDays int
	now        func() time.Time
}

// NewAggregator creates an aggregator with a trailing Sharpe window of
// windowDays calendar days.
func NewAggregator(store MetricStore, windowDays int) *Aggregator {
	if windowDays < 2 {
		windowDays = 2
	}
	return &Aggregator{
		positions:   make(map[string]*position),
		days:        make(map[dayKey]map[string]*symbolDay),
		dailySeries: make(map[string]map[dayKey]decimal.Decimal),
		store:       store,
		windowDays:  windowDays,
		now:         time.Now,
	}
}

// SetClock overrides the aggregator clock (tests).
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Load restores the day rollups and the Sharpe series from persisted metric
// rows covering the trailing window, so daily loss tracking survives a
// restart. The cost-basis book is not persisted; open positions restart flat.
func (a *Aggregator) Load(ctx context.Context, history MetricHistory) error {
	if history == nil {
		return nil
	}
	from := a.now().UTC().Truncate(24 * time.Hour).AddDate(0, 0, -(a.windowDays - 1))
	metrics, err := history.MetricsSince(ctx, from)
	if err != nil {
		return fmt.Errorf("failed to load performance metrics: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range metrics {
		day := dayKey(m.Date.UTC().Format("2006-01-02"))
		row := a.rowFor(day, m.Symbol)
		row.pnl = m.PnL
		row.volume = m.Volume
		row.tradeCount = m.TradeCount
		row.winners = m.Winners
		row.losers = m.Losers
		row.flats = m.FlatCloses
		if m.Winners > 0 {
			row.sumProfit = m.AvgProfit.Mul(decimal.NewFromInt(int64(m.Winners)))
		}
		if m.Losers > 0 {
			row.sumLoss = m.AvgLoss.Mul(decimal.NewFromInt(int64(m.Losers)))
		}
		row.cumPnL = m.PnL
		row.minCumPnL = m.MaxDrawdown

		if m.Winners+m.Losers+m.FlatCloses > 0 {
			series, ok := a.dailySeries[m.Symbol]
			if !ok {
				series = make(map[dayKey]decimal.Decimal)
				a.dailySeries[m.Symbol] = series
			}
			series[day] = m.PnL
		}
	}
	return nil
}

// OnOrderClosed folds a terminal order into the metric row for its UTC day.
// Orders that never filled carry no realized outcome and are ignored.
func (a *Aggregator) OnOrderClosed(ctx context.Context, o *models.Order) {
	if o == nil || o.FilledQuantity.IsZero() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	realized := a.applyFill(o)
	day := dayKey(a.now().UTC().Format("2006-01-02"))
	row := a.rowFor(day, o.Symbol)

	row.tradeCount++
	row.volume = row.volume.Add(o.FilledQuantity.Mul(o.AvgFillPrice))

	if o.Side == models.SideSell {
		row.pnl = row.pnl.Add(realized)
		row.cumPnL = row.cumPnL.Add(realized)
		if row.cumPnL.LessThan(row.minCumPnL) {
			row.minCumPnL = row.cumPnL
		}
		switch {
		case realized.IsPositive():
			row.winners++
			row.sumProfit = row.sumProfit.Add(realized)
		case realized.IsNegative():
			row.losers++
			row.sumLoss = row.sumLoss.Add(realized)
		default:
			// Flat close counts toward the win-rate denominator but must
			// not dilute the loss average.
			row.flats++
		}

		series, ok := a.dailySeries[o.Symbol]
		if !ok {
			series = make(map[dayKey]decimal.Decimal)
			a.dailySeries[o.Symbol] = series
		}
		series[day] = series[day].Add(realized)
	}

	metric := a.metricFor(day, o.Symbol, row)
	if a.store != nil {
		if err := a.store.UpsertMetric(ctx, metric); err != nil {
			log.Printf("Warning: failed to persist metric %s/%s: %v", day, o.Symbol, err)
		}
	}
}

// applyFill updates the cost-basis book and returns the realized P&L of the
// fill (zero for BUY). Commission paid in the quote currency reduces the
// realized figure.
func (a *Aggregator) applyFill(o *models.Order) decimal.Decimal {
	pos, ok := a.positions[o.Symbol]
	if !ok {
		pos = &position{}
		a.positions[o.Symbol] = pos
	}

	if o.Side == models.SideBuy {
		pos.quantity = pos.quantity.Add(o.FilledQuantity)
		pos.cost = pos.cost.Add(o.FilledQuantity.Mul(o.AvgFillPrice)).Add(o.Commission)
		return decimal.Zero
	}

	// SELL: realize proceeds against average cost for the closed quantity.
	closeQty := o.FilledQuantity
	var avgCost decimal.Decimal
	if pos.quantity.IsPositive() {
		avgCost = pos.cost.Div(pos.quantity)
		if closeQty.GreaterThan(pos.quantity) {
			closeQty = pos.quantity
		}
		pos.cost = pos.cost.Sub(avgCost.Mul(closeQty))
		pos.quantity = pos.quantity.Sub(closeQty)
	}
	proceeds := o.FilledQuantity.Mul(o.AvgFillPrice)
	return proceeds.Sub(avgCost.Mul(o.FilledQuantity)).Sub(o.Commission)
}

// DailyRealizedPnL returns the realized P&L across symbols for one UTC day.
func (a *Aggregator) DailyRealizedPnL(date time.Time) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := decimal.Zero
	for _, row := range a.days[dayKey(date.UTC().Format("2006-01-02"))] {
		total = total.Add(row.pnl)
	}
	return total
}

// DailySummary aggregates metric rows across symbols for one UTC day.
func (a *Aggregator) DailySummary(date time.Time) models.DailySummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	day := date.UTC().Truncate(24 * time.Hour)
	summary := models.DailySummary{Date: day}
	for _, row := range a.days[dayKey(day.Format("2006-01-02"))] {
		summary.PnL = summary.PnL.Add(row.pnl)
		summary.Volume = summary.Volume.Add(row.volume)
		summary.TradeCount += row.tradeCount
	}
	return summary
}

// MetricsForDate returns the current rollup rows for one UTC day, sorted by
// symbol.
func (a *Aggregator) MetricsForDate(date time.Time) []*models.PerformanceMetric {
	a.mu.Lock()
	defer a.mu.Unlock()
	day := dayKey(date.UTC().Format("2006-01-02"))
	symbols := make([]string, 0, len(a.days[day]))
	for symbol := range a.days[day] {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := make([]*models.PerformanceMetric, 0, len(symbols))
	for _, symbol := range symbols {
		out = append(out, a.metricFor(day, symbol, a.days[day][symbol]))
	}
	return out
}

func (a *Aggregator) rowFor(day dayKey, symbol string) *symbolDay {
	rows, ok := a.days[day]
	if !ok {
		rows = make(map[string]*symbolDay)
		a.days[day] = rows
	}
	row, ok := rows[symbol]
	if !ok {
		row = &symbolDay{}
		rows[symbol] = row
	}
	return row
}

// metricFor derives the exported metric row; callers hold a.mu.
func (a *Aggregator) metricFor(day dayKey, symbol string, row *symbolDay) *models.PerformanceMetric {
	date, _ := time.Parse("2006-01-02", string(day))
	m := &models.PerformanceMetric{
		Date:        date,
		Symbol:      symbol,
		PnL:         row.pnl,
		Volume:      row.volume,
		TradeCount:  row.tradeCount,
		Winners:     row.winners,
		Losers:      row.losers,
		FlatCloses:  row.flats,
		MaxDrawdown: row.minCumPnL,
		SharpeRatio: a.sharpe(symbol, day),
	}
	if closed := row.winners + row.losers + row.flats; closed > 0 {
		m.WinRate = float64(row.winners) / float64(closed)
	}
	if row.winners > 0 {
		m.AvgProfit = row.sumProfit.Div(decimal.NewFromInt(int64(row.winners)))
	}
	if row.losers > 0 {
		m.AvgLoss = row.sumLoss.Div(decimal.NewFromInt(int64(row.losers)))
	}
	return m
}

// sharpe computes mean/population-stdev of the symbol's daily P&L over the
// trailing window ending at day. Defined as 0 with fewer than 2 samples.
func (a *Aggregator) sharpe(symbol string, day dayKey) float64 {
	series := a.dailySeries[symbol]
	if len(series) < 2 {
		return 0
	}
	end, err := time.Parse("2006-01-02", string(day))
	if err != nil {
		return 0
	}
	start := end.AddDate(0, 0, -(a.windowDays - 1))

	var samples []float64
	for d, pnl := range series {
		t, err := time.Parse("2006-01-02", string(d))
		if err != nil {
			continue
		}
		if !t.Before(start) && !t.After(end) {
			v, _ := pnl.Float64()
			samples = append(samples, v)
		}
	}
	if len(samples) < 2 {
		return 0
	}

	mean := 0.0
	for _, v := range samples {
		mean += v
	}
	mean /= float64(len(samples))

	variance := 0.0
	for _, v := range samples {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(samples))
	if variance == 0 {
		return 0
	}
	return mean / math.Sqrt(variance)
}
