// Package exchange provides the paper-trading implementation of the
// lifecycle manager's Exchange interface. Orders are accepted immediately
// and filled by publishing execution reports onto the executions topic, so
// the fill path exercises the same consumer the live venue would.
package exchange

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
	"github.com/trogers1052/trading-engine/internal/orders"
)

// ReportPublisher delivers simulated execution reports.
type ReportPublisher interface {
	PublishExecutionReport(ctx context.Context, clientOrderID, symbol string, cumulativeFilled, avgPrice, commission decimal.Decimal, commissionAsset string) error
}

// Paper simulates an exchange that fills limit orders at their limit price
// after a short latency.
type Paper struct {
	mu        sync.Mutex
	seq       int64
	accepted  map[string]string // client order id -> exchange order id
	cancelled map[string]bool

	reports    ReportPublisher
	quoteAsset string
	latency    time.Duration
	feeRate    decimal.Decimal
}

// NewPaper creates a paper exchange. reports may be nil, in which case
// orders are accepted but never fill.
func NewPaper(reports ReportPublisher, quoteAsset string, latency time.Duration) *Paper {
	return &Paper{
		accepted:   make(map[string]string),
		cancelled:  make(map[string]bool),
		reports:    reports,
		quoteAsset: quoteAsset,
		latency:    latency,
		feeRate:    decimal.NewFromFloat(0.001), // 10 bps taker fee
	}
}

// PlaceOrder accepts the order and schedules its fill.
func (p *Paper) PlaceOrder(ctx context.Context, o *models.Order) (string, error) {
	price := o.LimitPrice
	if !price.IsPositive() {
		return "", fmt.Errorf("paper exchange requires a limit price on %s", o.ClientOrderID)
	}

	p.mu.Lock()
	p.seq++
	exchangeID := fmt.Sprintf("SIM-%d", p.seq)
	p.accepted[o.ClientOrderID] = exchangeID
	p.mu.Unlock()

	if p.reports != nil {
		go p.fill(o.ClientOrderID, o.Symbol, o.Quantity, price)
	}
	return exchangeID, nil
}

// CancelOrder marks the order cancelled so a pending fill is dropped.
func (p *Paper) CancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.accepted[clientOrderID]; !ok {
		return fmt.Errorf("unknown order %s", clientOrderID)
	}
	p.cancelled[clientOrderID] = true
	return nil
}

// QueryOrder answers reconciliation lookups.
func (p *Paper) QueryOrder(ctx context.Context, symbol, clientOrderID string) (*orders.ExchangeOrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	exchangeID, ok := p.accepted[clientOrderID]
	return &orders.ExchangeOrderState{ExchangeOrderID: exchangeID, Found: ok}, nil
}

func (p *Paper) fill(clientOrderID, symbol string, quantity, price decimal.Decimal) {
	time.Sleep(p.latency)

	p.mu.Lock()
	dropped := p.cancelled[clientOrderID]
	p.mu.Unlock()
	if dropped {
		return
	}

	commission := quantity.Mul(price).Mul(p.feeRate)
	err := p.reports.PublishExecutionReport(context.Background(),
		clientOrderID, symbol, quantity, price, commission, p.quoteAsset)
	if err != nil {
		log.Printf("Warning: paper exchange failed to publish fill for %s: %v", clientOrderID, err)
	}
}
