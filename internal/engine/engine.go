// Package engine gates trading signals through the risk policy and turns
// approvals into order intents.
package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
	"github.com/trogers1052/trading-engine/internal/observability"
)

// ConfigProvider supplies the latest committed risk limits.
type ConfigProvider interface {
	Latest() models.RiskConfigVersion
}

// Portfolio is the read surface the gates need from the ledger.
type Portfolio interface {
	Free(asset string) decimal.Decimal
	TrailingDrawdown() decimal.Decimal
}

// OrderHistory answers the trade-count and cooldown gates.
type OrderHistory interface {
	CountOrdersCreatedSince(ctx context.Context, account string, t time.Time) (int, error)
	LastOrderCreatedAt(ctx context.Context, account string) (*time.Time, error)
}

// PnLSource answers the daily-loss gate.
type PnLSource interface {
	DailyRealizedPnL(date time.Time) decimal.Decimal
}

// EventRecorder receives breach events.
type EventRecorder interface {
	Record(ctx context.Context, e *models.RiskEvent) error
}

// Placer converts an approved intent into an exchange order.
type Placer interface {
	Place(ctx context.Context, intent models.OrderIntent) (*models.Order, error)
}

// SignalMarker flips a signal's processed flag exactly once.
type SignalMarker interface {
	MarkSignalProcessed(ctx context.Context, id int64) error
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Approved  bool
	Order     *models.Order           // set when approved and placed
	Rejection *models.PolicyRejection // set when gated
}

// Engine serializes evaluation per account: the whole read-counters ->
// decide -> place sequence runs under the account's lock so two concurrent
// signals can never both pass the trade-count or cooldown gate on a stale
// read. Different accounts evaluate in parallel.
type Engine struct {
	configs ConfigProvider
	ledger  Portfolio
	history OrderHistory
	pnl     PnLSource
	events  EventRecorder
	placer  Placer
	signals SignalMarker

	quoteAsset          string
	maxPositionFraction decimal.Decimal

	mu       sync.Mutex
	accounts map[string]*sync.Mutex
	now      func() time.Time
}

// New wires the risk policy engine.
func New(configs ConfigProvider, ledger Portfolio, history OrderHistory, pnl PnLSource, events EventRecorder, placer Placer, signals SignalMarker, quoteAsset string, maxPositionFraction float64) *Engine {
	if maxPositionFraction <= 0 || maxPositionFraction > 1 {
		maxPositionFraction = 0.25
	}
	return &Engine{
		configs:             configs,
		ledger:              ledger,
		history:             history,
		pnl:                 pnl,
		events:              events,
		placer:              placer,
		signals:             signals,
		quoteAsset:          quoteAsset,
		maxPositionFraction: decimal.NewFromFloat(maxPositionFraction),
		accounts:            make(map[string]*sync.Mutex),
		now:                 time.Now,
	}
}

// SetClock overrides the engine clock (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Evaluate runs a signal through the gates and, on approval, places the
// sized order. Every evaluation marks the signal processed exactly once;
// re-evaluating a processed signal is a programming error and fails fast.
func (e *Engine) Evaluate(ctx context.Context, signal *models.TradingSignal) (Decision, error) {
	if signal.Processed {
		return Decision{}, fmt.Errorf("signal %d: %w", signal.ID, models.ErrSignalAlreadyProcessed)
	}

	lock := e.accountLock(signal.Account)
	lock.Lock()
	defer lock.Unlock()

	if err := e.signals.MarkSignalProcessed(ctx, signal.ID); err != nil {
		return Decision{}, err
	}
	signal.Processed = true

	// HOLD never reaches order placement regardless of gates.
	if signal.Direction == models.DirectionHold {
		observability.SignalsEvaluated.WithLabelValues("hold").Inc()
		return Decision{}, nil
	}

	cfg := e.configs.Latest()
	if rejection, err := e.runGates(ctx, signal, cfg); err != nil {
		return Decision{}, err
	} else if rejection != nil {
		log.Printf("Signal %d gated: %s", signal.ID, rejection.Reason)
		observability.SignalsEvaluated.WithLabelValues("rejected").Inc()
		return Decision{Rejection: rejection}, nil
	}

	intent, err := e.size(signal)
	if err != nil {
		return Decision{}, err
	}
	order, err := e.placer.Place(ctx, intent)
	if err != nil {
		return Decision{}, fmt.Errorf("approved signal %d failed placement: %w", signal.ID, err)
	}
	observability.SignalsEvaluated.WithLabelValues("approved").Inc()
	return Decision{Approved: true, Order: order}, nil
}

// runGates applies the checks in policy order; the first failing gate wins.
func (e *Engine) runGates(ctx context.Context, signal *models.TradingSignal, cfg models.RiskConfigVersion) (*models.PolicyRejection, error) {
	// 1. Advisor gate.
	if signal.Confidence/100 < cfg.AdvisorThreshold {
		return &models.PolicyRejection{
			Reason: models.RejectBelowAdvisorThreshold,
			Detail: fmt.Sprintf("confidence %.1f below advisor threshold %.2f", signal.Confidence, cfg.AdvisorThreshold),
		}, nil
	}

	now := e.now().UTC()
	dayStart := now.Truncate(24 * time.Hour)

	// 2. Daily trade-count gate.
	count, err := e.history.CountOrdersCreatedSince(ctx, signal.Account, dayStart)
	if err != nil {
		return nil, fmt.Errorf("trade-count gate: %w", err)
	}
	if count >= cfg.MaxTradesPerDay {
		return &models.PolicyRejection{
			Reason: models.RejectDailyTradeLimit,
			Detail: fmt.Sprintf("%d orders today, limit %d", count, cfg.MaxTradesPerDay),
		}, nil
	}

	// 3. Cooldown gate, boundary inclusive: exactly COOLDOWN_SEC elapsed permits.
	last, err := e.history.LastOrderCreatedAt(ctx, signal.Account)
	if err != nil {
		return nil, fmt.Errorf("cooldown gate: %w", err)
	}
	if last != nil {
		elapsed := now.Sub(last.UTC())
		cooldown := time.Duration(cfg.CooldownSec) * time.Second
		if elapsed < cooldown {
			return &models.PolicyRejection{
				Reason: models.RejectCooldownActive,
				Detail: fmt.Sprintf("%.0fs since last order, cooldown %ds", elapsed.Seconds(), cfg.CooldownSec),
			}, nil
		}
	}

	// 4. Daily-loss gate: breach at or below -DAILY_MAX_LOSS.
	dailyPnL := e.pnl.DailyRealizedPnL(now)
	if cfg.DailyMaxLoss.IsPositive() && dailyPnL.LessThanOrEqual(cfg.DailyMaxLoss.Neg()) {
		e.recordBreach(ctx, signal, models.RiskEventDailyLossBreach, models.SeverityHigh,
			fmt.Sprintf("daily realized P&L %s at or below limit -%s", dailyPnL, cfg.DailyMaxLoss))
		return &models.PolicyRejection{
			Reason: models.RejectDailyLossBreach,
			Detail: fmt.Sprintf("daily realized P&L %s, limit -%s", dailyPnL, cfg.DailyMaxLoss),
		}, nil
	}

	// 5. Drawdown gate.
	drawdown := e.ledger.TrailingDrawdown()
	limit := decimal.NewFromFloat(cfg.DailyTrailDrawdown)
	if drawdown.GreaterThan(limit) {
		e.recordBreach(ctx, signal, models.RiskEventDrawdownBreach, models.SeverityCritical,
			fmt.Sprintf("trailing drawdown %s exceeds limit %s", drawdown, limit))
		return &models.PolicyRejection{
			Reason: models.RejectDrawdownBreach,
			Detail: fmt.Sprintf("trailing drawdown %s, limit %s", drawdown, limit),
		}, nil
	}

	return nil, nil
}

// size maps signal strength to an order intent: a fraction of the free
// quote balance that grows linearly with strength, capped by the configured
// max-position fraction.
func (e *Engine) size(signal *models.TradingSignal) (models.OrderIntent, error) {
	intent := models.OrderIntent{
		Account:        signal.Account,
		Symbol:         signal.Symbol,
		Kind:           models.OrderKindLimit,
		LimitPrice:     signal.ReferencePrice,
		ReferencePrice: signal.ReferencePrice,
		SignalID:       signal.ID,
	}

	strength := decimal.NewFromFloat(signal.Strength / 100)
	if signal.Direction == models.DirectionBuy {
		intent.Side = models.SideBuy
		freeQuote := e.ledger.Free(e.quoteAsset)
		notional := freeQuote.Mul(e.maxPositionFraction).Mul(strength)
		if !notional.IsPositive() {
			return intent, fmt.Errorf("sizing signal %d: no free %s balance: %w",
				signal.ID, e.quoteAsset, models.ErrInsufficientBalance)
		}
		intent.Quantity = notional.Div(signal.ReferencePrice).Round(8)
		return intent, nil
	}

	intent.Side = models.SideSell
	base := strings.TrimSuffix(signal.Symbol, e.quoteAsset)
	if base == "" || base == signal.Symbol {
		base = signal.Symbol
	}
	freeBase := e.ledger.Free(base)
	qty := freeBase.Mul(e.maxPositionFraction).Mul(strength).Round(8)
	if !qty.IsPositive() {
		return intent, fmt.Errorf("sizing signal %d: no free %s balance: %w",
			signal.ID, base, models.ErrInsufficientBalance)
	}
	intent.Quantity = qty
	return intent, nil
}

func (e *Engine) recordBreach(ctx context.Context, signal *models.TradingSignal, eventType string, severity models.Severity, description string) {
	if e.events == nil {
		return
	}
	event := &models.RiskEvent{
		Type:        eventType,
		Severity:    severity,
		Symbol:      signal.Symbol,
		Description: description,
	}
	if err := e.events.Record(ctx, event); err != nil {
		log.Printf("Warning: failed to record %s event: %v", eventType, err)
	}
}

func (e *Engine) accountLock(account string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.accounts[account]
	if !ok {
		lock = &sync.Mutex{}
		e.accounts[account] = lock
	}
	return lock
}
