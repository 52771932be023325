// Package orders owns the order state machine and the exchange interaction.
//
// States: NEW -> PARTIALLY_FILLED -> FILLED, NEW -> FILLED, NEW or
// PARTIALLY_FILLED -> CANCELLED, NEW -> REJECTED. FILLED, CANCELLED and
// REJECTED are terminal.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
	"github.com/trogers1052/trading-engine/internal/observability"
)

// ExchangeOrderState is the exchange's answer to an order query during
// reconciliation.
type ExchangeOrderState struct {
	ExchangeOrderID string
	Found           bool
}

// Exchange is the narrow interface to the external connectivity layer.
type Exchange interface {
	PlaceOrder(ctx context.Context, o *models.Order) (exchangeOrderID string, err error)
	CancelOrder(ctx context.Context, symbol, clientOrderID string) error
	QueryOrder(ctx context.Context, symbol, clientOrderID string) (*ExchangeOrderState, error)
}

// OrderStore is the persistence collaborator for orders.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	UpdateOrderExecution(ctx context.Context, o *models.Order) error
	GetOrderByClientID(ctx context.Context, clientOrderID string) (*models.Order, error)
}

// Ledger receives the reserve/release/settle effects of state transitions.
type Ledger interface {
	Reserve(ctx context.Context, asset string, amount decimal.Decimal) error
	Release(ctx context.Context, asset string, amount decimal.Decimal) error
	Settle(ctx context.Context, debitAsset string, debitAmount decimal.Decimal, creditAsset string, creditAmount decimal.Decimal) error
}

// Closer is notified when an order reaches a terminal state.
type Closer interface {
	OnOrderClosed(ctx context.Context, o *models.Order)
}

// EventRecorder receives risk events for execution failures.
type EventRecorder interface {
	Record(ctx context.Context, e *models.RiskEvent) error
}

// Publisher forwards order transitions to the event topic (optional).
type Publisher interface {
	PublishOrderEvent(ctx context.Context, o *models.Order, transition string) error
}

// Options tunes exchange timeouts and reconciliation.
type Options struct {
	QuoteAsset        string
	ExchangeTimeout   time.Duration
	ReconcileAttempts int
	ReconcileBackoff  time.Duration
}

type orderState struct {
	mu            sync.Mutex
	order         *models.Order
	reserved      decimal.Decimal // reservation not yet consumed or released
	reservedAsset string
}

// Manager owns all orders exclusively. Fill application is serialized per
// order, not per account, so it stays off the engine's evaluation path.
type Manager struct {
	mu     sync.Mutex
	states map[string]*orderState

	exchange  Exchange
	store     OrderStore
	ledger    Ledger
	closer    Closer
	events    EventRecorder
	publisher Publisher
	opts      Options

	reconciling sync.WaitGroup
	now         func() time.Time
}

// NewManager wires the lifecycle manager. closer, events and publisher may
// be nil.
func NewManager(exchange Exchange, store OrderStore, ledger Ledger, closer Closer, events EventRecorder, publisher Publisher, opts Options) *Manager {
	if opts.ExchangeTimeout <= 0 {
		opts.ExchangeTimeout = 5 * time.Second
	}
	if opts.ReconcileAttempts <= 0 {
		opts.ReconcileAttempts = 5
	}
	if opts.ReconcileBackoff <= 0 {
		opts.ReconcileBackoff = 2 * time.Second
	}
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	return &Manager{
		states:    make(map[string]*orderState),
		exchange:  exchange,
		store:     store,
		ledger:    ledger,
		closer:    closer,
		events:    events,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// SetClock overrides the manager clock (tests).
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Place converts an approved intent into a NEW order: reserves balance,
// persists the order, then submits it to the exchange. A timed-out exchange
// call leaves the order NEW and schedules reconciliation, since the exchange
// may have accepted it.
func (m *Manager) Place(ctx context.Context, intent models.OrderIntent) (*models.Order, error) {
	if !intent.Quantity.IsPositive() {
		return nil, &models.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if intent.Kind == models.OrderKindLimit && !intent.LimitPrice.IsPositive() {
		return nil, &models.ValidationError{Field: "limit_price", Reason: "required for LIMIT orders"}
	}

	order := &models.Order{
		ClientOrderID:  uuid.NewString(),
		Account:        intent.Account,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Kind:           intent.Kind,
		Status:         models.StatusNew,
		Quantity:       intent.Quantity,
		LimitPrice:     intent.LimitPrice,
		FilledQuantity: decimal.Zero,
	}

	reservedAsset, reserved := m.reservation(intent)
	if err := m.ledger.Reserve(ctx, reservedAsset, reserved); err != nil {
		return nil, fmt.Errorf("placement rejected: %w", err)
	}
	if err := m.store.CreateOrder(ctx, order); err != nil {
		m.releaseQuiet(ctx, reservedAsset, reserved)
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	state := &orderState{order: order, reserved: reserved, reservedAsset: reservedAsset}
	m.mu.Lock()
	m.states[order.ClientOrderID] = state
	m.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, m.opts.ExchangeTimeout)
	exchangeID, err := m.exchange.PlaceOrder(callCtx, order)
	cancel()

	switch {
	case err == nil:
		state.mu.Lock()
		order.ExchangeOrderID = exchangeID
		m.persist(ctx, order)
		state.mu.Unlock()
		m.publish(ctx, order, "PLACED")
		return order, nil

	case errors.Is(err, context.DeadlineExceeded):
		// The exchange may have accepted the order; never assume failure.
		log.Printf("Exchange place timed out for %s, scheduling reconciliation", order.ClientOrderID)
		m.reconciling.Add(1)
		go m.reconcile(order.ClientOrderID)
		return order, nil

	default:
		m.rejectLocked(ctx, state, fmt.Sprintf("exchange rejected order: %v", err))
		return nil, &models.ExecutionFailure{Op: "place", Err: err}
	}
}

// reservation computes what a pending order locks: BUY locks the quote cost
// at the limit or reference price, SELL locks the base quantity.
func (m *Manager) reservation(intent models.OrderIntent) (string, decimal.Decimal) {
	base, quote := m.splitSymbol(intent.Symbol)
	if intent.Side == models.SideSell {
		return base, intent.Quantity
	}
	price := intent.LimitPrice
	if !price.IsPositive() {
		price = intent.ReferencePrice
	}
	return quote, intent.Quantity.Mul(price)
}

// ApplyFillReport applies a cumulative execution report. Reports are
// idempotent: equal cumulative quantity is a no-op, lower is rejected as
// stale, and replaying the same report never changes ledger state twice.
func (m *Manager) ApplyFillReport(ctx context.Context, clientOrderID string, cumulativeFilled, avgPrice, commission decimal.Decimal, commissionAsset string) error {
	state, err := m.state(ctx, clientOrderID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	order := state.order

	switch {
	case cumulativeFilled.Equal(order.FilledQuantity):
		return nil // duplicate report
	case cumulativeFilled.LessThan(order.FilledQuantity):
		return fmt.Errorf("order %s: cumulative %s < recorded %s: %w",
			clientOrderID, cumulativeFilled, order.FilledQuantity, models.ErrStaleFillReport)
	case cumulativeFilled.GreaterThan(order.Quantity):
		return fmt.Errorf("order %s: cumulative %s exceeds requested %s: %w",
			clientOrderID, cumulativeFilled, order.Quantity, models.ErrInvalidTransition)
	case order.Status.Terminal():
		return fmt.Errorf("order %s: fill report in terminal state %s: %w",
			clientOrderID, order.Status, models.ErrInvalidTransition)
	case !avgPrice.IsPositive():
		return &models.ValidationError{Field: "avg_price", Reason: "must be positive"}
	}

	delta := cumulativeFilled.Sub(order.FilledQuantity)
	if err := m.settleFill(ctx, state, delta, avgPrice); err != nil {
		return err
	}

	order.FilledQuantity = cumulativeFilled
	order.AvgFillPrice = avgPrice
	order.Commission = commission
	order.CommissionAsset = commissionAsset

	if cumulativeFilled.Equal(order.Quantity) {
		order.Status = models.StatusFilled
		executed := m.now()
		order.ExecutedAt = &executed
		// Unconsumed reservation (price improvement on a BUY) goes back to free.
		m.releaseQuiet(ctx, state.reservedAsset, state.reserved)
		state.reserved = decimal.Zero
	} else {
		order.Status = models.StatusPartiallyFilled
	}

	m.persist(ctx, order)
	if order.Status == models.StatusFilled {
		m.publish(ctx, order, "FILLED")
		m.notifyClosed(ctx, order)
	} else {
		m.publish(ctx, order, "PARTIALLY_FILLED")
	}
	return nil
}

// settleFill consumes reservation for the filled delta and credits the
// received asset as one ledger transaction.
func (m *Manager) settleFill(ctx context.Context, state *orderState, delta, avgPrice decimal.Decimal) error {
	order := state.order
	base, quote := m.splitSymbol(order.Symbol)

	if order.Side == models.SideBuy {
		cost := delta.Mul(avgPrice)
		if cost.GreaterThan(state.reserved) {
			cost = state.reserved
		}
		if err := m.ledger.Settle(ctx, quote, cost, base, delta); err != nil {
			return fmt.Errorf("failed to settle fill for %s: %w", order.ClientOrderID, err)
		}
		state.reserved = state.reserved.Sub(cost)
		return nil
	}

	proceeds := delta.Mul(avgPrice)
	if err := m.ledger.Settle(ctx, base, delta, quote, proceeds); err != nil {
		return fmt.Errorf("failed to settle fill for %s: %w", order.ClientOrderID, err)
	}
	state.reserved = state.reserved.Sub(delta)
	return nil
}

// Cancel cancels an order on the exchange and applies the local transition.
// Only NEW and PARTIALLY_FILLED orders may be cancelled; the filled portion
// of a partial order stays intact and the remaining reservation is released.
func (m *Manager) Cancel(ctx context.Context, clientOrderID string) error {
	state, err := m.state(ctx, clientOrderID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.order.Status.Terminal() {
		return fmt.Errorf("order %s: cancel in terminal state %s: %w",
			clientOrderID, state.order.Status, models.ErrInvalidTransition)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.opts.ExchangeTimeout)
	err = m.exchange.CancelOrder(callCtx, state.order.Symbol, clientOrderID)
	cancel()
	if err != nil {
		return &models.ExecutionFailure{Op: "cancel", Err: err}
	}

	m.cancelLocked(ctx, state)
	return nil
}

// ApplyExchangeCancel applies an exchange-initiated cancel (expiry, manual
// cancel on the venue) without calling back out.
func (m *Manager) ApplyExchangeCancel(ctx context.Context, clientOrderID string) error {
	state, err := m.state(ctx, clientOrderID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.order.Status == models.StatusCancelled {
		return nil // duplicate
	}
	if state.order.Status.Terminal() {
		return fmt.Errorf("order %s: cancel in terminal state %s: %w",
			clientOrderID, state.order.Status, models.ErrInvalidTransition)
	}
	m.cancelLocked(ctx, state)
	return nil
}

// ApplyExchangeReject applies an exchange-side rejection of a NEW order.
func (m *Manager) ApplyExchangeReject(ctx context.Context, clientOrderID, reason string) error {
	state, err := m.state(ctx, clientOrderID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if state.order.Status == models.StatusRejected {
		return nil // duplicate
	}
	if state.order.Status != models.StatusNew {
		return fmt.Errorf("order %s: reject in state %s: %w",
			clientOrderID, state.order.Status, models.ErrInvalidTransition)
	}
	m.rejectStateLocked(ctx, state, reason)
	return nil
}

// cancelLocked finishes a cancel; callers hold state.mu.
func (m *Manager) cancelLocked(ctx context.Context, state *orderState) {
	order := state.order
	m.releaseQuiet(ctx, state.reservedAsset, state.reserved)
	state.reserved = decimal.Zero
	order.Status = models.StatusCancelled
	m.persist(ctx, order)
	m.publish(ctx, order, "CANCELLED")
	m.notifyClosed(ctx, order)
}

func (m *Manager) rejectLocked(ctx context.Context, state *orderState, reason string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	m.rejectStateLocked(ctx, state, reason)
}

// rejectStateLocked finishes a rejection; callers hold state.mu.
func (m *Manager) rejectStateLocked(ctx context.Context, state *orderState, reason string) {
	order := state.order
	m.releaseQuiet(ctx, state.reservedAsset, state.reserved)
	state.reserved = decimal.Zero
	order.Status = models.StatusRejected
	m.persist(ctx, order)
	log.Printf("Order %s rejected: %s", order.ClientOrderID, reason)
	m.publish(ctx, order, "REJECTED")
	m.notifyClosed(ctx, order)
}

// reconcile re-queries the exchange after a placement timeout with bounded
// exponential backoff. Exhaustion leaves the order NEW for manual
// reconciliation and records a CRITICAL risk event.
func (m *Manager) reconcile(clientOrderID string) {
	defer m.reconciling.Done()
	ctx := context.Background()

	state, err := m.state(ctx, clientOrderID)
	if err != nil {
		log.Printf("Reconciliation skipped for %s: %v", clientOrderID, err)
		return
	}

	state.mu.Lock()
	symbol := state.order.Symbol
	state.mu.Unlock()

	backoff := m.opts.ReconcileBackoff
	for attempt := 1; attempt <= m.opts.ReconcileAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, m.opts.ExchangeTimeout)
		result, err := m.exchange.QueryOrder(callCtx, symbol, clientOrderID)
		cancel()

		if err == nil {
			state.mu.Lock()
			if result.Found {
				state.order.ExchangeOrderID = result.ExchangeOrderID
				m.persist(ctx, state.order)
				m.publish(ctx, state.order, "PLACED")
				state.mu.Unlock()
				log.Printf("Reconciled order %s after %d attempt(s)", clientOrderID, attempt)
			} else if state.order.Status == models.StatusNew {
				m.rejectStateLocked(ctx, state, "exchange never received order")
				state.mu.Unlock()
			} else {
				state.mu.Unlock()
			}
			return
		}

		log.Printf("Reconciliation attempt %d/%d for %s failed: %v",
			attempt, m.opts.ReconcileAttempts, clientOrderID, err)
		time.Sleep(backoff)
		backoff *= 2
	}

	if m.events != nil {
		// A fill or cancel may have landed while the queries were failing;
		// read the status under the order lock.
		state.mu.Lock()
		status := state.order.Status
		state.mu.Unlock()
		event := &models.RiskEvent{
			Type:        models.RiskEventReconcileFailed,
			Severity:    models.SeverityCritical,
			Symbol:      symbol,
			Description: fmt.Sprintf("order %s unreconciled after %d attempts; left in %s for manual review", clientOrderID, m.opts.ReconcileAttempts, status),
		}
		if err := m.events.Record(ctx, event); err != nil {
			log.Printf("Warning: failed to record reconciliation event: %v", err)
		}
	}
}

// Drain blocks until in-flight reconciliation work has finished.
func (m *Manager) Drain() {
	m.reconciling.Wait()
}

// state returns the in-memory order state, rebuilding it from the store
// after a restart. The rebuilt reservation is the unfilled remainder at the
// best known price.
func (m *Manager) state(ctx context.Context, clientOrderID string) (*orderState, error) {
	m.mu.Lock()
	if s, ok := m.states[clientOrderID]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	order, err := m.store.GetOrderByClientID(ctx, clientOrderID)
	if err != nil {
		return nil, err
	}

	state := &orderState{order: order}
	if !order.Status.Terminal() {
		remaining := order.Quantity.Sub(order.FilledQuantity)
		base, quote := m.splitSymbol(order.Symbol)
		if order.Side == models.SideSell {
			state.reservedAsset, state.reserved = base, remaining
		} else {
			price := order.LimitPrice
			if !price.IsPositive() {
				price = order.AvgFillPrice
			}
			state.reservedAsset, state.reserved = quote, remaining.Mul(price)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[clientOrderID]; ok {
		return s, nil
	}
	m.states[clientOrderID] = state
	return state, nil
}

func (m *Manager) splitSymbol(symbol string) (base, quote string) {
	quote = m.opts.QuoteAsset
	base = strings.TrimSuffix(symbol, quote)
	if base == symbol || base == "" {
		// Symbol does not end in the configured quote asset; treat the
		// whole symbol as the base leg.
		base = symbol
	}
	return base, quote
}

func (m *Manager) persist(ctx context.Context, order *models.Order) {
	if err := m.store.UpdateOrderExecution(ctx, order); err != nil {
		log.Printf("Warning: failed to persist order %s: %v", order.ClientOrderID, err)
	}
}

func (m *Manager) releaseQuiet(ctx context.Context, asset string, amount decimal.Decimal) {
	if amount.IsZero() || asset == "" {
		return
	}
	if err := m.ledger.Release(ctx, asset, amount); err != nil {
		log.Printf("Warning: failed to release %s %s: %v", amount, asset, err)
	}
}

func (m *Manager) notifyClosed(ctx context.Context, order *models.Order) {
	observability.OrdersClosed.WithLabelValues(string(order.Status)).Inc()
	if m.closer != nil {
		m.closer.OnOrderClosed(ctx, order)
	}
}

func (m *Manager) publish(ctx context.Context, order *models.Order, transition string) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishOrderEvent(ctx, order, transition); err != nil {
		log.Printf("Warning: failed to publish order event %s/%s: %v", order.ClientOrderID, transition, err)
	}
}
