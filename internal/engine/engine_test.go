package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/trading-engine/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type mockConfigs struct {
	cfg models.RiskConfigVersion
}

func (m *mockConfigs) Latest() models.RiskConfigVersion { return m.cfg }

type mockPortfolio struct {
	free     map[string]decimal.Decimal
	drawdown decimal.Decimal
}

func (m *mockPortfolio) Free(asset string) decimal.Decimal { return m.free[asset] }
func (m *mockPortfolio) TrailingDrawdown() decimal.Decimal { return m.drawdown }

type mockHistory struct {
	count int
	last  *time.Time
}

func (m *mockHistory) CountOrdersCreatedSince(context.Context, string, time.Time) (int, error) {
	return m.count, nil
}

func (m *mockHistory) LastOrderCreatedAt(context.Context, string) (*time.Time, error) {
	return m.last, nil
}

type mockPnL struct {
	pnl decimal.Decimal
}

func (m *mockPnL) DailyRealizedPnL(time.Time) decimal.Decimal { return m.pnl }

type mockEvents struct {
	mu     sync.Mutex
	events []*models.RiskEvent
}

func (m *mockEvents) Record(_ context.Context, e *models.RiskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockEvents) recorded() []*models.RiskEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*models.RiskEvent, len(m.events))
	copy(cp, m.events)
	return cp
}

type mockPlacer struct {
	mu      sync.Mutex
	intents []models.OrderIntent
	err     error
}

func (m *mockPlacer) Place(_ context.Context, intent models.OrderIntent) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.intents = append(m.intents, intent)
	return &models.Order{
		ClientOrderID: "test-order",
		Symbol:        intent.Symbol,
		Side:          intent.Side,
		Kind:          intent.Kind,
		Status:        models.StatusNew,
		Quantity:      intent.Quantity,
		LimitPrice:    intent.LimitPrice,
	}, nil
}

func (m *mockPlacer) placed() []models.OrderIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]models.OrderIntent, len(m.intents))
	copy(cp, m.intents)
	return cp
}

type mockMarker struct {
	mu        sync.Mutex
	processed map[int64]bool
}

func (m *mockMarker) MarkSignalProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed == nil {
		m.processed = make(map[int64]bool)
	}
	if m.processed[id] {
		return models.ErrSignalAlreadyProcessed
	}
	m.processed[id] = true
	return nil
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	engine    *Engine
	configs   *mockConfigs
	portfolio *mockPortfolio
	history   *mockHistory
	pnl       *mockPnL
	events    *mockEvents
	placer    *mockPlacer
	marker    *mockMarker
}

func newFixture() *fixture {
	f := &fixture{
		configs: &mockConfigs{cfg: models.RiskConfigVersion{
			Version:            1,
			MaxTradesPerDay:    3,
			CooldownSec:        600,
			DailyMaxLoss:       decimal.NewFromInt(100),
			DailyTrailDrawdown: 0.05,
			AdvisorThreshold:   0.6,
		}},
		portfolio: &mockPortfolio{free: map[string]decimal.Decimal{
			"USDT": decimal.NewFromInt(10000),
			"BTC":  decimal.NewFromInt(1),
		}},
		history: &mockHistory{},
		pnl:     &mockPnL{},
		events:  &mockEvents{},
		placer:  &mockPlacer{},
		marker:  &mockMarker{},
	}
	f.engine = New(f.configs, f.portfolio, f.history, f.pnl, f.events, f.placer, f.marker, "USDT", 0.25)
	f.engine.SetClock(func() time.Time {
		return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	})
	return f
}

func buySignal(id int64, strength, confidence float64) *models.TradingSignal {
	return &models.TradingSignal{
		ID:             id,
		Account:        "primary",
		Symbol:         "BTCUSDT",
		Direction:      models.DirectionBuy,
		Strength:       strength,
		Confidence:     confidence,
		ReferencePrice: decimal.NewFromInt(50000),
	}
}

// ---------------------------------------------------------------------------
// Gate tests
// ---------------------------------------------------------------------------

func TestEvaluate_ApprovesAndSizesOrder(t *testing.T) {
	f := newFixture()

	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.NoError(t, err)
	require.True(t, decision.Approved)
	require.NotNil(t, decision.Order)

	// 10000 * 0.25 * 0.8 = 2000 USDT notional at 50000 -> 0.04 BTC.
	intents := f.placer.placed()
	require.Len(t, intents, 1)
	assert.True(t, intents[0].Quantity.Equal(decimal.NewFromFloat(0.04)), "quantity %s", intents[0].Quantity)
	assert.Equal(t, models.OrderKindLimit, intents[0].Kind)
	assert.True(t, intents[0].LimitPrice.Equal(decimal.NewFromInt(50000)))
}

func TestEvaluate_AdvisorGate(t *testing.T) {
	f := newFixture()

	// Confidence 59 against threshold 0.60 gates; 60 exactly passes.
	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 59))
	require.NoError(t, err)
	require.NotNil(t, decision.Rejection)
	assert.Equal(t, models.RejectBelowAdvisorThreshold, decision.Rejection.Reason)
	assert.Empty(t, f.placer.placed())

	decision, err = f.engine.Evaluate(context.Background(), buySignal(2, 80, 60))
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestEvaluate_AdvisorGateExtremes(t *testing.T) {
	// A zero threshold never gates; a threshold of 1 only passes full
	// confidence.
	f := newFixture()
	f.configs.cfg.AdvisorThreshold = 0

	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 0))
	require.NoError(t, err)
	assert.True(t, decision.Approved)

	f = newFixture()
	f.configs.cfg.AdvisorThreshold = 1

	decision, err = f.engine.Evaluate(context.Background(), buySignal(2, 80, 99.99))
	require.NoError(t, err)
	require.NotNil(t, decision.Rejection)
	assert.Equal(t, models.RejectBelowAdvisorThreshold, decision.Rejection.Reason)
	assert.Empty(t, f.placer.placed())

	decision, err = f.engine.Evaluate(context.Background(), buySignal(3, 80, 100))
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestEvaluate_DailyTradeLimitGate(t *testing.T) {
	f := newFixture()
	f.history.count = 3 // at the limit of 3

	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.NoError(t, err)
	require.NotNil(t, decision.Rejection)
	assert.Equal(t, models.RejectDailyTradeLimit, decision.Rejection.Reason)
	assert.Empty(t, f.placer.placed())
}

func TestEvaluate_CooldownGate(t *testing.T) {
	f := newFixture()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	// 599s elapsed against a 600s cooldown gates.
	last := now.Add(-599 * time.Second)
	f.history.last = &last
	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.NoError(t, err)
	require.NotNil(t, decision.Rejection)
	assert.Equal(t, models.RejectCooldownActive, decision.Rejection.Reason)

	// Exactly 600s elapsed is inside the permitted boundary.
	last = now.Add(-600 * time.Second)
	f.history.last = &last
	decision, err = f.engine.Evaluate(context.Background(), buySignal(2, 80, 90))
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestEvaluate_DailyLossGate(t *testing.T) {
	f := newFixture()

	// -99.99 against a limit of 100 still trades.
	f.pnl.pnl = decimal.NewFromFloat(-99.99)
	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.NoError(t, err)
	assert.True(t, decision.Approved)

	// Exactly -100 breaches and records a HIGH severity event.
	f.pnl.pnl = decimal.NewFromInt(-100)
	decision, err = f.engine.Evaluate(context.Background(), buySignal(2, 80, 90))
	require.NoError(t, err)
	require.NotNil(t, decision.Rejection)
	assert.Equal(t, models.RejectDailyLossBreach, decision.Rejection.Reason)

	events := f.events.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.RiskEventDailyLossBreach, events[0].Type)
	assert.Equal(t, models.SeverityHigh, events[0].Severity)
}

func TestEvaluate_DailyLossGateDisabledAtZero(t *testing.T) {
	f := newFixture()
	f.configs.cfg.DailyMaxLoss = decimal.Zero
	f.pnl.pnl = decimal.NewFromInt(-100000)

	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.NoError(t, err)
	assert.True(t, decision.Approved)
}

func TestEvaluate_DrawdownGate(t *testing.T) {
	f := newFixture()

	// Exactly at the 5% limit passes.
	f.portfolio.drawdown = decimal.NewFromFloat(0.05)
	decision, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.NoError(t, err)
	assert.True(t, decision.Approved)

	// Above it breaches with a CRITICAL event.
	f.portfolio.drawdown = decimal.NewFromFloat(0.051)
	decision, err = f.engine.Evaluate(context.Background(), buySignal(2, 80, 90))
	require.NoError(t, err)
	require.NotNil(t, decision.Rejection)
	assert.Equal(t, models.RejectDrawdownBreach, decision.Rejection.Reason)

	events := f.events.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, models.RiskEventDrawdownBreach, events[0].Type)
	assert.Equal(t, models.SeverityCritical, events[0].Severity)
}

func TestEvaluate_HoldNeverPlaces(t *testing.T) {
	f := newFixture()

	signal := buySignal(1, 80, 90)
	signal.Direction = models.DirectionHold
	decision, err := f.engine.Evaluate(context.Background(), signal)
	require.NoError(t, err)
	assert.False(t, decision.Approved)
	assert.Nil(t, decision.Rejection)
	assert.Empty(t, f.placer.placed())

	// The signal is still consumed.
	assert.True(t, signal.Processed)
	assert.True(t, f.marker.processed[1])
}

func TestEvaluate_AlreadyProcessedFailsFast(t *testing.T) {
	f := newFixture()

	signal := buySignal(1, 80, 90)
	_, err := f.engine.Evaluate(context.Background(), signal)
	require.NoError(t, err)

	_, err = f.engine.Evaluate(context.Background(), signal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSignalAlreadyProcessed))
	assert.Len(t, f.placer.placed(), 1)
}

func TestEvaluate_SellSizesFromBaseBalance(t *testing.T) {
	f := newFixture()

	signal := buySignal(1, 40, 90)
	signal.Direction = models.DirectionSell
	decision, err := f.engine.Evaluate(context.Background(), signal)
	require.NoError(t, err)
	require.True(t, decision.Approved)

	// 1 BTC * 0.25 * 0.4 = 0.1 BTC.
	intents := f.placer.placed()
	require.Len(t, intents, 1)
	assert.Equal(t, models.SideSell, intents[0].Side)
	assert.True(t, intents[0].Quantity.Equal(decimal.NewFromFloat(0.1)), "quantity %s", intents[0].Quantity)
}

func TestEvaluate_BuyWithNoQuoteBalance(t *testing.T) {
	f := newFixture()
	f.portfolio.free["USDT"] = decimal.Zero

	_, err := f.engine.Evaluate(context.Background(), buySignal(1, 80, 90))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientBalance))
}

func TestEvaluate_ConcurrentSameAccountSerialized(t *testing.T) {
	f := newFixture()
	f.configs.cfg.CooldownSec = 0
	f.configs.cfg.MaxTradesPerDay = 100

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := f.engine.Evaluate(context.Background(), buySignal(id, 80, 90))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, f.placer.placed(), 20)
}
