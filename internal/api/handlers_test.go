package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

type mockOrderReader struct {
	recent []*models.Order
	active []*models.Order
}

func (m *mockOrderReader) RecentOrders(_ context.Context, limit int) ([]*models.Order, error) {
	if limit < len(m.recent) {
		return m.recent[:limit], nil
	}
	return m.recent, nil
}

func (m *mockOrderReader) ActiveOrders(context.Context) ([]*models.Order, error) {
	return m.active, nil
}

type mockConfigService struct {
	current models.RiskConfigVersion
	err     error
}

func (m *mockConfigService) Latest() models.RiskConfigVersion { return m.current }

func (m *mockConfigService) Update(_ context.Context, patch models.RiskConfigPatch) (models.RiskConfigVersion, error) {
	if m.err != nil {
		return models.RiskConfigVersion{}, m.err
	}
	next, err := patch.Apply(m.current)
	if err != nil {
		return models.RiskConfigVersion{}, err
	}
	next.Version = m.current.Version + 1
	m.current = next
	return next, nil
}

type mockEventService struct {
	events   []*models.RiskEvent
	resolved []int64
}

func (m *mockEventService) ActiveEvents(context.Context) ([]*models.RiskEvent, error) {
	return m.events, nil
}

func (m *mockEventService) Resolve(_ context.Context, id int64) error {
	m.resolved = append(m.resolved, id)
	return nil
}

type mockPerf struct {
	summary models.DailySummary
	metrics []*models.PerformanceMetric
}

func (m *mockPerf) MetricsForDate(time.Time) []*models.PerformanceMetric { return m.metrics }
func (m *mockPerf) DailySummary(time.Time) models.DailySummary          { return m.summary }

type mockPortfolioReader struct {
	balances []models.PortfolioBalance
}

func (m *mockPortfolioReader) Snapshot() []models.PortfolioBalance { return m.balances }

type mockSubmitter struct {
	submitted []*models.TradingSignal
	err       error
}

func (m *mockSubmitter) Submit(_ context.Context, s *models.TradingSignal) error {
	if m.err != nil {
		return m.err
	}
	s.ID = int64(len(m.submitted) + 1)
	m.submitted = append(m.submitted, s)
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping() error { return m.err }

func testHandler() (*Handler, *mockConfigService, *mockEventService, *mockSubmitter) {
	config := &mockConfigService{current: models.RiskConfigVersion{
		Version:            1,
		MaxTradesPerDay:    10,
		CooldownSec:        300,
		DailyMaxLoss:       decimal.NewFromInt(100),
		DailyTrailDrawdown: 0.1,
		AdvisorThreshold:   0.6,
	}}
	events := &mockEventService{}
	submitter := &mockSubmitter{}
	h := NewHandler(
		&mockOrderReader{},
		config,
		events,
		&mockPerf{},
		&mockPortfolioReader{},
		submitter,
		nil,
		nil,
		&mockPinger{},
		StatusInfo{Mode: "paper", Testnet: true, Version: "test", StartedAt: time.Now()},
	)
	return h, config, events, submitter
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestRecentOrders_LimitBounds(t *testing.T) {
	h, _, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/recent?limit=501", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/orders/recent", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["total"])
	assert.NotNil(t, body["orders"], "empty list must serialize as [], not null")
}

func TestGetRiskConfig(t *testing.T) {
	h, _, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/risk/config", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var cfg models.RiskConfigVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cfg))
	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, 10, cfg.MaxTradesPerDay)
}

func TestPatchRiskConfig_PartialUpdate(t *testing.T) {
	h, config, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/risk/config",
		bytes.NewBufferString(`{"cooldown_sec": 60}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 2, config.current.Version)
	assert.Equal(t, 60, config.current.CooldownSec)
	assert.Equal(t, 10, config.current.MaxTradesPerDay, "untouched field must carry over")
}

func TestPatchRiskConfig_OutOfRangeIs422(t *testing.T) {
	h, config, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/risk/config",
		bytes.NewBufferString(`{"advisor_threshold": 1.5}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 1, config.current.Version, "invalid patch must not commit")
}

func TestPatchRiskConfig_BadBody(t *testing.T) {
	h, _, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/risk/config",
		bytes.NewBufferString(`{`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveRiskEvents(t *testing.T) {
	h, _, events, _ := testHandler()
	events.events = []*models.RiskEvent{
		{ID: 1, Type: models.RiskEventDrawdownBreach, Severity: models.SeverityCritical},
		{ID: 2, Type: models.RiskEventDailyLossBreach, Severity: models.SeverityHigh},
	}
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/risk/events", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["total"])
}

func TestResolveRiskEvent(t *testing.T) {
	h, _, events, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/risk/events/7/resolve", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []int64{7}, events.resolved)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/risk/events/abc/resolve", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPortfolio_IncludesDerivedTotal(t *testing.T) {
	h, _, _, _ := testHandler()
	h.portfolio = &mockPortfolioReader{balances: []models.PortfolioBalance{
		{Asset: "USDT", Free: decimal.NewFromInt(600), Locked: decimal.NewFromInt(400)},
	}}
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/portfolio", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body, 1)
	assert.Equal(t, "1000", body[0]["total"])
}

func TestDailyPerformance_DateParsing(t *testing.T) {
	h, _, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/performance/daily?date=2026-08-31", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/performance/daily?date=31-08-2026", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitSignal(t *testing.T) {
	h, _, _, submitter := testHandler()
	router := SetupRoutes(h)

	payload := `{
		"symbol": "BTCUSDT",
		"kind": "MOMENTUM",
		"direction": "BUY",
		"strength": 75,
		"confidence": 80,
		"reference_price": "50000",
		"indicators": {"kind": "MOMENTUM", "momentum": {"rsi": 28, "oversold": true}}
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, submitter.submitted, 1)
	assert.Equal(t, "BTCUSDT", submitter.submitted[0].Symbol)
}

func TestSubmitSignal_ValidationIs422(t *testing.T) {
	h, _, _, submitter := testHandler()
	submitter.err = &models.ValidationError{Field: "direction", Reason: "must be BUY, SELL or HOLD"}
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/signals",
		bytes.NewBufferString(`{"symbol": "BTCUSDT", "direction": "LONG"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHealthCheck_DegradedOnDatabaseFailure(t *testing.T) {
	h, _, _, _ := testHandler()
	h.db = &mockPinger{err: assert.AnError}
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
}

func TestStatus(t *testing.T) {
	h, _, _, _ := testHandler()
	router := SetupRoutes(h)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "paper", body["mode"])
	assert.Equal(t, true, body["testnet"])
}
