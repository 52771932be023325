package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/trogers1052/trading-engine/internal/models"
)

// OrderReader serves the dashboard's order projections.
type OrderReader interface {
	RecentOrders(ctx context.Context, limit int) ([]*models.Order, error)
	ActiveOrders(ctx context.Context) ([]*models.Order, error)
}

// ConfigService reads and updates the versioned risk limits.
type ConfigService interface {
	Latest() models.RiskConfigVersion
	Update(ctx context.Context, patch models.RiskConfigPatch) (models.RiskConfigVersion, error)
}

// EventService serves and resolves risk events.
type EventService interface {
	ActiveEvents(ctx context.Context) ([]*models.RiskEvent, error)
	Resolve(ctx context.Context, id int64) error
}

// PerformanceReader serves the daily performance projection.
type PerformanceReader interface {
	MetricsForDate(date time.Time) []*models.PerformanceMetric
	DailySummary(date time.Time) models.DailySummary
}

// PortfolioReader serves the balance projection.
type PortfolioReader interface {
	Snapshot() []models.PortfolioBalance
}

// SignalSubmitter is the intake boundary for upstream strategy services.
type SignalSubmitter interface {
	Submit(ctx context.Context, s *models.TradingSignal) error
}

// Heartbeat reads the engine heartbeat (nil-able, Redis-backed).
type Heartbeat interface {
	GetHeartbeat(ctx context.Context) (time.Time, error)
}

// LogTailer serves recent log lines.
type LogTailer interface {
	Tail(n int) []string
}

// Pinger is a health-checkable dependency.
type Pinger interface {
	Ping() error
}

// StatusInfo is the static part of the /status payload.
type StatusInfo struct {
	Mode        string
	Testnet     bool
	Version     string
	Environment string
	StartedAt   time.Time
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	orders    OrderReader
	config    ConfigService
	events    EventService
	perf      PerformanceReader
	portfolio PortfolioReader
	intake    SignalSubmitter
	heartbeat Heartbeat
	logs      LogTailer
	db        Pinger
	status    StatusInfo
}

// NewHandler creates a new Handler. heartbeat, logs and db may be nil.
func NewHandler(orders OrderReader, config ConfigService, events EventService, perf PerformanceReader, portfolio PortfolioReader, intake SignalSubmitter, heartbeat Heartbeat, logs LogTailer, db Pinger, status StatusInfo) *Handler {
	return &Handler{
		orders:    orders,
		config:    config,
		events:    events,
		perf:      perf,
		portfolio: portfolio,
		intake:    intake,
		heartbeat: heartbeat,
		logs:      logs,
		db:        db,
		status:    status,
	}
}

// Status handles GET /status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var lastHeartbeat string
	if h.heartbeat != nil {
		if hb, err := h.heartbeat.GetHeartbeat(r.Context()); err == nil && !hb.IsZero() {
			lastHeartbeat = hb.Format(time.RFC3339)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"mode":           h.status.Mode,
		"testnet":        h.status.Testnet,
		"uptime_sec":     int(time.Since(h.status.StartedAt).Seconds()),
		"version":        h.status.Version,
		"last_heartbeat": lastHeartbeat,
		"environment":    h.status.Environment,
	})
}

// RecentOrders handles GET /api/v1/orders/recent?limit=N
func (h *Handler) RecentOrders(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	if limit <= 0 || limit > 500 {
		http.Error(w, "limit must be within 1..500", http.StatusBadRequest)
		return
	}
	orders, err := h.orders.RecentOrders(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, orderList(orders))
}

// ActiveOrders handles GET /api/v1/orders/active
func (h *Handler) ActiveOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ActiveOrders(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, orderList(orders))
}

// GetRiskConfig handles GET /api/v1/risk/config
func (h *Handler) GetRiskConfig(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.config.Latest())
}

// PatchRiskConfig handles PATCH /api/v1/risk/config
func (h *Handler) PatchRiskConfig(w http.ResponseWriter, r *http.Request) {
	var patch models.RiskConfigPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	updated, err := h.config.Update(r.Context(), patch)
	if err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// ActiveRiskEvents handles GET /api/v1/risk/events
func (h *Handler) ActiveRiskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ActiveEvents(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// ResolveRiskEvent handles POST /api/v1/risk/events/{id}/resolve
func (h *Handler) ResolveRiskEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	if err := h.events.Resolve(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Portfolio handles GET /api/v1/portfolio
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	balances := h.portfolio.Snapshot()
	out := make([]map[string]interface{}, 0, len(balances))
	for _, b := range balances {
		out = append(out, map[string]interface{}{
			"asset":     b.Asset,
			"free":      b.Free,
			"locked":    b.Locked,
			"total":     b.Total(),
			"usd_value": b.USDValue,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// DailyPerformance handles GET /api/v1/performance/daily?date=YYYY-MM-DD
func (h *Handler) DailyPerformance(w http.ResponseWriter, r *http.Request) {
	date := time.Now().UTC()
	if raw := r.URL.Query().Get("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		date = parsed
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"summary": h.perf.DailySummary(date),
		"symbols": h.perf.MetricsForDate(date),
	})
}

// SubmitSignal handles POST /api/v1/signals
func (h *Handler) SubmitSignal(w http.ResponseWriter, r *http.Request) {
	var signal models.TradingSignal
	if err := json.NewDecoder(r.Body).Decode(&signal); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.intake.Submit(r.Context(), &signal); err != nil {
		var vErr *models.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Error(), http.StatusUnprocessableEntity)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, signal)
}

// TailLogs handles GET /api/v1/logs/tail?lines=N
func (h *Handler) TailLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"lines": []string{}})
		return
	}
	n := queryInt(r, "lines", 100)
	respondJSON(w, http.StatusOK, map[string]interface{}{"lines": h.logs.Tail(n)})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services":  map[string]string{},
	}
	services := health["services"].(map[string]string)
	allHealthy := true

	// Check database
	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	// Check Redis via heartbeat read
	if h.heartbeat != nil {
		if _, err := h.heartbeat.GetHeartbeat(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	if !allHealthy {
		health["status"] = "degraded"
	}
	respondJSON(w, http.StatusOK, health)
}

func orderList(orders []*models.Order) map[string]interface{} {
	if orders == nil {
		orders = []*models.Order{}
	}
	return map[string]interface{}{
		"orders": orders,
		"total":  len(orders),
	}
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return defaultValue
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
