package api

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures all API routes
func SetupRoutes(handler *Handler) *mux.Router {
	r := mux.NewRouter()

	// Health, status and metrics
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	r.HandleFunc("/status", handler.Status).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	// Order projections
	api.HandleFunc("/orders/recent", handler.RecentOrders).Methods("GET")
	api.HandleFunc("/orders/active", handler.ActiveOrders).Methods("GET")

	// Risk configuration and events
	api.HandleFunc("/risk/config", handler.GetRiskConfig).Methods("GET")
	api.HandleFunc("/risk/config", handler.PatchRiskConfig).Methods("PATCH")
	api.HandleFunc("/risk/events", handler.ActiveRiskEvents).Methods("GET")
	api.HandleFunc("/risk/events/{id}/resolve", handler.ResolveRiskEvent).Methods("POST")

	// Portfolio and performance projections
	api.HandleFunc("/portfolio", handler.Portfolio).Methods("GET")
	api.HandleFunc("/performance/daily", handler.DailyPerformance).Methods("GET")

	// Signal intake boundary
	api.HandleFunc("/signals", handler.SubmitSignal).Methods("POST")

	// Log tail pass-through
	api.HandleFunc("/logs/tail", handler.TailLogs).Methods("GET")

	return r
}
