// Package observability exposes prometheus counters for the engine's
// decision and order flow.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignalsEvaluated counts evaluations by outcome: approved, rejected, hold.
	SignalsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading_engine",
		Name:      "signals_evaluated_total",
		Help:      "Signals evaluated by the risk engine, labelled by outcome.",
	}, []string{"outcome"})

	// OrdersClosed counts orders reaching a terminal state, by status.
	OrdersClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading_engine",
		Name:      "orders_closed_total",
		Help:      "Orders that reached a terminal state, labelled by status.",
	}, []string{"status"})

	// RiskEventsRecorded counts journal appends by severity.
	RiskEventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trading_engine",
		Name:      "risk_events_recorded_total",
		Help:      "Risk events appended to the journal, labelled by severity.",
	}, []string{"severity"})
)
