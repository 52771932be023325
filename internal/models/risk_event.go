package models

import (
	"encoding/json"
	"time"
)

// Severity grades a risk event. The grades are totally ordered; Rank makes
// the ordering explicit for sorting and SQL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal of s, higher meaning more severe. Unknown
// severities rank below LOW.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Risk event types emitted by the core.
const (
	RiskEventDailyLossBreach = "DAILY_LOSS_BREACH"
	RiskEventDrawdownBreach  = "DRAWDOWN_BREACH"
	RiskEventExchangeFailure = "EXCHANGE_FAILURE"
	RiskEventReconcileFailed = "RECONCILIATION_FAILED"
)

// RiskEvent is one entry in the append-only breach journal. The resolved
// transition is the only mutation permitted after creation.
type RiskEvent struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Severity    Severity        `json:"severity"`
	Symbol      string          `json:"symbol,omitempty"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Resolved    bool            `json:"resolved"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}
