package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RiskConfigVersion is one immutable committed version of the risk limits.
// Updates never mutate a version; they produce a new one.
type RiskConfigVersion struct {
	Version            int             `json:"version"`
	MaxTradesPerDay    int             `json:"max_trades_per_day"`
	CooldownSec        int             `json:"cooldown_sec"`
	DailyMaxLoss       decimal.Decimal `json:"daily_max_loss"`
	DailyTrailDrawdown float64         `json:"daily_trail_drawdown"`
	AdvisorThreshold   float64         `json:"advisor_threshold"`
	CreatedAt          time.Time       `json:"created_at"`
}

// Validate checks every bound at the boundary. Out-of-range values are
// rejected, never clamped.
func (c RiskConfigVersion) Validate() error {
	if c.MaxTradesPerDay <= 0 {
		return &ValidationError{Field: "max_trades_per_day", Reason: "must be a positive integer"}
	}
	if c.CooldownSec < 0 {
		return &ValidationError{Field: "cooldown_sec", Reason: "must be non-negative"}
	}
	if c.DailyMaxLoss.IsNegative() {
		return &ValidationError{Field: "daily_max_loss", Reason: "must be non-negative"}
	}
	if c.DailyTrailDrawdown < 0 || c.DailyTrailDrawdown > 1 {
		return &ValidationError{Field: "daily_trail_drawdown", Reason: "must be within [0,1]"}
	}
	if c.AdvisorThreshold < 0 || c.AdvisorThreshold > 1 {
		return &ValidationError{Field: "advisor_threshold", Reason: "must be within [0,1]"}
	}
	return nil
}

// RiskConfigPatch is a partial update of the five bounded limits. Nil fields
// are left at their current values.
type RiskConfigPatch struct {
	MaxTradesPerDay    *int             `json:"max_trades_per_day,omitempty"`
	CooldownSec        *int             `json:"cooldown_sec,omitempty"`
	DailyMaxLoss       *decimal.Decimal `json:"daily_max_loss,omitempty"`
	DailyTrailDrawdown *float64         `json:"daily_trail_drawdown,omitempty"`
	AdvisorThreshold   *float64         `json:"advisor_threshold,omitempty"`
}

// Apply overlays the patch on cur and validates the result. The returned
// version number is left for the store to assign.
func (p RiskConfigPatch) Apply(cur RiskConfigVersion) (RiskConfigVersion, error) {
	next := cur
	next.Version = 0
	if p.MaxTradesPerDay != nil {
		next.MaxTradesPerDay = *p.MaxTradesPerDay
	}
	if p.CooldownSec != nil {
		next.CooldownSec = *p.CooldownSec
	}
	if p.DailyMaxLoss != nil {
		next.DailyMaxLoss = *p.DailyMaxLoss
	}
	if p.DailyTrailDrawdown != nil {
		next.DailyTrailDrawdown = *p.DailyTrailDrawdown
	}
	if p.AdvisorThreshold != nil {
		next.AdvisorThreshold = *p.AdvisorThreshold
	}
	if err := next.Validate(); err != nil {
		return RiskConfigVersion{}, fmt.Errorf("invalid risk config update: %w", err)
	}
	return next, nil
}
