package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SignalDirection is the proposed trade direction of a signal.
type SignalDirection string

const (
	DirectionBuy  SignalDirection = "BUY"
	DirectionSell SignalDirection = "SELL"
	DirectionHold SignalDirection = "HOLD"
)

// Valid reports whether d is one of the three enumerated directions.
func (d SignalDirection) Valid() bool {
	switch d {
	case DirectionBuy, DirectionSell, DirectionHold:
		return true
	}
	return false
}

// SignalKind identifies the strategy family that produced a signal.
type SignalKind string

const (
	SignalKindMomentum   SignalKind = "MOMENTUM"
	SignalKindTrend      SignalKind = "TREND"
	SignalKindVolatility SignalKind = "VOLATILITY"
)

// TradingSignal is a proposed trade awaiting risk evaluation. A signal is
// immutable once created; the only transition is unprocessed -> processed.
type TradingSignal struct {
	ID             int64             `json:"id"`
	Account        string            `json:"account"`
	Symbol         string            `json:"symbol"`
	Kind           SignalKind        `json:"kind"`
	Direction      SignalDirection   `json:"direction"`
	Strength       float64           `json:"strength"`   // 0..100
	Confidence     float64           `json:"confidence"` // 0..100
	ReferencePrice decimal.Decimal   `json:"reference_price"`
	Volume         decimal.Decimal   `json:"volume"`
	Indicators     IndicatorSnapshot `json:"indicators"`
	Processed      bool              `json:"is_processed"`
	CreatedAt      time.Time         `json:"created_at"`
}

// IndicatorSnapshot carries the indicator values that backed a signal.
// The payload is a closed set of typed variants keyed by Kind, with Raw as
// the forward-compatibility fallback for kinds this build does not know.
type IndicatorSnapshot struct {
	Kind       SignalKind            `json:"kind"`
	Momentum   *MomentumIndicators   `json:"momentum,omitempty"`
	Trend      *TrendIndicators      `json:"trend,omitempty"`
	Volatility *VolatilityIndicators `json:"volatility,omitempty"`
	Raw        json.RawMessage       `json:"raw,omitempty"`
}

// MomentumIndicators backs MOMENTUM signals.
type MomentumIndicators struct {
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	Oversold   bool    `json:"oversold"`
}

// TrendIndicators backs TREND signals.
type TrendIndicators struct {
	EMAFast   float64 `json:"ema_fast"`
	EMASlow   float64 `json:"ema_slow"`
	ADX       float64 `json:"adx"`
	Uptrend   bool    `json:"uptrend"`
	CrossedUp bool    `json:"crossed_up"`
}

// VolatilityIndicators backs VOLATILITY signals.
type VolatilityIndicators struct {
	ATR            float64 `json:"atr"`
	BollingerUpper float64 `json:"bollinger_upper"`
	BollingerLower float64 `json:"bollinger_lower"`
	Squeeze        bool    `json:"squeeze"`
}

// Validate checks that exactly the variant matching the snapshot kind is set.
// Unknown kinds are accepted only as Raw payloads.
func (s IndicatorSnapshot) Validate() error {
	switch s.Kind {
	case SignalKindMomentum:
		if s.Momentum == nil {
			return fmt.Errorf("indicator snapshot kind %s missing momentum payload", s.Kind)
		}
	case SignalKindTrend:
		if s.Trend == nil {
			return fmt.Errorf("indicator snapshot kind %s missing trend payload", s.Kind)
		}
	case SignalKindVolatility:
		if s.Volatility == nil {
			return fmt.Errorf("indicator snapshot kind %s missing volatility payload", s.Kind)
		}
	default:
		if len(s.Raw) == 0 {
			return fmt.Errorf("unknown indicator snapshot kind %q without raw payload", s.Kind)
		}
		if !json.Valid(s.Raw) {
			return fmt.Errorf("raw indicator payload is not valid JSON")
		}
	}
	return nil
}
