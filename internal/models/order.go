package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind is the execution type of an order.
type OrderKind string

const (
	OrderKindMarket   OrderKind = "MARKET"
	OrderKindLimit    OrderKind = "LIMIT"
	OrderKindStopLoss OrderKind = "STOP_LOSS"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal reports whether s is a terminal state.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine permits moving from s
// to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case StatusNew:
		return next == StatusPartiallyFilled || next == StatusFilled ||
			next == StatusCancelled || next == StatusRejected
	case StatusPartiallyFilled:
		return next == StatusPartiallyFilled || next == StatusFilled ||
			next == StatusCancelled
	}
	return false
}

// Order is an exchange order owned by the lifecycle manager. FilledQuantity
// is monotonically non-decreasing and never exceeds Quantity.
type Order struct {
	ID              int64           `json:"id"`
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Account         string          `json:"account"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Kind            OrderKind       `json:"kind"`
	Status          OrderStatus     `json:"status"`
	Quantity        decimal.Decimal `json:"quantity"`
	LimitPrice      decimal.Decimal `json:"limit_price,omitempty"`
	FilledQuantity  decimal.Decimal `json:"filled_quantity"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price,omitempty"`
	Commission      decimal.Decimal `json:"commission,omitempty"`
	CommissionAsset string          `json:"commission_asset,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	ExecutedAt      *time.Time      `json:"executed_at,omitempty"`
}

// OrderIntent is an approved, sized trade handed to the lifecycle manager
// by the risk engine.
type OrderIntent struct {
	Account        string
	Symbol         string
	Side           OrderSide
	Kind           OrderKind
	Quantity       decimal.Decimal
	LimitPrice     decimal.Decimal
	ReferencePrice decimal.Decimal
	SignalID       int64
}
