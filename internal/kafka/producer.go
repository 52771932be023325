package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
)

// Producer publishes engine events for downstream consumers (notification
// service, dashboard push).
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a Kafka producer for the events topic
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
	}
	return &Producer{writer: writer}
}

type eventEnvelope struct {
	EventType string      `json:"event_type"`
	Source    string      `json:"source"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PublishOrderEvent publishes an order state transition
func (p *Producer) PublishOrderEvent(ctx context.Context, o *models.Order, transition string) error {
	return p.publish(ctx, o.ClientOrderID, eventEnvelope{
		EventType: "ORDER_" + transition,
		Source:    "trading-engine",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      o,
	})
}

// PublishRiskEvent publishes a recorded risk event
func (p *Producer) PublishRiskEvent(ctx context.Context, e *models.RiskEvent) error {
	return p.publish(ctx, e.Type, eventEnvelope{
		EventType: "RISK_EVENT",
		Source:    "trading-engine",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      e,
	})
}

// PublishExecutionReport publishes a simulated execution report onto the
// executions topic (paper-trading mode only; the live connectivity layer
// produces these itself).
func (p *Producer) PublishExecutionReport(ctx context.Context, clientOrderID, symbol string, cumulativeFilled, avgPrice, commission decimal.Decimal, commissionAsset string) error {
	return p.publish(ctx, clientOrderID, eventEnvelope{
		EventType: "EXECUTION_REPORT",
		Source:    "paper-exchange",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data: ExecutionEventData{
			ClientOrderID:    clientOrderID,
			Symbol:           symbol,
			CumulativeFilled: cumulativeFilled.String(),
			AvgPrice:         avgPrice.String(),
			Commission:       commission.String(),
			CommissionAsset:  commissionAsset,
		},
	})
}

func (p *Producer) publish(ctx context.Context, key string, envelope eventEnvelope) error {
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", envelope.EventType, err)
	}
	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}
