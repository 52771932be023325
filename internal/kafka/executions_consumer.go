package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/trading-engine/internal/models"
)

// OrderLifecycle is the interface the consumer drives. Fill application is
// idempotent, so redelivered messages are safe.
type OrderLifecycle interface {
	ApplyFillReport(ctx context.Context, clientOrderID string, cumulativeFilled, avgPrice, commission decimal.Decimal, commissionAsset string) error
	ApplyExchangeCancel(ctx context.Context, clientOrderID string) error
	ApplyExchangeReject(ctx context.Context, clientOrderID, reason string) error
}

// ExecutionEvent is an execution report from the exchange connectivity layer.
type ExecutionEvent struct {
	EventType string             `json:"event_type"`
	Source    string             `json:"source"`
	Timestamp string             `json:"timestamp"`
	Data      ExecutionEventData `json:"data"`
}

// ExecutionEventData carries the report payload.
type ExecutionEventData struct {
	ClientOrderID    string `json:"client_order_id"`
	Symbol           string `json:"symbol"`
	CumulativeFilled string `json:"cumulative_filled,omitempty"`
	AvgPrice         string `json:"avg_price,omitempty"`
	Commission       string `json:"commission,omitempty"`
	CommissionAsset  string `json:"commission_asset,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// ExecutionsConsumer handles consuming execution reports from Kafka
type ExecutionsConsumer struct {
	reader    *kafka.Reader
	lifecycle OrderLifecycle
}

// NewExecutionsConsumer creates a new Kafka consumer for execution reports
func NewExecutionsConsumer(brokers []string, topic, groupID string, lifecycle OrderLifecycle) *ExecutionsConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID + "-executions",
		MinBytes:       10e3, // 10KB
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &ExecutionsConsumer{
		reader:    reader,
		lifecycle: lifecycle,
	}
}

// Start begins consuming messages from Kafka. An in-flight report finishes
// before shutdown so ledger consistency survives a restart.
func (c *ExecutionsConsumer) Start(ctx context.Context) error {
	log.Printf("Starting executions consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			log.Println("Executions consumer shutting down...")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil // Context cancelled, normal shutdown
				}
				log.Printf("Error reading execution message: %v", err)
				continue
			}

			if err := c.processMessage(context.Background(), msg); err != nil {
				log.Printf("Error processing execution message: %v", err)
				// Continue processing other messages
			}
		}
	}
}

// processMessage handles a single Kafka message
func (c *ExecutionsConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event ExecutionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal execution event: %w", err)
	}

	if event.Data.ClientOrderID == "" {
		return fmt.Errorf("execution event without client_order_id")
	}

	switch event.EventType {
	case "EXECUTION_REPORT":
		return c.handleFill(ctx, event)

	case "ORDER_CANCELLED":
		err := c.lifecycle.ApplyExchangeCancel(ctx, event.Data.ClientOrderID)
		if models.IsInvariantViolation(err) {
			log.Printf("Ignoring cancel for %s: %v", event.Data.ClientOrderID, err)
			return nil
		}
		return err

	case "ORDER_REJECTED":
		err := c.lifecycle.ApplyExchangeReject(ctx, event.Data.ClientOrderID, event.Data.Reason)
		if models.IsInvariantViolation(err) {
			log.Printf("Ignoring reject for %s: %v", event.Data.ClientOrderID, err)
			return nil
		}
		return err

	default:
		log.Printf("Ignoring unknown execution event type: %s", event.EventType)
		return nil
	}
}

// handleFill applies one cumulative fill report. Stale and duplicate
// reports are expected from an at-least-once feed and are not errors worth
// failing the message over.
func (c *ExecutionsConsumer) handleFill(ctx context.Context, event ExecutionEvent) error {
	cumulative, err := decimal.NewFromString(event.Data.CumulativeFilled)
	if err != nil {
		return fmt.Errorf("invalid cumulative_filled %q: %w", event.Data.CumulativeFilled, err)
	}
	avgPrice, err := decimal.NewFromString(event.Data.AvgPrice)
	if err != nil {
		return fmt.Errorf("invalid avg_price %q: %w", event.Data.AvgPrice, err)
	}
	commission := decimal.Zero
	if event.Data.Commission != "" {
		commission, err = decimal.NewFromString(event.Data.Commission)
		if err != nil {
			return fmt.Errorf("invalid commission %q: %w", event.Data.Commission, err)
		}
	}

	err = c.lifecycle.ApplyFillReport(ctx, event.Data.ClientOrderID, cumulative, avgPrice, commission, event.Data.CommissionAsset)
	if models.IsInvariantViolation(err) {
		log.Printf("Ignoring out-of-order report for %s: %v", event.Data.ClientOrderID, err)
		return nil
	}
	return err
}

// Close closes the Kafka consumer
func (c *ExecutionsConsumer) Close() error {
	return c.reader.Close()
}
