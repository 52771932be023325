package engine

import (
	"context"
	"log"
	"time"

	"github.com/trogers1052/trading-engine/internal/models"
)

// SignalSource yields unprocessed signals in creation order; nil means the
// backlog is currently drained.
type SignalSource interface {
	Next(ctx context.Context) (*models.TradingSignal, error)
}

// Run drains the signal backlog on an interval until ctx is cancelled.
// Policy rejections are normal outcomes; invariant violations are logged
// and skipped so one bad signal cannot wedge the loop.
func (e *Engine) Run(ctx context.Context, source SignalSource, interval time.Duration) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Risk engine shutting down...")
			return
		case <-ticker.C:
			e.drain(ctx, source)
		}
	}
}

func (e *Engine) drain(ctx context.Context, source SignalSource) {
	for {
		signal, err := source.Next(ctx)
		if err != nil {
			log.Printf("Error fetching signals: %v", err)
			return
		}
		if signal == nil {
			return
		}

		decision, err := e.Evaluate(ctx, signal)
		switch {
		case err != nil:
			log.Printf("Error evaluating signal %d: %v", signal.ID, err)
		case decision.Approved:
			log.Printf("Signal %d approved: order %s %s %s %s",
				signal.ID, decision.Order.ClientOrderID, decision.Order.Side,
				decision.Order.Quantity, decision.Order.Symbol)
		case decision.Rejection != nil:
			log.Printf("Signal %d rejected: %s", signal.ID, decision.Rejection.Reason)
		}
	}
}
