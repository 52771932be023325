// Package intake normalizes and validates incoming trading signals before
// they reach the risk engine. Risk itself is not evaluated here.
package intake

import (
	"context"
	"fmt"
	"strings"

	"github.com/trogers1052/trading-engine/internal/models"
)

// SignalStore is the persistence collaborator for signals.
type SignalStore interface {
	CreateSignal(ctx context.Context, s *models.TradingSignal) error
	UnprocessedSignals(ctx context.Context, afterID int64, limit int) ([]*models.TradingSignal, error)
}

// Intake validates and persists signals and hands the engine a restartable
// sequence of unprocessed ones.
type Intake struct {
	store          SignalStore
	defaultAccount string
}

// New creates an intake. Signals without an account are attributed to
// defaultAccount.
func New(store SignalStore, defaultAccount string) *Intake {
	return &Intake{store: store, defaultAccount: defaultAccount}
}

// Submit validates a signal and persists it as unprocessed. Malformed
// signals are rejected with a ValidationError and never stored.
func (i *Intake) Submit(ctx context.Context, s *models.TradingSignal) error {
	if err := i.validate(s); err != nil {
		return err
	}
	s.Symbol = strings.ToUpper(s.Symbol)
	if s.Account == "" {
		s.Account = i.defaultAccount
	}
	if err := i.store.CreateSignal(ctx, s); err != nil {
		return fmt.Errorf("failed to persist signal: %w", err)
	}
	return nil
}

func (i *Intake) validate(s *models.TradingSignal) error {
	if strings.TrimSpace(s.Symbol) == "" {
		return &models.ValidationError{Field: "symbol", Reason: "is required"}
	}
	if !s.Direction.Valid() {
		return &models.ValidationError{Field: "direction", Reason: fmt.Sprintf("must be BUY, SELL or HOLD, got %q", s.Direction)}
	}
	if s.Strength < 0 || s.Strength > 100 {
		return &models.ValidationError{Field: "strength", Reason: "must be within [0,100]"}
	}
	if s.Confidence < 0 || s.Confidence > 100 {
		return &models.ValidationError{Field: "confidence", Reason: "must be within [0,100]"}
	}
	if s.Direction != models.DirectionHold && !s.ReferencePrice.IsPositive() {
		return &models.ValidationError{Field: "reference_price", Reason: "must be positive for BUY/SELL signals"}
	}
	if s.Volume.IsNegative() {
		return &models.ValidationError{Field: "volume", Reason: "must be non-negative"}
	}
	if err := s.Indicators.Validate(); err != nil {
		return &models.ValidationError{Field: "indicators", Reason: err.Error()}
	}
	return nil
}

// Unprocessed returns a cursor over unprocessed signals in creation order,
// ties broken by insertion id.
func (i *Intake) Unprocessed() *Cursor {
	return &Cursor{store: i.store, batchSize: 50}
}

// Cursor is a lazy, restartable walk of the unprocessed backlog. Each batch
// is re-queried from the last seen id, so a cursor created before a restart
// continues where persistence left off.
type Cursor struct {
	store     SignalStore
	batchSize int
	afterID   int64
	buf       []*models.TradingSignal
}

// Next returns the next unprocessed signal, or nil when the current backlog
// is drained. A drained cursor may be called again later and will pick up
// newly submitted signals.
func (c *Cursor) Next(ctx context.Context) (*models.TradingSignal, error) {
	if len(c.buf) == 0 {
		batch, err := c.store.UnprocessedSignals(ctx, c.afterID, c.batchSize)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch unprocessed signals: %w", err)
		}
		c.buf = batch
	}
	if len(c.buf) == 0 {
		return nil, nil
	}
	s := c.buf[0]
	c.buf = c.buf[1:]
	c.afterID = s.ID
	return s, nil
}

// Reset rewinds the cursor to the start of the backlog.
func (c *Cursor) Reset() {
	c.afterID = 0
	c.buf = nil
}
