// Package riskevents maintains the append-only journal of policy breaches
// and execution anomalies.
package riskevents

import (
	"context"
	"fmt"
	"log"

	"github.com/trogers1052/trading-engine/internal/models"
	"github.com/trogers1052/trading-engine/internal/observability"
)

// EventStore is the persistence collaborator for the journal.
type EventStore interface {
	CreateRiskEvent(ctx context.Context, e *models.RiskEvent) error
	ResolveRiskEvent(ctx context.Context, id int64) error
	ActiveRiskEvents(ctx context.Context) ([]*models.RiskEvent, error)
}

// Publisher forwards recorded events to the notification pipeline.
type Publisher interface {
	PublishRiskEvent(ctx context.Context, e *models.RiskEvent) error
}

// Recorder appends risk events and serves the dashboard's active-event view.
type Recorder struct {
	store     EventStore
	publisher Publisher // optional
}

// NewRecorder creates a recorder backed by store; publisher may be nil.
func NewRecorder(store EventStore, publisher Publisher) *Recorder {
	return &Recorder{store: store, publisher: publisher}
}

// Record appends an event to the journal and publishes it best effort.
func (r *Recorder) Record(ctx context.Context, e *models.RiskEvent) error {
	if e.Type == "" {
		return &models.ValidationError{Field: "type", Reason: "is required"}
	}
	if e.Severity.Rank() == 0 {
		return &models.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", e.Severity)}
	}
	if err := r.store.CreateRiskEvent(ctx, e); err != nil {
		return err
	}
	observability.RiskEventsRecorded.WithLabelValues(string(e.Severity)).Inc()
	log.Printf("Risk event recorded: %s %s %s", e.Severity, e.Type, e.Symbol)

	if r.publisher != nil {
		if err := r.publisher.PublishRiskEvent(ctx, e); err != nil {
			log.Printf("Warning: failed to publish risk event %d: %v", e.ID, err)
		}
	}
	return nil
}

// Resolve marks an event resolved. Resolution is the only permitted
// mutation of an existing record.
func (r *Recorder) Resolve(ctx context.Context, id int64) error {
	return r.store.ResolveRiskEvent(ctx, id)
}

// ActiveEvents returns unresolved events ordered by severity descending,
// then recency descending.
func (r *Recorder) ActiveEvents(ctx context.Context) ([]*models.RiskEvent, error) {
	return r.store.ActiveRiskEvents(ctx)
}
