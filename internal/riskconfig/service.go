// Package riskconfig manages the versioned risk limits. Versions are
// immutable; an update commits a new version and the engine always reads
// the latest committed one.
package riskconfig

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/trogers1052/trading-engine/internal/models"
)

// Store is the persistence collaborator for config versions.
type Store interface {
	LatestRiskConfig(ctx context.Context) (*models.RiskConfigVersion, error)
	InsertRiskConfigVersion(ctx context.Context, c *models.RiskConfigVersion) error
}

// Service caches the latest committed version in memory.
type Service struct {
	mu      sync.RWMutex
	current models.RiskConfigVersion
	store   Store
}

// NewService loads the latest committed version, seeding the store with
// defaults when no version exists yet.
func NewService(ctx context.Context, store Store, defaults models.RiskConfigVersion) (*Service, error) {
	cur, err := store.LatestRiskConfig(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		if err := defaults.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default risk config: %w", err)
		}
		if err := store.InsertRiskConfigVersion(ctx, &defaults); err != nil {
			return nil, err
		}
		log.Printf("Seeded risk config version %d", defaults.Version)
		cur = &defaults
	}
	return &Service{current: *cur, store: store}, nil
}

// Latest returns a snapshot of the latest committed version. The returned
// value is passed into each evaluation so a concurrent update never changes
// a decision mid-flight.
func (s *Service) Latest() models.RiskConfigVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update validates the patch against the current version and commits the
// result as a new version. The change applies to future evaluations only.
func (s *Service) Update(ctx context.Context, patch models.RiskConfigPatch) (models.RiskConfigVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := patch.Apply(s.current)
	if err != nil {
		return models.RiskConfigVersion{}, err
	}
	if err := s.store.InsertRiskConfigVersion(ctx, &next); err != nil {
		return models.RiskConfigVersion{}, err
	}
	s.current = next
	log.Printf("Committed risk config version %d", next.Version)
	return next, nil
}
