// Package merchants serves the merchant risk registry with cache-backed
// lookups for the scoring hot path.
package merchants

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/shrike/internal/domain"
	"github.com/opensource-finance/shrike/internal/signals"
)

// Service fronts the merchant risk registry. Reads go through the cache:
// both listed and unlisted merchants are cached so the repository is not hit
// once per transaction.
type Service struct {
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a merchant risk service.
func NewService(repo domain.Repository, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		repo:   repo,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Risk resolves a merchant's registry risk score, cache first.
func (s *Service) Risk(ctx context.Context, merchantID string) (float64, bool, error) {
	if merchantID == "" {
		return 0, false, nil
	}

	if entry, err := s.cache.GetRisk(ctx, merchantID); err == nil && entry != nil {
		return entry.Score, entry.Known, nil
	}

	score, known, err := s.repo.GetMerchantRisk(ctx, merchantID)
	if err != nil {
		return 0, false, fmt.Errorf("merchant risk lookup failed: %w", err)
	}

	if cacheErr := s.cache.SetRisk(ctx, merchantID, &domain.RiskEntry{Score: score, Known: known}, s.ttl); cacheErr != nil {
		s.logger.Warn("failed to cache merchant risk",
			"merchantId", merchantID,
			"error", cacheErr)
	}

	return score, known, nil
}

// SetRisk updates the registry and invalidates the cached entry.
func (s *Service) SetRisk(ctx context.Context, merchantID string, score float64) error {
	if err := s.repo.UpsertMerchantRisk(ctx, merchantID, score); err != nil {
		return err
	}
	if err := s.cache.SetRisk(ctx, merchantID, &domain.RiskEntry{Score: score, Known: true}, s.ttl); err != nil {
		s.logger.Warn("failed to refresh merchant risk cache",
			"merchantId", merchantID,
			"error", err)
	}
	return nil
}

// List returns the full registry from the repository.
func (s *Service) List(ctx context.Context) (map[string]float64, error) {
	return s.repo.ListMerchantRisks(ctx)
}

// Lookup adapts the service for the merchant risk evaluator.
func (s *Service) Lookup() signals.RiskLookup {
	return s.Risk
}
