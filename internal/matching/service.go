package matching

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/similarity"
	"github.com/david/grant-matcher/internal/textnorm"
)

// Catalog is the read side of the grant store.
type Catalog interface {
	FetchAllActiveGrants(ctx context.Context) ([]models.Grant, error)
}

// Options are per-request overrides.
type Options struct {
	RequestID string
	// EstimatedBudget overrides the configured default when set.
	EstimatedBudget *float64
}

// Service is the entry point handlers and tools call.
type Service struct {
	Catalog         Catalog
	Normalizer      *textnorm.Normalizer
	Similarity      *similarity.Engine
	Matcher         *Matcher
	EstimatedBudget *float64
	Logger          *zap.Logger
}

// NewService wires a Gate, Scorer and Matcher around the shared capabilities.
func NewService(catalog Catalog, normalizer *textnorm.Normalizer, sim *similarity.Engine, weights Weights, geoThreshold float64, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Catalog:    catalog,
		Normalizer: normalizer,
		Similarity: sim,
		Matcher: &Matcher{
			Gate:   &Gate{Normalizer: normalizer, Similarity: sim, GeoThreshold: geoThreshold, Logger: logger},
			Scorer: &Scorer{Normalizer: normalizer, Similarity: sim, Weights: weights, Logger: logger},
			Logger: logger,
		},
		Logger: logger,
	}
}

// MatchAllGrants matches raw website text against every active grant. Only
// catalog failures are returned as errors.
func (s *Service) MatchAllGrants(ctx context.Context, raw string, opts Options) ([]models.MatchResult, string, error) {
	logger := s.Logger
	if opts.RequestID != "" {
		logger = logging.ForRequest(logger, opts.RequestID)
	}

	grants, err := s.Catalog.FetchAllActiveGrants(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("fetch active grants: %w", err)
	}
	if len(grants) == 0 {
		logger.Info("catalog is empty")
		return []models.MatchResult{}, NoGrantsMessage, nil
	}

	budget := s.EstimatedBudget
	if opts.EstimatedBudget != nil {
		budget = opts.EstimatedBudget
	}
	profile := NewProfile(ctx, s.Normalizer, s.Similarity, raw, budget, logger)
	logger.Debug("ngo profile built",
		zap.Int("keywords", profile.Keywords.Len()),
		zap.Strings("locations", profile.Locations),
		zap.Bool("embedded", len(profile.Embedding) > 0),
	)

	m := *s.Matcher
	m.Logger = logger
	results, msg := m.MatchAll(ctx, profile, grants)
	return results, msg, nil
}
