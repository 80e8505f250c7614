package matching

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/similarity"
	"github.com/david/grant-matcher/internal/textnorm"
)

// Weights are the per-signal multipliers of the composite score.
type Weights struct {
	EmbeddingSim          float64
	TFIDFSim              float64
	KeywordOverlap        float64
	SectorMatch           float64
	TargetPopulationMatch float64
	GeographicMatchBoost  float64
}

func DefaultWeights() Weights {
	return Weights{
		EmbeddingSim:          0.40,
		TFIDFSim:              0.20,
		KeywordOverlap:        0.10,
		SectorMatch:           0.15,
		TargetPopulationMatch: 0.15,
		GeographicMatchBoost:  0.10,
	}
}

// Scorer computes the weighted match score of an eligible grant.
type Scorer struct {
	Normalizer *textnorm.Normalizer
	Similarity *similarity.Engine
	Weights    Weights
	Logger     *zap.Logger
}

// CompositeText is the raw text a grant is compared on. The embedding batch
// job embeds the normalized form of exactly this text.
func CompositeText(grant models.Grant) string {
	parts := []string{
		grant.Title,
		grant.Description(),
		strings.Join(grant.FocusAreas, " "),
		strings.Join(grant.TargetBeneficiaries, " "),
		strings.Join(grant.GeographicEligibility, " "),
		strings.Join(grant.Keywords, " "),
	}
	return strings.Join(parts, " ")
}

func (s *Scorer) Score(ctx context.Context, profile Profile, grant models.Grant, verdict models.EligibilityVerdict) (float64, models.Tier, models.Signals) {
	composite := s.Normalizer.Normalize(CompositeText(grant))

	signals := models.Signals{
		EmbeddingSim:          s.embeddingSim(ctx, profile, grant, composite.Text),
		TFIDFSim:              similarity.TFIDF(profile.NormalizedText, composite.Text),
		KeywordOverlap:        s.keywordOverlap(profile, grant, composite.Keywords),
		SectorMatch:           s.anySubstring(profile.NormalizedText, grant.FocusAreas),
		TargetPopulationMatch: s.anySubstring(profile.NormalizedText, grant.TargetBeneficiaries),
	}
	if verdict.GeoMatch == models.GeoMatchExplicit {
		signals.GeographicBoost = 1
	}

	w := s.Weights
	weighted := signals.EmbeddingSim*w.EmbeddingSim +
		signals.TFIDFSim*w.TFIDFSim +
		signals.KeywordOverlap*w.KeywordOverlap +
		signals.SectorMatch*w.SectorMatch +
		signals.TargetPopulationMatch*w.TargetPopulationMatch +
		signals.GeographicBoost*w.GeographicMatchBoost

	score := math.Round(clamp01(weighted)*10000) / 100
	return score, models.TierForScore(score), signals
}

func (s *Scorer) embeddingSim(ctx context.Context, profile Profile, grant models.Grant, compositeText string) float64 {
	if len(profile.Embedding) == 0 {
		return 0
	}
	if len(grant.Embedding) == len(profile.Embedding) {
		return clamp01(similarity.Cosine(profile.Embedding, grant.Embedding))
	}
	if !s.Similarity.Available() || compositeText == "" {
		return 0
	}
	sim, err := s.Similarity.SimilarityToVector(ctx, profile.Embedding, compositeText)
	if err != nil {
		s.logger().Warn("embedding similarity failed",
			zap.String(logging.FieldLinkHash, grant.LinkHash), zap.Error(err))
		return 0
	}
	return clamp01(sim)
}

// keywordOverlap prefers the catalog keywords and falls back to the keywords
// of the composite text when the catalog has none.
func (s *Scorer) keywordOverlap(profile Profile, grant models.Grant, compositeKeywords textnorm.KeywordSet) float64 {
	grantKeywords := textnorm.KeywordSet{}
	for _, kw := range grant.Keywords {
		if norm := s.Normalizer.Normalize(kw).Text; norm != "" {
			grantKeywords[norm] = struct{}{}
		}
	}
	if grantKeywords.Len() == 0 {
		grantKeywords = compositeKeywords
	}
	if grantKeywords.Len() == 0 {
		return 0
	}
	return float64(profile.Keywords.IntersectionSize(grantKeywords)) / float64(grantKeywords.Len())
}

func (s *Scorer) anySubstring(text string, candidates []string) float64 {
	if text == "" {
		return 0
	}
	for _, c := range candidates {
		norm := s.Normalizer.Normalize(c).Text
		if norm != "" && strings.Contains(text, norm) {
			return 1
		}
	}
	return 0
}

func (s *Scorer) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func clamp01(v float64) float64 {
	switch {
	case v < 0 || math.IsNaN(v):
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
