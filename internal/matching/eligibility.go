package matching

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/similarity"
	"github.com/david/grant-matcher/internal/textnorm"
)

const (
	ReasonMissingDeadline = "Invalid or missing deadline."
	ReasonDeadlinePassed  = "Deadline has passed."
	ReasonGeoMismatch     = "Geographic focus mismatch."

	DefaultGeoSimilarityThreshold = 0.75
)

var globalTokens = []string{"global", "worldwide"}

// Gate decides whether an NGO can apply to a grant at all. Checks run in order
// (deadline, geography, budget) and stop at the first failure.
type Gate struct {
	Normalizer   *textnorm.Normalizer
	Similarity   *similarity.Engine
	GeoThreshold float64
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *zap.Logger
}

func (g *Gate) Check(ctx context.Context, profile Profile, grant models.Grant) models.EligibilityVerdict {
	if reason := g.checkDeadline(grant); reason != "" {
		return ineligible(reason)
	}

	verdict := models.EligibilityVerdict{IsEligible: true, Reasons: []string{}}
	if len(grant.GeographicEligibility) > 0 {
		match := g.checkGeography(ctx, profile, grant)
		if match == models.GeoMatchNone {
			return ineligible(ReasonGeoMismatch)
		}
		verdict.GeoMatch = match
	}

	if reason := checkBudget(profile.EstimatedBudget, grant); reason != "" {
		return ineligible(reason)
	}
	return verdict
}

func ineligible(reason string) models.EligibilityVerdict {
	return models.EligibilityVerdict{IsEligible: false, Reasons: []string{reason}}
}

func (g *Gate) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *Gate) checkDeadline(grant models.Grant) string {
	if grant.ApplicationDeadline == nil || grant.ApplicationDeadline.IsZero() {
		return ReasonMissingDeadline
	}
	if grant.ApplicationDeadline.UTC().Before(g.now()) {
		return ReasonDeadlinePassed
	}
	return ""
}

func (g *Gate) checkGeography(ctx context.Context, profile Profile, grant models.Grant) models.GeoMatch {
	for _, geo := range grant.GeographicEligibility {
		if containsGlobal(strings.ToLower(geo)) {
			return models.GeoMatchGlobal
		}
	}
	if containsGlobal(profile.NormalizedText) {
		return models.GeoMatchGlobal
	}

	var rawWords string
	for _, geo := range grant.GeographicEligibility {
		norm := g.Normalizer.Normalize(geo).Text
		if norm != "" {
			if strings.Contains(profile.NormalizedText, norm) {
				return models.GeoMatchExplicit
			}
			continue
		}
		// Entries made only of stop words ("US") normalize to nothing; match
		// them as whole words against the raw profile text instead.
		entry := joinWords(geo)
		if entry == "" {
			continue
		}
		if rawWords == "" {
			rawWords = " " + joinWords(textnorm.StripHTML(profile.RawText)) + " "
		}
		if strings.Contains(rawWords, " "+entry+" ") {
			return models.GeoMatchExplicit
		}
	}

	if !g.Similarity.Available() || len(profile.Locations) == 0 {
		return models.GeoMatchNone
	}
	threshold := g.GeoThreshold
	if threshold <= 0 {
		threshold = DefaultGeoSimilarityThreshold
	}
	for _, loc := range profile.Locations {
		for _, geo := range grant.GeographicEligibility {
			if strings.TrimSpace(geo) == "" {
				continue
			}
			sim, err := g.Similarity.Similarity(ctx, loc, geo)
			if err != nil {
				g.logger().Debug("location similarity failed",
					zap.String("location", loc), zap.String("geography", geo), zap.Error(err))
				continue
			}
			if sim >= threshold {
				return models.GeoMatchExplicit
			}
		}
	}
	return models.GeoMatchNone
}

// joinWords lowercases s and joins its alphanumeric runs with single spaces.
func joinWords(s string) string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, " ")
}

func containsGlobal(text string) bool {
	for _, tok := range globalTokens {
		if strings.Contains(text, tok) {
			return true
		}
	}
	return false
}

func checkBudget(budget *float64, grant models.Grant) string {
	if budget == nil {
		return ""
	}
	if grant.MinBudget != nil && *budget < *grant.MinBudget {
		return fmt.Sprintf("Estimated budget %s is below the grant minimum of %s.",
			formatAmount(*budget), formatAmount(*grant.MinBudget))
	}
	if grant.MaxBudget != nil && *budget > *grant.MaxBudget {
		return fmt.Sprintf("Estimated budget %s exceeds the grant maximum of %s.",
			formatAmount(*budget), formatAmount(*grant.MaxBudget))
	}
	return ""
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (g *Gate) logger() *zap.Logger {
	if g.Logger == nil {
		return zap.NewNop()
	}
	return g.Logger
}
