package matching

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/models"
)

const (
	NoGrantsMessage   = "No grants found in the database. Please run the scraper or populate fake data."
	NoEligibleMessage = "No eligible grants found based on your NGO's profile. Please refine your profile or check back later."
)

// Matcher runs the gate and the scorer over a catalog snapshot.
type Matcher struct {
	Gate   *Gate
	Scorer *Scorer
	Logger *zap.Logger
}

// MatchAll returns one result per grant, eligible grants first and by score
// descending within each group. Equal keys keep catalog order. The message is
// empty unless the catalog is empty or nothing is eligible.
func (m *Matcher) MatchAll(ctx context.Context, profile Profile, grants []models.Grant) ([]models.MatchResult, string) {
	if len(grants) == 0 {
		return []models.MatchResult{}, NoGrantsMessage
	}

	start := time.Now()
	results := make([]models.MatchResult, 0, len(grants))
	eligible := 0
	for _, grant := range grants {
		res := m.matchOne(ctx, profile, grant)
		if res.IsEligible {
			eligible++
		}
		results = append(results, res)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].IsEligible != results[j].IsEligible {
			return results[i].IsEligible
		}
		return results[i].Score > results[j].Score
	})

	m.logger().Info("match completed",
		zap.Int("grants", len(grants)),
		zap.Int("eligible", eligible),
		zap.Duration("elapsed", time.Since(start)),
	)

	if eligible == 0 {
		return results, NoEligibleMessage
	}
	return results, ""
}

func (m *Matcher) matchOne(ctx context.Context, profile Profile, grant models.Grant) models.MatchResult {
	res := models.MatchResult{
		LinkHash:             grant.LinkHash,
		Title:                grant.Title,
		Description:          grant.DescriptionShort,
		Link:                 grant.Link,
		Tier:                 models.TierLow,
		Color:                models.TierLow.Color(),
		IneligibilityReasons: []string{},
		SDGTags:              grant.SDGTags,
	}
	if res.Description == "" {
		res.Description = grant.DescriptionLong
	}
	if res.SDGTags == nil {
		res.SDGTags = []string{}
	}

	verdict := m.Gate.Check(ctx, profile, grant)
	if !verdict.IsEligible {
		res.IneligibilityReasons = verdict.Reasons
		m.logger().Debug("grant ineligible",
			zap.String(logging.FieldLinkHash, grant.LinkHash), zap.Strings("reasons", verdict.Reasons))
		return res
	}

	score, tier, signals := m.Scorer.Score(ctx, profile, grant, verdict)
	res.IsEligible = true
	res.Score = score
	res.Tier = tier
	res.Color = tier.Color()
	res.Signals = &signals
	return res
}

func (m *Matcher) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}
