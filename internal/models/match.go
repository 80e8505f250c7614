package models

// Tier is the display bucket derived from a match score.
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// TierForScore maps a percentage score to its tier.
func TierForScore(score float64) Tier {
	switch {
	case score >= 80:
		return TierHigh
	case score >= 50:
		return TierMedium
	default:
		return TierLow
	}
}

// Color is the legacy UI color for the tier.
func (t Tier) Color() string {
	switch t {
	case TierHigh:
		return "green"
	case TierMedium:
		return "yellow"
	default:
		return "gray"
	}
}

// GeoMatch records how the geographic gate was satisfied.
type GeoMatch string

const (
	GeoMatchNone     GeoMatch = ""
	GeoMatchGlobal   GeoMatch = "global"
	GeoMatchExplicit GeoMatch = "explicit"
)

// EligibilityVerdict is the outcome of the eligibility gate for one grant.
type EligibilityVerdict struct {
	IsEligible bool     `json:"is_eligible"`
	Reasons    []string `json:"reasons"`
	GeoMatch   GeoMatch `json:"geo_match,omitempty"`
}

// Signals is the per-signal breakdown behind a score. Every value is in [0,1].
type Signals struct {
	EmbeddingSim          float64 `json:"embedding_sim"`
	TFIDFSim              float64 `json:"tfidf_sim"`
	KeywordOverlap        float64 `json:"keyword_overlap"`
	SectorMatch           float64 `json:"sector_match"`
	TargetPopulationMatch float64 `json:"target_population_match"`
	GeographicBoost       float64 `json:"geographic_match_boost"`
}

// MatchResult is one grant's outcome for one NGO.
type MatchResult struct {
	LinkHash             string   `json:"link_hash"`
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	Link                 string   `json:"link"`
	Score                float64  `json:"score"`
	Tier                 Tier     `json:"tier"`
	Color                string   `json:"color"`
	IsEligible           bool     `json:"is_eligible"`
	IneligibilityReasons []string `json:"ineligibility_reasons"`
	SDGTags              []string `json:"sdg_tags"`
	Signals              *Signals `json:"signals,omitempty"`
}
