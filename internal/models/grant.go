package models

import (
	"time"
)

// Grant is a funding opportunity from the catalog. The matching core treats it
// as read-only.
type Grant struct {
	LinkHash              string     `json:"link_hash"`
	Link                  string     `json:"link"`
	Title                 string     `json:"title"`
	DescriptionShort      string     `json:"description_short"`
	DescriptionLong       string     `json:"description_long"`
	ApplicationDeadline   *time.Time `json:"application_deadline"`
	FocusAreas            []string   `json:"focus_areas"`
	TargetBeneficiaries   []string   `json:"target_beneficiaries"`
	GeographicEligibility []string   `json:"geographic_eligibility"`
	Keywords              []string   `json:"keywords"`
	SDGTags               []string   `json:"sdg_tags"`
	MinBudget             *float64   `json:"min_budget"`
	MaxBudget             *float64   `json:"max_budget"`
	Currency              string     `json:"currency"`
	Source                string     `json:"source"`
	IsActive              bool       `json:"is_active"`
	ScrapedAt             time.Time  `json:"scraped_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Embedding             []float32  `json:"-"`
}

// Description prefers the long description and falls back to the short one.
func (g Grant) Description() string {
	if g.DescriptionLong != "" {
		return g.DescriptionLong
	}
	return g.DescriptionShort
}
