package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/david/grant-matcher/internal/models"
)

var (
	ErrMissingTitle = errors.New("grant title is required")
	ErrMissingLink  = errors.New("grant link is required")
	ErrInvalidLink  = errors.New("grant link must be an absolute http(s) URL")
)

const shortDescriptionLen = 280

// RawGrant is a grant as it arrives from a seed file, the admin API or a
// scraper, before validation.
type RawGrant struct {
	Link                  string   `yaml:"link" json:"link"`
	Title                 string   `yaml:"title" json:"title"`
	DescriptionShort      string   `yaml:"description_short" json:"description_short"`
	DescriptionLong       string   `yaml:"description_long" json:"description_long"`
	Deadline              string   `yaml:"application_deadline" json:"application_deadline"`
	DeadlineInDays        *int     `yaml:"deadline_in_days" json:"deadline_in_days,omitempty"`
	DateLocales           []string `yaml:"date_locales" json:"date_locales,omitempty"`
	FocusAreas            []string `yaml:"focus_areas" json:"focus_areas"`
	TargetBeneficiaries   []string `yaml:"target_beneficiaries" json:"target_beneficiaries"`
	GeographicEligibility []string `yaml:"geographic_eligibility" json:"geographic_eligibility"`
	Keywords              []string `yaml:"keywords" json:"keywords"`
	SDGTags               []string `yaml:"sdg_tags" json:"sdg_tags"`
	MinBudget             *float64 `yaml:"min_budget" json:"min_budget"`
	MaxBudget             *float64 `yaml:"max_budget" json:"max_budget"`
	Amount                string   `yaml:"amount" json:"amount,omitempty"`
	Currency              string   `yaml:"currency" json:"currency"`
	Source                string   `yaml:"source" json:"source"`
	IsActive              *bool    `yaml:"is_active" json:"is_active,omitempty"`
}

// LinkHash is the stable identity of a grant: md5 of its canonical URL.
func LinkHash(link string) string {
	sum := md5.Sum([]byte(CanonicalizeURL(strings.TrimSpace(link))))
	return hex.EncodeToString(sum[:])
}

// CanonicalizeURL lowercases the host and drops fragments and tracking params.
func CanonicalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""

	q := u.Query()
	for k := range q {
		if strings.HasPrefix(k, "utm_") {
			q.Del(k)
		}
	}
	for _, p := range []string{"fbclid", "gclid", "mc_cid", "mc_eid", "mkt_tok", "ref", "session", "s_cid"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// GrantFromRaw validates and normalizes raw into a catalog grant. Unparseable
// deadlines are stored as missing so the matcher reports them.
func GrantFromRaw(raw RawGrant, now time.Time) (models.Grant, error) {
	title := normalizeSpace(plainText(raw.Title))
	if title == "" {
		return models.Grant{}, ErrMissingTitle
	}
	link := strings.TrimSpace(raw.Link)
	if link == "" {
		return models.Grant{}, ErrMissingLink
	}
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return models.Grant{}, fmt.Errorf("%w: %q", ErrInvalidLink, link)
	}

	g := models.Grant{
		LinkHash:              LinkHash(link),
		Link:                  link,
		Title:                 title,
		DescriptionShort:      plainText(raw.DescriptionShort),
		DescriptionLong:       plainText(raw.DescriptionLong),
		FocusAreas:            cleanList(raw.FocusAreas),
		TargetBeneficiaries:   cleanList(raw.TargetBeneficiaries),
		GeographicEligibility: cleanList(raw.GeographicEligibility),
		Keywords:              cleanList(raw.Keywords),
		SDGTags:               cleanList(raw.SDGTags),
		MinBudget:             raw.MinBudget,
		MaxBudget:             raw.MaxBudget,
		Currency:              strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Source:                normalizeSpace(raw.Source),
		IsActive:              raw.IsActive == nil || *raw.IsActive,
		ScrapedAt:             now.UTC(),
	}

	if g.DescriptionShort == "" && g.DescriptionLong != "" {
		g.DescriptionShort = truncateText(g.DescriptionLong, shortDescriptionLen)
	}

	locales := raw.DateLocales
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	switch {
	case strings.TrimSpace(raw.Deadline) != "":
		if dt, err := parseDateRobust(raw.Deadline, locales); err == nil {
			g.ApplicationDeadline = &dt
		}
	case raw.DeadlineInDays != nil:
		dt := toEndOfDay(now.UTC().AddDate(0, 0, *raw.DeadlineInDays))
		g.ApplicationDeadline = &dt
	}

	if g.MinBudget == nil && g.MaxBudget == nil && raw.Amount != "" {
		min, max, currency := parseBudget(raw.Amount, g.Currency)
		g.MinBudget, g.MaxBudget = min, max
		if currency != "" {
			g.Currency = currency
		}
	}
	if g.MinBudget != nil && g.MaxBudget != nil && *g.MinBudget > *g.MaxBudget {
		g.MinBudget, g.MaxBudget = g.MaxBudget, g.MinBudget
	}
	if g.Currency == "" && (g.MinBudget != nil || g.MaxBudget != nil) {
		g.Currency = "USD"
	}

	return g, nil
}
