package ingest

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/david/grant-matcher/internal/models"
)

var ingestNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestGrantFromRawValidation(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawGrant
		wantErr error
	}{
		{"missing title", RawGrant{Link: "https://example.org/a"}, ErrMissingTitle},
		{"markup only title", RawGrant{Title: "<b></b>", Link: "https://example.org/a"}, ErrMissingTitle},
		{"missing link", RawGrant{Title: "Fund"}, ErrMissingLink},
		{"relative link", RawGrant{Title: "Fund", Link: "/grants/1"}, ErrInvalidLink},
		{"ftp link", RawGrant{Title: "Fund", Link: "ftp://example.org/x"}, ErrInvalidLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := GrantFromRaw(tt.raw, ingestNow); !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestGrantFromRawNormalizes(t *testing.T) {
	days := 10
	g, err := GrantFromRaw(RawGrant{
		Title:                 "  Clean   <em>Water</em> Fund ",
		Link:                  "https://Example.org/water?utm_source=x#apply",
		DescriptionShort:      "<p>Safe water &amp; sanitation</p><script>alert(1)</script>",
		DeadlineInDays:        &days,
		FocusAreas:            []string{"Water", " water ", "", "Sanitation"},
		GeographicEligibility: []string{"Kenya"},
		Amount:                "Up to €40,000",
	}, ingestNow)
	if err != nil {
		t.Fatalf("GrantFromRaw: %v", err)
	}

	if g.Title != "Clean Water Fund" {
		t.Errorf("Title = %q", g.Title)
	}
	if g.DescriptionShort != "Safe water & sanitation" {
		t.Errorf("DescriptionShort = %q", g.DescriptionShort)
	}
	if !reflect.DeepEqual(g.FocusAreas, []string{"Water", "Sanitation"}) {
		t.Errorf("FocusAreas = %v", g.FocusAreas)
	}
	want := time.Date(2026, 3, 11, 23, 59, 59, 999999999, time.UTC)
	if g.ApplicationDeadline == nil || !g.ApplicationDeadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", g.ApplicationDeadline, want)
	}
	if g.MinBudget != nil || g.MaxBudget == nil || *g.MaxBudget != 40000 || g.Currency != "EUR" {
		t.Errorf("budget = %v..%v %s", g.MinBudget, g.MaxBudget, g.Currency)
	}
	if !g.IsActive {
		t.Error("grants default to active")
	}
	if g.LinkHash != LinkHash("https://example.org/water") {
		t.Errorf("link hash should ignore host case, fragment and tracking params")
	}
	if len(g.LinkHash) != 32 {
		t.Errorf("LinkHash = %q, want md5 hex", g.LinkHash)
	}
}

func TestGrantFromRawBadDeadlineIsMissing(t *testing.T) {
	g, err := GrantFromRaw(RawGrant{Title: "Fund", Link: "https://example.org/x", Deadline: "rolling basis"}, ingestNow)
	if err != nil {
		t.Fatalf("GrantFromRaw: %v", err)
	}
	if g.ApplicationDeadline != nil {
		t.Fatalf("expected missing deadline, got %v", g.ApplicationDeadline)
	}
}

func TestGrantFromRawSwapsInvertedBudget(t *testing.T) {
	lo, hi := 5000.0, 1000.0
	g, err := GrantFromRaw(RawGrant{Title: "Fund", Link: "https://example.org/x", MinBudget: &lo, MaxBudget: &hi}, ingestNow)
	if err != nil {
		t.Fatalf("GrantFromRaw: %v", err)
	}
	if *g.MinBudget != 1000 || *g.MaxBudget != 5000 || g.Currency != "USD" {
		t.Fatalf("budget = %v..%v %s", *g.MinBudget, *g.MaxBudget, g.Currency)
	}
}

func TestParseDateRobust(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		locales []string
		want    time.Time
	}{
		{"iso date", "2026-05-01", nil, time.Date(2026, 5, 1, 23, 59, 59, 999999999, time.UTC)},
		{"rfc3339 with zone", "2026-05-01T12:00:00+03:00", nil, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		{"naive timestamp is utc", "2026-05-01 08:30:00", nil, time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)},
		{"english long", "Deadline: March 15, 2026", nil, time.Date(2026, 3, 15, 23, 59, 59, 999999999, time.UTC)},
		{"day month", "15 Mar 2026", nil, time.Date(2026, 3, 15, 23, 59, 59, 999999999, time.UTC)},
		{"embedded in sentence", "Applications close on 30 June 2026 at noon", nil, time.Date(2026, 6, 30, 23, 59, 59, 999999999, time.UTC)},
		{"spanish", "Fecha límite: 17 de junio del 2026", []string{"es"}, time.Date(2026, 6, 17, 23, 59, 59, 999999999, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDateRobust(tt.input, tt.locales)
			if err != nil {
				t.Fatalf("parseDateRobust(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("parseDateRobust(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	for _, bad := range []string{"", "rolling", "17 de junio del 2026"} {
		if _, err := parseDateRobust(bad, []string{"en"}); err == nil {
			t.Errorf("parseDateRobust(%q) should fail", bad)
		}
	}
}

func TestParseBudget(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		text     string
		min, max *float64
		currency string
	}{
		{"Up to $50,000", nil, f(50000), "USD"},
		{"Minimum £10,000", f(10000), nil, "GBP"},
		{"EUR 20k - 100k", f(20000), f(100000), "EUR"},
		{"Awards of 1.5 million", nil, f(1500000), "USD"},
		{"Round 2026: up to 25,000", nil, f(25000), "USD"},
		{"No amount stated", nil, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			min, max, currency := parseBudget(tt.text, "")
			if !reflect.DeepEqual(min, tt.min) || !reflect.DeepEqual(max, tt.max) || currency != tt.currency {
				t.Fatalf("parseBudget(%q) = %v, %v, %q", tt.text, deref(min), deref(max), currency)
			}
		})
	}
}

func deref(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

type memoryWriter struct {
	grants map[string]models.Grant
	err    error
}

func (m *memoryWriter) UpsertGrant(_ context.Context, g models.Grant) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, exists := m.grants[g.LinkHash]
	m.grants[g.LinkHash] = g
	return !exists, nil
}

func TestEmbeddedSeedLoadsAndUpserts(t *testing.T) {
	raws, err := LoadSeed("")
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(raws) < 6 {
		t.Fatalf("expected the demo catalog, got %d grants", len(raws))
	}

	w := &memoryWriter{grants: map[string]models.Grant{}}
	report, err := SeedCatalog(context.Background(), w, append(raws, RawGrant{Title: "no link"}), ingestNow, nil)
	if err != nil {
		t.Fatalf("SeedCatalog: %v", err)
	}
	if report.Inserted != len(raws) || report.Skipped != 1 || len(report.Errors) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}

	again, err := SeedCatalog(context.Background(), w, raws, ingestNow, nil)
	if err != nil || again.Updated != len(raws) || again.Inserted != 0 {
		t.Fatalf("reseed report %+v, %v", again, err)
	}

	for _, g := range w.grants {
		if g.ApplicationDeadline == nil {
			t.Errorf("seed grant %q has no deadline", g.Title)
		}
	}
}

func TestSeedCatalogStopsOnWriteError(t *testing.T) {
	w := &memoryWriter{grants: map[string]models.Grant{}, err: errors.New("db down")}
	_, err := SeedCatalog(context.Background(), w, []RawGrant{{Title: "Fund", Link: "https://example.org/x"}}, ingestNow, nil)
	if err == nil {
		t.Fatal("expected write error")
	}
}

func TestGrantFromRawDerivesShortDescription(t *testing.T) {
	long := strings.Repeat("Community health outreach. ", 20)
	g, err := GrantFromRaw(RawGrant{Title: "Health", Link: "https://example.org/health", DescriptionLong: long}, ingestNow)
	if err != nil {
		t.Fatalf("GrantFromRaw: %v", err)
	}
	if n := len([]rune(g.DescriptionShort)); n != shortDescriptionLen || !strings.HasSuffix(g.DescriptionShort, "...") {
		t.Fatalf("short description (%d runes) = %q", n, g.DescriptionShort)
	}
	if g.DescriptionLong != strings.TrimSpace(long) {
		t.Fatalf("long description should be kept whole")
	}
}
