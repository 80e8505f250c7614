package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var spanishMonths = map[string]string{
	"enero": "January", "febrero": "February", "marzo": "March", "abril": "April",
	"mayo": "May", "junio": "June", "julio": "July", "agosto": "August",
	"septiembre": "September", "octubre": "October", "noviembre": "November", "diciembre": "December",
}

// layouts with a clock component are kept as parsed; date-only layouts close
// at the end of the day.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"January 2, 2006 3:04 PM",
	"2 January 2006 3:04 PM",
}

var dateOnlyLayouts = []string{
	"2006-01-02",
	"2 January 2006",
	"02 January 2006",
	"January 2, 2006",
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"01/02/2006",
	"1/2/2006",
}

var (
	isoDateRegex     = regexp.MustCompile(`\b(20\d{2})-(\d{2})-(\d{2})\b`)
	monthDateRegex   = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+(\d{1,2}),?\s+(20\d{2})\b`)
	dayMonthRegex    = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?,?\s+(20\d{2})\b`)
	spanishDateRegex = regexp.MustCompile(`(?i)\b(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\s+(?:de|del)\s+(20\d{2})\b`)
)

var datePrefixes = []string{
	"closing date:", "deadline:", "due date:", "expires:", "ends:", "apply by",
	"fecha límite:", "fecha de cierre:", "cierre:",
}

// parseDateRobust parses a grant deadline. Values without a zone are taken as
// UTC.
func parseDateRobust(text string, locales []string) (time.Time, error) {
	text = cleanDateString(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range dateOnlyLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return toEndOfDay(t), nil
		}
	}

	if t, ok := parseDateWithRegex(text); ok {
		return toEndOfDay(t), nil
	}
	if acceptsSpanish(locales) {
		if t, ok := parseSpanishDate(text); ok {
			return toEndOfDay(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", text)
}

// toEndOfDay sets the time to 23:59:59.999999999 UTC
func toEndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, time.UTC)
}

func acceptsSpanish(locales []string) bool {
	for _, l := range locales {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(l)), "es") {
			return true
		}
	}
	return false
}

// parseDateWithRegex finds the first recognizable date inside longer text.
func parseDateWithRegex(text string) (time.Time, bool) {
	if m := isoDateRegex.FindString(text); m != "" {
		if t, err := time.Parse("2006-01-02", m); err == nil {
			return t, true
		}
	}
	if m := monthDateRegex.FindStringSubmatch(text); len(m) == 4 {
		if t, ok := parseDayMonthYear(m[2], m[1], m[3]); ok {
			return t, true
		}
	}
	if m := dayMonthRegex.FindStringSubmatch(text); len(m) == 4 {
		if t, ok := parseDayMonthYear(m[1], m[2], m[3]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseSpanishDate(text string) (time.Time, bool) {
	m := spanishDateRegex.FindStringSubmatch(text)
	if len(m) != 4 {
		return time.Time{}, false
	}
	month, ok := spanishMonths[strings.ToLower(m[2])]
	if !ok {
		return time.Time{}, false
	}
	return parseDayMonthYear(m[1], month, m[3])
}

func parseDayMonthYear(day, month, year string) (time.Time, bool) {
	s := fmt.Sprintf("%s %s %s", day, month, year)
	for _, layout := range []string{"2 January 2006", "2 Jan 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// cleanDateString drops label prefixes such as "Deadline:".
func cleanDateString(s string) string {
	s = normalizeSpace(s)
	lower := strings.ToLower(s)
	for _, p := range datePrefixes {
		if idx := strings.Index(lower, p); idx != -1 {
			s = s[idx+len(p):]
			lower = lower[idx+len(p):]
		}
	}
	return strings.TrimSpace(s)
}
