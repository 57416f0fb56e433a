// Package temporal extracts date, duration, relative and recurring time
// expressions from free text and normalizes them to ISO 8601 dates and
// durations or RFC 5545 recurrence rules.
package temporal

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adverant/nexus-memory/internal/domain"
)

// Expression is one normalized temporal match.
type Expression struct {
	Text            string              `json:"text"`
	Type            domain.TemporalType `json:"type"`
	NormalizedValue string              `json:"normalized_value"`
	Start           int                 `json:"start"`
	End             int                 `json:"end"`
	Confidence      float64             `json:"confidence"`
}

// Extractor scans content once with a prioritized pattern set. A span
// claimed by a higher-priority pattern is skipped by later ones.
type Extractor struct {
	now func() time.Time
}

func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// NewExtractorAt pins the wall clock, for deterministic tests.
func NewExtractorAt(now func() time.Time) *Extractor {
	return &Extractor{now: now}
}

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var weekdaysByName = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday, "saturday": time.Saturday,
	"sunday": time.Sunday,
}

// RFC 5545 BYDAY codes.
var bydayCodes = map[time.Weekday]string{
	time.Monday: "MO", time.Tuesday: "TU", time.Wednesday: "WE",
	time.Thursday: "TH", time.Friday: "FR", time.Saturday: "SA", time.Sunday: "SU",
}

var (
	reISODate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reMonthDate = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)\.?\s+(\d{1,2})(?:st|nd|rd|th)?(?:,)?\s+(\d{4})\b`)
	reSlashDate = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)

	reEveryWeekday  = regexp.MustCompile(`(?i)\bevery\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
	reEveryInterval = regexp.MustCompile(`(?i)\bevery\s+(\d+)\s+(day|week|month|year)s?\b`)
	reEveryUnit     = regexp.MustCompile(`(?i)\bevery\s+(day|week|month|year)\b`)
	reFrequency     = regexp.MustCompile(`(?i)\b(daily|weekly|monthly|yearly|annually)\b`)

	reToday       = regexp.MustCompile(`(?i)\b(today|tomorrow|yesterday)\b`)
	reNextLast    = regexp.MustCompile(`(?i)\b(next|last)\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|week|month|year)\b`)
	reAgo         = regexp.MustCompile(`(?i)\b(\d+)\s+(day|week|month|year)s?\s+ago\b`)
	reIn          = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(day|week|month|year)s?\b`)
	reDurRange    = regexp.MustCompile(`(?i)\b(\d+)\s*-\s*(\d+)\s+(second|minute|hour|day|week|month|year)s?\b`)
	reDuration    = regexp.MustCompile(`(?i)\b(\d+)\s+(second|minute|hour|day|week|month|year)s?\b`)
	reDurationFor = regexp.MustCompile(`(?i)\bfor\s+(\d+)\s+(second|minute|hour|day|week|month|year)s?\b`)
)

type span struct{ start, end int }

func overlaps(claimed []span, s span) bool {
	for _, c := range claimed {
		if s.start < c.end && c.start < s.end {
			return true
		}
	}
	return false
}

// Extract runs the pattern set in priority order: absolute dates, recurring
// rules, relative expressions, then durations. Output is sorted by start
// position and deduplicated.
func (e *Extractor) Extract(content string) []Expression {
	now := e.now()
	var out []Expression
	var claimed []span

	emit := func(start, end int, typ domain.TemporalType, normalized string, conf float64) {
		s := span{start, end}
		if normalized == "" || overlaps(claimed, s) {
			return
		}
		claimed = append(claimed, s)
		out = append(out, Expression{
			Text:            content[start:end],
			Type:            typ,
			NormalizedValue: normalized,
			Start:           start,
			End:             end,
			Confidence:      conf,
		})
	}

	// Absolute dates.
	for _, m := range reISODate.FindAllStringSubmatchIndex(content, -1) {
		emit(m[0], m[1], domain.TemporalDate, normalizeISO(content[m[0]:m[1]]), 0.95)
	}
	for _, m := range reMonthDate.FindAllStringSubmatchIndex(content, -1) {
		month := monthsByName[strings.ToLower(strings.TrimSuffix(content[m[2]:m[3]], "."))]
		day, _ := strconv.Atoi(content[m[4]:m[5]])
		year, _ := strconv.Atoi(content[m[6]:m[7]])
		emit(m[0], m[1], domain.TemporalDate, formatDate(year, month, day), 0.95)
	}
	for _, m := range reSlashDate.FindAllStringSubmatchIndex(content, -1) {
		mm, _ := strconv.Atoi(content[m[2]:m[3]])
		dd, _ := strconv.Atoi(content[m[4]:m[5]])
		year, _ := strconv.Atoi(content[m[6]:m[7]])
		if mm >= 1 && mm <= 12 && dd >= 1 && dd <= 31 {
			emit(m[0], m[1], domain.TemporalDate, formatDate(year, time.Month(mm), dd), 0.8)
		}
	}

	// Recurring rules.
	for _, m := range reEveryWeekday.FindAllStringSubmatchIndex(content, -1) {
		wd := weekdaysByName[strings.ToLower(content[m[2]:m[3]])]
		emit(m[0], m[1], domain.TemporalRecurring,
			fmt.Sprintf("RRULE:FREQ=WEEKLY;BYDAY=%s", bydayCodes[wd]), 0.9)
	}
	for _, m := range reEveryInterval.FindAllStringSubmatchIndex(content, -1) {
		n, _ := strconv.Atoi(content[m[2]:m[3]])
		freq := unitFreq(content[m[4]:m[5]])
		norm := fmt.Sprintf("RRULE:FREQ=%s", freq)
		if n > 1 {
			norm += fmt.Sprintf(";INTERVAL=%d", n)
		}
		emit(m[0], m[1], domain.TemporalRecurring, norm, 0.9)
	}
	for _, m := range reEveryUnit.FindAllStringSubmatchIndex(content, -1) {
		emit(m[0], m[1], domain.TemporalRecurring,
			fmt.Sprintf("RRULE:FREQ=%s", unitFreq(content[m[2]:m[3]])), 0.9)
	}
	for _, m := range reFrequency.FindAllStringSubmatchIndex(content, -1) {
		word := strings.ToLower(content[m[0]:m[1]])
		var freq string
		switch word {
		case "daily":
			freq = "DAILY"
		case "weekly":
			freq = "WEEKLY"
		case "monthly":
			freq = "MONTHLY"
		default:
			freq = "YEARLY"
		}
		emit(m[0], m[1], domain.TemporalRecurring, "RRULE:FREQ="+freq, 0.85)
	}

	// Relative expressions, resolved against the current wall clock.
	for _, m := range reToday.FindAllStringSubmatchIndex(content, -1) {
		var d time.Time
		switch strings.ToLower(content[m[0]:m[1]]) {
		case "today":
			d = now
		case "tomorrow":
			d = now.AddDate(0, 0, 1)
		case "yesterday":
			d = now.AddDate(0, 0, -1)
		}
		emit(m[0], m[1], domain.TemporalRelative, d.Format("2006-01-02"), 0.9)
	}
	for _, m := range reNextLast.FindAllStringSubmatchIndex(content, -1) {
		dir := strings.ToLower(content[m[2]:m[3]])
		unit := strings.ToLower(content[m[4]:m[5]])
		d := resolveNextLast(now, dir, unit)
		emit(m[0], m[1], domain.TemporalRelative, d.Format("2006-01-02"), 0.85)
	}
	for _, m := range reAgo.FindAllStringSubmatchIndex(content, -1) {
		n, _ := strconv.Atoi(content[m[2]:m[3]])
		d := addUnits(now, -n, strings.ToLower(content[m[4]:m[5]]))
		emit(m[0], m[1], domain.TemporalRelative, d.Format("2006-01-02"), 0.85)
	}
	for _, m := range reIn.FindAllStringSubmatchIndex(content, -1) {
		n, _ := strconv.Atoi(content[m[2]:m[3]])
		d := addUnits(now, n, strings.ToLower(content[m[4]:m[5]]))
		emit(m[0], m[1], domain.TemporalRelative, d.Format("2006-01-02"), 0.85)
	}

	// Durations and duration ranges.
	for _, m := range reDurRange.FindAllStringSubmatchIndex(content, -1) {
		a, _ := strconv.Atoi(content[m[2]:m[3]])
		b, _ := strconv.Atoi(content[m[4]:m[5]])
		unit := strings.ToLower(content[m[6]:m[7]])
		emit(m[0], m[1], domain.TemporalDuration,
			isoDuration(a, unit)+"/"+isoDuration(b, unit), 0.8)
	}
	for _, re := range []*regexp.Regexp{reDurationFor, reDuration} {
		for _, m := range re.FindAllStringSubmatchIndex(content, -1) {
			n, _ := strconv.Atoi(content[m[2]:m[3]])
			unit := strings.ToLower(content[m[4]:m[5]])
			emit(m[0], m[1], domain.TemporalDuration, isoDuration(n, unit), 0.75)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return dedup(out)
}

func dedup(exprs []Expression) []Expression {
	seen := make(map[string]bool, len(exprs))
	var out []Expression
	for _, e := range exprs {
		key := fmt.Sprintf("%d:%s", e.Start, e.NormalizedValue)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

func normalizeISO(s string) string {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatDate(year int, month time.Month, day int) string {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// Reject impossible dates like February 30 that roll over.
	if t.Day() != day || t.Month() != month {
		return ""
	}
	return t.Format("2006-01-02")
}

func unitFreq(unit string) string {
	switch strings.ToLower(unit) {
	case "day":
		return "DAILY"
	case "week":
		return "WEEKLY"
	case "month":
		return "MONTHLY"
	default:
		return "YEARLY"
	}
}

// isoDuration renders n units as ISO 8601: time units under PT, date units
// under P.
func isoDuration(n int, unit string) string {
	switch unit {
	case "second":
		return fmt.Sprintf("PT%dS", n)
	case "minute":
		return fmt.Sprintf("PT%dM", n)
	case "hour":
		return fmt.Sprintf("PT%dH", n)
	case "day":
		return fmt.Sprintf("P%dD", n)
	case "week":
		return fmt.Sprintf("P%dW", n)
	case "month":
		return fmt.Sprintf("P%dM", n)
	default:
		return fmt.Sprintf("P%dY", n)
	}
}

func addUnits(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "day":
		return now.AddDate(0, 0, n)
	case "week":
		return now.AddDate(0, 0, 7*n)
	case "month":
		return now.AddDate(0, n, 0)
	default:
		return now.AddDate(n, 0, 0)
	}
}

func resolveNextLast(now time.Time, dir, unit string) time.Time {
	if wd, ok := weekdaysByName[unit]; ok {
		if dir == "next" {
			days := (int(wd) - int(now.Weekday()) + 7) % 7
			if days == 0 {
				days = 7
			}
			return now.AddDate(0, 0, days)
		}
		days := (int(now.Weekday()) - int(wd) + 7) % 7
		if days == 0 {
			days = 7
		}
		return now.AddDate(0, 0, -days)
	}
	sign := 1
	if dir == "last" {
		sign = -1
	}
	return addUnits(now, sign, unit)
}
