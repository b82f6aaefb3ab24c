package links

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults used when a relative phrase carries no count ("next week").
const (
	DefaultExpiryDays   = 7
	DefaultExpiryWeeks  = 1
	DefaultExpiryMonths = 1
	daysPerMonth        = 30
)

var (
	daysRe   = regexp.MustCompile(`(\d+)\s*days?`)
	weeksRe  = regexp.MustCompile(`(\d+)\s*weeks?`)
	monthsRe = regexp.MustCompile(`(\d+)\s*months?`)
	isoDayRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// absoluteLayouts are tried in order once the text starts with YYYY-MM-DD.
var absoluteLayouts = []string{
	"2006-01-02t15:04:05.999999999",
	"2006-01-02t15:04:05",
	"2006-01-02t15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ExpirationParser turns free text such as "3 days", "next week" or
// "2024-01-31" into an absolute UTC instant.
//
// Rules are checked in a fixed order and the first hit wins: "day", then
// "week", then "month", then a leading YYYY-MM-DD. A month is a flat 30 days.
// The order is deliberate; "monday" counts as a day phrase.
type ExpirationParser struct {
	// Now returns the reference instant. Defaults to time.Now.
	Now func() time.Time
}

// ParseExpiration parses text relative to the current time.
func ParseExpiration(text string) *time.Time {
	return ExpirationParser{}.Parse(text)
}

// Parse returns nil when text is empty or matches no rule. Callers treat nil
// as "no expiration", not as an error.
func (p ExpirationParser) Parse(text string) *time.Time {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return nil
	}

	now := p.now()

	switch {
	case strings.Contains(text, "day"):
		n := leadingCount(daysRe, text, DefaultExpiryDays)
		return at(now.AddDate(0, 0, n))
	case strings.Contains(text, "week"):
		n := leadingCount(weeksRe, text, DefaultExpiryWeeks)
		return at(now.AddDate(0, 0, n*7))
	case strings.Contains(text, "month"):
		n := leadingCount(monthsRe, text, DefaultExpiryMonths)
		return at(now.AddDate(0, 0, n*daysPerMonth))
	case isoDayRe.MatchString(text):
		return parseAbsolute(text)
	}
	return nil
}

func (p ExpirationParser) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func leadingCount(re *regexp.Regexp, text string, fallback int) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return n
}

func parseAbsolute(text string) *time.Time {
	text = strings.TrimSuffix(text, "z")
	for _, layout := range absoluteLayouts {
		t, err := time.ParseInLocation(layout, text, time.UTC)
		if err == nil {
			return at(t)
		}
	}
	return nil
}

// isUTCTimestamp reports whether s is already an absolute UTC-marked value
// that bypasses the parser.
func isUTCTimestamp(s string) bool {
	return strings.HasSuffix(s, "Z")
}

func at(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}
