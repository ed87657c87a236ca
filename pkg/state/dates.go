package state

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
)

// DefaultDateFrom applies when no lower bound is configured and no
// watermark is available.
const DefaultDateFrom = "1 day ago"

var relativePattern = regexp.MustCompile(`^(\d+)\s+(hour|day|week|month|year)s?\s+ago$`)

var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDate resolves a date expression relative to now:
//
//	today, now            now
//	yesterday             now - 24h
//	<n> <unit>[s] ago     unit is hour, day, week, month or year
//	YYYY-MM-DD            midnight UTC
//	YYYY-MM-DD HH:MM:SS   UTC
//	RFC 3339
//
// Bare integers are rejected.
func ParseDate(expr string, now time.Time) (time.Time, error) {
	e := strings.ToLower(strings.TrimSpace(expr))
	switch e {
	case "":
		return time.Time{}, errors.Config("empty date expression")
	case "today", "now":
		return now, nil
	case "yesterday":
		return now.Add(-24 * time.Hour), nil
	}

	if m := relativePattern.FindStringSubmatch(e); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, errors.Config("invalid date expression %q", expr)
		}
		switch m[2] {
		case "hour":
			return now.Add(-time.Duration(n) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, -n), nil
		case "week":
			return now.AddDate(0, 0, -7*n), nil
		case "month":
			return now.AddDate(0, -n, 0), nil
		default:
			return now.AddDate(-n, 0, 0), nil
		}
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, strings.TrimSpace(expr), time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Config("invalid date expression %q: expected today, yesterday, \"<n> <unit> ago\" or an absolute date", expr)
}
