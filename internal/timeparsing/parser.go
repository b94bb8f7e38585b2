// Package timeparsing provides layered parsing for relative date/time
// expressions used by flags like --stale-since and --ttl.
//
// Layers, tried in order:
//  1. Compact duration (+6h, -1d, +2w)
//  2. Natural language via olebedev/when ("2 days ago", "tomorrow")
//  3. Absolute timestamp (RFC3339, date-only)
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]), e.g. +6h, -1d, 2w.
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// nlParser is the shared natural-language parser. when.Parser is
// stateless after construction, so one instance serves all calls.
var nlParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// Parse resolves a time expression against now, trying each layer in
// order. Empty input is an error; callers decide their own defaults.
func Parse(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	if IsCompactDuration(s) {
		return ParseCompactDuration(s, now)
	}

	if t, err := ParseNatural(s, now); err == nil {
		return t, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time expression: %q", s)
}

// ParseCompactDuration parses compact duration syntax relative to now.
//
// Units: h (hours), d (days), w (weeks), m (months), y (years).
// No sign means positive: "3m" is now + 3 months.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	matches := compactDurationRe.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}

	amount, err := strconv.Atoi(matches[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", matches[2])
	}
	if matches[1] == "-" {
		amount = -amount
	}

	return applyDuration(now, amount, matches[3]), nil
}

// ParseNatural parses natural-language expressions ("2 days ago",
// "next monday") relative to now.
func ParseNatural(s string, now time.Time) (time.Time, error) {
	result, err := nlParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if result == nil {
		return time.Time{}, fmt.Errorf("not a natural-language time: %q", s)
	}
	return result.Time, nil
}

// ParseTTL resolves a lease duration expression ("30m", "2h", "+1d") to a
// positive duration relative to now.
func ParseTTL(s string, now time.Time) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return 0, fmt.Errorf("ttl must be positive: %q", s)
		}
		return d, nil
	}

	t, err := Parse(s, now)
	if err != nil {
		return 0, err
	}
	d := t.Sub(now)
	if d <= 0 {
		return 0, fmt.Errorf("ttl must be in the future: %q", s)
	}
	return d, nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		return base
	}
}

// IsCompactDuration returns true if the string matches compact duration
// syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(s)
}
