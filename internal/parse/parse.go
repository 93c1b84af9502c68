// Package parse turns free-text grid cell values into typed values.
// Every function is total: unparseable input yields the zero value.
package parse

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	moneyRe    = regexp.MustCompile(`[\d,]+\.?\d*`)
	diamondsRe = regexp.MustCompile(`[\d,]+`)
	daysRe     = regexp.MustCompile(`\d+`)
	nonNumRe   = regexp.MustCompile(`[^\d.]+`)
)

// noMilestones is the sentinel the grid renders for an empty milestone list.
const noMilestones = "No"

// normalize folds full-width digits and separators to ASCII.
func normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// Int parses a count such as "1,204". Placeholder dashes and anything
// non-numeric yield 0. Fractional values are truncated.
func Int(s string) int {
	s = strings.ReplaceAll(normalize(s), ",", "")
	if s == "" || s == "-" || s == "—" {
		return 0
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || f >= math.MaxInt64 || f <= math.MinInt64 {
		return 0
	}
	return int(f)
}

// Money parses the first amount in s, ignoring currency symbols and text:
// "$1,234.50 bonus" is 1234.5.
func Money(s string) float64 {
	m := moneyRe.FindString(normalize(s))
	if m == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return 0
	}
	return f
}

// Diamonds parses the first integer run in s: "12,345 💎" is 12345.
func Diamonds(s string) int {
	m := diamondsRe.FindString(normalize(s))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

// Duration parses a LIVE duration by dropping everything but digits and dots.
func Duration(s string) float64 {
	v := nonNumRe.ReplaceAllString(normalize(s), "")
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// Days parses the first integer in a "valid days" cell.
func Days(s string) int {
	m := daysRe.FindString(normalize(s))
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return n
}

// Milestones splits newline-delimited milestone text into trimmed,
// non-empty entries. The "No milestones" sentinel maps to an empty list.
func Milestones(s string) []string {
	s = normalize(s)
	out := []string{}
	if s == "" || strings.Contains(s, noMilestones) {
		return out
	}
	for _, line := range strings.Split(s, "\n") {
		if v := strings.TrimSpace(line); v != "" {
			out = append(out, v)
		}
	}
	return out
}
