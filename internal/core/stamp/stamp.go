// Package stamp names archives after the instant they were taken and
// recovers that instant from a name.
package stamp

import (
	"strings"
	"time"
)

// Layout is the UTC timestamp embedded in archive names (microsecond precision).
// Hyphens replace colons so the name is valid on every filesystem.
const Layout = "2006-01-02T15-04-05.000000Z"

// parseLayout also accepts fractions shorter than six digits
const parseLayout = "2006-01-02T15-04-05.999999Z"

// bareLen is the length of a timestamp in Layout with the fraction digits removed
const bareLen = len("2006-01-02T15-04-05.Z")

// Format renders t in UTC using Layout
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// ArchiveName returns "<prefix>_<timestamp>.<ext>", or "<timestamp>.<ext>"
// when prefix is empty.
func ArchiveName(prefix string, t time.Time, ext string) string {
	name := Format(t) + "." + ext
	if prefix == "" {
		return name
	}
	return prefix + "_" + name
}

// Parse recovers the instant embedded in an archive name.
// It never fails: ok is false when the name carries no timestamp in Layout.
// The fraction may have one to six digits.
func Parse(name, prefix, ext string) (t time.Time, ok bool) {
	rest := name
	if prefix != "" {
		if strings.HasPrefix(rest, prefix+"_") {
			rest = rest[len(prefix)+1:]
		} else if strings.HasPrefix(rest, prefix) {
			rest = rest[len(prefix):]
		}
	}

	suffix := "." + ext
	if len(rest) >= len(suffix) && strings.EqualFold(rest[len(rest)-len(suffix):], suffix) {
		rest = rest[:len(rest)-len(suffix)]
	}

	if digits := len(rest) - bareLen; digits < 1 || digits > 6 {
		return time.Time{}, false
	}
	t, err := time.Parse(parseLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
