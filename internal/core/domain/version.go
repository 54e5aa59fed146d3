package domain

import "time"

// =============================================================================
// Build Identifiers
// =============================================================================

// stampLayout renders UTC wall-clock time at whole-second granularity.
// Lexicographic order of stamps equals chronological order, so version
// strings sort correctly without parsing.
const stampLayout = "20060102.150405"

// Stamp formats a build identifier for the given instant, e.g.
// "20260221.143022". Builds for one application are serialized, so
// one-second granularity is collision-free in practice.
func Stamp(t time.Time) string {
	return t.UTC().Format(stampLayout)
}

// NextVersion returns a build identifier for the current wall-clock time.
func NextVersion() string {
	return Stamp(time.Now())
}

// IsStamp reports whether s is a well-formed build identifier.
func IsStamp(s string) bool {
	if len(s) != len(stampLayout) {
		return false
	}
	_, err := time.Parse(stampLayout, s)
	return err == nil
}
