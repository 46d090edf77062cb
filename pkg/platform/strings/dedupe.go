// Package strings provides string list helpers used when reading configuration.
package strings

import (
	"slices"
	"strings"
)

// DedupeAndTrim trims each value and drops blanks and repeats, keeping first-seen order.
//
//	DedupeAndTrim([]string{"  broker-1:9092 ", "broker-2:9092", "broker-1:9092", ""})
//	// []string{"broker-1:9092", "broker-2:9092"}
func DedupeAndTrim(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// Duplicates lists each value that occurs more than once, in the order the repeat
// is first seen.
func Duplicates(values []string) []string {
	counts := make(map[string]int, len(values))
	var dups []string
	for _, v := range values {
		if counts[v]++; counts[v] == 2 {
			dups = append(dups, v)
		}
	}
	return dups
}
