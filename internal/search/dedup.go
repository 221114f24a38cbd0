package search

import (
	"sort"
	"strings"
	"unicode"
)

const (
	minFingerprintRunes = 50
	fingerprintPrefix   = 0.8
)

// SortByContent moves results with extracted content ahead of snippet-only
// ones, keeping relative order otherwise.
func SortByContent(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].HasContent() && !results[j].HasContent()
	})
}

// Dedup drops results whose content nearly duplicates an earlier result's.
// Snippet-only results are always kept. Applying Dedup to its own output
// returns it unchanged.
func Dedup(results []Result) []Result {
	prints := make([][]rune, len(results))
	for i, result := range results {
		if result.HasContent() {
			prints[i] = fingerprint(result.Content)
		}
	}

	out := make([]Result, 0, len(results))
	for i, result := range results {
		if !result.HasContent() {
			out = append(out, result)
			continue
		}
		duplicate := false
		for j := 0; j < i; j++ {
			if prints[j] != nil && nearDuplicate(prints[j], prints[i]) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, result)
		}
	}
	return out
}

// fingerprint lowercases content and drops all whitespace.
func fingerprint(content string) []rune {
	out := make([]rune, 0, len(content))
	for _, r := range strings.ToLower(content) {
		if !unicode.IsSpace(r) {
			out = append(out, r)
		}
	}
	return out
}

func nearDuplicate(a, b []rune) bool {
	if len(a) <= minFingerprintRunes || len(b) <= minFingerprintRunes {
		return false
	}
	as, bs := string(a), string(b)
	return strings.Contains(as, string(b[:int(float64(len(b))*fingerprintPrefix)])) ||
		strings.Contains(bs, string(a[:int(float64(len(a))*fingerprintPrefix)]))
}
