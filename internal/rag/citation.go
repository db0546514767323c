package rag

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// markerPattern matches a bracket group of one or more comma-separated
// integers, e.g. [2] or [1, 3] or [4,4].
var markerPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// NormalizeCitations rewrites generator output so citation markers are
// sequential, deduplicated, and sorted, and returns the evidence list
// reordered to match. Models number citations in whatever order they
// like; after normalization the markers read 1, 2, 3 ... in the order
// the reader encounters them.
//
// Within each bracket group, duplicate indices are collapsed and indices
// outside [1, len(evidence)] are dropped. A group left empty after
// dropping is removed from the text entirely. If the text contains no
// bracket groups it is returned unchanged with empty evidence: a valid,
// ungrounded answer that callers should treat as lower confidence.
//
// By construction, len(reordered) equals the number of distinct valid
// indices referenced, and every marker in the output indexes reordered
// with no bounds error.
func NormalizeCitations(raw string, evidence []EvidenceItem) (string, []EvidenceItem) {
	matches := markerPattern.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return raw, nil
	}

	// First pass: assign each distinct valid original index a new
	// sequential number in order of first appearance.
	renumber := make(map[int]int)
	order := make([]int, 0, len(evidence))
	for _, m := range matches {
		for _, orig := range parseMarkerGroup(m[1]) {
			if orig < 1 || orig > len(evidence) {
				continue
			}
			if _, seen := renumber[orig]; !seen {
				renumber[orig] = len(order) + 1
				order = append(order, orig)
			}
		}
	}

	// Second pass: rewrite every group through the renumber table.
	normalized := markerPattern.ReplaceAllStringFunc(raw, func(group string) string {
		inner := group[1 : len(group)-1]
		seen := make(map[int]bool)
		mapped := make([]int, 0, 4)
		for _, orig := range parseMarkerGroup(inner) {
			n, ok := renumber[orig]
			if !ok || seen[n] {
				continue
			}
			seen[n] = true
			mapped = append(mapped, n)
		}
		if len(mapped) == 0 {
			return ""
		}
		sort.Ints(mapped)
		parts := make([]string, len(mapped))
		for i, n := range mapped {
			parts[i] = strconv.Itoa(n)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	})

	reordered := make([]EvidenceItem, len(order))
	for newIdx, orig := range order {
		item := evidence[orig-1]
		item.Rank = newIdx + 1
		reordered[newIdx] = item
	}
	return normalized, reordered
}

// parseMarkerGroup splits the inside of a bracket group into integers,
// deduplicating while preserving first-seen order.
func parseMarkerGroup(inner string) []int {
	parts := strings.Split(inner, ",")
	seen := make(map[int]bool, len(parts))
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
