package tool

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"
)

// maxTypoDistance is the largest edit distance accepted by the typo tier.
const maxTypoDistance = 2

// resolution is the outcome of matching a user-supplied name against a catalog.
type resolution[T any] struct {
	Matches []T
	// Others names the further candidates a substring match passed over.
	Others []string
}

// resolveByName matches query against the names of items, trying in order:
// exact case-insensitive match, the keyword "all", substring match in either
// direction (first hit wins), then a typo tier. The typo tier only accepts
// a query that drops letters from a name or swaps two adjacent ones, so a
// name that is simply absent ("vitamin e") is never taken for a different
// item. An empty Matches means nothing was found.
func resolveByName[T any](items []T, nameOf func(T) string, query string) resolution[T] {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return resolution[T]{}
	}

	for _, it := range items {
		if strings.ToLower(nameOf(it)) == q {
			return resolution[T]{Matches: []T{it}}
		}
	}

	if q == "all" {
		return resolution[T]{Matches: items}
	}

	var res resolution[T]
	for _, it := range items {
		n := strings.ToLower(nameOf(it))
		if n == "" || !(strings.Contains(n, q) || strings.Contains(q, n)) {
			continue
		}
		if len(res.Matches) == 0 {
			res.Matches = []T{it}
		} else {
			res.Others = append(res.Others, nameOf(it))
		}
	}
	if len(res.Matches) > 0 {
		return res
	}

	best, bestDist := -1, maxTypoDistance+1
	for i, it := range items {
		n := strings.ToLower(nameOf(it))
		if !isSubsequence(q, n) && !isAdjacentSwap(q, n) {
			continue
		}
		if d := levenshtein.Distance(q, n, nil); d < bestDist {
			best, bestDist = i, d
		}
	}
	if best >= 0 {
		return resolution[T]{Matches: []T{items[best]}}
	}
	return resolution[T]{}
}

// isSubsequence reports whether q is name with some letters left out.
func isSubsequence(q, name string) bool {
	j := 0
	for i := 0; i < len(name) && j < len(q); i++ {
		if name[i] == q[j] {
			j++
		}
	}
	return j == len(q)
}

// isAdjacentSwap reports whether q is name with one pair of neighbouring
// bytes exchanged.
func isAdjacentSwap(q, name string) bool {
	if len(q) != len(name) {
		return false
	}
	i := 0
	for i < len(q) && q[i] == name[i] {
		i++
	}
	return i+1 < len(q) && q[i] == name[i+1] && q[i+1] == name[i] && q[i+2:] == name[i+2:]
}

// notFoundError lists what the user could have meant.
func notFoundError[T any](kind, query string, items []T, nameOf func(T) string) error {
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, nameOf(it))
	}
	return fmt.Errorf("%s '%s' not found. Available: %s", kind, query, strings.Join(names, ", "))
}
