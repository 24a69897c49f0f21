// Package order implements the deterministic total order over archive
// entries: a locale-independent, unsigned-byte-wise comparison of
// arc_path. The teacher states the identical requirement for its own
// on-disk format ("SquashFS requires directory entries to be sorted");
// here the constraint is load-bearing for a second reason beyond
// format validity — it is what makes offset planning, and therefore
// the whole resumption contract, deterministic across recordings.
package order

import "sort"

// Less reports whether a sorts before b under the canonical
// byte-lexicographic comparator: no locale, no Unicode normalization,
// no case folding. A directory's trailing '/' sorts it immediately
// before its own children, since '/' (0x2F) is less than any byte
// that can legally follow it in a path component.
func Less(a, b string) bool {
	return a < b
}

// ArcPather describes an indexed collection by each item's archive
// path. Sort does not take an ArcPather; it takes the equivalent
// lookup function directly.
type ArcPather interface {
	ArcPathAt(i int) string
}

// Sort orders a slice of length n in place using the canonical
// comparator, via swap. Kept generic over a length+swap+path-lookup
// triple so callers can sort their own Entry slices without this
// package importing the Entry type (avoiding an import cycle with the
// top-level package, which itself depends on internal/order for
// fingerprinting order guarantees).
func Sort(n int, arcPathAt func(i int) string, swap func(i, j int)) {
	sort.Sort(&sorter{n: n, arcPathAt: arcPathAt, swap: swap})
}

type sorter struct {
	n         int
	arcPathAt func(i int) string
	swap      func(i, j int)
}

func (s *sorter) Len() int { return s.n }
func (s *sorter) Less(i, j int) bool {
	return Less(s.arcPathAt(i), s.arcPathAt(j))
}
func (s *sorter) Swap(i, j int) { s.swap(i, j) }
