// Package util holds small cross-cutting helpers shared by the graph,
// scheduler, and CLI packages, mirroring the teacher's internal/util
// package.
package util

import (
	mapset "github.com/deckarep/golang-set"
)

// Set is a string set, backed by deckarep/golang-set rather than a
// hand-rolled map[string]struct{} — the pack already depends on the real
// library, so there is no reason to reinvent it.
type Set struct {
	inner mapset.Set
}

// NewSet returns an empty Set.
func NewSet() Set {
	return Set{inner: mapset.NewSet()}
}

// NewSetFrom returns a Set containing the given values.
func NewSetFrom(values ...string) Set {
	s := NewSet()
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add inserts v into the set.
func (s Set) Add(v string) {
	s.inner.Add(v)
}

// Includes reports whether v is a member of the set.
func (s Set) Includes(v string) bool {
	return s.inner.Contains(v)
}

// Len returns the number of elements in the set.
func (s Set) Len() int {
	return s.inner.Cardinality()
}

// List returns the set's members in unspecified order.
func (s Set) List() []string {
	out := make([]string, 0, s.inner.Cardinality())
	for v := range s.inner.Iter() {
		out = append(out, v.(string))
	}
	return out
}

// Union returns the union of s and other as a new Set.
func (s Set) Union(other Set) Set {
	return Set{inner: s.inner.Union(other.inner)}
}
