// Package point holds validated data-point definitions and the machinery that
// produces them: the type caster that converts raw CSV fields into
// protocol-native values, and the loader that accumulates definitions from
// delimited files with per-row error isolation and atomic commit.
package point

import (
	"github.com/c360/opcbridge/opcua"
)

// Definition is one validated, immutable data point. Produced by Cast from a
// raw row; never mutated afterwards.
type Definition struct {
	// Alias is the stable logical name, unique within a loaded set.
	Alias string
	// Identifier is the protocol-native node identifier string.
	Identifier string
	// Type is the variant type the node's value conforms to.
	Type opcua.VariantType
	// Initial is the native initial value, type-compatible with Type.
	Initial any
	// Folder is the grouping path segment under the managed root.
	Folder string
	// Writable marks the node writable for client sessions.
	Writable bool
}

// Set is an ordered collection of definitions keyed by alias. Insertion order
// is preserved so resolution passes walk points in file order.
type Set struct {
	order   []string
	byAlias map[string]Definition
}

// NewSet returns an empty definition set.
func NewSet() *Set {
	return &Set{byAlias: make(map[string]Definition)}
}

// Add inserts a definition. It returns false without modifying the set when
// the alias is already present (earlier definition wins).
func (s *Set) Add(d Definition) bool {
	if _, dup := s.byAlias[d.Alias]; dup {
		return false
	}
	s.byAlias[d.Alias] = d
	s.order = append(s.order, d.Alias)
	return true
}

// Get returns the definition for alias.
func (s *Set) Get(alias string) (Definition, bool) {
	d, ok := s.byAlias[alias]
	return d, ok
}

// Contains reports whether alias is present.
func (s *Set) Contains(alias string) bool {
	_, ok := s.byAlias[alias]
	return ok
}

// Len returns the number of definitions.
func (s *Set) Len() int { return len(s.order) }

// All returns the definitions in insertion order.
func (s *Set) All() []Definition {
	out := make([]Definition, 0, len(s.order))
	for _, alias := range s.order {
		out = append(out, s.byAlias[alias])
	}
	return out
}

// Aliases returns the aliases in insertion order.
func (s *Set) Aliases() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := &Set{
		order:   make([]string, len(s.order)),
		byAlias: make(map[string]Definition, len(s.byAlias)),
	}
	copy(c.order, s.order)
	for k, v := range s.byAlias {
		c.byAlias[k] = v
	}
	return c
}
