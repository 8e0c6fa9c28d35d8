// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package graph implements the ancestry algorithms shared by the index
// layers and the inter-store transfer logic: frontier-expansion ancestry
// walks, topological sorting and cycle detection over parent maps.
package graph

import (
	"fmt"

	"github.com/breezy-team/weft/key"
)

// ParentMap maps a key (in wire form) to its ordered tuple of parent keys.
// An empty tuple means root; a missing entry means "parents unknown".
type ParentMap map[string][]key.Key

// Get looks up k, distinguishing empty parents from an absent entry.
func (pm ParentMap) Get(k key.Key) ([]key.Key, bool) {
	ps, ok := pm[k.Wire()]
	return ps, ok
}

// Set records the parents of k.
func (pm ParentMap) Set(k key.Key, parents []key.Key) {
	pm[k.Wire()] = parents
}

// Keys returns the keys with known parents, in no particular order.
func (pm ParentMap) Keys() []key.Key {
	out := make([]key.Key, 0, len(pm))
	for wire := range pm {
		out = append(out, key.FromWire(wire))
	}
	return out
}

// CycleError reports that a set of keys participates in an ancestry cycle,
// or that a proposed parent change would create one.
type CycleError struct {
	Keys []key.Key
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle in graph: %v", e.Keys)
}

// Ancestry computes the transitive closure of parents of seeds within pm.
// Parent references that pm cannot resolve are ghosts: the walk stops there
// and, when ghosts is non-nil, records them.
func Ancestry(pm ParentMap, seeds []key.Key, ghosts key.Set) key.Set {
	seen := key.NewSet()
	pending := make([]key.Key, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := pm.Get(s); !ok {
			if ghosts != nil {
				ghosts.Insert(s)
			}
			continue
		}
		pending = append(pending, s)
	}
	for len(pending) > 0 {
		k := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if seen.Has(k) {
			continue
		}
		seen.Insert(k)
		parents, _ := pm.Get(k)
		for _, p := range parents {
			if seen.Has(p) {
				continue
			}
			if _, ok := pm.Get(p); !ok {
				if ghosts != nil {
					ghosts.Insert(p)
				}
				continue
			}
			pending = append(pending, p)
		}
	}
	return seen
}

// IsAncestorOf returns true iff ancestor is in the ancestry of k within pm.
// Ghost references are skipped.
func IsAncestorOf(pm ParentMap, ancestor, k key.Key) bool {
	return Ancestry(pm, []key.Key{k}, nil).Has(ancestor)
}
