// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package graphindex

import (
	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/key"
)

// Combined presents several indices as one logical view, consulted in
// order. The first index holding a key wins, which lets a fresh in-progress
// index shadow older ones.
type Combined struct {
	indices []*Index
}

// NewCombined builds a view over indices.
func NewCombined(indices ...*Index) *Combined {
	return &Combined{indices: indices}
}

// Insert adds idx at the front of the view.
func (c *Combined) Insert(idx *Index) {
	c.indices = append([]*Index{idx}, c.indices...)
}

// Get returns the first index's node for k.
func (c *Combined) Get(k key.Key) (Node, bool) {
	n, _, ok := c.Find(k)
	return n, ok
}

// Find is Get plus the member index that answered, for callers that pair
// each member with out-of-band state.
func (c *Combined) Find(k key.Key) (Node, *Index, bool) {
	for _, idx := range c.indices {
		if n, ok := idx.Get(k); ok {
			return n, idx, true
		}
	}
	return Node{}, nil, false
}

// Has reports key presence.
func (c *Combined) Has(k key.Key) bool {
	_, ok := c.Get(k)
	return ok
}

// Keys unions the member indices' keys.
func (c *Combined) Keys() key.Set {
	out := key.NewSet()
	for _, idx := range c.indices {
		for _, k := range idx.Keys() {
			out.Insert(k)
		}
	}
	return out
}

// ParentMap resolves refs list refList for each requested present key.
func (c *Combined) ParentMap(keys []key.Key, refList int) graph.ParentMap {
	out := graph.ParentMap{}
	for _, k := range keys {
		if n, ok := c.Get(k); ok && refList < len(n.Refs) {
			out.Set(k, n.Refs[refList])
		}
	}
	return out
}

// Ancestry expands the full parent closure of seeds through refs list
// refList, treating unresolvable parents as ghosts (reported in ghosts when
// non-nil).
func (c *Combined) Ancestry(seeds []key.Key, refList int, ghosts key.Set) key.Set {
	seen := key.NewSet()
	pending := append([]key.Key{}, seeds...)
	for len(pending) > 0 {
		k := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if seen.Has(k) {
			continue
		}
		n, ok := c.Get(k)
		if !ok {
			if ghosts != nil {
				ghosts.Insert(k)
			}
			continue
		}
		seen.Insert(k)
		if refList < len(n.Refs) {
			pending = append(pending, n.Refs[refList]...)
		}
	}
	return seen
}
