// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package graph

import (
	"sort"

	"github.com/breezy-team/weft/key"
)

// TopoSort orders every key in pm such that all of a key's non-ghost parents
// precede it. Ties are broken by key order so the result is deterministic.
// Returns a CycleError if pm contains a cycle.
func TopoSort(pm ParentMap) ([]key.Key, error) {
	// Count unresolved in-graph parents per key, then repeatedly emit keys
	// whose count has dropped to zero. Ghost parents never block emission.
	remaining := map[string]int{}
	children := map[string][]string{}
	for wire, parents := range pm {
		if _, ok := remaining[wire]; !ok {
			remaining[wire] = 0
		}
		for _, p := range parents {
			pw := p.Wire()
			if _, ok := pm[pw]; !ok {
				continue // ghost
			}
			remaining[wire]++
			children[pw] = append(children[pw], wire)
		}
	}

	ready := make([]string, 0, len(remaining))
	for wire, n := range remaining {
		if n == 0 {
			ready = append(ready, wire)
		}
	}
	sort.Strings(ready)

	out := make([]key.Key, 0, len(remaining))
	for len(ready) > 0 {
		wire := ready[0]
		ready = ready[1:]
		out = append(out, key.FromWire(wire))

		kids := children[wire]
		sort.Strings(kids)
		var unblocked []string
		for _, kid := range kids {
			remaining[kid]--
			if remaining[kid] == 0 {
				unblocked = append(unblocked, kid)
			}
		}
		// Newly unblocked children go to the front to keep related texts
		// physically near each other, matching the source graph order.
		ready = append(unblocked, ready...)
	}

	if len(out) != len(remaining) {
		var stuck []key.Key
		for wire, n := range remaining {
			if n > 0 {
				stuck = append(stuck, key.FromWire(wire))
			}
		}
		sort.Slice(stuck, func(i, j int) bool { return stuck[i].Less(stuck[j]) })
		return nil, &CycleError{Keys: stuck}
	}
	return out, nil
}
