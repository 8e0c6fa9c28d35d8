// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package delta implements the line-based diff and patch engine used by the
// knit storage format: longest-matching-block discovery, delta computation
// and deterministic delta application.
package delta

// Block is one run of lines common to both sequences: a[A:A+Size] equals
// b[B:B+Size].
type Block struct {
	A, B, Size int
}

// MatchingBlocks returns the non-overlapping matching blocks of a and b,
// ordered by position, terminated by the sentinel Block{len(a), len(b), 0}.
// Ties between equally long matches are broken by the earliest position in
// both sequences, which keeps deltas stable across runs.
func MatchingBlocks(a, b []string) []Block {
	m := newMatcher(a, b)

	// Recursion via an explicit queue over (alo, ahi, blo, bhi) regions.
	type region struct{ alo, ahi, blo, bhi int }
	queue := []region{{0, len(a), 0, len(b)}}
	var matched []Block
	for len(queue) > 0 {
		r := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		best := m.findLongestMatch(r.alo, r.ahi, r.blo, r.bhi)
		if best.Size == 0 {
			continue
		}
		matched = append(matched, best)
		if r.alo < best.A && r.blo < best.B {
			queue = append(queue, region{r.alo, best.A, r.blo, best.B})
		}
		if best.A+best.Size < r.ahi && best.B+best.Size < r.bhi {
			queue = append(queue, region{best.A + best.Size, r.ahi, best.B + best.Size, r.bhi})
		}
	}

	sortBlocks(matched)

	// Merge adjacent blocks, then append the sentinel.
	out := make([]Block, 0, len(matched)+1)
	for _, blk := range matched {
		if n := len(out); n > 0 && out[n-1].A+out[n-1].Size == blk.A && out[n-1].B+out[n-1].Size == blk.B {
			out[n-1].Size += blk.Size
			continue
		}
		out = append(out, blk)
	}
	return append(out, Block{len(a), len(b), 0})
}

type matcher struct {
	a, b []string
	b2j  map[string][]int
}

func newMatcher(a, b []string) *matcher {
	b2j := make(map[string][]int, len(b))
	for i, line := range b {
		b2j[line] = append(b2j[line], i)
	}
	return &matcher{a: a, b: b, b2j: b2j}
}

// findLongestMatch finds the longest run of lines common to
// a[alo:ahi] and b[blo:bhi]. Of all maximal runs it returns the one starting
// earliest in a, and of those, earliest in b.
func (m *matcher) findLongestMatch(alo, ahi, blo, bhi int) Block {
	besti, bestj, bestsize := alo, blo, 0
	// j2len[j] holds the length of the longest common run ending at
	// a[i-1], b[j-1] from the previous row.
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		newj2len := map[int]int{}
		for _, j := range m.b2j[m.a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return Block{besti, bestj, bestsize}
}

func sortBlocks(blocks []Block) {
	// Blocks produced by the regional split are disjoint, so ordering by A
	// alone is total.
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].A < blocks[j-1].A; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}
