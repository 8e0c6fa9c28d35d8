// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package delta

import (
	"fmt"

	"github.com/breezy-team/weft/d"
)

// Hunk replaces basis lines [Start, End) with Lines. A Hunk with
// Start == End is a pure insertion; one with empty Lines is a pure deletion.
type Hunk struct {
	Start, End int
	Lines      []string
}

// Delta is an ordered sequence of non-overlapping hunks against one basis.
// Applying it to the basis line sequence reproduces the target exactly.
type Delta []Hunk

// Compute diffs basis against target. It is deterministic: identical inputs
// always produce an identical Delta.
func Compute(basis, target []string) Delta {
	var out Delta
	apos, bpos := 0, 0
	for _, blk := range MatchingBlocks(basis, target) {
		if apos < blk.A || bpos < blk.B {
			out = append(out, Hunk{
				Start: apos,
				End:   blk.A,
				Lines: target[bpos:blk.B],
			})
		}
		apos = blk.A + blk.Size
		bpos = blk.B + blk.Size
	}
	return out
}

// Apply reproduces the target lines from basis and a delta computed against
// it. Hunks must be ordered and in range; violations are programmer error.
// The empty text is always nil, matching the line-splitting of "".
func Apply(basis []string, dl Delta) []string {
	out := make([]string, 0, len(basis))
	pos := 0
	for _, h := range dl {
		d.Chk.True(h.Start >= pos && h.End >= h.Start && h.End <= len(basis),
			"bad hunk %d,%d against basis of %d lines", h.Start, h.End, len(basis))
		out = append(out, basis[pos:h.Start]...)
		out = append(out, h.Lines...)
		pos = h.End
	}
	out = append(out, basis[pos:]...)
	if len(out) == 0 {
		return nil
	}
	return out
}

// LineCount is the total number of literal lines carried by the delta.
func (dl Delta) LineCount() int {
	n := 0
	for _, h := range dl {
		n += len(h.Lines)
	}
	return n
}

func (h Hunk) String() string {
	return fmt.Sprintf("%d,%d,%d", h.Start, h.End, len(h.Lines))
}
