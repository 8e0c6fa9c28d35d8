// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package delta

import (
	"github.com/breezy-team/weft/key"
)

// AnnotatedLine pairs one text line with the key that introduced it.
type AnnotatedLine struct {
	Origin key.Key
	Text   string
}

// AnnotateLines attributes every line to origin; used for parentless texts.
func AnnotateLines(origin key.Key, lines []string) []AnnotatedLine {
	out := make([]AnnotatedLine, len(lines))
	for i, l := range lines {
		out[i] = AnnotatedLine{Origin: origin, Text: l}
	}
	return out
}

// Texts strips annotations.
func Texts(lines []AnnotatedLine) []string {
	out := make([]string, len(lines))
	for i, al := range lines {
		out[i] = al.Text
	}
	return out
}

// Reannotate merges the annotations of parents onto lines for the text
// introduced by current. Lines matching the first parent's corresponding
// region inherit that parent's origins; lines still attributed to current
// afterwards inherit any other parent's origin where the text matches.
// Everything else is attributed to current.
func Reannotate(current key.Key, lines []string, parents [][]AnnotatedLine) []AnnotatedLine {
	if len(parents) == 0 {
		return AnnotateLines(current, lines)
	}

	out := annotateAgainst(current, lines, parents[0])
	for _, parent := range parents[1:] {
		reannotateOthers(out, parent, current)
	}
	return out
}

func annotateAgainst(current key.Key, lines []string, parent []AnnotatedLine) []AnnotatedLine {
	out := AnnotateLines(current, lines)
	for _, blk := range MatchingBlocks(Texts(parent), lines) {
		for i := 0; i < blk.Size; i++ {
			out[blk.B+i].Origin = parent[blk.A+i].Origin
		}
	}
	return out
}

// reannotateOthers re-attributes lines still blamed on current when another
// parent carries the identical line in a matching region.
func reannotateOthers(lines []AnnotatedLine, parent []AnnotatedLine, current key.Key) {
	for _, blk := range MatchingBlocks(Texts(parent), Texts(lines)) {
		for i := 0; i < blk.Size; i++ {
			if lines[blk.B+i].Origin.Equals(current) {
				lines[blk.B+i].Origin = parent[blk.A+i].Origin
			}
		}
	}
}
