// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package delta

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/breezy-team/weft/key"
	"github.com/stretchr/testify/assert"
)

func lines(ss ...string) []string { return ss }

func TestMatchingBlocksIdentical(t *testing.T) {
	assert := assert.New(t)
	a := lines("a\n", "b\n", "c\n")
	blocks := MatchingBlocks(a, a)
	assert.Equal([]Block{{0, 0, 3}, {3, 3, 0}}, blocks)
}

func TestMatchingBlocksDisjoint(t *testing.T) {
	assert := assert.New(t)
	blocks := MatchingBlocks(lines("a\n", "b\n"), lines("c\n", "d\n"))
	assert.Equal([]Block{{2, 2, 0}}, blocks)
}

func TestMatchingBlocksEarliestTie(t *testing.T) {
	assert := assert.New(t)
	// "x" occurs twice in b; the match must bind to the earliest position.
	blocks := MatchingBlocks(lines("x\n"), lines("x\n", "y\n", "x\n"))
	assert.Equal(Block{0, 0, 1}, blocks[0])
}

func TestMatchingBlocksEmpty(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([]Block{{0, 0, 0}}, MatchingBlocks(nil, nil))
	assert.Equal([]Block{{0, 2, 0}}, MatchingBlocks(nil, lines("a\n", "b\n")))
}

func TestComputeApplyRoundTrip(t *testing.T) {
	assert := assert.New(t)
	cases := [][2][]string{
		{lines("a\n", "b\n", "c\n"), lines("a\n", "x\n", "c\n")},
		{lines("a\n"), lines("a\n")},
		{lines(), lines("new\n")},
		{lines("gone\n"), lines()},
		{lines("line\n"), lines("line\n", "line")}, // no trailing newline
		{lines("a\n", "b\n"), lines("b\n", "a\n")},
	}
	for i, c := range cases {
		dl := Compute(c[0], c[1])
		assert.Equal(c[1], Apply(c[0], dl), "case %d", i)
	}
}

func TestApplyEmptyResultIsNil(t *testing.T) {
	assert := assert.New(t)
	basis := lines("gone\n")
	assert.Nil(Apply(basis, Compute(basis, nil)))
}

func TestComputeDeterministic(t *testing.T) {
	assert := assert.New(t)
	basis := lines("a\n", "b\n", "a\n", "b\n")
	target := lines("b\n", "a\n", "b\n", "c\n")
	assert.Equal(Compute(basis, target), Compute(basis, target))
}

func TestComputeApplyRandomized(t *testing.T) {
	assert := assert.New(t)
	r := rand.New(rand.NewSource(42))
	vocab := []string{"a\n", "b\n", "c\n", "d\n", "e\n"}
	for trial := 0; trial < 100; trial++ {
		mk := func() []string {
			n := r.Intn(20)
			out := make([]string, n)
			for i := range out {
				out[i] = vocab[r.Intn(len(vocab))]
			}
			return out
		}
		basis, target := mk(), mk()
		assert.Equal(target, Apply(basis, Compute(basis, target)),
			fmt.Sprintf("basis=%v target=%v", basis, target))
	}
}

func TestReannotateNoParents(t *testing.T) {
	assert := assert.New(t)
	k := key.New("f", "r1")
	annotated := Reannotate(k, lines("one\n", "two\n"), nil)
	for _, al := range annotated {
		assert.True(al.Origin.Equals(k))
	}
}

func TestReannotateInherit(t *testing.T) {
	assert := assert.New(t)
	base := key.New("f", "base")
	cur := key.New("f", "cur")
	parent := AnnotateLines(base, lines("keep\n", "drop\n"))
	annotated := Reannotate(cur, lines("keep\n", "new\n"), [][]AnnotatedLine{parent})
	assert.True(annotated[0].Origin.Equals(base))
	assert.True(annotated[1].Origin.Equals(cur))
}

func TestReannotateSecondParent(t *testing.T) {
	assert := assert.New(t)
	left := key.New("f", "left")
	right := key.New("f", "right")
	cur := key.New("f", "merge")
	p1 := AnnotateLines(left, lines("a\n"))
	p2 := AnnotateLines(right, lines("a\n", "b\n"))
	annotated := Reannotate(cur, lines("a\n", "b\n"), [][]AnnotatedLine{p1, p2})
	assert.True(annotated[0].Origin.Equals(left))
	// "b" is absent from the primary parent but identical in the second, so
	// it inherits the second parent's origin.
	assert.True(annotated[1].Origin.Equals(right))
}
