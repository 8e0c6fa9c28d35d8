// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package graph

import (
	"testing"

	"github.com/breezy-team/weft/key"
	"github.com/stretchr/testify/assert"
)

func k(rev string) key.Key { return key.New("f", rev) }

func testMap() ParentMap {
	pm := ParentMap{}
	pm.Set(k("base"), nil)
	pm.Set(k("left"), []key.Key{k("base")})
	pm.Set(k("right"), []key.Key{k("base")})
	pm.Set(k("merged"), []key.Key{k("left"), k("right")})
	return pm
}

func TestAncestry(t *testing.T) {
	assert := assert.New(t)
	pm := testMap()
	anc := Ancestry(pm, []key.Key{k("merged")}, nil)
	assert.Equal(4, anc.Len())
	anc = Ancestry(pm, []key.Key{k("left")}, nil)
	assert.Equal(2, anc.Len())
	assert.True(anc.Has(k("base")))
	assert.False(anc.Has(k("right")))
}

func TestAncestryGhosts(t *testing.T) {
	assert := assert.New(t)
	pm := testMap()
	pm.Set(k("child"), []key.Key{k("merged"), k("ghost")})
	ghosts := key.NewSet()
	anc := Ancestry(pm, []key.Key{k("child")}, ghosts)
	assert.Equal(5, anc.Len())
	assert.Equal(1, ghosts.Len())
	assert.True(ghosts.Has(k("ghost")))
}

func TestIsAncestorOf(t *testing.T) {
	assert := assert.New(t)
	pm := testMap()
	assert.True(IsAncestorOf(pm, k("base"), k("merged")))
	assert.False(IsAncestorOf(pm, k("merged"), k("base")))
}

func TestTopoSort(t *testing.T) {
	assert := assert.New(t)
	order, err := TopoSort(testMap())
	assert.NoError(err)
	assert.Len(order, 4)
	pos := map[string]int{}
	for i, k := range order {
		pos[k.Wire()] = i
	}
	assert.True(pos[k("base").Wire()] < pos[k("left").Wire()])
	assert.True(pos[k("base").Wire()] < pos[k("right").Wire()])
	assert.True(pos[k("left").Wire()] < pos[k("merged").Wire()])
	assert.True(pos[k("right").Wire()] < pos[k("merged").Wire()])
}

func TestTopoSortCycle(t *testing.T) {
	assert := assert.New(t)
	pm := ParentMap{}
	pm.Set(k("a"), []key.Key{k("b")})
	pm.Set(k("b"), []key.Key{k("a")})
	_, err := TopoSort(pm)
	assert.Error(err)
	_, ok := err.(*CycleError)
	assert.True(ok)
}

func TestTopoSortGhostParentDoesNotBlock(t *testing.T) {
	assert := assert.New(t)
	pm := ParentMap{}
	pm.Set(k("a"), []key.Key{k("ghost")})
	order, err := TopoSort(pm)
	assert.NoError(err)
	assert.Len(order, 1)
}
