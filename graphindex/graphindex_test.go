// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package graphindex

import (
	"testing"

	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/versionedfile"
	"github.com/stretchr/testify/assert"
)

func k2(file, rev string) key.Key { return key.New(file, rev) }

func buildIndex(t *testing.T, b *Builder) *Index {
	idx, err := Parse(b.Finish())
	assert.NoError(t, err)
	return idx
}

func TestBuilderRoundTrip(t *testing.T) {
	assert := assert.New(t)
	b := NewBuilder(2, 2)
	assert.NoError(b.Add(Node{
		Key:   k2("f", "base"),
		Value: ".0 100",
		Refs:  [][]key.Key{{}, {}},
	}, false))
	assert.NoError(b.Add(Node{
		Key:   k2("f", "child"),
		Value: "N100 50",
		Refs:  [][]key.Key{{k2("f", "base")}, {k2("f", "base")}},
	}, false))

	idx := buildIndex(t, b)
	assert.Equal(2, idx.Len())

	n, ok := idx.Get(k2("f", "child"))
	assert.True(ok)
	assert.Equal("N100 50", n.Value)
	assert.Len(n.Refs[0], 1)
	assert.True(n.Refs[0][0].Equals(k2("f", "base")))
}

func TestBuilderGhostReference(t *testing.T) {
	assert := assert.New(t)
	b := NewBuilder(2, 1)
	assert.NoError(b.Add(Node{
		Key:   k2("f", "child"),
		Value: "v",
		Refs:  [][]key.Key{{k2("f", "ghost")}},
	}, false))

	idx := buildIndex(t, b)
	// The ghost resolves as a reference but is not a present key.
	n, ok := idx.Get(k2("f", "child"))
	assert.True(ok)
	assert.True(n.Refs[0][0].Equals(k2("f", "ghost")))
	_, ok = idx.Get(k2("f", "ghost"))
	assert.False(ok)
	assert.Equal(1, idx.Len())
}

func TestBuilderDuplicate(t *testing.T) {
	assert := assert.New(t)
	b := NewBuilder(1, 0)
	n := Node{Key: key.New("a"), Value: "v", Refs: [][]key.Key{}}
	assert.NoError(b.Add(n, false))
	assert.NoError(b.Add(n, false)) // identical re-add is a no-op

	different := n
	different.Value = "other"
	err := b.Add(different, false)
	assert.Error(err)
	_, ok := err.(*versionedfile.KeyAlreadyPresentError)
	assert.True(ok)

	// With random ids asserted, the add is unchecked.
	assert.NoError(b.Add(different, true))
}

func TestParseCorrupt(t *testing.T) {
	assert := assert.New(t)
	_, err := Parse([]byte("not an index\n"))
	assert.True(versionedfile.IsCorrupt(err))

	b := NewBuilder(1, 0)
	assert.NoError(b.Add(Node{Key: key.New("a"), Value: "v", Refs: [][]key.Key{}}, false))
	data := b.Finish()
	_, err = Parse(data[:len(data)-2])
	assert.True(versionedfile.IsCorrupt(err))
}

func TestCombinedShadowing(t *testing.T) {
	assert := assert.New(t)
	b1 := NewBuilder(1, 0)
	assert.NoError(b1.Add(Node{Key: key.New("a"), Value: "new", Refs: [][]key.Key{}}, false))
	b2 := NewBuilder(1, 0)
	assert.NoError(b2.Add(Node{Key: key.New("a"), Value: "old", Refs: [][]key.Key{}}, false))
	assert.NoError(b2.Add(Node{Key: key.New("b"), Value: "only", Refs: [][]key.Key{}}, false))

	c := NewCombined(buildIndex(t, b1), buildIndex(t, b2))
	n, ok := c.Get(key.New("a"))
	assert.True(ok)
	assert.Equal("new", n.Value)
	assert.True(c.Has(key.New("b")))
	assert.Equal(2, c.Keys().Len())
}

func TestCombinedAncestry(t *testing.T) {
	assert := assert.New(t)
	b := NewBuilder(1, 1)
	assert.NoError(b.Add(Node{Key: key.New("base"), Value: "v", Refs: [][]key.Key{{}}}, false))
	assert.NoError(b.Add(Node{Key: key.New("mid"), Value: "v", Refs: [][]key.Key{{key.New("base"), key.New("ghost")}}}, false))
	assert.NoError(b.Add(Node{Key: key.New("tip"), Value: "v", Refs: [][]key.Key{{key.New("mid")}}}, false))

	c := NewCombined(buildIndex(t, b))
	ghosts := key.NewSet()
	anc := c.Ancestry([]key.Key{key.New("tip")}, 0, ghosts)
	assert.Equal(3, anc.Len())
	assert.Equal(1, ghosts.Len())
	assert.True(ghosts.Has(key.New("ghost")))

	pm := c.ParentMap([]key.Key{key.New("mid"), key.New("nope")}, 0)
	parents, ok := pm.Get(key.New("mid"))
	assert.True(ok)
	assert.Len(parents, 2)
	_, ok = pm.Get(key.New("nope"))
	assert.False(ok)
}
