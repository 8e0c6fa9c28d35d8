// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package key

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyWireRoundTrip(t *testing.T) {
	assert := assert.New(t)
	k := New("file-id", "rev-1")
	assert.Equal("file-id\x00rev-1", k.Wire())
	assert.True(k.Equals(FromWire(k.Wire())))
}

func TestKeyValid(t *testing.T) {
	assert := assert.New(t)
	assert.True(New("f", "r").Valid())
	assert.False(Key{}.Valid())
	assert.False(New("f", "").Valid())
	assert.False(New("f", "a b").Valid())
	assert.False(New("f", "a\nb").Valid())
}

func TestKeyLess(t *testing.T) {
	assert := assert.New(t)
	assert.True(New("a", "b").Less(New("a", "c")))
	assert.True(New("a").Less(New("a", "b")))
	assert.False(New("b").Less(New("a", "z")))
	assert.False(New("a", "b").Less(New("a", "b")))
}

func TestSet(t *testing.T) {
	assert := assert.New(t)
	s := NewSet(New("f", "r2"), New("f", "r1"))
	assert.Equal(2, s.Len())
	assert.True(s.Has(New("f", "r1")))
	sorted := s.Sorted()
	assert.Equal(New("f", "r1"), sorted[0])
	assert.Equal(New("f", "r2"), sorted[1])
	s.Remove(New("f", "r1"))
	assert.False(s.Has(New("f", "r1")))
}

func TestRandomRevisionIDUnique(t *testing.T) {
	assert := assert.New(t)
	assert.NotEqual(RandomRevisionID(), RandomRevisionID())
}
