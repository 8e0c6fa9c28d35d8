// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package join

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/breezy-team/weft/config"
	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/groupcompress"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/knit"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/versionedfile"
)

func registry() *versionedfile.AdapterRegistry {
	reg := versionedfile.NewAdapterRegistry()
	knit.RegisterAdapters(reg)
	groupcompress.RegisterAdapters(reg)
	return reg
}

func newKnit(t *testing.T) *knit.Store {
	s := knit.NewStore(transport.NewMemTransport(), "texts", false, registry(), config.StoreOptions{})
	assert.NoError(t, s.LockWrite())
	return s
}

func newGC(t *testing.T) *groupcompress.Store {
	s := groupcompress.NewStore(transport.NewMemTransport(), 1, registry(), config.StoreOptions{})
	assert.NoError(t, s.LockWrite())
	return s
}

// seedHistory adds a three-revision chain and returns its keys.
func seedHistory(t *testing.T, s versionedfile.VersionedFiles) (a, b, c key.Key) {
	a, b, c = key.New("rev-a"), key.New("rev-b"), key.New("rev-c")
	grouped := s.Kind() == "groupcompress"
	if grouped {
		assert.NoError(t, s.StartWriteGroup())
	}
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "history line shared by all revisions\n")
	}
	add := func(k key.Key, parents []key.Key, extra string) {
		_, err := s.AddLines(k, parents, append([]string{extra}, lines...), versionedfile.AddOptions{})
		assert.NoError(t, err)
	}
	add(a, nil, "a\n")
	add(b, []key.Key{a}, "b\n")
	add(c, []key.Key{b}, "c\n")
	if grouped {
		assert.NoError(t, s.CommitWriteGroup())
	}
	return
}

func assertSame(t *testing.T, src, dst versionedfile.VersionedFiles, keys ...key.Key) {
	for _, k := range keys {
		want, err := src.GetLines(k)
		assert.NoError(t, err)
		got, err := dst.GetLines(k)
		assert.NoError(t, err)
		assert.Equal(t, want, got)
	}
	srcPM, err := src.GetParentMap(keys)
	assert.NoError(t, err)
	dstPM, err := dst.GetParentMap(keys)
	assert.NoError(t, err)
	assert.Equal(t, srcPM, dstPM)
}

func TestJoinKnitToKnitPullsAncestry(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newKnit(t)
	a, b, c := seedHistory(t, src)

	// Asking for only the tip still transfers its whole ancestry.
	assert.NoError(DefaultRegistry().Join(src, dst, []key.Key{c}))
	assertSame(t, src, dst, a, b, c)

	ks, err := dst.Keys()
	assert.NoError(err)
	assert.Equal(3, ks.Len())
}

func TestJoinIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newKnit(t)
	_, _, c := seedHistory(t, src)

	r := DefaultRegistry()
	assert.NoError(r.Join(src, dst, []key.Key{c}))
	assert.NoError(r.Join(src, dst, []key.Key{c}))
}

func TestJoinKnitToGroupCompress(t *testing.T) {
	src, dst := newKnit(t), newGC(t)
	a, b, c := seedHistory(t, src)

	assert.NoError(t, DefaultRegistry().Join(src, dst, []key.Key{c}))
	assertSame(t, src, dst, a, b, c)
}

func TestJoinGroupCompressToKnit(t *testing.T) {
	src, dst := newGC(t), newKnit(t)
	a, b, c := seedHistory(t, src)

	assert.NoError(t, DefaultRegistry().Join(src, dst, []key.Key{c}))
	assertSame(t, src, dst, a, b, c)
}

func TestJoinMissingKeyRefused(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newKnit(t)
	seedHistory(t, src)

	err := DefaultRegistry().Join(src, dst, []key.Key{key.New("rev-nope")})
	assert.True(versionedfile.IsKeyNotPresent(err))
}

func TestJoinReconcilesParents(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newKnit(t)
	a, b, c := seedHistory(t, src)

	// dst already holds b's text but recorded no parents for it; the join
	// must widen b's parent list instead of copying or refusing.
	want, err := src.GetLines(b)
	assert.NoError(err)
	_, err = dst.AddLines(b, nil, want, versionedfile.AddOptions{})
	assert.NoError(err)

	r := DefaultRegistry()
	assert.NoError(r.Join(src, dst, []key.Key{c}))
	assertSame(t, src, dst, a, b, c)

	pm, err := dst.GetParentMap([]key.Key{b})
	assert.NoError(err)
	parents, _ := pm.Get(b)
	assert.Equal([]key.Key{a}, parents)

	// A second join finds nothing left to reconcile.
	assert.NoError(r.Join(src, dst, []key.Key{c}))
}

func TestJoinParentCycleRefused(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newKnit(t)

	// src records a and b as each other's parents.
	a, b := key.New("rev-a"), key.New("rev-b")
	_, err := src.AddLines(a, []key.Key{b}, []string{"a\n"}, versionedfile.AddOptions{})
	assert.NoError(err)
	_, err = src.AddLines(b, []key.Key{a}, []string{"b\n"}, versionedfile.AddOptions{})
	assert.NoError(err)
	_, err = dst.AddLines(a, nil, []string{"a\n"}, versionedfile.AddOptions{})
	assert.NoError(err)

	err = DefaultRegistry().Join(src, dst, []key.Key{b})
	_, ok := errors.Cause(err).(*graph.CycleError)
	assert.True(ok)

	// The refused transfer must not have landed anything new.
	ks, err := dst.Keys()
	assert.NoError(err)
	assert.Equal(1, ks.Len())
}

func TestJoinInsideWriteGroupPanics(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newGC(t)
	_, _, c := seedHistory(t, src)

	assert.NoError(dst.StartWriteGroup())
	assert.Panics(func() {
		_ = DefaultRegistry().Join(src, dst, []key.Key{c})
	})
}

func TestJoinGhostParentsCarried(t *testing.T) {
	assert := assert.New(t)
	src, dst := newKnit(t), newKnit(t)

	ghost := key.New("rev-ghost")
	k := key.New("rev-a")
	_, err := src.AddLines(k, []key.Key{ghost}, []string{"haunted\n"}, versionedfile.AddOptions{})
	assert.NoError(err)

	assert.NoError(DefaultRegistry().Join(src, dst, []key.Key{k}))
	pm, err := dst.GetParentMap([]key.Key{k})
	assert.NoError(err)
	parents, _ := pm.Get(k)
	assert.Equal([]key.Key{ghost}, parents)
}
