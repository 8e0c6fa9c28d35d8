// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/breezy-team/weft/config"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/knit"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/versionedfile"
)

func newStore(t *testing.T) *knit.Store {
	reg := versionedfile.NewAdapterRegistry()
	knit.RegisterAdapters(reg)
	s := knit.NewStore(transport.NewMemTransport(), "texts", false, reg, config.StoreOptions{})
	assert.NoError(t, s.LockWrite())
	return s
}

func add(t *testing.T, s versionedfile.VersionedFiles, k key.Key, parents []key.Key, lines []string) {
	_, err := s.AddLines(k, parents, lines, versionedfile.AddOptions{})
	assert.NoError(t, err)
}

// stackedPair is a primary with one fallback: history lives in the
// fallback, new work lands in the primary.
func stackedPair(t *testing.T) (*versionedfile.Stacked, key.Key, key.Key) {
	fallback := newStore(t)
	base := key.New("rev-base")
	add(t, fallback, base, nil, []string{"inherited\n"})

	primary := newStore(t)
	s := versionedfile.NewStacked(primary)
	s.AddFallbackVersionedFiles(fallback)

	tip := key.New("rev-tip")
	add(t, s, tip, []key.Key{base}, []string{"inherited\n", "local\n"})
	return s, base, tip
}

func TestStackedReadsThroughFallback(t *testing.T) {
	assert := assert.New(t)
	s, base, tip := stackedPair(t)

	got, err := s.GetLines(base)
	assert.NoError(err)
	assert.Equal([]string{"inherited\n"}, got)
	got, err = s.GetLines(tip)
	assert.NoError(err)
	assert.Equal([]string{"inherited\n", "local\n"}, got)

	ks, err := s.Keys()
	assert.NoError(err)
	assert.Equal(2, ks.Len())

	pm, err := s.GetParentMap([]key.Key{base, tip})
	assert.NoError(err)
	parents, _ := pm.Get(tip)
	assert.Equal([]key.Key{base}, parents)

	sha1s, err := s.GetSha1s([]key.Key{base, tip})
	assert.NoError(err)
	assert.Len(sha1s, 2)
}

func TestStackedWritesGoToPrimary(t *testing.T) {
	assert := assert.New(t)
	s, base, tip := stackedPair(t)

	bare := s.WithoutFallbacks()
	_, err := bare.GetLines(base)
	assert.True(versionedfile.IsKeyNotPresent(err))
	got, err := bare.GetLines(tip)
	assert.NoError(err)
	assert.Equal([]string{"inherited\n", "local\n"}, got)
}

func TestStackedRecordStreamSpansStores(t *testing.T) {
	assert := assert.New(t)
	s, base, tip := stackedPair(t)

	stream, err := s.GetRecordStream([]key.Key{tip, base, key.New("rev-nope")}, versionedfile.Topological, true)
	assert.NoError(err)

	var order []string
	sawAbsent := false
	for {
		rec, err := stream.Next()
		if err == io.EOF {
			break
		}
		assert.NoError(err)
		if rec.StorageKind() == versionedfile.KindAbsent {
			sawAbsent = true
			continue
		}
		order = append(order, rec.Key().Wire())
		text, err := rec.Bytes(versionedfile.KindFulltext)
		assert.NoError(err)
		want, err := s.GetLines(rec.Key())
		assert.NoError(err)
		assert.Equal(versionedfile.JoinLines(want), text)
	}
	assert.True(sawAbsent)
	assert.Equal([]string{base.Wire(), tip.Wire()}, order)
}

func TestStackedAnnotateFallsThrough(t *testing.T) {
	assert := assert.New(t)
	s, base, _ := stackedPair(t)

	anns, err := s.Annotate(base)
	assert.NoError(err)
	assert.Len(anns, 1)
	assert.True(anns[0].Origin.Equals(base))

	_, err = s.Annotate(key.New("rev-nope"))
	assert.True(versionedfile.IsKeyNotPresent(err))
}

func TestStackedAnnotateCrossesStores(t *testing.T) {
	assert := assert.New(t)
	s, base, tip := stackedPair(t)

	// The tip lives in the primary but inherits its first line from the
	// fallback's base revision; annotation must follow that ancestry.
	anns, err := s.Annotate(tip)
	assert.NoError(err)
	assert.Len(anns, 2)
	assert.True(anns[0].Origin.Equals(base))
	assert.Equal("inherited\n", anns[0].Text)
	assert.True(anns[1].Origin.Equals(tip))
	assert.Equal("local\n", anns[1].Text)
}

func TestStackedCheckAggregates(t *testing.T) {
	assert := assert.New(t)
	s, _, _ := stackedPair(t)

	res, err := s.Check()
	assert.NoError(err)
	assert.Equal(2, res.Records)
	assert.Empty(res.Problems)
}

func TestStackedKind(t *testing.T) {
	s, _, _ := stackedPair(t)
	assert.Equal(t, "stacked", s.Kind())
}
