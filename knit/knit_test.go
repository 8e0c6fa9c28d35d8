// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package knit

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/breezy-team/weft/config"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/versionedfile"
)

func registry() *versionedfile.AdapterRegistry {
	reg := versionedfile.NewAdapterRegistry()
	RegisterAdapters(reg)
	return reg
}

func newFlatStore(t *testing.T, tr transport.Transport, annotated bool) *Store {
	s := NewStore(tr, "texts", annotated, registry(), config.StoreOptions{})
	assert.NoError(t, s.LockWrite())
	return s
}

func mustAdd(t *testing.T, s *Store, k key.Key, parents []key.Key, lines []string) versionedfile.AddResult {
	res, err := s.AddLines(k, parents, lines, versionedfile.AddOptions{})
	assert.NoError(t, err)
	return res
}

func TestAddAndGetLines(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	base := key.New("rev-a")
	lines := []string{"one\n", "two\n", "three\n"}
	res := mustAdd(t, s, base, nil, lines)
	assert.Equal(versionedfile.Sha1Lines(lines), res.Sha1)
	assert.Equal(int64(len("one\ntwo\nthree\n")), res.Length)

	got, err := s.GetLines(base)
	assert.NoError(err)
	assert.Equal(lines, got)

	child := key.New("rev-b")
	childLines := []string{"one\n", "two and a half\n", "three\n"}
	mustAdd(t, s, child, []key.Key{base}, childLines)
	got, err = s.GetLines(child)
	assert.NoError(err)
	assert.Equal(childLines, got)

	_, err = s.GetLines(key.New("rev-nope"))
	assert.True(versionedfile.IsKeyNotPresent(err))
}

func TestNoEOL(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	k := key.New("rev-a")
	lines := []string{"first\n", "no newline"}
	res := mustAdd(t, s, k, nil, lines)
	assert.Equal(versionedfile.Sha1Lines(lines), res.Sha1)

	got, err := s.GetLines(k)
	assert.NoError(err)
	assert.Equal(lines, got)

	sha1s, err := s.GetSha1s([]key.Key{k})
	assert.NoError(err)
	assert.Equal(res.Sha1, sha1s[k.Wire()])
}

func TestInteriorLineWithoutNewlineRejected(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)
	_, err := s.AddLines(key.New("rev-a"), nil, []string{"broken", "tail\n"}, versionedfile.AddOptions{})
	assert.Error(err)
}

func TestDeltaVersusFulltextChoice(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	var baseLines []string
	for i := 0; i < 50; i++ {
		baseLines = append(baseLines, "the quick brown fox jumps over the lazy dog\n")
	}
	base := key.New("rev-a")
	mustAdd(t, s, base, nil, baseLines)

	childLines := append([]string{"prelude\n"}, baseLines...)
	child := key.New("rev-b")
	mustAdd(t, s, child, []key.Key{base}, childLines)

	kinds := streamKinds(t, s, []key.Key{base, child})
	assert.Equal(versionedfile.KindKnitFtGz, kinds[base.Wire()])
	assert.Equal(versionedfile.KindKnitDeltaGz, kinds[child.Wire()])

	// A record whose parent is a ghost has no basis to delta against.
	orphan := key.New("rev-c")
	mustAdd(t, s, orphan, []key.Key{key.New("rev-ghost")}, childLines)
	kinds = streamKinds(t, s, []key.Key{orphan})
	assert.Equal(versionedfile.KindKnitFtGz, kinds[orphan.Wire()])
}

func streamKinds(t *testing.T, s *Store, keys []key.Key) map[string]string {
	stream, err := s.GetRecordStream(keys, versionedfile.Unordered, false)
	assert.NoError(t, err)
	kinds := map[string]string{}
	for {
		rec, err := stream.Next()
		if err == io.EOF {
			break
		}
		assert.NoError(t, err)
		kinds[rec.Key().Wire()] = rec.StorageKind()
	}
	return kinds
}

func TestReAdd(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	k := key.New("rev-a")
	lines := []string{"same\n"}
	mustAdd(t, s, k, nil, lines)

	// Identical content is a no-op.
	res, err := s.AddLines(k, nil, lines, versionedfile.AddOptions{})
	assert.NoError(err)
	assert.Equal(versionedfile.Sha1Lines(lines), res.Sha1)

	// Differing content is refused.
	_, err = s.AddLines(k, nil, []string{"different\n"}, versionedfile.AddOptions{})
	assert.IsType(&versionedfile.KeyAlreadyPresentError{}, err)
}

func TestGhostParentsRecorded(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	ghost := key.New("rev-ghost")
	k := key.New("rev-a")
	mustAdd(t, s, k, []key.Key{ghost}, []string{"text\n"})

	pm, err := s.GetParentMap([]key.Key{k, ghost})
	assert.NoError(err)
	parents, ok := pm.Get(k)
	assert.True(ok)
	assert.Equal([]key.Key{ghost}, parents)
	_, ok = pm.Get(ghost)
	assert.False(ok)
}

func TestAnnotate(t *testing.T) {
	assert := assert.New(t)
	for _, annotated := range []bool{false, true} {
		s := newFlatStore(t, transport.NewMemTransport(), annotated)

		base := key.New("rev-a")
		child := key.New("rev-b")
		mustAdd(t, s, base, nil, []string{"kept\n", "replaced\n"})
		mustAdd(t, s, child, []key.Key{base}, []string{"kept\n", "new\n"})

		anns, err := s.Annotate(child)
		assert.NoError(err)
		assert.Len(anns, 2)
		assert.True(anns[0].Origin.Equals(base))
		assert.Equal("kept\n", anns[0].Text)
		assert.True(anns[1].Origin.Equals(child))
		assert.Equal("new\n", anns[1].Text)
	}
}

func TestRecordStreamTopologicalWithClosure(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	a, b, c := key.New("rev-a"), key.New("rev-b"), key.New("rev-c")
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "line of shared content to make deltas worthwhile\n")
	}
	mustAdd(t, s, a, nil, lines)
	mustAdd(t, s, b, []key.Key{a}, append([]string{"b\n"}, lines...))
	mustAdd(t, s, c, []key.Key{b}, append([]string{"b\n", "c\n"}, lines...))

	stream, err := s.GetRecordStream([]key.Key{c, a, b, key.New("rev-x")}, versionedfile.Topological, true)
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
	assert.Equal([]string{a.Wire(), b.Wire(), c.Wire()}, order)
}

func TestKndxPersistence(t *testing.T) {
	assert := assert.New(t)
	tr := transport.NewMemTransport()
	s := newFlatStore(t, tr, false)

	a, b := key.New("rev-a"), key.New("rev-b")
	mustAdd(t, s, a, nil, []string{"one\n"})
	mustAdd(t, s, b, []key.Key{a}, []string{"one\n", "two\n"})
	assert.NoError(s.Unlock())

	// A write torn mid-line lacks the " :" terminator and must be skipped.
	_, err := tr.Append("texts.kndx", []byte("\nrev-torn fulltext 0 1"))
	assert.NoError(err)

	reopened := NewStore(tr, "texts", false, registry(), config.StoreOptions{})
	got, err := reopened.GetLines(b)
	assert.NoError(err)
	assert.Equal([]string{"one\n", "two\n"}, got)

	ks, err := reopened.Keys()
	assert.NoError(err)
	assert.Equal(2, ks.Len())

	pm, err := reopened.GetParentMap([]key.Key{b})
	assert.NoError(err)
	parents, _ := pm.Get(b)
	assert.Equal([]key.Key{a}, parents)
}

func TestPackStoreWriteGroups(t *testing.T) {
	assert := assert.New(t)
	tr := transport.NewMemTransport()
	s := NewPackStore(tr, 1, false, registry(), config.StoreOptions{})
	assert.NoError(s.LockWrite())

	k := key.New("rev-a")
	_, err := s.AddLines(k, nil, []string{"x\n"}, versionedfile.AddOptions{})
	assert.Equal(versionedfile.ErrNotInWriteGroup, err)

	assert.NoError(s.StartWriteGroup())
	assert.Equal(versionedfile.ErrAlreadyInWriteGroup, s.StartWriteGroup())
	mustAdd(t, s, k, nil, []string{"x\n"})

	// Pending writes are visible inside the group.
	got, err := s.GetLines(k)
	assert.NoError(err)
	assert.Equal([]string{"x\n"}, got)

	assert.Equal(versionedfile.ErrBusyWriteGroup, s.Unlock())
	assert.NoError(s.AbortWriteGroup())
	_, err = s.GetLines(k)
	assert.True(versionedfile.IsKeyNotPresent(err))

	assert.NoError(s.StartWriteGroup())
	mustAdd(t, s, k, nil, []string{"x\n"})
	assert.NoError(s.CommitWriteGroup())
	assert.NoError(s.Unlock())

	reopened := NewPackStore(tr, 1, false, registry(), config.StoreOptions{})
	got, err = reopened.GetLines(k)
	assert.NoError(err)
	assert.Equal([]string{"x\n"}, got)
}

func TestInsertRecordStreamCopies(t *testing.T) {
	assert := assert.New(t)
	src := newFlatStore(t, transport.NewMemTransport(), false)

	a, b := key.New("rev-a"), key.New("rev-b")
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "shared content line for delta compression\n")
	}
	mustAdd(t, src, a, nil, lines)
	mustAdd(t, src, b, []key.Key{a}, append([]string{"edit\n"}, lines...))

	stream, err := src.GetRecordStream([]key.Key{a, b}, versionedfile.Topological, false)
	assert.NoError(err)

	dst := newFlatStore(t, transport.NewMemTransport(), false)
	assert.NoError(dst.InsertRecordStream(stream))

	for _, k := range []key.Key{a, b} {
		want, err := src.GetLines(k)
		assert.NoError(err)
		got, err := dst.GetLines(k)
		assert.NoError(err)
		assert.Equal(want, got)
	}

	missing, err := dst.GetMissingCompressionParentKeys()
	assert.NoError(err)
	assert.Equal(0, missing.Len())
}

func TestInsertRecordStreamMissingBasis(t *testing.T) {
	assert := assert.New(t)
	src := newFlatStore(t, transport.NewMemTransport(), false)

	a, b := key.New("rev-a"), key.New("rev-b")
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "shared content line for delta compression\n")
	}
	mustAdd(t, src, a, nil, lines)
	bLines := append([]string{"edit\n"}, lines...)
	mustAdd(t, src, b, []key.Key{a}, bLines)

	// Send only the delta record; its basis is not present downstream yet.
	stream, err := src.GetRecordStream([]key.Key{b}, versionedfile.Unordered, false)
	assert.NoError(err)
	dst := newFlatStore(t, transport.NewMemTransport(), false)
	assert.NoError(dst.InsertRecordStream(stream))

	missing, err := dst.GetMissingCompressionParentKeys()
	assert.NoError(err)
	assert.True(missing.Has(a))
	_, err = dst.GetLines(b)
	assert.True(versionedfile.IsCorrupt(err))

	// Delivering the basis completes the chain.
	stream, err = src.GetRecordStream([]key.Key{a}, versionedfile.Unordered, false)
	assert.NoError(err)
	assert.NoError(dst.InsertRecordStream(stream))

	missing, err = dst.GetMissingCompressionParentKeys()
	assert.NoError(err)
	assert.Equal(0, missing.Len())
	got, err := dst.GetLines(b)
	assert.NoError(err)
	assert.Equal(bLines, got)
}

func TestInsertFulltextRecords(t *testing.T) {
	assert := assert.New(t)
	dst := newFlatStore(t, transport.NewMemTransport(), false)

	k := key.New("rev-a")
	lines := []string{"alpha\n", "beta\n"}
	rec := &versionedfile.FulltextRecord{
		K:      k,
		Digest: versionedfile.Sha1Lines(lines),
		Text:   versionedfile.JoinLines(lines),
	}
	assert.NoError(dst.InsertRecordStream(versionedfile.NewSliceStream(rec)))

	got, err := dst.GetLines(k)
	assert.NoError(err)
	assert.Equal(lines, got)
}

func TestAnnotatedToPlainTransfer(t *testing.T) {
	assert := assert.New(t)
	src := newFlatStore(t, transport.NewMemTransport(), true)

	a, b := key.New("rev-a"), key.New("rev-b")
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "annotated store content line\n")
	}
	mustAdd(t, src, a, nil, lines)
	mustAdd(t, src, b, []key.Key{a}, append([]string{"edit\n"}, lines...))

	stream, err := src.GetRecordStream([]key.Key{a, b}, versionedfile.Topological, true)
	assert.NoError(err)
	dst := newFlatStore(t, transport.NewMemTransport(), false)
	assert.NoError(dst.InsertRecordStream(stream))

	for _, k := range []key.Key{a, b} {
		want, err := src.GetLines(k)
		assert.NoError(err)
		got, err := dst.GetLines(k)
		assert.NoError(err)
		assert.Equal(want, got)
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	assert := assert.New(t)
	tr := transport.NewMemTransport()
	s := newFlatStore(t, tr, false)

	mustAdd(t, s, key.New("rev-a"), nil, []string{"healthy\n"})
	res, err := s.Check()
	assert.NoError(err)
	assert.Equal(1, res.Records)
	assert.Empty(res.Problems)

	// Flip bytes in the data file behind the store's back.
	data, err := tr.Get("texts.knit")
	assert.NoError(err)
	data[len(data)/2] ^= 0xff
	assert.NoError(tr.PutBytes("texts.knit", data))

	res, err = s.Check()
	assert.NoError(err)
	assert.NotEmpty(res.Problems)
}

func TestLockProtocol(t *testing.T) {
	assert := assert.New(t)
	s := NewStore(transport.NewMemTransport(), "texts", false, registry(), config.StoreOptions{})

	_, err := s.AddLines(key.New("rev-a"), nil, []string{"x\n"}, versionedfile.AddOptions{})
	assert.Equal(versionedfile.ErrNotWriteLocked, err)
	assert.Equal(versionedfile.ErrNotWriteLocked, s.StartWriteGroup())

	assert.NoError(s.LockRead())
	assert.True(s.IsLocked())
	assert.Error(s.LockWrite()) // no upgrade
	assert.NoError(s.Unlock())
	assert.False(s.IsLocked())
}

func TestNestedUnlockKeepsWriteGroup(t *testing.T) {
	assert := assert.New(t)
	s := NewPackStore(transport.NewMemTransport(), 1, false, registry(), config.StoreOptions{})
	assert.NoError(s.LockWrite())
	assert.NoError(s.LockWrite())
	assert.NoError(s.StartWriteGroup())
	mustAdd(t, s, key.New("rev-a"), nil, []string{"x\n"})

	// The inner unlock keeps the physical lock; only the release that
	// would drop it is refused while the group is open.
	assert.NoError(s.Unlock())
	assert.Equal(versionedfile.ErrBusyWriteGroup, s.Unlock())
	assert.NoError(s.CommitWriteGroup())
	assert.NoError(s.Unlock())
	assert.False(s.IsLocked())
}

func TestDeltaHunkOutOfRange(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	a, b := key.New("rev-a"), key.New("rev-b")
	mustAdd(t, s, a, nil, []string{"only line\n"})

	// A stored delta whose hunk range overruns its one-line basis must
	// surface as corruption when reconstructed, not crash.
	payload := recordToData(b, versionedfile.Sha1Lines([]string{"boom\n"}), []string{"5,9,1\n", "boom\n"})
	rec := &versionedfile.RawRecord{
		K:       b,
		P:       []key.Key{a},
		Digest:  versionedfile.Sha1Lines([]string{"boom\n"}),
		Kind:    versionedfile.KindKnitDeltaGz,
		Payload: payload,
	}
	assert.NoError(s.InsertRecordStream(versionedfile.NewSliceStream(rec)))

	_, err := s.GetLines(b)
	assert.True(versionedfile.IsCorrupt(err))
}

func TestCompressionChainCycleDetected(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	// Two deltas naming each other as basis must be reported as corrupt
	// rather than walked forever.
	a, b := key.New("rev-a"), key.New("rev-b")
	mk := func(k key.Key, basis key.Key) *versionedfile.RawRecord {
		digest := versionedfile.Sha1Lines([]string{"x\n"})
		return &versionedfile.RawRecord{
			K:       k,
			P:       []key.Key{basis},
			Digest:  digest,
			Kind:    versionedfile.KindKnitDeltaGz,
			Payload: recordToData(k, digest, []string{"0,0,1\n", "x\n"}),
		}
	}
	assert.NoError(s.InsertRecordStream(versionedfile.NewSliceStream(mk(a, b), mk(b, a))))

	_, err := s.GetLines(a)
	assert.True(versionedfile.IsCorrupt(err))
	_, err = s.GetLines(b)
	assert.True(versionedfile.IsCorrupt(err))
}

func TestEnableCacheServesRepeatReads(t *testing.T) {
	assert := assert.New(t)
	tr := transport.NewMemTransport()
	s := NewStore(tr, "texts", false, registry(), config.StoreOptions{EnableCache: true})
	assert.NoError(s.LockWrite())

	a, b := key.New("rev-a"), key.New("rev-b")
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, "basis content retained by the record cache\n")
	}
	mustAdd(t, s, a, nil, lines)
	afterBasis, err := tr.Get("texts.knit")
	assert.NoError(err)
	basisLen := len(afterBasis)

	bLines := append([]string{"edit\n"}, lines...)
	mustAdd(t, s, b, []key.Key{a}, bLines)

	// Warm the cache, then corrupt the basis record on disk. The pinned
	// cache keeps serving the parsed basis across operations.
	got, err := s.GetLines(b)
	assert.NoError(err)
	assert.Equal(bLines, got)

	data, err := tr.Get("texts.knit")
	assert.NoError(err)
	data[basisLen/2] ^= 0xff
	assert.NoError(tr.PutBytes("texts.knit", data))

	got, err = s.GetLines(b)
	assert.NoError(err)
	assert.Equal(bLines, got)

	// A store without the option re-reads the basis and sees the damage.
	cold := NewStore(tr, "texts", false, registry(), config.StoreOptions{})
	_, err = cold.GetLines(b)
	assert.True(versionedfile.IsCorrupt(err))
}

func TestFixParents(t *testing.T) {
	assert := assert.New(t)
	s := newFlatStore(t, transport.NewMemTransport(), false)

	a, b := key.New("rev-a"), key.New("rev-b")
	mustAdd(t, s, a, nil, []string{"a\n"})
	mustAdd(t, s, b, nil, []string{"b\n"})

	assert.Error(s.FixParents(key.New("rev-nope"), nil))

	assert.NoError(s.FixParents(b, []key.Key{a}))
	pm, err := s.GetParentMap([]key.Key{b})
	assert.NoError(err)
	parents, _ := pm.Get(b)
	assert.Equal([]key.Key{a}, parents)

	// Content and digest are untouched by the rewrite.
	got, err := s.GetLines(b)
	assert.NoError(err)
	assert.Equal([]string{"b\n"}, got)

	// Shrinking the recorded ancestry is refused.
	assert.Error(s.FixParents(b, nil))
}

func TestFixParentsPackPersistence(t *testing.T) {
	assert := assert.New(t)
	tr := transport.NewMemTransport()
	s := NewPackStore(tr, 1, false, registry(), config.StoreOptions{})
	assert.NoError(s.LockWrite())

	a, b := key.New("rev-a"), key.New("rev-b")
	assert.NoError(s.StartWriteGroup())
	mustAdd(t, s, a, nil, []string{"a\n"})
	mustAdd(t, s, b, nil, []string{"b\n"})
	assert.NoError(s.CommitWriteGroup())

	assert.NoError(s.StartWriteGroup())
	assert.NoError(s.FixParents(b, []key.Key{a}))
	assert.NoError(s.CommitWriteGroup())
	assert.NoError(s.Unlock())

	reopened := NewPackStore(tr, 1, false, registry(), config.StoreOptions{})
	pm, err := reopened.GetParentMap([]key.Key{b})
	assert.NoError(err)
	parents, _ := pm.Get(b)
	assert.Equal([]key.Key{a}, parents)
	got, err := reopened.GetLines(b)
	assert.NoError(err)
	assert.Equal([]string{"b\n"}, got)
}
