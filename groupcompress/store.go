// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package groupcompress

import (
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/breezy-team/weft/config"
	"github.com/breezy-team/weft/delta"
	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/util/verbose"
	"github.com/breezy-team/weft/versionedfile"
)

// Store is the group-compress implementation of
// versionedfile.VersionedFiles. All mutations happen inside a write group:
// texts accumulate in an open block, blocks seal to the group's pack file
// when they outgrow GroupBlockSize, and the group's index entries publish as
// one immutable index file at commit.
type Store struct {
	t     transport.Transport
	index *gcIndex
	guard *versionedfile.LockGuard
	reg   *versionedfile.AdapterRegistry
	opts  config.StoreOptions

	inGroup       bool
	packName      string
	comp          *Compressor
	open          []*entry // compressed into comp, block not yet sealed
	sealed        []*entry // block sealed, index entry not yet committed
	pendingByWire map[string]*entry
	pendingRandom bool

	blockCache map[string][]string
	caching    bool
}

// NewStore opens a group-compress store for keys of keyElements parts.
func NewStore(t transport.Transport, keyElements int, reg *versionedfile.AdapterRegistry, opts config.StoreOptions) *Store {
	s := &Store{
		t:     t,
		index: newGCIndex(t, keyElements),
		guard: versionedfile.NewLockGuard(t),
		reg:   reg,
		opts:  opts.ApplyDefaults(),
	}
	s.caching = s.opts.EnableCache
	if s.caching {
		s.blockCache = map[string][]string{}
	}
	return s
}

func (s *Store) Kind() string { return "groupcompress" }

func (s *Store) checkWritable() error {
	if !s.guard.IsWriteLocked() {
		return versionedfile.ErrNotWriteLocked
	}
	if !s.inGroup {
		return versionedfile.ErrNotInWriteGroup
	}
	return nil
}

func (s *Store) entry(k key.Key) (*entry, error) {
	if e, ok := s.pendingByWire[k.Wire()]; ok {
		return e, nil
	}
	return s.index.get(k)
}

// isOpen reports whether e still lives in the unsealed block.
func isOpen(e *entry) bool { return e.pack == "" }

// AddLines implements VersionedFiles.
func (s *Store) AddLines(k key.Key, parents []key.Key, lines []string, opts versionedfile.AddOptions) (versionedfile.AddResult, error) {
	if err := s.checkWritable(); err != nil {
		return versionedfile.AddResult{}, err
	}
	if !k.Valid() {
		return versionedfile.AddResult{}, errors.Errorf("invalid key %s", k)
	}
	for _, p := range parents {
		if !p.Valid() {
			return versionedfile.AddResult{}, errors.Errorf("invalid parent key %s", p)
		}
	}
	for i := 0; i+1 < len(lines); i++ {
		if !strings.HasSuffix(lines[i], "\n") {
			return versionedfile.AddResult{}, errors.Errorf("interior line without newline in %s", k)
		}
	}

	digest := versionedfile.Sha1Lines(lines)
	length := int64(len(versionedfile.JoinLines(lines)))
	noEOL := len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], "\n")
	if noEOL {
		fixed := make([]string, len(lines))
		copy(fixed, lines)
		fixed[len(fixed)-1] += "\n"
		lines = fixed
	}

	if !opts.RandomID {
		prev, err := s.entry(k)
		if err != nil {
			return versionedfile.AddResult{}, err
		}
		if prev != nil {
			_, stored, _, err := s.extract(prev)
			if err != nil {
				return versionedfile.AddResult{}, err
			}
			if stored == digest {
				return versionedfile.AddResult{Sha1: digest, Length: length}, nil
			}
			return versionedfile.AddResult{}, &versionedfile.KeyAlreadyPresentError{Key: k}
		}
	}

	start, end := s.comp.Compress(k, lines, digest)
	e := &entry{k: k, start: start, end: end, noEOL: noEOL, parents: parents}
	s.open = append(s.open, e)
	s.pendingByWire[k.Wire()] = e
	s.pendingRandom = s.pendingRandom && opts.RandomID

	if s.comp.Size() > s.opts.GroupBlockSize {
		if err := s.sealBlock(); err != nil {
			return versionedfile.AddResult{}, err
		}
	}
	return versionedfile.AddResult{Sha1: digest, Length: length}, nil
}

// sealBlock compresses the open block to the group's pack file and fixes
// the physical addresses of the records in it. Sealing is irreversible.
func (s *Store) sealBlock() error {
	if len(s.open) == 0 {
		return nil
	}
	data := encodeBlock(s.comp.lines)
	pos, err := s.t.Append(s.packName, data)
	if err != nil {
		return err
	}
	for _, e := range s.open {
		e.pack = s.packName
		e.pos = pos
		e.size = len(data)
	}
	verbose.Log("groupcompress: sealed block of %d records, %d bytes", len(s.open), len(data))
	s.sealed = append(s.sealed, s.open...)
	s.open = nil
	s.comp = NewCompressor()
	return nil
}

// blockLines fetches and decodes the sealed block holding e.
func (s *Store) blockLines(e *entry) ([]string, error) {
	pos := e.pack + ":" + strconv.FormatInt(e.pos, 10)
	if lines, ok := s.blockCache[pos]; ok {
		return lines, nil
	}
	raws, err := s.t.ReadV(e.pack, []transport.Range{{Offset: e.pos, Length: e.size}})
	if err != nil {
		return nil, err
	}
	lines, err := decodeBlock(raws[0])
	if err != nil {
		return nil, err
	}
	if s.caching {
		s.blockCache[pos] = lines
	}
	return lines, nil
}

// extract reconstructs e's stored lines (newline-repaired form) plus its
// digest, verifying the digest over the no-eol-corrected text.
func (s *Store) extract(e *entry) ([]string, string, bool, error) {
	var lines []string
	var digest string
	var err error
	if isOpen(e) {
		lines, digest, err = s.comp.Extract(e.k)
	} else {
		var blk []string
		blk, err = s.blockLines(e)
		if err == nil {
			lines, digest, err = extractRecord(blk, e.k, e.start, e.end)
		}
	}
	if err != nil {
		return nil, "", false, err
	}
	if versionedfile.Sha1Lines(stripNoEOL(lines, e.noEOL)) != digest {
		return nil, "", false, versionedfile.Corruptf("sha1 mismatch extracting %s", e.k)
	}
	return lines, digest, e.noEOL, nil
}

func stripNoEOL(lines []string, noEOL bool) []string {
	if !noEOL || len(lines) == 0 {
		return lines
	}
	out := make([]string, len(lines))
	copy(out, lines)
	out[len(out)-1] = strings.TrimSuffix(out[len(out)-1], "\n")
	return out
}

// GetLines implements VersionedFiles.
func (s *Store) GetLines(k key.Key) ([]string, error) {
	e, err := s.entry(k)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, &versionedfile.KeyNotPresentError{Key: k}
	}
	lines, _, noEOL, err := s.extract(e)
	if err != nil {
		return nil, err
	}
	return stripNoEOL(lines, noEOL), nil
}

// GetSha1s implements VersionedFiles.
func (s *Store) GetSha1s(keys []key.Key) (map[string]string, error) {
	out := map[string]string{}
	for _, k := range keys {
		e, err := s.entry(k)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		_, digest, _, err := s.extract(e)
		if err != nil {
			return nil, err
		}
		out[k.Wire()] = digest
	}
	return out, nil
}

// FixParents rewrites the recorded parent list of k. The new list must
// contain every parent currently recorded. Committed records are recompressed
// into the open block with their content and digest unchanged; the new index
// entry shadows the old one at commit.
func (s *Store) FixParents(k key.Key, parents []key.Key) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	e, err := s.entry(k)
	if err != nil {
		return err
	}
	if e == nil {
		return &versionedfile.KeyNotPresentError{Key: k}
	}
	wanted := key.NewSet(parents...)
	for _, p := range e.parents {
		if !wanted.Has(p) {
			return errors.Errorf("new parents of %s must include its current parents", k)
		}
	}
	if sameKeyList(e.parents, parents) {
		return nil
	}
	if _, ok := s.pendingByWire[k.Wire()]; ok {
		e.parents = parents
		return nil
	}
	lines, digest, noEOL, err := s.extract(e)
	if err != nil {
		return err
	}
	start, end := s.comp.Compress(k, lines, digest)
	ne := &entry{k: k, start: start, end: end, noEOL: noEOL, parents: parents}
	s.open = append(s.open, ne)
	s.pendingByWire[k.Wire()] = ne
	s.pendingRandom = false
	if s.comp.Size() > s.opts.GroupBlockSize {
		return s.sealBlock()
	}
	return nil
}

func sameKeyList(a, b []key.Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equals(b[i]) {
			return false
		}
	}
	return true
}

// GetParentMap implements VersionedFiles.
func (s *Store) GetParentMap(keys []key.Key) (graph.ParentMap, error) {
	pm, err := s.index.parentMap(keys)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if e, ok := s.pendingByWire[k.Wire()]; ok {
			pm.Set(k, e.parents)
		}
	}
	return pm, nil
}

// Keys implements VersionedFiles.
func (s *Store) Keys() (key.Set, error) {
	out, err := s.index.keys()
	if err != nil {
		return nil, err
	}
	for w := range s.pendingByWire {
		out.Insert(key.FromWire(w))
	}
	return out, nil
}

// GetRecordStream implements VersionedFiles. Sealed records travel as block
// refs carrying their whole block; records still in the open block travel
// as fulltexts, since their physical form does not exist yet.
func (s *Store) GetRecordStream(keys []key.Key, order versionedfile.Ordering, includeDeltaClosure bool) (versionedfile.RecordStream, error) {
	var present []*entry
	var absent []key.Key
	for _, k := range keys {
		e, err := s.entry(k)
		if err != nil {
			return nil, err
		}
		if e == nil {
			absent = append(absent, k)
		} else {
			present = append(present, e)
		}
	}

	if order == versionedfile.Topological {
		pm := graph.ParentMap{}
		requested := key.NewSet()
		for _, e := range present {
			requested.Insert(e.k)
		}
		for _, e := range present {
			var deps []key.Key
			for _, p := range e.parents {
				if requested.Has(p) {
					deps = append(deps, p)
				}
			}
			pm.Set(e.k, deps)
		}
		sorted, err := graph.TopoSort(pm)
		if err != nil {
			return nil, err
		}
		byWire := map[string]*entry{}
		for _, e := range present {
			byWire[e.k.Wire()] = e
		}
		present = present[:0]
		for _, k := range sorted {
			present = append(present, byWire[k.Wire()])
		}
	} else {
		sort.Slice(present, func(i, j int) bool {
			a, b := present[i], present[j]
			if a.pack != b.pack {
				return a.pack < b.pack
			}
			if a.pos != b.pos {
				return a.pos < b.pos
			}
			return a.start < b.start
		})
	}

	blockBytes := map[string][]byte{}
	recs := make([]versionedfile.Record, 0, len(keys))
	for _, e := range present {
		rec, err := s.streamRecord(e, blockBytes, includeDeltaClosure)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	for _, k := range absent {
		recs = append(recs, &versionedfile.AbsentRecord{K: k})
	}
	return versionedfile.NewSliceStream(recs...), nil
}

func (s *Store) streamRecord(e *entry, blockBytes map[string][]byte, includeDeltaClosure bool) (versionedfile.Record, error) {
	lines, digest, noEOL, err := s.extract(e)
	if err != nil {
		return nil, err
	}
	if isOpen(e) {
		return &versionedfile.FulltextRecord{
			K: e.k, P: e.parents, Digest: digest,
			Text: versionedfile.JoinLines(stripNoEOL(lines, noEOL)),
		}, nil
	}

	pos := e.pack + ":" + strconv.FormatInt(e.pos, 10)
	blk, ok := blockBytes[pos]
	if !ok {
		raws, err := s.t.ReadV(e.pack, []transport.Range{{Offset: e.pos, Length: e.size}})
		if err != nil {
			return nil, err
		}
		blk = raws[0]
		blockBytes[pos] = blk
	}
	rec := &versionedfile.RawRecord{
		K:       e.k,
		P:       e.parents,
		Digest:  digest,
		Kind:    versionedfile.KindGCBlockRef,
		Payload: encodeBlockRef(e.start, e.end, blk),
		NoEOL:   noEOL,
	}
	if includeDeltaClosure {
		text := versionedfile.JoinLines(stripNoEOL(lines, noEOL))
		rec.BuildFulltext = func() ([]byte, error) { return text, nil }
	}
	return rec, nil
}

// Annotate implements VersionedFiles by recomputing annotations from the
// parent graph; the format stores no per-line origins.
func (s *Store) Annotate(k key.Key) ([]delta.AnnotatedLine, error) {
	if e, err := s.entry(k); err != nil {
		return nil, err
	} else if e == nil {
		return nil, &versionedfile.KeyNotPresentError{Key: k}
	}

	pm, err := s.ancestry([]key.Key{k})
	if err != nil {
		return nil, err
	}
	order, err := graph.TopoSort(pm)
	if err != nil {
		return nil, err
	}

	annotations := map[string][]delta.AnnotatedLine{}
	for _, cur := range order {
		lines, err := s.GetLines(cur)
		if err != nil {
			return nil, err
		}
		parents, _ := pm.Get(cur)
		var parentAnns [][]delta.AnnotatedLine
		for _, p := range parents {
			if ann, ok := annotations[p.Wire()]; ok {
				parentAnns = append(parentAnns, ann)
			}
		}
		annotations[cur.Wire()] = delta.Reannotate(cur, lines, parentAnns)
	}
	return annotations[k.Wire()], nil
}

func (s *Store) ancestry(seeds []key.Key) (graph.ParentMap, error) {
	pm := graph.ParentMap{}
	frontier := append([]key.Key{}, seeds...)
	for len(frontier) > 0 {
		batch, err := s.GetParentMap(frontier)
		if err != nil {
			return nil, err
		}
		frontier = nil
		for _, k := range batch.Keys() {
			parents, _ := batch.Get(k)
			var presentParents []key.Key
			for _, p := range parents {
				if e, err := s.entry(p); err != nil {
					return nil, err
				} else if e != nil {
					presentParents = append(presentParents, p)
					if _, seen := pm.Get(p); !seen {
						frontier = append(frontier, p)
					}
				}
			}
			pm.Set(k, presentParents)
		}
	}
	return pm, nil
}

// InsertRecordStream implements VersionedFiles. Every record is lowered to
// fulltext and recompressed into the open block; block refs are
// self-contained, so no basis resolution is ever needed.
func (s *Store) InsertRecordStream(stream versionedfile.RecordStream) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	basis := func(k key.Key) ([]byte, error) {
		lines, err := s.GetLines(k)
		if err != nil {
			return nil, err
		}
		return versionedfile.JoinLines(lines), nil
	}
	for {
		rec, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.StorageKind() == versionedfile.KindAbsent {
			return &versionedfile.KeyNotPresentError{Key: rec.Key()}
		}
		var text []byte
		if s.reg != nil {
			text, err = s.reg.Adapt(rec, versionedfile.KindFulltext, basis)
		} else {
			text, err = rec.Bytes(versionedfile.KindFulltext)
		}
		if err != nil {
			return err
		}
		parents, _ := rec.Parents()
		if _, err := s.AddLines(rec.Key(), parents, versionedfile.SplitLines(text), versionedfile.AddOptions{}); err != nil {
			return err
		}
	}
}

// GetMissingCompressionParentKeys implements VersionedFiles. Inserted
// records are recompressed rather than copied, so nothing can be left
// waiting on an unsupplied basis.
func (s *Store) GetMissingCompressionParentKeys() (key.Set, error) {
	return key.NewSet(), nil
}

// Check implements VersionedFiles.
func (s *Store) Check() (versionedfile.CheckResult, error) {
	res := versionedfile.CheckResult{}
	ks, err := s.Keys()
	if err != nil {
		return res, err
	}
	for _, k := range ks.Sorted() {
		e, err := s.entry(k)
		if err != nil {
			return res, err
		}
		res.Records++
		lines, _, noEOL, err := s.extract(e)
		if err != nil {
			res.Problems = append(res.Problems, err.Error())
			continue
		}
		res.TotalSize += int64(len(versionedfile.JoinLines(stripNoEOL(lines, noEOL))))
	}
	return res, nil
}

func (s *Store) LockRead() error  { return s.guard.LockRead() }
func (s *Store) LockWrite() error { return s.guard.LockWrite() }
func (s *Store) Unlock() error {
	// Nested unlocks keep the physical lock; only the final release is
	// refused while a write group is open.
	if s.inGroup && s.guard.ReleasesOnUnlock() {
		return versionedfile.ErrBusyWriteGroup
	}
	return s.guard.Unlock()
}
func (s *Store) IsLocked() bool { return s.guard.IsLocked() }

// StartWriteGroup implements VersionedFiles.
func (s *Store) StartWriteGroup() error {
	if !s.guard.IsWriteLocked() {
		return versionedfile.ErrNotWriteLocked
	}
	if s.inGroup {
		return versionedfile.ErrAlreadyInWriteGroup
	}
	s.inGroup = true
	s.packName = "pack-" + uuid.New().String() + ".pack"
	s.comp = NewCompressor()
	s.open = nil
	s.sealed = nil
	s.pendingByWire = map[string]*entry{}
	s.pendingRandom = true
	return nil
}

// CommitWriteGroup implements VersionedFiles: seal the open block, then
// publish the group's index entries as one batch.
func (s *Store) CommitWriteGroup() error {
	if !s.inGroup {
		return versionedfile.ErrNotInWriteGroup
	}
	if err := s.sealBlock(); err != nil {
		return err
	}
	if err := s.index.addEntries(s.sealed, s.pendingRandom); err != nil {
		return err
	}
	verbose.Log("groupcompress: committed write group of %d records", len(s.sealed))
	s.closeGroup()
	return nil
}

// AbortWriteGroup implements VersionedFiles. Sealed blocks may already sit
// in the pack file, but no index entry ever points at them.
func (s *Store) AbortWriteGroup() error {
	if !s.inGroup {
		return versionedfile.ErrNotInWriteGroup
	}
	verbose.Log("groupcompress: aborted write group, dropping %d records", len(s.open)+len(s.sealed))
	s.closeGroup()
	return nil
}

func (s *Store) closeGroup() {
	s.inGroup = false
	s.packName = ""
	s.comp = nil
	s.open = nil
	s.sealed = nil
	s.pendingByWire = nil
}

func (s *Store) IsInWriteGroup() bool { return s.inGroup }
