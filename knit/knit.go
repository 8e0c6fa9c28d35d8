// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package knit

import (
	"fmt"
	"io"
	"sort"
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

// Store is the knit implementation of versionedfile.VersionedFiles.
//
// Two layouts share this type. The flat layout keeps one .knit data file and
// one .kndx ledger, and commits index entries as soon as they are added. The
// pack layout appends each write group to its own pack file and publishes an
// immutable graph index for it at commit, so mutations outside a write group
// are refused.
type Store struct {
	factory factory
	index   knitIndex
	access  recordAccess
	packs   *packAccess // nil for the flat layout
	guard   *versionedfile.LockGuard
	reg     *versionedfile.AdapterRegistry
	opts    config.StoreOptions
	cache   recordCache

	inGroup       bool
	pending       []*indexEntry
	pendingByWire map[string]*indexEntry
	pendingRandom bool
	missingBases  key.Set
}

// NewStore opens the flat layout: name.knit beside name.kndx on t.
func NewStore(t transport.Transport, name string, annotated bool, reg *versionedfile.AdapterRegistry, opts config.StoreOptions) *Store {
	s := &Store{
		factory:      pickFactory(annotated),
		index:        newKndxIndex(t, name+".kndx"),
		access:       newFlatAccess(t, name+".knit"),
		guard:        versionedfile.NewLockGuard(t),
		reg:          reg,
		opts:         opts.ApplyDefaults(),
		missingBases: key.NewSet(),
	}
	if s.opts.EnableCache {
		s.cache.pin()
	}
	return s
}

// NewPackStore opens the pack layout for keys of keyElements parts.
func NewPackStore(t transport.Transport, keyElements int, annotated bool, reg *versionedfile.AdapterRegistry, opts config.StoreOptions) *Store {
	packs := newPackAccess(t)
	s := &Store{
		factory:      pickFactory(annotated),
		index:        newGraphKnitIndex(t, keyElements),
		access:       packs,
		packs:        packs,
		guard:        versionedfile.NewLockGuard(t),
		reg:          reg,
		opts:         opts.ApplyDefaults(),
		missingBases: key.NewSet(),
	}
	if s.opts.EnableCache {
		s.cache.pin()
	}
	return s
}

func pickFactory(annotated bool) factory {
	if annotated {
		return annotatedFactory{}
	}
	return plainFactory{}
}

func (s *Store) Kind() string { return "knit" }

// entry resolves k against the pending write group first, then the index.
func (s *Store) entry(k key.Key) (*indexEntry, error) {
	if e, ok := s.pendingByWire[k.Wire()]; ok {
		return e, nil
	}
	return s.index.get(k)
}

func (s *Store) checkWritable() error {
	if !s.guard.IsWriteLocked() {
		return versionedfile.ErrNotWriteLocked
	}
	if s.packs != nil && !s.inGroup {
		return versionedfile.ErrNotInWriteGroup
	}
	return nil
}

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

	// The digest covers the lines as given; the no-eol repair below is a
	// storage detail and must not affect it.
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
		dup, err := s.checkReAdd(k, digest)
		if err != nil || dup {
			return versionedfile.AddResult{Sha1: digest, Length: length}, err
		}
	}

	content := delta.AnnotateLines(k, lines)
	e := &indexEntry{k: k, method: methodFulltext, noEOL: noEOL, parents: parents}
	payload := s.factory.lowerFulltext(content)

	if basis := s.deltaBasis(parents); basis != nil {
		should, err := s.checkShouldDelta(basis)
		if err != nil {
			return versionedfile.AddResult{}, err
		}
		if should {
			basisContent, _, err := s.content(basis)
			if err != nil {
				return versionedfile.AddResult{}, err
			}
			e.method = methodLineDelta
			e.compressionParent = basis
			payload = s.factory.lowerLineDelta(annotatedDeltaFrom(basisContent, content))
		}
	}

	memo, err := s.access.add(recordToData(k, digest, payload))
	if err != nil {
		return versionedfile.AddResult{}, err
	}
	e.memo = memo
	if err := s.noteEntry(e, opts.RandomID); err != nil {
		return versionedfile.AddResult{}, err
	}
	s.missingBases.Remove(k)
	return versionedfile.AddResult{Sha1: digest, Length: length}, nil
}

// checkReAdd reports whether k already holds content with digest. A match is
// a silent no-op; a mismatch is an error.
func (s *Store) checkReAdd(k key.Key, digest string) (bool, error) {
	e, err := s.entry(k)
	if err != nil || e == nil {
		return false, err
	}
	stored, err := s.recordDigest(e)
	if err != nil {
		return false, err
	}
	if stored == digest {
		return true, nil
	}
	return false, &versionedfile.KeyAlreadyPresentError{Key: k}
}

// recordDigest reads just the framing header digest of e's record.
func (s *Store) recordDigest(e *indexEntry) (string, error) {
	raws, err := s.access.get([]Memo{e.memo})
	if err != nil {
		return "", err
	}
	_, digest, err := parseRecord(raws[0], e.k)
	return digest, err
}

// noteEntry buffers e in the open write group, or commits it immediately in
// the flat layout.
func (s *Store) noteEntry(e *indexEntry, randomID bool) error {
	if s.inGroup {
		s.pending = append(s.pending, e)
		s.pendingByWire[e.k.Wire()] = e
		s.pendingRandom = s.pendingRandom && randomID
		return nil
	}
	return s.index.addRecords([]*indexEntry{e}, randomID)
}

// deltaBasis picks the record a new text may delta against: the first
// present parent, except that the flat ledger can only express a basis that
// is the leftmost parent.
func (s *Store) deltaBasis(parents []key.Key) key.Key {
	for i, p := range parents {
		e, err := s.entry(p)
		if err != nil || e == nil {
			if s.packs == nil {
				return nil
			}
			continue
		}
		if s.packs == nil && i > 0 {
			return nil
		}
		return p
	}
	return nil
}

// checkShouldDelta decides fulltext versus delta by walking the leftmost
// parent chain: storing a delta only pays while the cumulative delta sizes
// stay under the nearest fulltext's size. A chain longer than MaxDeltaChain
// or ending in a ghost forces a fulltext.
func (s *Store) checkShouldDelta(parent key.Key) (bool, error) {
	deltaSize := int64(0)
	fulltextSize := int64(-1)
	for count := 0; count < s.opts.MaxDeltaChain; count++ {
		e, err := s.entry(parent)
		if err != nil {
			return false, err
		}
		if e == nil {
			return false, nil
		}
		if e.method == methodFulltext {
			fulltextSize = int64(e.memo.Size)
			break
		}
		deltaSize += int64(e.memo.Size)
		if len(e.parents) == 0 {
			return false, nil
		}
		parent = e.parents[0]
	}
	if fulltextSize < 0 {
		return false, nil
	}
	return fulltextSize > deltaSize, nil
}

// content reconstructs k's annotated lines by walking its compression chain
// down to a fulltext and applying deltas back up. The returned digest is the
// one framed into k's record.
func (s *Store) content(k key.Key) ([]delta.AnnotatedLine, string, error) {
	var chain []*indexEntry
	visited := map[string]bool{}
	cursor := k
	for {
		if visited[cursor.Wire()] {
			return nil, "", versionedfile.Corruptf("compression chain of %s cycles at %s", k, cursor)
		}
		visited[cursor.Wire()] = true
		e, err := s.entry(cursor)
		if err != nil {
			return nil, "", err
		}
		if e == nil {
			if len(chain) == 0 {
				return nil, "", &versionedfile.KeyNotPresentError{Key: cursor}
			}
			return nil, "", versionedfile.Corruptf("compression chain of %s needs absent %s", k, cursor)
		}
		chain = append(chain, e)
		if e.method == methodFulltext {
			break
		}
		cursor = e.compressionParent
	}

	memos := make([]Memo, len(chain))
	for i, e := range chain {
		memos[i] = e.memo
	}
	raws, err := s.access.get(memos)
	if err != nil {
		return nil, "", err
	}

	parsed := make([][]string, len(chain))
	for i, e := range chain {
		pos := fmt.Sprintf("%s:%d", e.memo.Name, e.memo.Pos)
		if lines, ok := s.cache.get(pos); ok {
			parsed[i] = lines
			continue
		}
		lines, _, err := parseRecord(raws[i], e.k)
		if err != nil {
			return nil, "", err
		}
		s.cache.put(pos, lines)
		parsed[i] = lines
	}

	bottom := chain[len(chain)-1]
	content, err := s.factory.parseFulltext(parsed[len(chain)-1], bottom.k)
	if err != nil {
		return nil, "", err
	}
	for i := len(chain) - 2; i >= 0; i-- {
		hunks, err := s.factory.parseLineDelta(parsed[i], chain[i].k)
		if err != nil {
			return nil, "", err
		}
		content, err = applyAnnotated(content, hunks)
		if err != nil {
			return nil, "", err
		}
	}

	top := chain[0]
	_, digest, err := parseRecord(raws[0], top.k)
	if err != nil {
		return nil, "", err
	}
	if versionedfile.Sha1Lines(stripNoEOL(delta.Texts(content), top.noEOL)) != digest {
		return nil, "", versionedfile.Corruptf("sha1 mismatch reconstructing %s", k)
	}
	return content, digest, nil
}

// stripNoEOL undoes the storage-time newline repair.
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
	content, _, err := s.content(k)
	if err != nil {
		return nil, err
	}
	return stripNoEOL(delta.Texts(content), e.noEOL), nil
}

// GetSha1s implements VersionedFiles. Only the record framing is read, not
// the whole chain.
func (s *Store) GetSha1s(keys []key.Key) (map[string]string, error) {
	out := map[string]string{}
	var present []*indexEntry
	for _, k := range keys {
		e, err := s.entry(k)
		if err != nil {
			return nil, err
		}
		if e != nil {
			present = append(present, e)
		}
	}
	memos := make([]Memo, len(present))
	for i, e := range present {
		memos[i] = e.memo
	}
	raws, err := s.access.get(memos)
	if err != nil {
		return nil, err
	}
	for i, e := range present {
		_, digest, err := parseRecord(raws[i], e.k)
		if err != nil {
			return nil, err
		}
		out[e.k.Wire()] = digest
	}
	return out, nil
}

// FixParents rewrites the recorded parent list of k, leaving the stored
// content and digest untouched. The new list must contain every parent
// currently recorded, so the record's delta basis stays valid; inter-store
// transfer uses this to fill in parents the target recorded as absent.
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
	current := key.NewSet(parents...)
	for _, p := range e.parents {
		if !current.Has(p) {
			return errors.Errorf("new parents of %s must include its current parents", k)
		}
	}
	if sameKeyList(e.parents, parents) {
		return nil
	}
	if e.method == methodLineDelta && s.packs == nil && !e.compressionParent.Equals(parents[0]) {
		return errors.Errorf("cannot re-point the delta basis of %s", k)
	}
	if _, ok := s.pendingByWire[k.Wire()]; ok {
		// Not yet committed; the buffered entry can change in place.
		e.parents = parents
		return nil
	}
	ne := &indexEntry{
		k:                 k,
		memo:              e.memo,
		method:            e.method,
		noEOL:             e.noEOL,
		parents:           parents,
		compressionParent: e.compressionParent,
		replace:           true,
	}
	if s.packs != nil {
		// Graph-index positions are only meaningful within the pack the
		// index file is paired with, so the record bytes move to the
		// group's pack.
		raws, err := s.access.get([]Memo{e.memo})
		if err != nil {
			return err
		}
		memo, err := s.access.add(raws[0])
		if err != nil {
			return err
		}
		ne.memo = memo
	}
	return s.noteEntry(ne, false)
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
	ks, err := s.index.keys()
	if err != nil {
		return nil, err
	}
	out := key.NewSet(ks...)
	for _, e := range s.pending {
		out.Insert(e.k)
	}
	return out, nil
}

// GetRecordStream implements VersionedFiles. Delta records whose basis is
// not their leftmost parent are lowered to fulltext, because streams carry
// no separate basis pointer.
func (s *Store) GetRecordStream(keys []key.Key, order versionedfile.Ordering, includeDeltaClosure bool) (versionedfile.RecordStream, error) {
	var present []*indexEntry
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

	switch order {
	case versionedfile.Topological:
		pm := graph.ParentMap{}
		requested := key.NewSet()
		for _, e := range present {
			requested.Insert(e.k)
		}
		for _, e := range present {
			var deps []key.Key
			if e.method == methodLineDelta && requested.Has(e.compressionParent) {
				deps = []key.Key{e.compressionParent}
			}
			pm.Set(e.k, deps)
		}
		sorted, err := graph.TopoSort(pm)
		if err != nil {
			return nil, err
		}
		byWire := map[string]*indexEntry{}
		for _, e := range present {
			byWire[e.k.Wire()] = e
		}
		present = present[:0]
		for _, k := range sorted {
			present = append(present, byWire[k.Wire()])
		}
	default:
		sort.Slice(present, func(i, j int) bool {
			if present[i].memo.Name != present[j].memo.Name {
				return present[i].memo.Name < present[j].memo.Name
			}
			return present[i].memo.Pos < present[j].memo.Pos
		})
	}

	s.cache.enable()
	defer s.cache.clear()

	memos := make([]Memo, len(present))
	for i, e := range present {
		memos[i] = e.memo
	}
	raws, err := s.access.get(memos)
	if err != nil {
		return nil, err
	}

	recs := make([]versionedfile.Record, 0, len(keys))
	for i, e := range present {
		rec, err := s.streamRecord(e, raws[i], includeDeltaClosure)
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

func (s *Store) streamRecord(e *indexEntry, raw []byte, includeDeltaClosure bool) (versionedfile.Record, error) {
	_, digest, err := parseRecord(raw, e.k)
	if err != nil {
		return nil, err
	}

	if e.method == methodLineDelta && (len(e.parents) == 0 || !e.compressionParent.Equals(e.parents[0])) {
		lines, err := s.GetLines(e.k)
		if err != nil {
			return nil, err
		}
		return &versionedfile.FulltextRecord{K: e.k, P: e.parents, Digest: digest, Text: versionedfile.JoinLines(lines)}, nil
	}

	kind := s.factory.fulltextKind()
	if e.method == methodLineDelta {
		kind = s.factory.deltaKind()
	}
	rec := &versionedfile.RawRecord{
		K:       e.k,
		P:       e.parents,
		Digest:  digest,
		Kind:    kind,
		Payload: raw,
		NoEOL:   e.noEOL,
	}
	if includeDeltaClosure {
		k, noEOL := e.k, e.noEOL
		rec.BuildFulltext = func() ([]byte, error) {
			content, _, err := s.content(k)
			if err != nil {
				return nil, err
			}
			return versionedfile.JoinLines(stripNoEOL(delta.Texts(content), noEOL)), nil
		}
	}
	return rec, nil
}

// Annotate implements VersionedFiles. Annotations are recomputed from the
// parent graph rather than trusted from annotated storage, so plain and
// annotated stores answer identically.
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

	s.cache.enable()
	defer s.cache.clear()

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

// ancestry expands seeds to their full present parent closure, ghosts
// excluded from the map's edges.
func (s *Store) ancestry(seeds []key.Key) (graph.ParentMap, error) {
	pm := graph.ParentMap{}
	pendingKeys := append([]key.Key{}, seeds...)
	for len(pendingKeys) > 0 {
		batch, err := s.GetParentMap(pendingKeys)
		if err != nil {
			return nil, err
		}
		pendingKeys = nil
		for _, k := range batch.Keys() {
			parents, _ := batch.Get(k)
			var presentParents []key.Key
			for _, p := range parents {
				if e, err := s.entry(p); err != nil {
					return nil, err
				} else if e != nil {
					presentParents = append(presentParents, p)
					if _, seen := pm.Get(p); !seen {
						pendingKeys = append(pendingKeys, p)
					}
				}
			}
			pm.Set(k, presentParents)
		}
	}
	return pm, nil
}

// InsertRecordStream implements VersionedFiles. Records native to this
// store's storage kinds are copied without reconstruction; everything else
// goes through the adapter registry to fulltext.
func (s *Store) InsertRecordStream(stream versionedfile.RecordStream) error {
	if err := s.checkWritable(); err != nil {
		return err
	}

	var batch []*indexEntry
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
			break
		}
		if err != nil {
			return err
		}
		if rec.StorageKind() == versionedfile.KindAbsent {
			return &versionedfile.KeyNotPresentError{Key: rec.Key()}
		}
		parents, _ := rec.Parents()

		if e, err := s.nativeEntry(rec, parents); err != nil {
			return err
		} else if e != nil {
			dup, err := s.checkReAdd(e.k, rec.Sha1())
			if err != nil {
				return err
			}
			if dup {
				continue
			}
			payload, err := rec.Bytes(rec.StorageKind())
			if err != nil {
				return err
			}
			memo, err := s.access.add(payload)
			if err != nil {
				return err
			}
			e.memo = memo
			if e.method == methodLineDelta {
				if be, err := s.entry(e.compressionParent); err != nil {
					return err
				} else if be == nil && !inBatch(batch, e.compressionParent) {
					s.missingBases.Insert(e.compressionParent)
				}
			}
			s.missingBases.Remove(e.k)
			batch = append(batch, e)
			continue
		}

		// Foreign kind: lower to fulltext and re-add.
		text, err := s.adapt(rec, basis)
		if err != nil {
			return err
		}
		if _, err := s.AddLines(rec.Key(), parents, versionedfile.SplitLines(text), versionedfile.AddOptions{}); err != nil {
			return err
		}
	}

	if len(batch) == 0 {
		return nil
	}
	if s.inGroup {
		for _, e := range batch {
			s.pending = append(s.pending, e)
			s.pendingByWire[e.k.Wire()] = e
		}
		s.pendingRandom = false
		return nil
	}
	return s.index.addRecords(batch, false)
}

// nativeEntry returns the index entry a record yields when its storage kind
// is native to this store, nil when it must be adapted instead.
func (s *Store) nativeEntry(rec versionedfile.Record, parents []key.Key) (*indexEntry, error) {
	kind := rec.StorageKind()
	var method string
	switch kind {
	case s.factory.fulltextKind():
		method = methodFulltext
	case s.factory.deltaKind():
		method = methodLineDelta
	default:
		return nil, nil
	}
	e := &indexEntry{k: rec.Key(), method: method, parents: parents}
	if raw, ok := rec.(*versionedfile.RawRecord); ok {
		e.noEOL = raw.NoEOL
	}
	if method == methodLineDelta {
		if len(parents) == 0 {
			return nil, versionedfile.Corruptf("delta record %s has no parents", rec.Key())
		}
		e.compressionParent = parents[0]
	}
	return e, nil
}

func (s *Store) adapt(rec versionedfile.Record, basis versionedfile.BasisFunc) ([]byte, error) {
	if s.reg != nil {
		return s.reg.Adapt(rec, versionedfile.KindFulltext, basis)
	}
	return rec.Bytes(versionedfile.KindFulltext)
}

func inBatch(batch []*indexEntry, k key.Key) bool {
	for _, e := range batch {
		if e.k.Equals(k) {
			return true
		}
	}
	return false
}

// GetMissingCompressionParentKeys implements VersionedFiles.
func (s *Store) GetMissingCompressionParentKeys() (key.Set, error) {
	out := key.NewSet()
	for _, k := range s.missingBases.Sorted() {
		e, err := s.entry(k)
		if err != nil {
			return nil, err
		}
		if e == nil {
			out.Insert(k)
		}
	}
	return out, nil
}

// Check implements VersionedFiles: reconstruct everything, verify every
// digest, report rather than abort on problems.
func (s *Store) Check() (versionedfile.CheckResult, error) {
	res := versionedfile.CheckResult{}
	ks, err := s.Keys()
	if err != nil {
		return res, err
	}

	s.cache.enable()
	defer s.cache.clear()

	for _, k := range ks.Sorted() {
		e, err := s.entry(k)
		if err != nil {
			return res, err
		}
		res.Records++
		res.TotalSize += int64(e.memo.Size)
		if _, _, err := s.content(k); err != nil {
			res.Problems = append(res.Problems, err.Error())
		}
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

// StartWriteGroup implements VersionedFiles. In the pack layout this names
// the pack file the group's records will be appended to.
func (s *Store) StartWriteGroup() error {
	if !s.guard.IsWriteLocked() {
		return versionedfile.ErrNotWriteLocked
	}
	if s.inGroup {
		return versionedfile.ErrAlreadyInWriteGroup
	}
	s.inGroup = true
	s.pending = nil
	s.pendingByWire = map[string]*indexEntry{}
	s.pendingRandom = true
	if s.packs != nil {
		s.packs.setWriter("pack-" + uuid.New().String() + ".pack")
	}
	return nil
}

// CommitWriteGroup implements VersionedFiles. The buffered index entries
// land as one batch; until now nothing written by this group was reachable.
func (s *Store) CommitWriteGroup() error {
	if !s.inGroup {
		return versionedfile.ErrNotInWriteGroup
	}
	err := s.index.addRecords(s.pending, s.pendingRandom)
	if err != nil {
		return err
	}
	verbose.Log("knit: committed write group of %d records", len(s.pending))
	s.closeGroup()
	return nil
}

// AbortWriteGroup implements VersionedFiles. Appended record bytes stay in
// the data file but no index entry ever points at them.
func (s *Store) AbortWriteGroup() error {
	if !s.inGroup {
		return versionedfile.ErrNotInWriteGroup
	}
	verbose.Log("knit: aborted write group, dropping %d records", len(s.pending))
	s.closeGroup()
	return nil
}

func (s *Store) closeGroup() {
	s.inGroup = false
	s.pending = nil
	s.pendingByWire = nil
	if s.packs != nil {
		s.packs.setWriter("")
	}
}

func (s *Store) IsInWriteGroup() bool { return s.inGroup }
