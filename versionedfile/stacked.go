// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"io"

	"github.com/breezy-team/weft/delta"
	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/key"
)

// Stacked decorates a primary store with read-only fallback stores: queries
// consult the primary first and forward unanswered keys to fallbacks in
// registration order. Writes never propagate to fallbacks. A key served
// from a fallback is observably identical to one served from the primary.
type Stacked struct {
	primary   VersionedFiles
	fallbacks []VersionedFiles
}

// NewStacked wraps primary.
func NewStacked(primary VersionedFiles) *Stacked {
	return &Stacked{primary: primary}
}

// AddFallbackVersionedFiles registers another store to consult for keys the
// primary cannot answer.
func (s *Stacked) AddFallbackVersionedFiles(other VersionedFiles) {
	s.fallbacks = append(s.fallbacks, other)
}

// WithoutFallbacks returns the undecorated primary store.
func (s *Stacked) WithoutFallbacks() VersionedFiles {
	return s.primary
}

func (s *Stacked) Kind() string { return "stacked" }

func (s *Stacked) stores() []VersionedFiles {
	return append([]VersionedFiles{s.primary}, s.fallbacks...)
}

func (s *Stacked) AddLines(k key.Key, parents []key.Key, lines []string, opts AddOptions) (AddResult, error) {
	return s.primary.AddLines(k, parents, lines, opts)
}

func (s *Stacked) GetParentMap(keys []key.Key) (graph.ParentMap, error) {
	out := graph.ParentMap{}
	missing := keys
	for _, store := range s.stores() {
		if len(missing) == 0 {
			break
		}
		pm, err := store.GetParentMap(missing)
		if err != nil {
			return nil, err
		}
		var still []key.Key
		for _, k := range missing {
			if parents, ok := pm.Get(k); ok {
				out.Set(k, parents)
			} else {
				still = append(still, k)
			}
		}
		missing = still
	}
	return out, nil
}

func (s *Stacked) GetRecordStream(keys []key.Key, order Ordering, includeDeltaClosure bool) (RecordStream, error) {
	// Resolve each key to the first store that has it, then pull records
	// store by store and reassemble in the requested order.
	byStore := make([][]key.Key, len(s.stores()))
	missing := keys
	for i, store := range s.stores() {
		if len(missing) == 0 {
			break
		}
		pm, err := store.GetParentMap(missing)
		if err != nil {
			return nil, err
		}
		var still []key.Key
		for _, k := range missing {
			if _, ok := pm.Get(k); ok {
				byStore[i] = append(byStore[i], k)
			} else {
				still = append(still, k)
			}
		}
		missing = still
	}

	records := map[string]Record{}
	for i, store := range s.stores() {
		if len(byStore[i]) == 0 {
			continue
		}
		stream, err := store.GetRecordStream(byStore[i], order, includeDeltaClosure)
		if err != nil {
			return nil, err
		}
		for {
			rec, err := stream.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, err
			}
			records[rec.Key().Wire()] = rec
		}
	}

	ordered, err := s.orderKeys(keys, order)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ordered))
	for _, k := range ordered {
		if rec, ok := records[k.Wire()]; ok {
			out = append(out, rec)
		} else {
			out = append(out, &AbsentRecord{K: k})
		}
	}
	return NewSliceStream(out...), nil
}

// orderKeys applies the requested ordering across store boundaries, since
// per-store topological order says nothing about keys split between stores.
func (s *Stacked) orderKeys(keys []key.Key, order Ordering) ([]key.Key, error) {
	if order != Topological {
		return keys, nil
	}
	pm, err := s.GetParentMap(keys)
	if err != nil {
		return nil, err
	}
	wanted := key.NewSet(keys...)
	sorted, err := graph.TopoSort(pm)
	if err != nil {
		return nil, err
	}
	out := make([]key.Key, 0, len(keys))
	for _, k := range sorted {
		if wanted.Has(k) {
			out = append(out, k)
			wanted.Remove(k)
		}
	}
	// Keys unknown to every store keep their request order at the end.
	for _, k := range keys {
		if wanted.Has(k) {
			out = append(out, k)
			wanted.Remove(k)
		}
	}
	return out, nil
}

func (s *Stacked) GetSha1s(keys []key.Key) (map[string]string, error) {
	out := map[string]string{}
	missing := keys
	for _, store := range s.stores() {
		if len(missing) == 0 {
			break
		}
		shas, err := store.GetSha1s(missing)
		if err != nil {
			return nil, err
		}
		var still []key.Key
		for _, k := range missing {
			if sha, ok := shas[k.Wire()]; ok {
				out[k.Wire()] = sha
			} else {
				still = append(still, k)
			}
		}
		missing = still
	}
	return out, nil
}

func (s *Stacked) GetLines(k key.Key) ([]string, error) {
	var lastErr error
	for _, store := range s.stores() {
		lines, err := store.GetLines(k)
		if err == nil {
			return lines, nil
		}
		if !IsKeyNotPresent(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// Annotate computes annotations over the whole stack. A text in the primary
// may inherit lines from ancestry held only by a fallback, so delegating to
// the store that owns k would misattribute those lines.
func (s *Stacked) Annotate(k key.Key) ([]delta.AnnotatedLine, error) {
	pm := graph.ParentMap{}
	seen := key.NewSet(k)
	pending := []key.Key{k}
	for len(pending) > 0 {
		batch, err := s.GetParentMap(pending)
		if err != nil {
			return nil, err
		}
		var next []key.Key
		for _, cur := range pending {
			parents, ok := batch.Get(cur)
			if !ok {
				continue // ghost
			}
			pm.Set(cur, parents)
			for _, p := range parents {
				if !seen.Has(p) {
					seen.Insert(p)
					next = append(next, p)
				}
			}
		}
		pending = next
	}
	if _, ok := pm.Get(k); !ok {
		return nil, &KeyNotPresentError{Key: k}
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

// FixParents rewrites parents in the primary only; fallbacks are read-only.
func (s *Stacked) FixParents(k key.Key, parents []key.Key) error {
	return s.primary.FixParents(k, parents)
}

func (s *Stacked) Keys() (key.Set, error) {
	out := key.NewSet()
	for _, store := range s.stores() {
		ks, err := store.Keys()
		if err != nil {
			return nil, err
		}
		for _, k := range ks {
			out.Insert(k)
		}
	}
	return out, nil
}

func (s *Stacked) InsertRecordStream(stream RecordStream) error {
	return s.primary.InsertRecordStream(stream)
}

func (s *Stacked) GetMissingCompressionParentKeys() (key.Set, error) {
	return s.primary.GetMissingCompressionParentKeys()
}

func (s *Stacked) Check() (CheckResult, error) {
	total := CheckResult{}
	for _, store := range s.stores() {
		res, err := store.Check()
		if err != nil {
			return total, err
		}
		total.Records += res.Records
		total.TotalSize += res.TotalSize
		total.Problems = append(total.Problems, res.Problems...)
	}
	return total, nil
}

func (s *Stacked) LockRead() error  { return s.primary.LockRead() }
func (s *Stacked) LockWrite() error { return s.primary.LockWrite() }
func (s *Stacked) Unlock() error    { return s.primary.Unlock() }
func (s *Stacked) IsLocked() bool   { return s.primary.IsLocked() }

func (s *Stacked) StartWriteGroup() error  { return s.primary.StartWriteGroup() }
func (s *Stacked) CommitWriteGroup() error { return s.primary.CommitWriteGroup() }
func (s *Stacked) AbortWriteGroup() error  { return s.primary.AbortWriteGroup() }
func (s *Stacked) IsInWriteGroup() bool    { return s.primary.IsInWriteGroup() }
