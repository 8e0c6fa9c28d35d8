// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package join moves texts between versioned-file stores: the requested
// keys plus their whole present ancestry, in an order that keeps the target
// graph-consistent at every step.
package join

import (
	"github.com/breezy-team/weft/d"
	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/util/verbose"
	"github.com/breezy-team/weft/versionedfile"
)

// Strategy copies the given keys (already expanded and topologically
// sorted) from src into an open write group on dst.
type Strategy func(src, dst versionedfile.VersionedFiles, keys []key.Key) error

// Registry maps (source kind, target kind) pairs to transfer strategies.
// Pairs without an entry fall back to the generic record-stream copy.
type Registry struct {
	m map[[2]string]Strategy
}

// NewRegistry returns a registry holding only the generic fallback.
func NewRegistry() *Registry {
	return &Registry{m: map[[2]string]Strategy{}}
}

// DefaultRegistry returns a registry with the stock strategies: same-format
// knit transfer copies raw records without reconstructing texts; everything
// else reconstructs through the record-stream fallback.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("knit", "knit", RawCopy)
	return r
}

// Register installs s for src kind → dst kind transfers.
func (r *Registry) Register(srcKind, dstKind string, s Strategy) {
	r.m[[2]string{srcKind, dstKind}] = s
}

func (r *Registry) strategy(srcKind, dstKind string) Strategy {
	if s, ok := r.m[[2]string{srcKind, dstKind}]; ok {
		return s
	}
	return Reconstruct
}

// fixup is a deferred parent-list rewrite for a key both stores already
// hold but whose recorded ancestries disagree.
type fixup struct {
	k       key.Key
	parents []key.Key
}

// Join copies keys and their ancestry from src to dst. The target must be
// write locked and must not have a write group open; Join brackets the
// transfer in its own group so a failed transfer leaves no trace. Keys held
// by both stores with disagreeing parents have their target parent list
// widened to cover both recorded ancestries.
func (r *Registry) Join(src, dst versionedfile.VersionedFiles, keys []key.Key) error {
	// Calling this mid-group is a caller bug, not a recoverable condition.
	d.Chk.False(dst.IsInWriteGroup(), "join into a store with an open write group")

	needed, fixups, err := plan(src, dst, keys)
	if err != nil {
		return err
	}
	if len(needed) == 0 && len(fixups) == 0 {
		return nil
	}
	verbose.Log("join: %s -> %s, copying %d records, reconciling %d parent lists",
		src.Kind(), dst.Kind(), len(needed), len(fixups))

	if err := dst.StartWriteGroup(); err != nil {
		return err
	}
	if len(needed) > 0 {
		if err := r.strategy(src.Kind(), dst.Kind())(src, dst, needed); err != nil {
			d.PanicIfError(dst.AbortWriteGroup())
			return err
		}
	}
	for _, f := range fixups {
		if err := dst.FixParents(f.k, f.parents); err != nil {
			d.PanicIfError(dst.AbortWriteGroup())
			return err
		}
	}
	return dst.CommitWriteGroup()
}

// plan expands keys to their present ancestry in src, drops what dst
// already has, and returns the remainder topologically sorted. Shared keys
// whose parent lists disagree yield a fixup widening the target's list with
// the source-only parents; a source-only parent that the source's own
// ancestry shows descending from the key is a graph.CycleError, since
// recording it would make the key its own ancestor.
func plan(src, dst versionedfile.VersionedFiles, keys []key.Key) ([]key.Key, []fixup, error) {
	pm, err := ancestry(src, keys)
	if err != nil {
		return nil, nil, err
	}
	for _, k := range keys {
		if _, ok := pm.Get(k); !ok {
			return nil, nil, &versionedfile.KeyNotPresentError{Key: k}
		}
	}
	order, err := graph.TopoSort(pm)
	if err != nil {
		return nil, nil, err
	}

	all := pm.Keys()
	dstPM, err := dst.GetParentMap(all)
	if err != nil {
		return nil, nil, err
	}

	var needed []key.Key
	var fixups []fixup
	for _, k := range order {
		dstParents, ok := dstPM.Get(k)
		if !ok {
			needed = append(needed, k)
			continue
		}
		srcParents, _ := pm.Get(k)
		have := key.NewSet(dstParents...)
		extra := make([]key.Key, 0, len(srcParents))
		for _, p := range srcParents {
			if have.Has(p) {
				continue
			}
			if graph.IsAncestorOf(pm, k, p) {
				return nil, nil, &graph.CycleError{Keys: []key.Key{p, k}}
			}
			extra = append(extra, p)
		}
		if len(extra) == 0 {
			// Equal sets, or the source knows a subset; the target's
			// list stands.
			continue
		}
		merged := append(append([]key.Key{}, dstParents...), extra...)
		fixups = append(fixups, fixup{k: k, parents: merged})
	}
	return needed, fixups, nil
}

// ancestry walks src's parent graph from seeds. Ghosts stay in the parent
// lists (the target records them too) but are not expanded.
func ancestry(src versionedfile.VersionedFiles, seeds []key.Key) (graph.ParentMap, error) {
	pm := graph.ParentMap{}
	frontier := append([]key.Key{}, seeds...)
	for len(frontier) > 0 {
		batch, err := src.GetParentMap(frontier)
		if err != nil {
			return nil, err
		}
		frontier = nil
		for _, k := range batch.Keys() {
			parents, _ := batch.Get(k)
			pm.Set(k, parents)
			for _, p := range parents {
				if _, seen := pm.Get(p); !seen {
					frontier = append(frontier, p)
				}
			}
		}
	}
	return pm, nil
}

// RawCopy streams records in their stored kinds so the target can append
// them without reconstructing any text. Suited to same-format transfers.
func RawCopy(src, dst versionedfile.VersionedFiles, keys []key.Key) error {
	stream, err := src.GetRecordStream(keys, versionedfile.Topological, false)
	if err != nil {
		return err
	}
	return dst.InsertRecordStream(stream)
}

// Reconstruct streams records with their delta closure included, letting
// the target lower everything to fulltext. Works for any format pair.
func Reconstruct(src, dst versionedfile.VersionedFiles, keys []key.Key) error {
	stream, err := src.GetRecordStream(keys, versionedfile.Topological, true)
	if err != nil {
		return err
	}
	return dst.InsertRecordStream(stream)
}
