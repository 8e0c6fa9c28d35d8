// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package knit

import (
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/graphindex"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/util/verbose"
	"github.com/breezy-team/weft/versionedfile"
)

const packNamesFile = "pack-names"

// graphKnitIndex stores knit metadata in immutable graph index files, one
// per committed write group, each paired with the pack file its positions
// point into. The pack-names file lists the committed pairs; newest entries
// shadow older ones.
//
// Node values are "<flag><pos> <size>" where flag is "N" for no-eol texts
// and "." otherwise. Ref list 0 holds parents, ref list 1 the compression
// parent (empty for fulltexts). Keeping the basis in its own list frees the
// store to delta against any present parent, not just the first.
type graphKnitIndex struct {
	t           transport.Transport
	keyElements int

	mu     sync.Mutex
	loaded bool
	view   *graphindex.Combined         // committed indices, newest first
	packs  map[*graphindex.Index]string // member index -> its pack file
}

func newGraphKnitIndex(t transport.Transport, keyElements int) *graphKnitIndex {
	return &graphKnitIndex{t: t, keyElements: keyElements}
}

func (x *graphKnitIndex) load() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.loaded {
		return nil
	}
	x.view = graphindex.NewCombined()
	x.packs = map[*graphindex.Index]string{}
	data, err := x.t.Get(packNamesFile)
	if errors.Cause(err) == transport.ErrNoSuchFile {
		x.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(data), "\n") {
		id := strings.TrimSpace(line)
		if id == "" {
			continue
		}
		raw, err := x.t.Get(id + ".wix")
		if err != nil {
			return errors.Wrapf(err, "index %s named by %s", id, packNamesFile)
		}
		idx, err := graphindex.Parse(raw)
		if err != nil {
			return err
		}
		// pack-names is oldest first; inserting at the front lets newer
		// indices shadow older ones.
		x.view.Insert(idx)
		x.packs[idx] = id + ".pack"
	}
	verbose.Log("knit: loaded %d pack indices", len(x.packs))
	x.loaded = true
	return nil
}

func (x *graphKnitIndex) lookup(k key.Key) (graphindex.Node, string, bool) {
	n, idx, ok := x.view.Find(k)
	if !ok {
		return graphindex.Node{}, "", false
	}
	return n, x.packs[idx], true
}

func (x *graphKnitIndex) get(k key.Key) (*indexEntry, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	n, pack, ok := x.lookup(k)
	if !ok {
		return nil, nil
	}
	return entryFromNode(n, pack)
}

func entryFromNode(n graphindex.Node, pack string) (*indexEntry, error) {
	if len(n.Value) < 1 || len(n.Refs) != 2 {
		return nil, versionedfile.Corruptf("malformed index node for %s", n.Key)
	}
	fields := strings.Fields(n.Value[1:])
	if len(fields) != 2 {
		return nil, versionedfile.Corruptf("malformed index value %q for %s", n.Value, n.Key)
	}
	pos, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, versionedfile.Corruptf("malformed index value %q for %s", n.Value, n.Key)
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, versionedfile.Corruptf("malformed index value %q for %s", n.Value, n.Key)
	}
	e := &indexEntry{
		k:       n.Key,
		memo:    Memo{Name: pack, Pos: pos, Size: size},
		method:  methodFulltext,
		noEOL:   n.Value[0] == 'N',
		parents: n.Refs[0],
	}
	switch len(n.Refs[1]) {
	case 0:
	case 1:
		e.method = methodLineDelta
		e.compressionParent = n.Refs[1][0]
	default:
		return nil, versionedfile.Corruptf("%d compression parents for %s", len(n.Refs[1]), n.Key)
	}
	return e, nil
}

func nodeFromEntry(e *indexEntry) graphindex.Node {
	flag := "."
	if e.noEOL {
		flag = "N"
	}
	var comp []key.Key
	if e.method == methodLineDelta {
		comp = []key.Key{e.compressionParent}
	}
	return graphindex.Node{
		Key:   e.k,
		Value: flag + strconv.FormatInt(e.memo.Pos, 10) + " " + strconv.Itoa(e.memo.Size),
		Refs:  [][]key.Key{e.parents, comp},
	}
}

// addRecords writes a new immutable index covering entries and registers it
// in pack-names. All entries must point into the same pack file.
func (x *graphKnitIndex) addRecords(entries []*indexEntry, randomID bool) error {
	if len(entries) == 0 {
		return nil
	}
	if err := x.load(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	pack := entries[0].memo.Name
	builder := graphindex.NewBuilder(x.keyElements, 2)
	for _, e := range entries {
		if e.memo.Name != pack {
			return versionedfile.Corruptf("one commit spans packs %s and %s", pack, e.memo.Name)
		}
		if old, _, ok := x.lookup(e.k); ok && !randomID && !e.replace {
			if !graphindexNodesEqualIgnoringPosition(old, e) {
				return &versionedfile.KeyAlreadyPresentError{Key: e.k}
			}
			continue
		}
		if err := builder.Add(nodeFromEntry(e), randomID); err != nil {
			return err
		}
	}
	if builder.Len() == 0 {
		return nil
	}

	id := strings.TrimSuffix(pack, ".pack")
	raw := builder.Finish()
	if err := x.t.PutBytes(id+".wix", raw); err != nil {
		return err
	}
	names, err := x.t.Get(packNamesFile)
	if errors.Cause(err) == transport.ErrNoSuchFile {
		names = nil
	} else if err != nil {
		return err
	}
	if err := x.t.PutBytes(packNamesFile, append(names, []byte(id+"\n")...)); err != nil {
		return err
	}
	idx, err := graphindex.Parse(raw)
	if err != nil {
		return err
	}
	x.view.Insert(idx)
	x.packs[idx] = pack
	return nil
}

// Re-adding a key already present elsewhere is tolerated when the graph
// shape matches; positions may legitimately differ between packs.
func graphindexNodesEqualIgnoringPosition(old graphindex.Node, e *indexEntry) bool {
	if len(old.Refs) != 2 || len(old.Refs[0]) != len(e.parents) {
		return false
	}
	for i := range e.parents {
		if !old.Refs[0][i].Equals(e.parents[i]) {
			return false
		}
	}
	return true
}

func (x *graphKnitIndex) keys() ([]key.Key, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.view.Keys().Sorted(), nil
}

func (x *graphKnitIndex) parentMap(ks []key.Key) (graph.ParentMap, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.view.ParentMap(ks, 0), nil
}
