// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package groupcompress

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

// entry locates one record: the sealed block holding it and the record's
// line range within that block once decompressed.
type entry struct {
	k          key.Key
	pack       string
	pos        int64
	size       int
	start, end int
	noEOL      bool
	parents    []key.Key
}

// gcIndex stores group-compress metadata in immutable graph index files,
// one per committed write group, listed oldest-first in pack-names. Node
// values are "<flag><pos> <size> <start> <end>" with flag "N" for no-eol
// texts and "." otherwise; the single ref list holds parents.
type gcIndex struct {
	t           transport.Transport
	keyElements int

	mu     sync.Mutex
	loaded bool
	view   *graphindex.Combined         // committed indices, newest first
	packs  map[*graphindex.Index]string // member index -> its pack file
}

func newGCIndex(t transport.Transport, keyElements int) *gcIndex {
	return &gcIndex{t: t, keyElements: keyElements}
}

func (x *gcIndex) load() error {
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
		raw, err := x.t.Get(id + ".gix")
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
	verbose.Log("groupcompress: loaded %d pack indices", len(x.packs))
	x.loaded = true
	return nil
}

func (x *gcIndex) get(k key.Key) (*entry, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if n, idx, ok := x.view.Find(k); ok {
		return entryFromNode(n, x.packs[idx])
	}
	return nil, nil
}

func entryFromNode(n graphindex.Node, pack string) (*entry, error) {
	if len(n.Value) < 1 || len(n.Refs) != 1 {
		return nil, versionedfile.Corruptf("malformed index node for %s", n.Key)
	}
	fields := strings.Fields(n.Value[1:])
	if len(fields) != 4 {
		return nil, versionedfile.Corruptf("malformed index value %q for %s", n.Value, n.Key)
	}
	pos, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, versionedfile.Corruptf("malformed index value %q for %s", n.Value, n.Key)
	}
	nums := make([]int, 3)
	for i, f := range fields[1:] {
		nums[i], err = strconv.Atoi(f)
		if err != nil {
			return nil, versionedfile.Corruptf("malformed index value %q for %s", n.Value, n.Key)
		}
	}
	return &entry{
		k:       n.Key,
		pack:    pack,
		pos:     pos,
		size:    nums[0],
		start:   nums[1],
		end:     nums[2],
		noEOL:   n.Value[0] == 'N',
		parents: n.Refs[0],
	}, nil
}

func nodeFromEntry(e *entry) graphindex.Node {
	flag := "."
	if e.noEOL {
		flag = "N"
	}
	return graphindex.Node{
		Key: e.k,
		Value: flag + strconv.FormatInt(e.pos, 10) + " " + strconv.Itoa(e.size) +
			" " + strconv.Itoa(e.start) + " " + strconv.Itoa(e.end),
		Refs: [][]key.Key{e.parents},
	}
}

// addEntries seals a new index file for one committed write group. All
// entries must point into the same pack.
func (x *gcIndex) addEntries(entries []*entry, randomID bool) error {
	if len(entries) == 0 {
		return nil
	}
	if err := x.load(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	pack := entries[0].pack
	builder := graphindex.NewBuilder(x.keyElements, 1)
	for _, e := range entries {
		if e.pack != pack {
			return versionedfile.Corruptf("one commit spans packs %s and %s", pack, e.pack)
		}
		if err := builder.Add(nodeFromEntry(e), randomID); err != nil {
			return err
		}
	}

	id := strings.TrimSuffix(pack, ".pack")
	raw := builder.Finish()
	if err := x.t.PutBytes(id+".gix", raw); err != nil {
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

func (x *gcIndex) keys() (key.Set, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.view.Keys(), nil
}

func (x *gcIndex) parentMap(ks []key.Key) (graph.ParentMap, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.view.ParentMap(ks, 0), nil
}
