// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package graphindex implements immutable sorted key/value indices with
// per-node reference lists (the storage for parent and compression-parent
// edges), a builder for creating them and a combined view over several.
//
// An index file is textual: a header line, then one line per node in key
// order. Node fields are NUL separated after the key's own elements, so a
// node line is
//
//	<elem1>\x00...<elemK>\x00<flag>\x00<value>\x00<ref-lists>\n
//
// where flag is "a" for an absent (ghost) placeholder node, value is the
// caller's byte string (no NUL or newline) and ref-lists are node ordinals,
// comma separated within a list, tab separated between lists. References by
// ordinal can only be resolved against this same file, which makes an index
// self-contained and safely shareable between readers.
package graphindex

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/versionedfile"
)

const indexHeaderFmt = "# weft graph index 1 key_elements=%d ref_lists=%d len=%d\n"

// Node is one index entry.
type Node struct {
	Key   key.Key
	Value string
	Refs  [][]key.Key
}

// Builder accumulates nodes and serializes an immutable index. Additions
// are validated against already-present entries: a duplicate key with a
// differing value or refs is an error unless the caller asserted random ids.
type Builder struct {
	keyElements int
	refLists    int
	nodes       map[string]Node
}

// NewBuilder returns a builder for keys of keyElements parts carrying
// refLists reference lists per node.
func NewBuilder(keyElements, refLists int) *Builder {
	return &Builder{
		keyElements: keyElements,
		refLists:    refLists,
		nodes:       map[string]Node{},
	}
}

// Add records a node. Referenced keys need not be present; they become
// absent placeholder nodes unless added later.
func (b *Builder) Add(n Node, randomID bool) error {
	if len(n.Key) != b.keyElements {
		return fmt.Errorf("key %s has %d elements, index wants %d", n.Key, len(n.Key), b.keyElements)
	}
	if !n.Key.Valid() {
		return fmt.Errorf("invalid key %s", n.Key)
	}
	if len(n.Refs) != b.refLists {
		return fmt.Errorf("node %s has %d ref lists, index wants %d", n.Key, len(n.Refs), b.refLists)
	}
	if strings.ContainsAny(n.Value, "\x00\n") {
		return fmt.Errorf("node %s value contains reserved bytes", n.Key)
	}
	for _, list := range n.Refs {
		for _, ref := range list {
			if len(ref) != b.keyElements || !ref.Valid() {
				return fmt.Errorf("node %s references invalid key %s", n.Key, ref)
			}
		}
	}
	if old, ok := b.nodes[n.Key.Wire()]; ok && !randomID {
		if !nodesEqual(old, n) {
			return &versionedfile.KeyAlreadyPresentError{Key: n.Key}
		}
		return nil
	}
	b.nodes[n.Key.Wire()] = n
	return nil
}

// Nodes returns the pending nodes in key order.
func (b *Builder) Nodes() []Node {
	out := make([]Node, 0, len(b.nodes))
	for _, n := range b.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out
}

// Len is the number of pending real (non-placeholder) nodes.
func (b *Builder) Len() int {
	return len(b.nodes)
}

// Finish serializes the index.
func (b *Builder) Finish() []byte {
	nodes := b.Nodes()

	// Referenced-but-absent keys become placeholder nodes so ordinal
	// references always resolve within this file.
	present := map[string]bool{}
	for _, n := range nodes {
		present[n.Key.Wire()] = true
	}
	var ghosts []Node
	ghostSeen := map[string]bool{}
	for _, n := range nodes {
		for _, list := range n.Refs {
			for _, ref := range list {
				w := ref.Wire()
				if !present[w] && !ghostSeen[w] {
					ghostSeen[w] = true
					ghosts = append(ghosts, Node{Key: ref, Refs: make([][]key.Key, b.refLists)})
				}
			}
		}
	}
	all := append(nodes, ghosts...)
	sort.Slice(all, func(i, j int) bool { return all[i].Key.Less(all[j].Key) })

	ordinal := make(map[string]int, len(all))
	for i, n := range all {
		ordinal[n.Key.Wire()] = i
	}

	var buff bytes.Buffer
	fmt.Fprintf(&buff, indexHeaderFmt, b.keyElements, b.refLists, len(all))
	for _, n := range all {
		for _, elem := range n.Key {
			buff.WriteString(elem)
			buff.WriteByte(0)
		}
		if !present[n.Key.Wire()] {
			buff.WriteByte('a')
		}
		buff.WriteByte(0)
		buff.WriteString(n.Value)
		buff.WriteByte(0)
		for li, list := range n.Refs {
			if li > 0 {
				buff.WriteByte('\t')
			}
			for ri, ref := range list {
				if ri > 0 {
					buff.WriteByte(',')
				}
				buff.WriteString(strconv.Itoa(ordinal[ref.Wire()]))
			}
		}
		buff.WriteByte('\n')
	}
	return buff.Bytes()
}

func nodesEqual(a, b Node) bool {
	if a.Value != b.Value || len(a.Refs) != len(b.Refs) {
		return false
	}
	for i := range a.Refs {
		if len(a.Refs[i]) != len(b.Refs[i]) {
			return false
		}
		for j := range a.Refs[i] {
			if !a.Refs[i][j].Equals(b.Refs[i][j]) {
				return false
			}
		}
	}
	return true
}
