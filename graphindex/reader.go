// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package graphindex

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/versionedfile"
)

// Index is a parsed, immutable graph index. Lookups binary-search the
// sorted node array; the whole index lives in memory once opened.
type Index struct {
	keyElements int
	refLists    int
	nodes       []parsedNode // sorted by key
}

type parsedNode struct {
	key    key.Key
	absent bool
	value  string
	refs   [][]int // ordinals
}

// Parse reads a serialized index. A malformed header or node line is a
// CorruptError: unlike the knit ledger, these files are written atomically
// so a truncated one was never validly committed.
func Parse(data []byte) (*Index, error) {
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 {
		return nil, versionedfile.Corruptf("empty graph index")
	}
	var keyElements, refLists, count int
	if _, err := fmt.Sscanf(lines[0]+"\n", indexHeaderFmt, &keyElements, &refLists, &count); err != nil {
		return nil, versionedfile.Corruptf("bad graph index header %q", lines[0])
	}
	body := lines[1:]
	if len(body) > 0 && body[len(body)-1] == "" {
		body = body[:len(body)-1]
	}
	if len(body) != count {
		return nil, versionedfile.Corruptf("graph index claims %d nodes, has %d", count, len(body))
	}

	idx := &Index{keyElements: keyElements, refLists: refLists}
	for _, line := range body {
		fields := strings.Split(line, "\x00")
		if len(fields) != keyElements+3 {
			return nil, versionedfile.Corruptf("bad graph index node %q", line)
		}
		n := parsedNode{
			key:    key.Key(fields[:keyElements]),
			absent: fields[keyElements] == "a",
			value:  fields[keyElements+1],
		}
		if !n.absent {
			refField := fields[keyElements+2]
			lists := strings.Split(refField, "\t")
			if len(lists) == 1 && lists[0] == "" && refLists == 0 {
				lists = nil
			}
			if len(lists) != refLists && refLists > 0 {
				return nil, versionedfile.Corruptf("node %s has %d ref lists, want %d", n.key, len(lists), refLists)
			}
			n.refs = make([][]int, refLists)
			for li := 0; li < refLists && li < len(lists); li++ {
				if lists[li] == "" {
					continue
				}
				for _, ord := range strings.Split(lists[li], ",") {
					o, err := strconv.Atoi(ord)
					if err != nil || o < 0 || o >= count {
						return nil, versionedfile.Corruptf("impossible reference %q in node %s", ord, n.key)
					}
					n.refs[li] = append(n.refs[li], o)
				}
			}
		}
		idx.nodes = append(idx.nodes, n)
	}
	for i := 1; i < len(idx.nodes); i++ {
		if !idx.nodes[i-1].key.Less(idx.nodes[i].key) {
			return nil, versionedfile.Corruptf("graph index nodes out of order at %s", idx.nodes[i].key)
		}
	}
	return idx, nil
}

func (idx *Index) find(k key.Key) (parsedNode, bool) {
	i := sort.Search(len(idx.nodes), func(i int) bool {
		return !idx.nodes[i].key.Less(k)
	})
	if i < len(idx.nodes) && idx.nodes[i].key.Equals(k) {
		return idx.nodes[i], true
	}
	return parsedNode{}, false
}

// Get returns the node for k. Absent placeholder nodes do not count as
// present.
func (idx *Index) Get(k key.Key) (Node, bool) {
	n, ok := idx.find(k)
	if !ok || n.absent {
		return Node{}, false
	}
	return idx.materialize(n), true
}

func (idx *Index) materialize(n parsedNode) Node {
	out := Node{Key: n.key, Value: n.value, Refs: make([][]key.Key, idx.refLists)}
	for li, list := range n.refs {
		for _, ord := range list {
			out.Refs[li] = append(out.Refs[li], idx.nodes[ord].key)
		}
	}
	return out
}

// Keys lists the present keys.
func (idx *Index) Keys() key.Set {
	out := key.NewSet()
	for _, n := range idx.nodes {
		if !n.absent {
			out.Insert(n.key)
		}
	}
	return out
}

// Len is the number of present nodes.
func (idx *Index) Len() int {
	n := 0
	for _, node := range idx.nodes {
		if !node.absent {
			n++
		}
	}
	return n
}
