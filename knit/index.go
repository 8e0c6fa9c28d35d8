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
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/transport"
	"github.com/breezy-team/weft/util/verbose"
	"github.com/breezy-team/weft/versionedfile"
)

const (
	methodFulltext  = "fulltext"
	methodLineDelta = "line-delta"

	kndxHeader = "# bzr knit index 8\n"
)

// indexEntry is everything the index knows about one record.
type indexEntry struct {
	k                 key.Key
	memo              Memo
	method            string
	noEOL             bool
	parents           []key.Key
	compressionParent key.Key // nil for fulltexts

	// replace marks a deliberate rewrite of an existing key's entry, the
	// mechanism behind FixParents. Replacements bypass the duplicate check
	// and shadow the previous entry.
	replace bool
}

// knitIndex is the metadata side of a knit store. The flat ledger appends
// lines to a .kndx file; the graph index writes immutable index files per
// commit.
type knitIndex interface {
	get(k key.Key) (*indexEntry, error)
	addRecords(entries []*indexEntry, randomID bool) error
	keys() ([]key.Key, error)
	parentMap(ks []key.Key) (graph.ParentMap, error)
}

// kndxIndex is the append-only text ledger. Each line is
//
//	<key> <options> <pos> <size> <parent refs> :
//
// where options is "fulltext" or "line-delta" optionally joined with
// ",no-eol", and each parent ref is either the line ordinal of an earlier
// entry or a "."-prefixed literal key for parents not in this index. Every
// write starts with "\n" and every complete line ends with " :", so a line
// torn by a crashed writer fails both checks and is skipped on load.
type kndxIndex struct {
	t    transport.Transport
	name string

	mu      sync.Mutex
	loaded  bool
	cache   map[string]*indexEntry
	history []key.Key      // wire order of first appearance
	ordinal map[string]int // wire key -> history position
}

func newKndxIndex(t transport.Transport, name string) *kndxIndex {
	return &kndxIndex{t: t, name: name}
}

func (x *kndxIndex) load() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.loadLocked()
}

func (x *kndxIndex) loadLocked() error {
	if x.loaded {
		return nil
	}
	x.cache = map[string]*indexEntry{}
	x.ordinal = map[string]int{}
	data, err := x.t.Get(x.name)
	if errors.Cause(err) == transport.ErrNoSuchFile {
		if err := x.t.PutBytes(x.name, []byte(kndxHeader)); err != nil {
			return err
		}
		x.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || lines[0]+"\n" != kndxHeader {
		return versionedfile.Corruptf("%s: bad header", x.name)
	}
	for _, line := range lines[1:] {
		if line == "" || !strings.HasSuffix(line, " :") {
			// Blank separator or a write that never finished.
			continue
		}
		fields := strings.Fields(line[:len(line)-2])
		if len(fields) < 4 {
			return versionedfile.Corruptf("%s: short line %q", x.name, line)
		}
		k := key.FromWire(fields[0])
		options := strings.Split(fields[1], ",")
		pos, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return versionedfile.Corruptf("%s: bad position in %q", x.name, line)
		}
		size, err := strconv.Atoi(fields[3])
		if err != nil {
			return versionedfile.Corruptf("%s: bad size in %q", x.name, line)
		}
		var parents []key.Key
		for _, ref := range fields[4:] {
			if strings.HasPrefix(ref, ".") {
				parents = append(parents, key.FromWire(ref[1:]))
				continue
			}
			n, err := strconv.Atoi(ref)
			if err != nil || n < 0 || n >= len(x.history) {
				return versionedfile.Corruptf("%s: bad parent ref %q in %q", x.name, ref, line)
			}
			parents = append(parents, x.history[n])
		}
		e := &indexEntry{
			k:       k,
			memo:    Memo{Name: strings.TrimSuffix(x.name, ".kndx") + ".knit", Pos: pos, Size: size},
			parents: parents,
		}
		for _, opt := range options {
			switch opt {
			case methodFulltext, methodLineDelta:
				e.method = opt
			case "no-eol":
				e.noEOL = true
			default:
				return versionedfile.Corruptf("%s: unknown option %q in %q", x.name, opt, line)
			}
		}
		if e.method == "" {
			return versionedfile.Corruptf("%s: no method in %q", x.name, line)
		}
		if e.method == methodLineDelta {
			if len(parents) == 0 {
				return versionedfile.Corruptf("%s: delta with no parents in %q", x.name, line)
			}
			e.compressionParent = parents[0]
		}
		x.noteLocked(e)
	}
	verbose.Log("knit: loaded %d entries from %s", len(x.cache), x.name)
	x.loaded = true
	return nil
}

// noteLocked records an entry, assigning a history ordinal on first sight.
// Later entries for the same key replace earlier ones but keep the ordinal.
func (x *kndxIndex) noteLocked(e *indexEntry) {
	w := e.k.Wire()
	if _, ok := x.ordinal[w]; !ok {
		x.ordinal[w] = len(x.history)
		x.history = append(x.history, e.k)
	}
	x.cache[w] = e
}

func (x *kndxIndex) get(k key.Key) (*indexEntry, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.cache[k.Wire()], nil
}

func (x *kndxIndex) addRecords(entries []*indexEntry, randomID bool) error {
	if err := x.load(); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	var buf strings.Builder
	for _, e := range entries {
		if e.method == methodLineDelta {
			// The flat ledger has nowhere to record a basis other than the
			// first parent; the store picks bases accordingly.
			if len(e.parents) == 0 || !e.compressionParent.Equals(e.parents[0]) {
				return versionedfile.Corruptf("%s: delta basis must be the first parent", x.name)
			}
		}
		if prev, ok := x.cache[e.k.Wire()]; ok && !e.replace {
			if randomID || entriesEqual(prev, e) {
				continue
			}
			return &versionedfile.KeyAlreadyPresentError{Key: e.k}
		}
		buf.WriteString("\n")
		buf.WriteString(e.k.Wire())
		buf.WriteString(" ")
		buf.WriteString(e.optionString())
		buf.WriteString(" ")
		buf.WriteString(strconv.FormatInt(e.memo.Pos, 10))
		buf.WriteString(" ")
		buf.WriteString(strconv.Itoa(e.memo.Size))
		for _, p := range e.parents {
			buf.WriteString(" ")
			if n, ok := x.ordinal[p.Wire()]; ok {
				buf.WriteString(strconv.Itoa(n))
			} else {
				buf.WriteString("." + p.Wire())
			}
		}
		buf.WriteString(" :")
		// Ordinals in later lines of this batch may reference this entry.
		x.noteLocked(e)
	}
	if buf.Len() == 0 {
		return nil
	}
	if _, err := x.t.Append(x.name, []byte(buf.String())); err != nil {
		// The cache is ahead of disk now; drop it so the next load re-reads.
		x.loaded = false
		return err
	}
	return nil
}

func (e *indexEntry) optionString() string {
	s := e.method
	if e.noEOL {
		s += ",no-eol"
	}
	return s
}

func entriesEqual(a, b *indexEntry) bool {
	if !a.k.Equals(b.k) || a.method != b.method || a.noEOL != b.noEOL || a.memo != b.memo {
		return false
	}
	if len(a.parents) != len(b.parents) {
		return false
	}
	for i := range a.parents {
		if !a.parents[i].Equals(b.parents[i]) {
			return false
		}
	}
	return true
}

func (x *kndxIndex) keys() ([]key.Key, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]key.Key, 0, len(x.cache))
	for _, e := range x.cache {
		out = append(out, e.k)
	}
	return out, nil
}

func (x *kndxIndex) parentMap(ks []key.Key) (graph.ParentMap, error) {
	if err := x.load(); err != nil {
		return nil, err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	pm := graph.ParentMap{}
	for _, k := range ks {
		if e, ok := x.cache[k.Wire()]; ok {
			pm.Set(k, e.parents)
		}
	}
	return pm, nil
}
