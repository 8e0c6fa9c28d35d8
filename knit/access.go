// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package knit

import (
	"github.com/breezy-team/weft/transport"
)

// Memo locates a stored record: the container file it lives in and its byte
// extent there. Indices persist memos; access implementations resolve them.
type Memo struct {
	Name string
	Pos  int64
	Size int
}

// recordAccess abstracts where raw records live. The flat layout appends
// everything to one .knit file; the pack layout writes each session to its
// own pack file so concurrent writers never interleave.
type recordAccess interface {
	add(data []byte) (Memo, error)
	get(memos []Memo) ([][]byte, error)
}

type flatAccess struct {
	t    transport.Transport
	name string
}

func newFlatAccess(t transport.Transport, name string) *flatAccess {
	return &flatAccess{t: t, name: name}
}

func (a *flatAccess) add(data []byte) (Memo, error) {
	pos, err := a.t.Append(a.name, data)
	if err != nil {
		return Memo{}, err
	}
	return Memo{Name: a.name, Pos: pos, Size: len(data)}, nil
}

func (a *flatAccess) get(memos []Memo) ([][]byte, error) {
	return readGrouped(a.t, memos)
}

// packAccess routes writes to the currently open pack file and reads across
// every pack written so far. setWriter is called when a write group opens.
type packAccess struct {
	t      transport.Transport
	writer string
}

func newPackAccess(t transport.Transport) *packAccess {
	return &packAccess{t: t}
}

func (a *packAccess) setWriter(name string) {
	a.writer = name
}

func (a *packAccess) add(data []byte) (Memo, error) {
	if a.writer == "" {
		return Memo{}, transport.ErrReadOnly
	}
	pos, err := a.t.Append(a.writer, data)
	if err != nil {
		return Memo{}, err
	}
	return Memo{Name: a.writer, Pos: pos, Size: len(data)}, nil
}

func (a *packAccess) get(memos []Memo) ([][]byte, error) {
	return readGrouped(a.t, memos)
}

// readGrouped fetches memos per container file through ReadV so the
// transport can coalesce adjacent extents, then reassembles results in
// request order.
func readGrouped(t transport.Transport, memos []Memo) ([][]byte, error) {
	type slot struct {
		rng transport.Range
		idx int
	}
	byName := map[string][]slot{}
	for i, m := range memos {
		byName[m.Name] = append(byName[m.Name], slot{transport.Range{Offset: m.Pos, Length: m.Size}, i})
	}
	out := make([][]byte, len(memos))
	for name, slots := range byName {
		ranges := make([]transport.Range, len(slots))
		for i, s := range slots {
			ranges[i] = s.rng
		}
		chunks, err := t.ReadV(name, ranges)
		if err != nil {
			return nil, err
		}
		for i, s := range slots {
			out[s.idx] = chunks[i]
		}
	}
	return out, nil
}
