// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package transport provides the byte-oriented backing store the storage
// formats are written over: named append-only files with whole-file reads,
// vectorized range reads and advisory locking. Implementations exist for a
// local directory, an in-memory map and an embedded LevelDB.
package transport

import (
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrNoSuchFile is returned when a named file does not exist. Callers
	// decide whether that means "empty store" (an index being created) or
	// corruption (a pack referenced by an index has vanished).
	ErrNoSuchFile = errors.New("no such file")

	// ErrLockContention is returned when another process holds the lock.
	ErrLockContention = errors.New("lock contention")

	// ErrReadOnly is returned by mutating calls on read-only transports.
	ErrReadOnly = errors.New("transport is read-only")
)

// Range names a byte range within a file.
type Range struct {
	Offset int64
	Length int
}

// Lock is a held advisory lock.
type Lock interface {
	Unlock() error
}

// ReaderAtCloser is what Open returns; pack readers hold these for the
// lifetime of a store.
type ReaderAtCloser interface {
	ReadAt(p []byte, off int64) (int, error)
	Close() error
}

// Transport is the boundary contract with the excluded repository layer
// (spec §6): ranged reads, appends, atomic whole-file puts and a lock.
type Transport interface {
	// Get reads the whole named file.
	Get(name string) ([]byte, error)

	// ReadV reads the given ranges, returned in request order. Adjacent and
	// near-adjacent ranges are coalesced into larger physical reads.
	ReadV(name string, ranges []Range) ([][]byte, error)

	// Append appends data to the named file, creating it if needed, and
	// returns the offset at which the write began.
	Append(name string, data []byte) (int64, error)

	// PutBytes atomically replaces the named file's contents.
	PutBytes(name string, data []byte) error

	// Has reports whether the named file exists.
	Has(name string) (bool, error)

	// Open returns a random-access reader over the named file.
	Open(name string) (ReaderAtCloser, error)

	// Lock takes the advisory lock protecting this transport's files,
	// returning ErrLockContention without blocking if it is already held
	// by someone else.
	Lock() (Lock, error)
}

// Near-adjacent ranges within this many bytes are read as one span; bytes
// between them are fetched and discarded. Mirrors the read-amplification
// budget used for pack reads.
const coalesceSlop = 4096

type span struct {
	offset int64
	length int
}

// coalesce plans the physical reads for ranges: a sorted list of spans plus,
// per input range, the span it lands in. Overlapping requests share a span.
func coalesce(ranges []Range) (spans []span, where []int) {
	type idxRange struct {
		Range
		idx int
	}
	sorted := make([]idxRange, len(ranges))
	for i, r := range ranges {
		sorted[i] = idxRange{r, i}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	where = make([]int, len(ranges))
	for _, r := range sorted {
		end := r.Offset + int64(r.Length)
		if n := len(spans); n > 0 {
			prev := &spans[n-1]
			prevEnd := prev.offset + int64(prev.length)
			if r.Offset <= prevEnd+coalesceSlop {
				if end > prevEnd {
					prev.length = int(end - prev.offset)
				}
				where[r.idx] = n - 1
				continue
			}
		}
		spans = append(spans, span{r.Offset, r.Length})
		where[r.idx] = len(spans) - 1
	}
	return
}

// readVFrom implements ReadV over any io.ReaderAt using the coalescing plan.
func readVFrom(r ReaderAtCloser, ranges []Range) ([][]byte, error) {
	spans, where := coalesce(ranges)
	buffs := make([][]byte, len(spans))
	for i, sp := range spans {
		buff := make([]byte, sp.length)
		if _, err := r.ReadAt(buff, sp.offset); err != nil {
			return nil, errors.Wrapf(err, "reading %d bytes at %d", sp.length, sp.offset)
		}
		buffs[i] = buff
	}
	out := make([][]byte, len(ranges))
	for i, rng := range ranges {
		sp := spans[where[i]]
		local := rng.Offset - sp.offset
		out[i] = buffs[where[i]][local : local+int64(rng.Length)]
	}
	return out, nil
}
