// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"io"
	"strings"

	"github.com/breezy-team/weft/key"
)

// Storage kinds. Richer representations (fulltext) can always be derived
// from poorer ones given the referenced basis content, never vice versa.
const (
	KindFulltext    = "fulltext"
	KindChunked     = "chunked"
	KindAbsent      = "absent"
	KindKnitFtGz    = "knit-ft-gz"
	KindKnitDeltaGz = "knit-delta-gz"
	KindKnitAnnoFtGz    = "knit-annotated-ft-gz"
	KindKnitAnnoDeltaGz = "knit-annotated-delta-gz"
	KindGCBlockRef      = "groupcompress-block-ref"
)

// Record is one versioned text plus metadata in a specific storage kind;
// the ContentFactory of the design. Parents returns ok=false only for
// absent records, whose parents are unknown rather than empty.
type Record interface {
	Key() key.Key
	Parents() ([]key.Key, bool)
	Sha1() string
	StorageKind() string

	// Bytes returns the record content in the requested storage kind, or an
	// UnavailableRepresentationError when the conversion needs external
	// content this record does not carry.
	Bytes(kind string) ([]byte, error)
}

// FulltextRecord carries complete text content.
type FulltextRecord struct {
	K       key.Key
	P       []key.Key
	Digest  string
	Text    []byte
}

func (r *FulltextRecord) Key() key.Key               { return r.K }
func (r *FulltextRecord) Parents() ([]key.Key, bool) { return r.P, true }
func (r *FulltextRecord) Sha1() string               { return r.Digest }
func (r *FulltextRecord) StorageKind() string        { return KindFulltext }

func (r *FulltextRecord) Bytes(kind string) ([]byte, error) {
	switch kind {
	case KindFulltext, KindChunked:
		return r.Text, nil
	}
	return nil, &UnavailableRepresentationError{Key: r.K, Wanted: kind, Have: KindFulltext}
}

// AbsentRecord marks a requested key that does not exist in the store.
type AbsentRecord struct {
	K key.Key
}

func (r *AbsentRecord) Key() key.Key               { return r.K }
func (r *AbsentRecord) Parents() ([]key.Key, bool) { return nil, false }
func (r *AbsentRecord) Sha1() string               { return "" }
func (r *AbsentRecord) StorageKind() string        { return KindAbsent }

func (r *AbsentRecord) Bytes(kind string) ([]byte, error) {
	return nil, &UnavailableRepresentationError{Key: r.K, Wanted: kind, Have: KindAbsent}
}

// RawRecord carries an encoded payload in some store-native kind. It can
// only reproduce its own kind; adapters (plus basis content) derive richer
// representations.
type RawRecord struct {
	K       key.Key
	P       []key.Key
	Digest  string
	Kind    string
	Payload []byte

	// NoEOL records that the text's last line carries no trailing newline.
	// The knit payload encoding always stores a newline; this side flag is
	// what round-trips the distinction (it lives in the index on disk).
	NoEOL bool

	// BuildFulltext, when non-nil, lowers Payload to fulltext. It may read
	// basis texts back from the originating store, so it must run before
	// that store becomes unreachable; record streams taken with the delta
	// closure included populate it.
	BuildFulltext func() ([]byte, error)
}

func (r *RawRecord) Key() key.Key               { return r.K }
func (r *RawRecord) Parents() ([]key.Key, bool) { return r.P, true }
func (r *RawRecord) Sha1() string               { return r.Digest }
func (r *RawRecord) StorageKind() string        { return r.Kind }

func (r *RawRecord) Bytes(kind string) ([]byte, error) {
	switch {
	case kind == r.Kind:
		return r.Payload, nil
	case (kind == KindFulltext || kind == KindChunked) && r.BuildFulltext != nil:
		return r.BuildFulltext()
	}
	return nil, &UnavailableRepresentationError{Key: r.K, Wanted: kind, Have: r.Kind}
}

// RecordStream yields records one at a time. A consumed stream is not
// restartable; callers wanting a replay must request a new one.
type RecordStream interface {
	// Next returns the next record, or io.EOF when the stream is exhausted.
	Next() (Record, error)
}

type sliceStream struct {
	recs []Record
}

// NewSliceStream wraps records in a RecordStream.
func NewSliceStream(recs ...Record) RecordStream {
	return &sliceStream{recs: recs}
}

func (s *sliceStream) Next() (Record, error) {
	if len(s.recs) == 0 {
		return nil, io.EOF
	}
	r := s.recs[0]
	s.recs = s.recs[1:]
	return r, nil
}

// SplitLines splits text the way the storage formats count lines: every
// line keeps its trailing newline, and a final segment without one is still
// a line. The empty text has no lines.
func SplitLines(text []byte) []string {
	if len(text) == 0 {
		return nil
	}
	s := string(text)
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// JoinLines inverts SplitLines.
func JoinLines(lines []string) []byte {
	return []byte(strings.Join(lines, ""))
}
