// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package versionedfile defines the uniform facade over the storage
// backends: the VersionedFiles interface, the record/stream model, the
// storage-kind adapter registry and the stacking decorator.
package versionedfile

import (
	"crypto/sha1"
	"encoding/hex"

	"github.com/breezy-team/weft/delta"
	"github.com/breezy-team/weft/graph"
	"github.com/breezy-team/weft/key"
)

// Ordering controls record stream order.
type Ordering int

const (
	// Unordered lets the store pick whatever order minimizes physical
	// seeks.
	Unordered Ordering = iota
	// Topological guarantees a key's compression parent precedes it.
	Topological
)

// AddOptions tunes AddLines.
type AddOptions struct {
	// RandomID asserts the key's revision id was freshly and randomly
	// generated, so a duplicate add cannot collide and is not checked.
	RandomID bool
}

// AddResult reports what AddLines stored.
type AddResult struct {
	Sha1   string
	Length int64
}

// CheckResult summarizes a whole-store consistency walk.
type CheckResult struct {
	Records   int
	TotalSize int64
	Problems  []string
}

// VersionedFiles is the uniform store contract. Both the knit and the
// group-compress backends implement it, as does the stacking decorator; the
// variant is selected at construction time, never by runtime inspection.
type VersionedFiles interface {
	// Kind tags the backend ("knit", "groupcompress", "stacked") for the
	// inter-store transfer strategy table.
	Kind() string

	// AddLines stores lines under k with the given parents. Ghost parents
	// are recorded but do not block insertion. Re-adding an identical key
	// is a no-op; differing content is a KeyAlreadyPresentError unless
	// opts.RandomID is set.
	AddLines(k key.Key, parents []key.Key, lines []string, opts AddOptions) (AddResult, error)

	// GetParentMap returns the parents of every requested key present in
	// the store; missing keys have no entry.
	GetParentMap(keys []key.Key) (graph.ParentMap, error)

	// GetRecordStream yields one record per requested key, absent-marker
	// records for unknown keys. With includeDeltaClosure every yielded
	// record can produce its fulltext without further store access.
	GetRecordStream(keys []key.Key, order Ordering, includeDeltaClosure bool) (RecordStream, error)

	// GetSha1s returns the stored digests of the requested present keys,
	// keyed by wire form.
	GetSha1s(keys []key.Key) (map[string]string, error)

	// GetLines reconstructs the exact stored lines of k.
	GetLines(k key.Key) ([]string, error)

	// Annotate returns k's lines, each attributed to the key that
	// introduced it.
	Annotate(k key.Key) ([]delta.AnnotatedLine, error)

	// FixParents rewrites the recorded parents of k, leaving its stored
	// content and sha1 untouched. The new list must include every parent
	// currently recorded; shrinking an ancestry is corruption, not repair.
	FixParents(k key.Key, parents []key.Key) error

	// Keys enumerates every key in the store.
	Keys() (key.Set, error)

	// InsertRecordStream adds the stream's records. Index additions are
	// all-or-nothing per batch.
	InsertRecordStream(stream RecordStream) error

	// GetMissingCompressionParentKeys lists basis keys that inserted
	// records still need before they are reconstructable.
	GetMissingCompressionParentKeys() (key.Set, error)

	// Check reconstructs and verifies every record.
	Check() (CheckResult, error)

	LockRead() error
	LockWrite() error
	Unlock() error
	IsLocked() bool

	StartWriteGroup() error
	CommitWriteGroup() error
	AbortWriteGroup() error
	IsInWriteGroup() bool
}

// Sha1Lines computes the content digest the formats store and verify.
func Sha1Lines(lines []string) string {
	h := sha1.New()
	for _, l := range lines {
		h.Write([]byte(l))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sha1Bytes is Sha1Lines for already-joined content.
func Sha1Bytes(text []byte) string {
	h := sha1.Sum(text)
	return hex.EncodeToString(h[:])
}
