// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package key defines the addressing scheme for versioned texts: a Key is an
// ordered tuple of opaque byte-strings, commonly (fileID, revisionID).
package key

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Key identifies one versioned text. Keys are compared structurally and the
// empty Key is invalid everywhere.
type Key []string

// New is a convenience constructor.
func New(parts ...string) Key {
	return Key(parts)
}

// String renders k for human consumption.
func (k Key) String() string {
	return "(" + strings.Join(k, ", ") + ")"
}

// Wire renders k in its canonical wire form: parts joined by NUL. No part of
// a key may itself contain NUL, which Valid enforces.
func (k Key) Wire() string {
	return strings.Join(k, "\x00")
}

// FromWire inverts Wire.
func FromWire(s string) Key {
	return Key(strings.Split(s, "\x00"))
}

// Valid returns false for empty keys, keys with empty parts and keys whose
// parts contain bytes reserved by the storage formats.
func (k Key) Valid() bool {
	if len(k) == 0 {
		return false
	}
	for _, part := range k {
		if len(part) == 0 {
			return false
		}
		if strings.ContainsAny(part, "\x00\n ") {
			return false
		}
	}
	return true
}

// Equals returns true iff k and other have identical parts.
func (k Key) Equals(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i, p := range k {
		if other[i] != p {
			return false
		}
	}
	return true
}

// Less imposes a total order on keys, part by part.
func (k Key) Less(other Key) bool {
	for i, p := range k {
		if i >= len(other) {
			return false
		}
		if p != other[i] {
			return p < other[i]
		}
	}
	return len(k) < len(other)
}

// Revision returns the final part of the key, by convention the revision id.
func (k Key) Revision() string {
	return k[len(k)-1]
}

// WithRevision returns a copy of k with the final part replaced.
func (k Key) WithRevision(rev string) Key {
	nk := make(Key, len(k))
	copy(nk, k)
	nk[len(nk)-1] = rev
	return nk
}

// Set is an unordered collection of keys.
type Set map[string]Key

// NewSet builds a Set from keys.
func NewSet(keys ...Key) Set {
	s := Set{}
	for _, k := range keys {
		s.Insert(k)
	}
	return s
}

func (s Set) Insert(k Key) {
	s[k.Wire()] = k
}

func (s Set) Remove(k Key) {
	delete(s, k.Wire())
}

func (s Set) Has(k Key) bool {
	_, ok := s[k.Wire()]
	return ok
}

func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members in key order.
func (s Set) Sorted() []Key {
	out := make([]Key, 0, len(s))
	for _, k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// RandomRevisionID generates a fresh revision id that cannot collide with any
// existing one. Adds made with ids from here may skip duplicate checking.
func RandomRevisionID() string {
	return "rev-" + uuid.New().String()
}
