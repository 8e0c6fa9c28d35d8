// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"fmt"

	"github.com/breezy-team/weft/key"
	"github.com/pkg/errors"
)

// Protocol-misuse errors. These indicate caller bugs and are never retried.
var (
	ErrNotWriteLocked      = errors.New("store is not write locked")
	ErrAlreadyInWriteGroup = errors.New("a write group is already active")
	ErrNotInWriteGroup     = errors.New("no write group is active")
	ErrReadOnly            = errors.New("store is read only")
	ErrBusyWriteGroup      = errors.New("operation not permitted inside a write group")
)

// KeyNotPresentError reports a requested key absent from a store, for the
// operations that require presence. GetRecordStream yields an absent record
// instead of raising this.
type KeyNotPresentError struct {
	Key key.Key
}

func (e *KeyNotPresentError) Error() string {
	return fmt.Sprintf("key %s not present in store", e.Key)
}

// IsKeyNotPresent reports whether err (possibly wrapped) is a
// KeyNotPresentError.
func IsKeyNotPresent(err error) bool {
	_, ok := errors.Cause(err).(*KeyNotPresentError)
	return ok
}

// KeyAlreadyPresentError reports a non-random-id add of a duplicate key
// whose stored value or parents differ from the new ones.
type KeyAlreadyPresentError struct {
	Key key.Key
}

func (e *KeyAlreadyPresentError) Error() string {
	return fmt.Sprintf("key %s already present in store", e.Key)
}

// CorruptError reports checksum mismatches, malformed structurally-complete
// index entries, impossible parent references and decompression failures.
// Always fatal, never silently repaired.
type CorruptError struct {
	What string
}

func (e *CorruptError) Error() string {
	return "corrupt store: " + e.What
}

// Corruptf builds a CorruptError.
func Corruptf(format string, args ...interface{}) error {
	return &CorruptError{What: fmt.Sprintf(format, args...)}
}

// IsCorrupt reports whether err (possibly wrapped) is a CorruptError.
func IsCorrupt(err error) bool {
	_, ok := errors.Cause(err).(*CorruptError)
	return ok
}

// UnavailableRepresentationError reports that a record cannot produce the
// requested storage kind from its native one.
type UnavailableRepresentationError struct {
	Key          key.Key
	Wanted, Have string
}

func (e *UnavailableRepresentationError) Error() string {
	return fmt.Sprintf("record %s cannot convert %s to %s", e.Key, e.Have, e.Wanted)
}
