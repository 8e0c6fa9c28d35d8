// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"github.com/breezy-team/weft/transport"
	"github.com/pkg/errors"
)

// LockGuard implements the reentrant lock protocol of the facade: nested
// acquisitions share one physical lock, released only at the outermost
// unlock. Store instances are single-threaded; the guard tracks protocol
// state, not thread safety.
type LockGuard struct {
	tr       transport.Transport
	count    int
	writable bool
	held     transport.Lock
}

// NewLockGuard wraps the advisory lock of tr.
func NewLockGuard(tr transport.Transport) *LockGuard {
	return &LockGuard{tr: tr}
}

func (g *LockGuard) LockRead() error {
	if g.count > 0 {
		g.count++
		return nil
	}
	g.count = 1
	g.writable = false
	return nil
}

func (g *LockGuard) LockWrite() error {
	if g.count > 0 {
		if !g.writable {
			return errors.New("cannot upgrade a read lock to a write lock")
		}
		g.count++
		return nil
	}
	held, err := g.tr.Lock()
	if err != nil {
		return err
	}
	g.held = held
	g.count = 1
	g.writable = true
	return nil
}

func (g *LockGuard) Unlock() error {
	if g.count == 0 {
		return errors.New("store is not locked")
	}
	g.count--
	if g.count == 0 && g.held != nil {
		held := g.held
		g.held = nil
		g.writable = false
		return held.Unlock()
	}
	return nil
}

func (g *LockGuard) IsLocked() bool {
	return g.count > 0
}

// ReleasesOnUnlock reports whether the next Unlock drops the physical lock,
// i.e. this is the outermost acquisition.
func (g *LockGuard) ReleasesOnUnlock() bool {
	return g.count == 1
}

func (g *LockGuard) IsWriteLocked() bool {
	return g.count > 0 && g.writable
}
