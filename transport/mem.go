// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package transport

import (
	"bytes"
	"sync"
)

// MemTransport keeps files in memory. Used by tests and as scratch space
// for stream insertion.
type MemTransport struct {
	mu     sync.Mutex
	files  map[string][]byte
	locked bool
}

func NewMemTransport() *MemTransport {
	return &MemTransport{files: map[string][]byte{}}
}

func (mt *MemTransport) Get(name string) ([]byte, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	data, ok := mt.files[name]
	if !ok {
		return nil, ErrNoSuchFile
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (mt *MemTransport) ReadV(name string, ranges []Range) ([][]byte, error) {
	mt.mu.Lock()
	data, ok := mt.files[name]
	mt.mu.Unlock()
	if !ok {
		return nil, ErrNoSuchFile
	}
	return readVFrom(byteReader(data), ranges)
}

func (mt *MemTransport) Append(name string, data []byte) (int64, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	offset := int64(len(mt.files[name]))
	mt.files[name] = append(mt.files[name], data...)
	return offset, nil
}

func (mt *MemTransport) PutBytes(name string, data []byte) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.files[name] = append([]byte{}, data...)
	return nil
}

func (mt *MemTransport) Has(name string) (bool, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	_, ok := mt.files[name]
	return ok, nil
}

func (mt *MemTransport) Open(name string) (ReaderAtCloser, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	data, ok := mt.files[name]
	if !ok {
		return nil, ErrNoSuchFile
	}
	return byteReader(data), nil
}

func (mt *MemTransport) Lock() (Lock, error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.locked {
		return nil, ErrLockContention
	}
	mt.locked = true
	return &memLock{mt: mt}, nil
}

type memLock struct {
	mt *MemTransport
}

func (l *memLock) Unlock() error {
	l.mt.mu.Lock()
	defer l.mt.mu.Unlock()
	l.mt.locked = false
	return nil
}

type byteReader []byte

func (br byteReader) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(br).ReadAt(p, off)
}

func (br byteReader) Close() error {
	return nil
}
