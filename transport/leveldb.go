// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package transport

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lverrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

var (
	filePrefix = []byte("/file/")
	lockKey    = []byte("/lock")
)

// LevelDBTransport keeps each named file as one LevelDB value. It exists for
// embedders with no directory to hand us; appends rewrite the whole value,
// so it is only suitable for modestly sized stores.
type LevelDBTransport struct {
	db *leveldb.DB
	mu sync.Mutex

	locked bool
}

func NewLevelDBTransport(dir string) (*LevelDBTransport, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.NoCompression, // records are already compressed
		Filter:      filter.NewBloomFilter(10),
		WriteBuffer: 1 << 24, // 16MiB
	})
	if err != nil {
		return nil, errors.Wrap(err, "opening leveldb")
	}
	return &LevelDBTransport{db: db}, nil
}

func toFileKey(name string) []byte {
	return append(append([]byte{}, filePrefix...), name...)
}

func (lt *LevelDBTransport) Get(name string) ([]byte, error) {
	data, err := lt.db.Get(toFileKey(name), nil)
	if err == lverrors.ErrNotFound {
		return nil, ErrNoSuchFile
	}
	return data, errors.Wrapf(err, "reading %s", name)
}

func (lt *LevelDBTransport) ReadV(name string, ranges []Range) ([][]byte, error) {
	data, err := lt.Get(name)
	if err != nil {
		return nil, err
	}
	return readVFrom(byteReader(data), ranges)
}

func (lt *LevelDBTransport) Append(name string, data []byte) (int64, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	existing, err := lt.Get(name)
	if err != nil && err != ErrNoSuchFile {
		return 0, err
	}
	offset := int64(len(existing))
	err = lt.db.Put(toFileKey(name), append(existing, data...), &opt.WriteOptions{Sync: true})
	return offset, errors.Wrapf(err, "appending to %s", name)
}

func (lt *LevelDBTransport) PutBytes(name string, data []byte) error {
	err := lt.db.Put(toFileKey(name), data, &opt.WriteOptions{Sync: true})
	return errors.Wrapf(err, "writing %s", name)
}

func (lt *LevelDBTransport) Has(name string) (bool, error) {
	ok, err := lt.db.Has(toFileKey(name), nil)
	return ok, errors.Wrapf(err, "stat %s", name)
}

func (lt *LevelDBTransport) Open(name string) (ReaderAtCloser, error) {
	data, err := lt.Get(name)
	if err != nil {
		return nil, err
	}
	return byteReader(data), nil
}

// Lock is per-process here; LevelDB itself guarantees single-process access
// to the underlying directory.
func (lt *LevelDBTransport) Lock() (Lock, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.locked {
		return nil, ErrLockContention
	}
	lt.locked = true
	return &ldbLock{lt: lt}, nil
}

func (lt *LevelDBTransport) Close() error {
	return lt.db.Close()
}

type ldbLock struct {
	lt *LevelDBTransport
}

func (l *ldbLock) Unlock() error {
	l.lt.mu.Lock()
	defer l.lt.mu.Unlock()
	l.lt.locked = false
	return nil
}
