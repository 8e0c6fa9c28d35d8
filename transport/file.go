// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package transport

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/juju/fslock"
	"github.com/pkg/errors"
)

// FileTransport stores each named file under a base directory. Appends are
// O_APPEND writes; PutBytes is write-to-temp-then-rename.
type FileTransport struct {
	dir      string
	readOnly bool
}

// NewFileTransport returns a transport rooted at dir, creating it if needed.
func NewFileTransport(dir string) (*FileTransport, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating transport dir")
	}
	return &FileTransport{dir: dir}, nil
}

// NewReadOnlyFileTransport returns a transport that refuses mutations.
func NewReadOnlyFileTransport(dir string) *FileTransport {
	return &FileTransport{dir: dir, readOnly: true}
}

func (ft *FileTransport) path(name string) string {
	return filepath.Join(ft.dir, name)
}

func (ft *FileTransport) Get(name string) ([]byte, error) {
	data, err := ioutil.ReadFile(ft.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNoSuchFile
	}
	return data, errors.Wrapf(err, "reading %s", name)
}

func (ft *FileTransport) ReadV(name string, ranges []Range) ([][]byte, error) {
	r, err := ft.Open(name)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readVFrom(r, ranges)
}

func (ft *FileTransport) Append(name string, data []byte) (int64, error) {
	if ft.readOnly {
		return 0, ErrReadOnly
	}
	f, err := os.OpenFile(ft.path(name), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return 0, errors.Wrapf(err, "opening %s for append", name)
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", name)
	}
	if _, err := f.Write(data); err != nil {
		return 0, errors.Wrapf(err, "appending to %s", name)
	}
	return fi.Size(), nil
}

func (ft *FileTransport) PutBytes(name string, data []byte) error {
	if ft.readOnly {
		return ErrReadOnly
	}
	temp, err := ioutil.TempFile(ft.dir, "weft_put_")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return errors.Wrapf(err, "writing %s", name)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return err
	}
	return errors.Wrapf(os.Rename(tempName, ft.path(name)), "renaming into %s", name)
}

func (ft *FileTransport) Has(name string) (bool, error) {
	_, err := os.Stat(ft.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (ft *FileTransport) Open(name string) (ReaderAtCloser, error) {
	f, err := os.Open(ft.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNoSuchFile
	}
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", name)
	}
	// Large immutable files (closed packs) are cheapest through the page
	// cache; openMmap falls back to the plain fd when mapping fails.
	if r, ok := openMmap(f); ok {
		return r, nil
	}
	return f, nil
}

func (ft *FileTransport) Lock() (Lock, error) {
	if ft.readOnly {
		return nil, ErrReadOnly
	}
	lck := fslock.New(ft.path("lock"))
	if err := lck.TryLock(); err != nil {
		if err == fslock.ErrLocked {
			return nil, ErrLockContention
		}
		return nil, errors.Wrap(err, "taking lock")
	}
	return fsLock{lck}, nil
}

type fsLock struct {
	lck *fslock.Lock
}

func (l fsLock) Unlock() error {
	return l.lck.Unlock()
}
