// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package transport

import (
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapThreshold is the file size below which mapping isn't worth the
// syscalls; such files are served straight from the fd.
const mmapThreshold = 1 << 16

type mmapReader struct {
	m mmap.MMap
	f *os.File
}

// openMmap maps f read-only. On success the returned reader owns f.
func openMmap(f *os.File) (ReaderAtCloser, bool) {
	fi, err := f.Stat()
	if err != nil || fi.Size() < mmapThreshold {
		return nil, false
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, false
	}
	return &mmapReader{m: m, f: f}, true
}

func (r *mmapReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(r.m)) {
		return 0, io.EOF
	}
	n := copy(p, r.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *mmapReader) Close() error {
	err := r.m.Unmap()
	if cerr := r.f.Close(); err == nil {
		err = cerr
	}
	return err
}
