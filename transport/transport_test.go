// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package transport

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func eachTransport(t *testing.T, test func(t *testing.T, tr Transport)) {
	t.Run("mem", func(t *testing.T) {
		test(t, NewMemTransport())
	})
	t.Run("file", func(t *testing.T) {
		dir, err := ioutil.TempDir("", "weft_transport_test")
		assert.NoError(t, err)
		defer os.RemoveAll(dir)
		ft, err := NewFileTransport(dir)
		assert.NoError(t, err)
		test(t, ft)
	})
	t.Run("leveldb", func(t *testing.T) {
		dir, err := ioutil.TempDir("", "weft_ldb_test")
		assert.NoError(t, err)
		defer os.RemoveAll(dir)
		lt, err := NewLevelDBTransport(dir)
		assert.NoError(t, err)
		defer lt.Close()
		test(t, lt)
	})
}

func TestAppendGet(t *testing.T) {
	eachTransport(t, func(t *testing.T, tr Transport) {
		assert := assert.New(t)
		off, err := tr.Append("data", []byte("hello "))
		assert.NoError(err)
		assert.Equal(int64(0), off)
		off, err = tr.Append("data", []byte("world"))
		assert.NoError(err)
		assert.Equal(int64(6), off)
		data, err := tr.Get("data")
		assert.NoError(err)
		assert.Equal("hello world", string(data))
	})
}

func TestGetMissing(t *testing.T) {
	eachTransport(t, func(t *testing.T, tr Transport) {
		assert := assert.New(t)
		_, err := tr.Get("nope")
		assert.Equal(ErrNoSuchFile, err)
		ok, err := tr.Has("nope")
		assert.NoError(err)
		assert.False(ok)
	})
}

func TestPutBytesReplaces(t *testing.T) {
	eachTransport(t, func(t *testing.T, tr Transport) {
		assert := assert.New(t)
		assert.NoError(tr.PutBytes("f", []byte("one")))
		assert.NoError(tr.PutBytes("f", []byte("two")))
		data, err := tr.Get("f")
		assert.NoError(err)
		assert.Equal("two", string(data))
	})
}

func TestReadV(t *testing.T) {
	eachTransport(t, func(t *testing.T, tr Transport) {
		assert := assert.New(t)
		_, err := tr.Append("data", []byte("0123456789abcdef"))
		assert.NoError(err)
		got, err := tr.ReadV("data", []Range{{12, 4}, {0, 3}, {4, 2}})
		assert.NoError(err)
		assert.Equal("cdef", string(got[0]))
		assert.Equal("012", string(got[1]))
		assert.Equal("45", string(got[2]))
	})
}

func TestLockExcludes(t *testing.T) {
	eachTransport(t, func(t *testing.T, tr Transport) {
		assert := assert.New(t)
		l, err := tr.Lock()
		assert.NoError(err)
		_, err = tr.Lock()
		assert.Equal(ErrLockContention, err)
		assert.NoError(l.Unlock())
		l2, err := tr.Lock()
		assert.NoError(err)
		assert.NoError(l2.Unlock())
	})
}

func TestCoalesce(t *testing.T) {
	assert := assert.New(t)
	spans, where := coalesce([]Range{{0, 10}, {10, 10}, {100000, 5}})
	assert.Len(spans, 2)
	assert.Equal(span{0, 20}, spans[0])
	assert.Equal(span{100000, 5}, spans[1])
	assert.Equal([]int{0, 0, 1}, where)
}

func TestCoalesceOverlap(t *testing.T) {
	assert := assert.New(t)
	spans, _ := coalesce([]Range{{0, 10}, {5, 3}})
	assert.Len(spans, 1)
	assert.Equal(span{0, 10}, spans[0])
}
