// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/breezy-team/weft/key"
)

func TestNetworkRoundTrip(t *testing.T) {
	assert := assert.New(t)

	recs := []Record{
		&FulltextRecord{
			K:      key.New("file-1", "rev-a"),
			Digest: Sha1Bytes([]byte("one\n")),
			Text:   []byte("one\n"),
		},
		&RawRecord{
			K:       key.New("file-1", "rev-b"),
			P:       []key.Key{key.New("file-1", "rev-a")},
			Digest:  "0000000000000000000000000000000000000000",
			Kind:    KindKnitDeltaGz,
			Payload: []byte{0x1f, 0x8b, 0x00, 0x01},
			NoEOL:   true,
		},
		&AbsentRecord{K: key.New("file-1", "rev-x")},
	}

	var buff bytes.Buffer
	assert.NoError(EncodeStream(&buff, NewSliceStream(recs...)))

	stream := DecodeStream(&buff)

	rec, err := stream.Next()
	assert.NoError(err)
	ft, ok := rec.(*FulltextRecord)
	assert.True(ok)
	assert.True(ft.K.Equals(key.New("file-1", "rev-a")))
	assert.Equal([]byte("one\n"), ft.Text)
	parents, ok := rec.Parents()
	assert.True(ok)
	assert.Len(parents, 0)

	rec, err = stream.Next()
	assert.NoError(err)
	raw, ok := rec.(*RawRecord)
	assert.True(ok)
	assert.Equal(KindKnitDeltaGz, raw.Kind)
	assert.True(raw.NoEOL)
	assert.Equal([]byte{0x1f, 0x8b, 0x00, 0x01}, raw.Payload)
	parents, _ = rec.Parents()
	assert.Len(parents, 1)
	assert.True(parents[0].Equals(key.New("file-1", "rev-a")))

	rec, err = stream.Next()
	assert.NoError(err)
	assert.Equal(KindAbsent, rec.StorageKind())

	_, err = stream.Next()
	assert.Equal(io.EOF, err)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	assert := assert.New(t)

	_, err := DecodeStream(bytes.NewReader([]byte("not a stream\n"))).Next()
	assert.Error(err)

	// A header from some other protocol version.
	_, err = DecodeStream(bytes.NewReader([]byte("weft9 fulltext k - eol - 0\n"))).Next()
	assert.Error(err)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	assert := assert.New(t)

	var buff bytes.Buffer
	rec := &FulltextRecord{K: key.New("rev-a"), Digest: Sha1Bytes([]byte("xy")), Text: []byte("xy")}
	assert.NoError(EncodeRecord(&buff, rec))
	data := buff.Bytes()[:buff.Len()-1]

	_, err := DecodeStream(bytes.NewReader(data)).Next()
	assert.Error(err)
}
