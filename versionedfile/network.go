// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package versionedfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/breezy-team/weft/key"
	"github.com/pkg/errors"
)

// The wire representation of a record stream: one self-describing record
// after another, no shared index required on the far side. Each record is a
// header line
//
//	weft1 <kind> <key> <sha1|-> <eol|noeol> <nparents|-> [<parent>...] <payload-len>
//
// followed by exactly payload-len bytes. Key parts may not contain spaces or
// newlines (key.Valid), so the header splits unambiguously on spaces; tuple
// parts within one key stay NUL-joined.
const networkHeaderMagic = "weft1"

// EncodeRecord writes rec to w in wire form.
func EncodeRecord(w io.Writer, rec Record) error {
	payload := []byte{}
	if rec.StorageKind() != KindAbsent {
		var err error
		payload, err = rec.Bytes(rec.StorageKind())
		if err != nil {
			return err
		}
	}

	sha := rec.Sha1()
	if sha == "" {
		sha = "-"
	}
	eol := "eol"
	if raw, ok := rec.(*RawRecord); ok && raw.NoEOL {
		eol = "noeol"
	}
	fields := []string{networkHeaderMagic, rec.StorageKind(), rec.Key().Wire(), sha, eol}
	if parents, ok := rec.Parents(); ok {
		fields = append(fields, strconv.Itoa(len(parents)))
		for _, p := range parents {
			fields = append(fields, p.Wire())
		}
	} else {
		fields = append(fields, "-")
	}
	fields = append(fields, strconv.Itoa(len(payload)))

	if _, err := fmt.Fprintf(w, "%s\n", strings.Join(fields, " ")); err != nil {
		return errors.Wrap(err, "writing record header")
	}
	_, err := w.Write(payload)
	return errors.Wrap(err, "writing record payload")
}

// EncodeStream drains stream into w.
func EncodeStream(w io.Writer, stream RecordStream) error {
	for {
		rec, err := stream.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := EncodeRecord(w, rec); err != nil {
			return err
		}
	}
}

// DecodeStream returns a RecordStream reading wire-form records from r
// until EOF.
func DecodeStream(r io.Reader) RecordStream {
	return &networkStream{br: bufio.NewReader(r)}
}

type networkStream struct {
	br *bufio.Reader
}

func (ns *networkStream) Next() (Record, error) {
	header, err := ns.br.ReadString('\n')
	if err == io.EOF && header == "" {
		return nil, io.EOF
	}
	if err != nil {
		return nil, Corruptf("truncated record header %q", header)
	}
	fields := strings.Split(strings.TrimSuffix(header, "\n"), " ")
	if len(fields) < 7 || fields[0] != networkHeaderMagic {
		return nil, Corruptf("malformed record header %q", header)
	}
	kind := fields[1]
	k := key.FromWire(fields[2])
	sha := fields[3]
	if sha == "-" {
		sha = ""
	}
	noEOL := fields[4] == "noeol"

	var parents []key.Key
	parentsKnown := fields[5] != "-"
	rest := fields[6:]
	if parentsKnown {
		n, err := strconv.Atoi(fields[5])
		if err != nil || len(rest) != n+1 {
			return nil, Corruptf("malformed parent list in %q", header)
		}
		parents = make([]key.Key, n)
		for i := 0; i < n; i++ {
			parents[i] = key.FromWire(rest[i])
		}
		rest = rest[n:]
	} else if len(rest) != 1 {
		return nil, Corruptf("malformed record header %q", header)
	}

	plen, err := strconv.Atoi(rest[0])
	if err != nil || plen < 0 {
		return nil, Corruptf("bad payload length in %q", header)
	}
	payload := make([]byte, plen)
	if _, err := io.ReadFull(ns.br, payload); err != nil {
		return nil, Corruptf("truncated payload for %s", k)
	}

	switch kind {
	case KindAbsent:
		return &AbsentRecord{K: k}, nil
	case KindFulltext, KindChunked:
		return &FulltextRecord{K: k, P: parents, Digest: sha, Text: payload}, nil
	default:
		return &RawRecord{K: k, P: parents, Digest: sha, Kind: kind, Payload: payload, NoEOL: noEOL}, nil
	}
}
