// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package groupcompress

import (
	"github.com/breezy-team/weft/versionedfile"
)

// RegisterAdapters installs the group-compress storage-kind conversions.
// Block refs carry their whole block, so lowering to fulltext needs no
// basis resolver.
func RegisterAdapters(reg *versionedfile.AdapterRegistry) {
	reg.Register(versionedfile.KindGCBlockRef, versionedfile.KindFulltext,
		func(rec versionedfile.Record, _ versionedfile.BasisFunc) ([]byte, error) {
			payload, err := rec.Bytes(rec.StorageKind())
			if err != nil {
				return nil, err
			}
			start, end, blk, err := decodeBlockRef(payload)
			if err != nil {
				return nil, err
			}
			blockLines, err := decodeBlock(blk)
			if err != nil {
				return nil, err
			}
			lines, digest, err := extractRecord(blockLines, rec.Key(), start, end)
			if err != nil {
				return nil, err
			}
			noEOL := false
			if raw, ok := rec.(*versionedfile.RawRecord); ok {
				noEOL = raw.NoEOL
			}
			lines = stripNoEOL(lines, noEOL)
			if versionedfile.Sha1Lines(lines) != digest {
				return nil, versionedfile.Corruptf("sha1 mismatch extracting %s from block ref", rec.Key())
			}
			return versionedfile.JoinLines(lines), nil
		})
}
