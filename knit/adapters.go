// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package knit

import (
	"github.com/breezy-team/weft/delta"
	"github.com/breezy-team/weft/versionedfile"
)

// RegisterAdapters installs the knit storage-kind conversions: every knit
// kind can be lowered to fulltext (deltas need the basis resolver), and the
// annotated kinds can be stripped to their plain equivalents.
func RegisterAdapters(reg *versionedfile.AdapterRegistry) {
	anno, plain := annotatedFactory{}, plainFactory{}

	reg.Register(versionedfile.KindKnitFtGz, versionedfile.KindFulltext, fulltextAdapter(plain))
	reg.Register(versionedfile.KindKnitAnnoFtGz, versionedfile.KindFulltext, fulltextAdapter(anno))
	reg.Register(versionedfile.KindKnitDeltaGz, versionedfile.KindFulltext, deltaAdapter(plain))
	reg.Register(versionedfile.KindKnitAnnoDeltaGz, versionedfile.KindFulltext, deltaAdapter(anno))

	reg.Register(versionedfile.KindKnitAnnoFtGz, versionedfile.KindKnitFtGz,
		func(rec versionedfile.Record, _ versionedfile.BasisFunc) ([]byte, error) {
			lines, digest, err := payloadLines(rec)
			if err != nil {
				return nil, err
			}
			content, err := anno.parseFulltext(lines, rec.Key())
			if err != nil {
				return nil, err
			}
			return recordToData(rec.Key(), digest, plain.lowerFulltext(content)), nil
		})
	reg.Register(versionedfile.KindKnitAnnoDeltaGz, versionedfile.KindKnitDeltaGz,
		func(rec versionedfile.Record, _ versionedfile.BasisFunc) ([]byte, error) {
			lines, digest, err := payloadLines(rec)
			if err != nil {
				return nil, err
			}
			hunks, err := anno.parseLineDelta(lines, rec.Key())
			if err != nil {
				return nil, err
			}
			return recordToData(rec.Key(), digest, plain.lowerLineDelta(hunks)), nil
		})
}

func payloadLines(rec versionedfile.Record) ([]string, string, error) {
	payload, err := rec.Bytes(rec.StorageKind())
	if err != nil {
		return nil, "", err
	}
	return parseRecord(payload, rec.Key())
}

func recordNoEOL(rec versionedfile.Record) bool {
	raw, ok := rec.(*versionedfile.RawRecord)
	return ok && raw.NoEOL
}

func fulltextAdapter(f factory) versionedfile.Adapter {
	return func(rec versionedfile.Record, _ versionedfile.BasisFunc) ([]byte, error) {
		lines, _, err := payloadLines(rec)
		if err != nil {
			return nil, err
		}
		content, err := f.parseFulltext(lines, rec.Key())
		if err != nil {
			return nil, err
		}
		return versionedfile.JoinLines(stripNoEOL(delta.Texts(content), recordNoEOL(rec))), nil
	}
}

// deltaAdapter lowers a delta record to fulltext. The basis is by stream
// convention the record's leftmost parent.
func deltaAdapter(f factory) versionedfile.Adapter {
	return func(rec versionedfile.Record, basis versionedfile.BasisFunc) ([]byte, error) {
		parents, _ := rec.Parents()
		if len(parents) == 0 {
			return nil, versionedfile.Corruptf("delta record %s has no parents", rec.Key())
		}
		if basis == nil {
			return nil, &versionedfile.UnavailableRepresentationError{
				Key: rec.Key(), Wanted: versionedfile.KindFulltext, Have: rec.StorageKind(),
			}
		}
		basisText, err := basis(parents[0])
		if err != nil {
			return nil, err
		}
		lines, _, err := payloadLines(rec)
		if err != nil {
			return nil, err
		}
		hunks, err := f.parseLineDelta(lines, rec.Key())
		if err != nil {
			return nil, err
		}
		basisContent := delta.AnnotateLines(parents[0], versionedfile.SplitLines(basisText))
		content, err := applyAnnotated(basisContent, hunks)
		if err != nil {
			return nil, err
		}
		return versionedfile.JoinLines(stripNoEOL(delta.Texts(content), recordNoEOL(rec))), nil
	}
}
