// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package knit implements the knit storage format: a versioned-text store
// where every record is either a verbatim fulltext or a line delta against
// exactly one basis record, with a companion index tracking positions,
// parents and encoding method.
package knit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/breezy-team/weft/delta"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/versionedfile"
)

// annotatedHunk is one line-delta hunk with per-line origins.
type annotatedHunk struct {
	start, end int
	lines      []delta.AnnotatedLine
}

// applyAnnotated is delta.Apply over annotated lines. The hunks come from
// stored records, so out-of-range or overlapping ranges are corruption, not
// programmer error.
func applyAnnotated(basis []delta.AnnotatedLine, hunks []annotatedHunk) ([]delta.AnnotatedLine, error) {
	out := make([]delta.AnnotatedLine, 0, len(basis))
	pos := 0
	for _, h := range hunks {
		if h.start < pos || h.end < h.start || h.end > len(basis) {
			return nil, versionedfile.Corruptf("delta hunk %d,%d does not fit a basis of %d lines", h.start, h.end, len(basis))
		}
		out = append(out, basis[pos:h.start]...)
		out = append(out, h.lines...)
		pos = h.end
	}
	return append(out, basis[pos:]...), nil
}

// factory serializes and parses record payload lines. The payload of a
// fulltext record is its content lines; a delta payload is a sequence of
// "<start>,<end>,<count>" headers each followed by count literal lines.
// The annotated factory prefixes every literal line with its origin key.
type factory interface {
	annotated() bool
	fulltextKind() string
	deltaKind() string

	parseFulltext(lines []string, k key.Key) ([]delta.AnnotatedLine, error)
	parseLineDelta(lines []string, k key.Key) ([]annotatedHunk, error)
	lowerFulltext(content []delta.AnnotatedLine) []string
	lowerLineDelta(hunks []annotatedHunk) []string
}

type plainFactory struct{}

func (plainFactory) annotated() bool      { return false }
func (plainFactory) fulltextKind() string { return versionedfile.KindKnitFtGz }
func (plainFactory) deltaKind() string    { return versionedfile.KindKnitDeltaGz }

func (plainFactory) parseFulltext(lines []string, k key.Key) ([]delta.AnnotatedLine, error) {
	return delta.AnnotateLines(k, lines), nil
}

func (plainFactory) parseLineDelta(lines []string, k key.Key) ([]annotatedHunk, error) {
	var out []annotatedHunk
	for i := 0; i < len(lines); {
		start, end, count, err := parseHunkHeader(lines[i])
		if err != nil {
			return nil, err
		}
		if i+1+count > len(lines) {
			return nil, versionedfile.Corruptf("truncated delta for %s", k)
		}
		out = append(out, annotatedHunk{
			start: start,
			end:   end,
			lines: delta.AnnotateLines(k, lines[i+1:i+1+count]),
		})
		i += 1 + count
	}
	return out, nil
}

func (plainFactory) lowerFulltext(content []delta.AnnotatedLine) []string {
	return delta.Texts(content)
}

func (plainFactory) lowerLineDelta(hunks []annotatedHunk) []string {
	var out []string
	for _, h := range hunks {
		out = append(out, fmt.Sprintf("%d,%d,%d\n", h.start, h.end, len(h.lines)))
		out = append(out, delta.Texts(h.lines)...)
	}
	return out
}

type annotatedFactory struct{}

func (annotatedFactory) annotated() bool      { return true }
func (annotatedFactory) fulltextKind() string { return versionedfile.KindKnitAnnoFtGz }
func (annotatedFactory) deltaKind() string    { return versionedfile.KindKnitAnnoDeltaGz }

// Annotated lines are stored "origin SPACE text"; origins cannot contain
// spaces (key.Valid), so the first space splits unambiguously.
func parseAnnotatedLine(line string, k key.Key) (delta.AnnotatedLine, error) {
	i := strings.IndexByte(line, ' ')
	if i < 0 {
		return delta.AnnotatedLine{}, versionedfile.Corruptf("unannotated line %q in %s", line, k)
	}
	return delta.AnnotatedLine{Origin: key.FromWire(line[:i]), Text: line[i+1:]}, nil
}

func (annotatedFactory) parseFulltext(lines []string, k key.Key) ([]delta.AnnotatedLine, error) {
	out := make([]delta.AnnotatedLine, len(lines))
	for i, line := range lines {
		al, err := parseAnnotatedLine(line, k)
		if err != nil {
			return nil, err
		}
		out[i] = al
	}
	return out, nil
}

func (annotatedFactory) parseLineDelta(lines []string, k key.Key) ([]annotatedHunk, error) {
	var out []annotatedHunk
	for i := 0; i < len(lines); {
		start, end, count, err := parseHunkHeader(lines[i])
		if err != nil {
			return nil, err
		}
		if i+1+count > len(lines) {
			return nil, versionedfile.Corruptf("truncated delta for %s", k)
		}
		h := annotatedHunk{start: start, end: end}
		for _, line := range lines[i+1 : i+1+count] {
			al, err := parseAnnotatedLine(line, k)
			if err != nil {
				return nil, err
			}
			h.lines = append(h.lines, al)
		}
		out = append(out, h)
		i += 1 + count
	}
	return out, nil
}

func (annotatedFactory) lowerFulltext(content []delta.AnnotatedLine) []string {
	out := make([]string, len(content))
	for i, al := range content {
		out[i] = al.Origin.Wire() + " " + al.Text
	}
	return out
}

func (f annotatedFactory) lowerLineDelta(hunks []annotatedHunk) []string {
	var out []string
	for _, h := range hunks {
		out = append(out, fmt.Sprintf("%d,%d,%d\n", h.start, h.end, len(h.lines)))
		out = append(out, f.lowerFulltext(h.lines)...)
	}
	return out
}

func parseHunkHeader(line string) (start, end, count int, err error) {
	parts := strings.Split(strings.TrimSuffix(line, "\n"), ",")
	if len(parts) != 3 {
		return 0, 0, 0, versionedfile.Corruptf("bad delta header %q", line)
	}
	if start, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, versionedfile.Corruptf("bad delta header %q", line)
	}
	if end, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, versionedfile.Corruptf("bad delta header %q", line)
	}
	if count, err = strconv.Atoi(parts[2]); err != nil || count < 0 {
		return 0, 0, 0, versionedfile.Corruptf("bad delta header %q", line)
	}
	return start, end, count, nil
}

// annotatedDeltaFrom computes the delta between two annotated contents,
// keeping the target's annotations on inserted lines.
func annotatedDeltaFrom(basis, target []delta.AnnotatedLine) []annotatedHunk {
	plain := delta.Compute(delta.Texts(basis), delta.Texts(target))
	out := make([]annotatedHunk, len(plain))
	// Recover target offsets of each hunk's lines by walking both
	// sequences the way Apply does.
	tpos, bpos := 0, 0
	for i, h := range plain {
		tpos += h.Start - bpos // matching region before this hunk
		out[i] = annotatedHunk{start: h.Start, end: h.End, lines: target[tpos : tpos+len(h.Lines)]}
		tpos += len(h.Lines)
		bpos = h.End
	}
	return out
}
