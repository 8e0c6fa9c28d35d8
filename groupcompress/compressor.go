// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

// Package groupcompress implements the block-compression storage format:
// many texts share one block, each diffed against every line previously
// inserted into that block rather than against a designated parent.
package groupcompress

import (
	"strconv"
	"strings"

	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/versionedfile"
)

// Compressor builds one block. Each compressed text appends a record to the
// block's line buffer:
//
//	label: <key>
//	sha1: <hex>
//	c,<start>,<length>   copy lines [start,start+length) of this buffer
//	i,<count>            insert <count> literal lines, which follow
//
// Copies may reference any literal line inserted earlier in the block,
// whichever text inserted it. Header and instruction lines occupy buffer
// positions too but are never matched against.
type Compressor struct {
	lines     []string
	matchable []bool
	locations map[string][]int
	ranges    map[string][2]int // key wire -> [start,end) line range
}

// NewCompressor starts an empty block.
func NewCompressor() *Compressor {
	return &Compressor{
		locations: map[string][]int{},
		ranges:    map[string][2]int{},
	}
}

// Size is the block's current byte size.
func (c *Compressor) Size() int {
	n := 0
	for _, l := range c.lines {
		n += len(l)
	}
	return n
}

// Keys lists the wire keys compressed into this block so far.
func (c *Compressor) Keys() []string {
	out := make([]string, 0, len(c.ranges))
	for w := range c.ranges {
		out = append(out, w)
	}
	return out
}

func (c *Compressor) emit(line string, matchForward bool) {
	if matchForward {
		c.locations[line] = append(c.locations[line], len(c.lines))
	}
	c.lines = append(c.lines, line)
	c.matchable = append(c.matchable, matchForward)
}

// longestRun finds the longest run of block lines matching lines, preferring
// the earliest block position on ties.
func (c *Compressor) longestRun(lines []string) (pos, length int) {
	for _, cand := range c.locations[lines[0]] {
		n := 1
		for n < len(lines) && cand+n < len(c.lines) &&
			c.matchable[cand+n] && c.lines[cand+n] == lines[n] {
			n++
		}
		if n > length {
			pos, length = cand, n
		}
	}
	return
}

// Compress appends lines as a new record labelled k and returns the
// record's line range within the block. The digest is recorded verbatim; it
// is the caller's content digest, not recomputed here.
func (c *Compressor) Compress(k key.Key, lines []string, digest string) (start, end int) {
	start = len(c.lines)
	c.emit("label: "+k.Wire()+"\n", false)
	c.emit("sha1: "+digest+"\n", false)

	var pendingInsert []string
	flushInsert := func() {
		if len(pendingInsert) == 0 {
			return
		}
		c.emit("i,"+strconv.Itoa(len(pendingInsert))+"\n", false)
		for _, l := range pendingInsert {
			c.emit(l, true)
		}
		pendingInsert = nil
	}

	for pos := 0; pos < len(lines); {
		runPos, runLen := c.longestRun(lines[pos:])
		if runLen > 0 {
			copyInstr := "c," + strconv.Itoa(runPos) + "," + strconv.Itoa(runLen) + "\n"
			insertCost := len("i," + strconv.Itoa(runLen) + "\n")
			for _, l := range lines[pos : pos+runLen] {
				insertCost += len(l)
			}
			if len(copyInstr) < insertCost {
				flushInsert()
				c.emit(copyInstr, false)
				pos += runLen
				continue
			}
		}
		pendingInsert = append(pendingInsert, lines[pos])
		pos++
	}
	flushInsert()

	end = len(c.lines)
	c.ranges[k.Wire()] = [2]int{start, end}
	return start, end
}

// Extract reconstructs a record compressed into this still-open block.
func (c *Compressor) Extract(k key.Key) ([]string, string, error) {
	r, ok := c.ranges[k.Wire()]
	if !ok {
		return nil, "", &versionedfile.KeyNotPresentError{Key: k}
	}
	return extractRecord(c.lines, k, r[0], r[1])
}

// extractRecord replays the instructions in blockLines[start:end].
func extractRecord(blockLines []string, k key.Key, start, end int) ([]string, string, error) {
	if start < 0 || end > len(blockLines) || end-start < 2 {
		return nil, "", versionedfile.Corruptf("record range [%d,%d) outside block of %d lines", start, end, len(blockLines))
	}
	label := strings.TrimSuffix(blockLines[start], "\n")
	if label != "label: "+k.Wire() {
		return nil, "", versionedfile.Corruptf("block record labelled %q, wanted %s", label, k)
	}
	sha1Line := strings.TrimSuffix(blockLines[start+1], "\n")
	if !strings.HasPrefix(sha1Line, "sha1: ") {
		return nil, "", versionedfile.Corruptf("missing sha1 header for %s", k)
	}
	digest := strings.TrimPrefix(sha1Line, "sha1: ")

	var out []string
	for i := start + 2; i < end; {
		instr := strings.TrimSuffix(blockLines[i], "\n")
		switch {
		case strings.HasPrefix(instr, "c,"):
			parts := strings.Split(instr[2:], ",")
			if len(parts) != 2 {
				return nil, "", versionedfile.Corruptf("bad copy instruction %q in %s", instr, k)
			}
			cpos, err1 := strconv.Atoi(parts[0])
			clen, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil || cpos < 0 || clen < 0 || cpos+clen > i {
				return nil, "", versionedfile.Corruptf("bad copy instruction %q in %s", instr, k)
			}
			out = append(out, blockLines[cpos:cpos+clen]...)
			i++
		case strings.HasPrefix(instr, "i,"):
			n, err := strconv.Atoi(instr[2:])
			if err != nil || n < 0 || i+1+n > end {
				return nil, "", versionedfile.Corruptf("bad insert instruction %q in %s", instr, k)
			}
			out = append(out, blockLines[i+1:i+1+n]...)
			i += 1 + n
		default:
			return nil, "", versionedfile.Corruptf("unknown instruction %q in %s", instr, k)
		}
	}
	return out, digest, nil
}
