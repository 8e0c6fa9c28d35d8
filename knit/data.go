// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package knit

import (
	"bytes"
	"compress/gzip"
	"io/ioutil"
	"strconv"
	"strings"
	"sync"

	"github.com/breezy-team/weft/d"
	"github.com/breezy-team/weft/key"
	"github.com/breezy-team/weft/versionedfile"
)

// recordToData frames payload lines as a gzipped record:
//
//	version <key> <line count> <sha1>
//	<payload lines>
//	end <key>
//
// The framing lets a reader detect truncated or misaddressed reads without
// consulting the index.
func recordToData(k key.Key, digest string, lines []string) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("version " + k.Wire() + " " + strconv.Itoa(len(lines)) + " " + digest + "\n"))
	d.PanicIfError(err)
	for _, line := range lines {
		_, err = zw.Write([]byte(line))
		d.PanicIfError(err)
	}
	_, err = zw.Write([]byte("end " + k.Wire() + "\n"))
	d.PanicIfError(err)
	d.PanicIfError(zw.Close())
	return buf.Bytes()
}

// parseRecord decompresses a record and validates its framing against the
// key the index said lives there. Returns the payload lines and the digest
// recorded at write time.
func parseRecord(data []byte, k key.Key) ([]string, string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", versionedfile.Corruptf("undecompressable record for %s: %v", k, err)
	}
	raw, err := ioutil.ReadAll(zr)
	if err != nil {
		return nil, "", versionedfile.Corruptf("undecompressable record for %s: %v", k, err)
	}
	lines := versionedfile.SplitLines(raw)
	if len(lines) < 2 {
		return nil, "", versionedfile.Corruptf("truncated record for %s", k)
	}
	header := strings.Fields(strings.TrimSuffix(lines[0], "\n"))
	if len(header) != 4 || header[0] != "version" {
		return nil, "", versionedfile.Corruptf("bad record header for %s: %q", k, lines[0])
	}
	if header[1] != k.Wire() {
		return nil, "", versionedfile.Corruptf("record for %s contains %s", k, header[1])
	}
	count, err := strconv.Atoi(header[2])
	if err != nil || count != len(lines)-2 {
		return nil, "", versionedfile.Corruptf("record for %s claims %s lines, has %d", k, header[2], len(lines)-2)
	}
	if lines[len(lines)-1] != "end "+k.Wire()+"\n" {
		return nil, "", versionedfile.Corruptf("unterminated record for %s", k)
	}
	return lines[1 : len(lines)-1], header[3], nil
}

// recordCache holds parsed payload lines keyed by storage position. It only
// fills while enabled; chain reconstruction enables it for the duration of a
// read so shared bases are decompressed once. A pinned cache (the
// EnableCache store option) stays enabled and keeps its entries across
// operations.
type recordCache struct {
	mu      sync.Mutex
	pinned  bool
	enabled bool
	entries map[string][]string
}

func (c *recordCache) enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
	if c.entries == nil {
		c.entries = map[string][]string{}
	}
}

// pin keeps the cache enabled permanently.
func (c *recordCache) pin() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned = true
	c.enabled = true
	if c.entries == nil {
		c.entries = map[string][]string{}
	}
}

func (c *recordCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned {
		return
	}
	c.enabled = false
	c.entries = nil
}

func (c *recordCache) get(pos string) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	lines, ok := c.entries[pos]
	return lines, ok
}

func (c *recordCache) put(pos string, lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		c.entries[pos] = lines
	}
}
