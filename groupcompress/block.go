// Copyright 2016 Attic Labs, Inc. All rights reserved.
// Licensed under the Apache License, version 2.0:
// http://www.apache.org/licenses/LICENSE-2.0

package groupcompress

import (
	"bytes"
	"strconv"

	"github.com/golang/snappy"

	"github.com/breezy-team/weft/versionedfile"
)

// Closed blocks are compressed as one unit. The header names the codec so a
// future block format can switch compressors without an index change.
const blockHeader = "gcb1-snappy\n"

// encodeBlock seals a block's line buffer into its on-disk form.
func encodeBlock(lines []string) []byte {
	var raw bytes.Buffer
	for _, l := range lines {
		raw.WriteString(l)
	}
	return append([]byte(blockHeader), snappy.Encode(nil, raw.Bytes())...)
}

// decodeBlock reopens a sealed block as its line buffer.
func decodeBlock(data []byte) ([]string, error) {
	if !bytes.HasPrefix(data, []byte(blockHeader)) {
		return nil, versionedfile.Corruptf("block lacks %q header", blockHeader[:len(blockHeader)-1])
	}
	raw, err := snappy.Decode(nil, data[len(blockHeader):])
	if err != nil {
		return nil, versionedfile.Corruptf("undecompressable block: %v", err)
	}
	return versionedfile.SplitLines(raw), nil
}

// Stream records carry a sealed block plus the line range of one record in
// it, framed as "<start> <end>\n<block bytes>".
func encodeBlockRef(start, end int, block []byte) []byte {
	head := strconv.Itoa(start) + " " + strconv.Itoa(end) + "\n"
	return append([]byte(head), block...)
}

func decodeBlockRef(payload []byte) (start, end int, block []byte, err error) {
	nl := bytes.IndexByte(payload, '\n')
	if nl < 0 {
		return 0, 0, nil, versionedfile.Corruptf("block ref lacks range header")
	}
	fields := bytes.Fields(payload[:nl])
	if len(fields) != 2 {
		return 0, 0, nil, versionedfile.Corruptf("malformed block ref header %q", payload[:nl])
	}
	start, err1 := strconv.Atoi(string(fields[0]))
	end, err2 := strconv.Atoi(string(fields[1]))
	if err1 != nil || err2 != nil {
		return 0, 0, nil, versionedfile.Corruptf("malformed block ref header %q", payload[:nl])
	}
	return start, end, payload[nl+1:], nil
}
