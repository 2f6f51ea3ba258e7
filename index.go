package packbase

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"
)

// SmallFanoutCutoff is the entry count above which the index switches
// from a 256-bucket fanout keyed by the first hash byte to a
// 65536-bucket fanout keyed by the first two.  Large packs get a finer
// partition so each bucket's binary search stays cheap; small packs
// avoid the fixed cost of the big table.
const SmallFanoutCutoff = (1 << 16) / 8

const (
	smallFanoutCount = 256
	largeFanoutCount = 65536

	// node + data offset + record length
	indexEntrySize = NodeSize + 8 + 8

	indexChecksumSize = 8

	configLargeFanout = 0x01
)

// indexEntry locates one record in the data file.
type indexEntry struct {
	node   Node
	offset uint64
	length uint64
}

// buildIndex serializes an index file: version byte, config byte,
// cumulative fanout table, node-sorted entry table, xxh3 trailer.
func buildIndex(version byte, entries []indexEntry) []byte {
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].node[:], entries[j].node[:]) < 0
	})

	large := len(entries) > SmallFanoutCutoff
	buckets := smallFanoutCount
	config := byte(0)
	if large {
		buckets = largeFanoutCount
		config |= configLargeFanout
	}

	size := 2 + 4*buckets + indexEntrySize*len(entries) + indexChecksumSize
	buf := make([]byte, 0, size)
	buf = append(buf, version, config)

	// cumulative counts: fanout[b] = number of entries whose bucket <= b
	fanout := make([]uint32, buckets)
	for _, entry := range entries {
		fanout[fanoutBucket(entry.node, large)]++
	}
	var total uint32
	var b4 [4]byte
	for _, n := range fanout {
		total += n
		binary.BigEndian.PutUint32(b4[:], total)
		buf = append(buf, b4[:]...)
	}

	var b8 [8]byte
	for _, entry := range entries {
		buf = append(buf, entry.node[:]...)
		binary.BigEndian.PutUint64(b8[:], entry.offset)
		buf = append(buf, b8[:]...)
		binary.BigEndian.PutUint64(b8[:], entry.length)
		buf = append(buf, b8[:]...)
	}

	binary.BigEndian.PutUint64(b8[:], xxh3.Hash(buf))
	return append(buf, b8[:]...)
}

func fanoutBucket(node Node, large bool) int {
	if large {
		return int(binary.BigEndian.Uint16(node[:2]))
	}
	return int(node[0])
}

// packIndex is a parsed, validated index file.
type packIndex struct {
	version byte
	large   bool
	fanout  []uint32 // cumulative counts
	entries []byte   // raw sorted entry table
	count   int
}

// parseIndex validates structure and checksum up front so corruption
// surfaces at open time rather than on some later unlucky lookup.
func parseIndex(buf []byte, path string) (idx *packIndex, err error) {
	if len(buf) < 2+indexChecksumSize {
		return nil, &CorruptPackError{Path: path, Reason: "index too short"}
	}
	body := buf[:len(buf)-indexChecksumSize]
	sum := binary.BigEndian.Uint64(buf[len(buf)-indexChecksumSize:])
	if xxh3.Hash(body) != sum {
		return nil, &CorruptPackError{Path: path, Reason: "index checksum mismatch"}
	}

	idx = &packIndex{version: body[0]}
	if !supportedVersions[idx.version] {
		return nil, &FormatError{Path: path, Version: idx.version}
	}
	config := body[1]
	if config&^byte(configLargeFanout) != 0 {
		return nil, &CorruptPackError{Path: path, Reason: fmt.Sprintf("unknown config byte %#x", config)}
	}
	idx.large = config&configLargeFanout != 0
	buckets := smallFanoutCount
	if idx.large {
		buckets = largeFanoutCount
	}

	body = body[2:]
	if len(body) < 4*buckets {
		return nil, &CorruptPackError{Path: path, Reason: "truncated fanout table"}
	}
	idx.fanout = make([]uint32, buckets)
	var prev uint32
	for i := range idx.fanout {
		idx.fanout[i] = binary.BigEndian.Uint32(body[4*i:])
		if idx.fanout[i] < prev {
			return nil, &CorruptPackError{Path: path, Reason: "fanout table not monotonic"}
		}
		prev = idx.fanout[i]
	}

	idx.entries = body[4*buckets:]
	if len(idx.entries)%indexEntrySize != 0 {
		return nil, &CorruptPackError{Path: path, Reason: "ragged entry table"}
	}
	idx.count = len(idx.entries) / indexEntrySize
	if int(prev) != idx.count {
		return nil, &CorruptPackError{Path: path, Reason: "fanout total disagrees with entry count"}
	}
	return idx, nil
}

// nodeAt returns the raw node bytes of the i'th sorted entry.
func (idx *packIndex) nodeAt(i int) []byte {
	rec := idx.entries[i*indexEntrySize:]
	return rec[:NodeSize]
}

// lookup finds node via its fanout bucket: O(1) to the bucket, then a
// binary search within it.
func (idx *packIndex) lookup(node Node) (offset, length uint64, ok bool) {
	bucket := fanoutBucket(node, idx.large)
	start := 0
	if bucket > 0 {
		start = int(idx.fanout[bucket-1])
	}
	end := int(idx.fanout[bucket])

	i := start + sort.Search(end-start, func(i int) bool {
		return bytes.Compare(idx.nodeAt(start+i), node[:]) >= 0
	})
	if i >= end || !bytes.Equal(idx.nodeAt(i), node[:]) {
		return 0, 0, false
	}
	rec := idx.entries[i*indexEntrySize+NodeSize:]
	return binary.BigEndian.Uint64(rec), binary.BigEndian.Uint64(rec[8:]), true
}
