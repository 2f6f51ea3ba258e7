package packbase

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/ioutil"

	"github.com/ulikunitz/xz/lzma"
)

// Entry is one revision record in a pack: a (name, node) key, the
// delta base link, the delta bytes, and optional metadata.  Entries
// are write-once.
type Entry struct {
	Name     string
	Node     Node
	BaseNode Node
	Delta    []byte
	Meta     *Metadata
}

// Base returns the delta base and whether one exists.  A false return
// means the delta is a full text.
func (entry *Entry) Base() (Node, bool) {
	if entry.BaseNode.IsNull() {
		return NullNode, false
	}
	return entry.BaseNode, true
}

// Deltas below this size are stored raw; compressing them costs more
// than it saves.
const compressionThreshold = 512

// Payload markers: first byte of the delta payload on disk.
const (
	payloadRaw  = 0
	payloadLzma = 1
)

// packPayload wraps delta bytes for storage, lzma-compressing large
// deltas when that actually shrinks them.
func packPayload(delta []byte) (payload []byte, err error) {
	if len(delta) < compressionThreshold {
		return append([]byte{payloadRaw}, delta...), nil
	}
	var buf bytes.Buffer
	buf.WriteByte(payloadLzma)
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(delta); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	if buf.Len() >= len(delta)+1 {
		return append([]byte{payloadRaw}, delta...), nil
	}
	return buf.Bytes(), nil
}

func unpackPayload(payload []byte) (delta []byte, err error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty delta payload")
	}
	body := payload[1:]
	switch payload[0] {
	case payloadRaw:
		return body, nil
	case payloadLzma:
		r, err := lzma.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		return ioutil.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown payload marker %d", payload[0])
	}
}

// marshal serializes entry as one data-file record: 2-byte name
// length, name, node, base node, 8-byte payload length, payload, and
// for version >= 1 the metadata section.
func (entry *Entry) marshal(version byte) (buf []byte, err error) {
	if len(entry.Name) > 0xffff {
		return nil, fmt.Errorf("name too long: %d bytes", len(entry.Name))
	}
	payload, err := packPayload(entry.Delta)
	if err != nil {
		return nil, err
	}
	buf = make([]byte, 0, 2+len(entry.Name)+2*NodeSize+8+len(payload))
	var l2 [2]byte
	binary.BigEndian.PutUint16(l2[:], uint16(len(entry.Name)))
	buf = append(buf, l2[:]...)
	buf = append(buf, entry.Name...)
	buf = append(buf, entry.Node[:]...)
	buf = append(buf, entry.BaseNode[:]...)
	var l8 [8]byte
	binary.BigEndian.PutUint64(l8[:], uint64(len(payload)))
	buf = append(buf, l8[:]...)
	buf = append(buf, payload...)
	if version >= 1 {
		buf = append(buf, marshalMeta(entry.Meta)...)
	}
	return
}

// parseEntry reads one record starting at pos, returning the entry and
// the offset of the next record.  Errors are plain; callers wrap them
// into CorruptPackError with the pack's path.
func parseEntry(buf []byte, pos int, version byte) (entry *Entry, next int, err error) {
	entry = &Entry{}
	if pos+2 > len(buf) {
		return nil, 0, fmt.Errorf("truncated name length at %d", pos)
	}
	namelen := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
	pos += 2
	if pos+namelen+2*NodeSize+8 > len(buf) {
		return nil, 0, fmt.Errorf("truncated entry header at %d", pos)
	}
	entry.Name = string(buf[pos : pos+namelen])
	pos += namelen
	copy(entry.Node[:], buf[pos:pos+NodeSize])
	pos += NodeSize
	copy(entry.BaseNode[:], buf[pos:pos+NodeSize])
	pos += NodeSize
	payloadlen := binary.BigEndian.Uint64(buf[pos : pos+8])
	pos += 8
	if payloadlen > uint64(len(buf)-pos) {
		return nil, 0, fmt.Errorf("truncated delta payload at %d", pos)
	}
	entry.Delta, err = unpackPayload(buf[pos : pos+int(payloadlen)])
	if err != nil {
		return nil, 0, err
	}
	pos += int(payloadlen)
	if version >= 1 {
		if pos+4 > len(buf) {
			return nil, 0, fmt.Errorf("truncated metadata length at %d", pos)
		}
		metalen := int(binary.BigEndian.Uint32(buf[pos : pos+4]))
		pos += 4
		if pos+metalen > len(buf) {
			return nil, 0, fmt.Errorf("truncated metadata section at %d", pos)
		}
		entry.Meta, err = unmarshalMeta(buf[pos : pos+metalen])
		if err != nil {
			return nil, 0, err
		}
		pos += metalen
	}
	return entry, pos, nil
}
