package packbase

import (
	"encoding/binary"
	"fmt"
)

// Metadata key bytes in the persisted typed key/value section.
const (
	metaKeyFlag = 'f'
	metaKeySize = 's'
)

// Metadata is the small typed key/value section attached to each
// revision: an opaque flag integer and the logical decompressed size.
// A flag of exactly zero is omitted on disk and reconstructed as zero
// on read.
type Metadata struct {
	Flag uint64
	Size uint64
}

// intdata encodes v as minimal-width big-endian bytes; zero encodes as
// a single zero byte.
func intdata(v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < len(tmp)-1 && tmp[i] == 0 {
		i++
	}
	return tmp[i:]
}

func dataToInt(buf []byte) (v uint64, err error) {
	if len(buf) > 8 {
		return 0, fmt.Errorf("metadata value too wide: %d bytes", len(buf))
	}
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return
}

func appendMetaItem(buf []byte, key byte, v uint64) []byte {
	data := intdata(v)
	buf = append(buf, key)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(data)))
	buf = append(buf, l[:]...)
	return append(buf, data...)
}

// marshalMeta serializes a metadata section, including its 4-byte
// length frame.  A nil meta produces an empty section.
func marshalMeta(meta *Metadata) []byte {
	var body []byte
	if meta != nil {
		if meta.Flag != 0 {
			body = appendMetaItem(body, metaKeyFlag, meta.Flag)
		}
		body = appendMetaItem(body, metaKeySize, meta.Size)
	}
	buf := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	return append(buf, body...)
}

// unmarshalMeta parses the body of a metadata section (without the
// length frame).  An empty body yields a nil Metadata.
func unmarshalMeta(body []byte) (meta *Metadata, err error) {
	if len(body) == 0 {
		return nil, nil
	}
	meta = &Metadata{}
	for pos := 0; pos < len(body); {
		if pos+3 > len(body) {
			return nil, fmt.Errorf("truncated metadata item at %d", pos)
		}
		key := body[pos]
		vlen := int(binary.BigEndian.Uint16(body[pos+1 : pos+3]))
		pos += 3
		if pos+vlen > len(body) {
			return nil, fmt.Errorf("truncated metadata value at %d", pos)
		}
		v, err := dataToInt(body[pos : pos+vlen])
		if err != nil {
			return nil, err
		}
		pos += vlen
		switch key {
		case metaKeyFlag:
			meta.Flag = v
		case metaKeySize:
			meta.Size = v
		default:
			return nil, fmt.Errorf("unknown metadata key %q", key)
		}
	}
	return
}
