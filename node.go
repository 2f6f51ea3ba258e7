package packbase

import (
	"encoding/hex"
	"fmt"
)

// NodeSize is the width of a content hash in bytes.
const NodeSize = 20

// Node is a 20-byte content hash identifying one revision of one name.
type Node [NodeSize]byte

// NullNode is the wire sentinel for "no delta base".  Code outside this
// file should test for it with IsNull() or Entry.Base() rather than
// comparing raw bytes.
var NullNode = Node{}

// NodeFromBytes copies a raw 20-byte hash into a Node.
func NodeFromBytes(buf []byte) (node Node, err error) {
	if len(buf) != NodeSize {
		return node, fmt.Errorf("bad node length: %d", len(buf))
	}
	copy(node[:], buf)
	return
}

// NodeFromHex parses a 40-character hexadecimal hash.
func NodeFromHex(s string) (node Node, err error) {
	buf, err := hex.DecodeString(s)
	if err != nil {
		return
	}
	return NodeFromBytes(buf)
}

// IsNull reports whether node is the "no base" sentinel.
func (node Node) IsNull() bool {
	return node == NullNode
}

func (node Node) String() string {
	return hex.EncodeToString(node[:])
}
