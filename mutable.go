package packbase

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"sort"

	"github.com/google/renameio"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// MutableDataPack accumulates revisions in memory and answers the same
// queries as a finalized DataPack against the unflushed set.  Flush is
// the only exit from the writable state: it publishes exactly one
// immutable pack and seals the builder for good.
type MutableDataPack struct {
	Dir string // directory the flushed pack is published into

	order    []*Entry // insertion order, preserved in the data file
	nodes    map[Node]*Entry
	sealed   bool
	maxDepth int
}

// NewMutableDataPack returns an empty builder that will flush into dir.
func NewMutableDataPack(dir string) *MutableDataPack {
	return &MutableDataPack{
		Dir:   dir,
		nodes: make(map[Node]*Entry),
	}
}

// Add accumulates one revision.  meta may be nil.  Entries are never
// deduplicated; callers are responsible for not re-submitting content
// already resolvable from elsewhere.
func (mp *MutableDataPack) Add(name string, node, base Node, delta []byte, meta *Metadata) error {
	if mp.sealed {
		return &SealedError{Dir: mp.Dir}
	}
	Assert(!node.IsNull(), "cannot add the null node")
	entry := &Entry{
		Name:     name,
		Node:     node,
		BaseNode: base,
		Delta:    delta,
		Meta:     meta,
	}
	mp.order = append(mp.order, entry)
	mp.nodes[node] = entry
	return nil
}

// Sealed reports whether the builder has been flushed or discarded.
func (mp *MutableDataPack) Sealed() bool {
	return mp.sealed
}

// Len returns the number of accumulated entries.
func (mp *MutableDataPack) Len() int {
	return len(mp.order)
}

// Flush serializes everything accumulated so far into a new pack pair,
// published atomically via temp-file rename so a concurrent reader
// never sees a half-written pack as valid.  The data file lands before
// the index file; discovery requires both, so an incomplete pair is
// simply invisible.  Returns the new pack's base path, or "" when
// nothing was added.  The builder is sealed either way.
func (mp *MutableDataPack) Flush() (base string, err error) {
	defer Return(&err)
	if mp.sealed {
		return "", &SealedError{Dir: mp.Dir}
	}
	mp.sealed = true
	if len(mp.order) == 0 {
		return "", nil
	}

	version := byte(1)
	data := []byte{version}
	idxents := make([]indexEntry, 0, len(mp.order))
	for _, entry := range mp.order {
		rec, err := entry.marshal(version)
		Ck(err)
		idxents = append(idxents, indexEntry{
			node:   entry.Node,
			offset: uint64(len(data)),
			length: uint64(len(rec)),
		})
		data = append(data, rec...)
	}

	// The pack id is the hash of the sorted node set, so identical
	// content produces an identical name regardless of insertion order.
	sorted := make([]Node, 0, len(mp.nodes))
	for node := range mp.nodes {
		sorted = append(sorted, node)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})
	hasher := sha1.New()
	for _, node := range sorted {
		hasher.Write(node[:])
	}
	base = filepath.Join(mp.Dir, hex.EncodeToString(hasher.Sum(nil)))

	index := buildIndex(version, idxents)
	err = renameio.WriteFile(base+PackSuffix, data, 0444)
	Ck(err)
	err = renameio.WriteFile(base+IndexSuffix, index, 0444)
	Ck(err)

	log.Debugf("flushed pack %s: %d entries, %d data bytes", base, len(mp.order), len(data))
	return base, nil
}

// Discard seals the builder without writing anything.
func (mp *MutableDataPack) Discard() {
	mp.sealed = true
	mp.order = nil
	mp.nodes = nil
}

func (mp *MutableDataPack) entry(node Node) (*Entry, error) {
	entry, ok := mp.nodes[node]
	if !ok {
		return nil, &NotFoundError{Node: node}
	}
	return entry, nil
}

// GetDelta answers against the unflushed set.
func (mp *MutableDataPack) GetDelta(name string, node Node) (*Delta, error) {
	entry, err := mp.entry(node)
	if err != nil {
		return nil, &NotFoundError{Name: name, Node: node}
	}
	return deltaFromEntry(entry), nil
}

// GetMeta answers against the unflushed set.
func (mp *MutableDataPack) GetMeta(name string, node Node) (Metadata, error) {
	entry, err := mp.entry(node)
	if err != nil {
		return Metadata{}, &NotFoundError{Name: name, Node: node}
	}
	if entry.Meta == nil {
		return Metadata{}, nil
	}
	return *entry.Meta, nil
}

// GetDeltaChain resolves node's chain within the unflushed set.
func (mp *MutableDataPack) GetDeltaChain(name string, node Node) ([]*ChainLink, error) {
	return deltaChain(mp, name, node, mp.maxDepth)
}

// GetMissing returns the subset of keys not in the unflushed set,
// preserving input order.
func (mp *MutableDataPack) GetMissing(keys []Key) (missing []Key, err error) {
	for _, key := range keys {
		if _, ok := mp.nodes[key.Node]; !ok {
			missing = append(missing, key)
		}
	}
	return
}
