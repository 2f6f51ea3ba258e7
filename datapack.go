package packbase

import (
	"io/ioutil"

	log "github.com/sirupsen/logrus"
)

// DataPack is one immutable on-disk pack: the data file, fully read
// into memory, plus its parsed fanout index.  A DataPack never changes
// after open; deletion is its only other lifecycle event.
type DataPack struct {
	Base string // shared path of the pair, without extension

	version  byte
	data     []byte
	index    *packIndex
	maxDepth int
}

// OpenDataPack parses the pack pair rooted at base.  An unsupported
// leading version byte is a FormatError; structural damage after the
// version byte passes is a CorruptPackError.  A missing file surfaces
// as the underlying os error, so callers can tell "not a pack I
// understand" from "no pack here at all".
func OpenDataPack(base string) (pack *DataPack, err error) {
	data, err := ioutil.ReadFile(base + PackSuffix)
	if err != nil {
		return nil, err
	}
	if len(data) < 1 {
		return nil, &CorruptPackError{Path: base + PackSuffix, Reason: "empty data file"}
	}
	version := data[0]
	if !supportedVersions[version] {
		return nil, &FormatError{Path: base + PackSuffix, Version: version}
	}

	rawidx, err := ioutil.ReadFile(base + IndexSuffix)
	if err != nil {
		return nil, err
	}
	index, err := parseIndex(rawidx, base+IndexSuffix)
	if err != nil {
		return nil, err
	}
	if index.version != version {
		return nil, &CorruptPackError{Path: base + IndexSuffix, Reason: "index version disagrees with data file"}
	}

	log.Debugf("opened pack %s: version %d, %d entries", base, version, index.count)
	return &DataPack{Base: base, version: version, data: data, index: index}, nil
}

// PackPath returns the path of the data file.
func (pack *DataPack) PackPath() string {
	return pack.Base + PackSuffix
}

// IndexPath returns the path of the index file.
func (pack *DataPack) IndexPath() string {
	return pack.Base + IndexSuffix
}

// Len returns the number of entries in the pack.
func (pack *DataPack) Len() int {
	return pack.index.count
}

// Close releases the pack's buffers.  The pack must not be used after.
func (pack *DataPack) Close() error {
	pack.data = nil
	pack.index = nil
	return nil
}

func (pack *DataPack) entry(node Node) (*Entry, error) {
	offset, length, ok := pack.index.lookup(node)
	if !ok {
		return nil, &NotFoundError{Node: node}
	}
	if length == 0 || offset > uint64(len(pack.data)) || length > uint64(len(pack.data))-offset {
		return nil, &CorruptPackError{Path: pack.PackPath(), Reason: "index offset beyond data file"}
	}
	entry, _, err := parseEntry(pack.data[:offset+length], int(offset), pack.version)
	if err != nil {
		return nil, &CorruptPackError{Path: pack.PackPath(), Reason: err.Error()}
	}
	return entry, nil
}

// GetDelta returns the delta stored for exactly this entry.
func (pack *DataPack) GetDelta(name string, node Node) (*Delta, error) {
	entry, err := pack.entry(node)
	if err != nil {
		if IsNotFound(err) {
			return nil, &NotFoundError{Name: name, Node: node}
		}
		return nil, err
	}
	return deltaFromEntry(entry), nil
}

// GetMeta returns the entry's metadata.  A zero flag that was elided
// on disk comes back as zero.
func (pack *DataPack) GetMeta(name string, node Node) (Metadata, error) {
	entry, err := pack.entry(node)
	if err != nil {
		if IsNotFound(err) {
			return Metadata{}, &NotFoundError{Name: name, Node: node}
		}
		return Metadata{}, err
	}
	if entry.Meta == nil {
		return Metadata{}, nil
	}
	return *entry.Meta, nil
}

// GetDeltaChain resolves node's delta chain within this pack.
func (pack *DataPack) GetDeltaChain(name string, node Node) ([]*ChainLink, error) {
	return deltaChain(pack, name, node, pack.maxDepth)
}

// GetMissing returns the subset of keys not present in this pack,
// preserving input order.
func (pack *DataPack) GetMissing(keys []Key) (missing []Key, err error) {
	for _, key := range keys {
		if _, _, ok := pack.index.lookup(key.Node); !ok {
			missing = append(missing, key)
		}
	}
	return
}

// ForEach walks every entry in data-file order.  This is the whole of
// the repacker's access to a pack: no special-cased low-level reads.
func (pack *DataPack) ForEach(fn func(*Entry) error) error {
	pos := 1
	for pos < len(pack.data) {
		entry, next, err := parseEntry(pack.data, pos, pack.version)
		if err != nil {
			return &CorruptPackError{Path: pack.PackPath(), Reason: err.Error()}
		}
		if err := fn(entry); err != nil {
			return err
		}
		pos = next
	}
	return nil
}
