package packbase

// Pack file pair extensions.  The two files share a base path.
const (
	PackSuffix  = ".datapack"
	IndexSuffix = ".dataidx"
)

// supportedVersions is the set of pack format versions this code can
// read.  Version 1 added the per-entry metadata section.
var supportedVersions = map[byte]bool{0: true, 1: true}

// DefaultMaxChainDepth bounds delta chain resolution.  A chain longer
// than this indicates a pathological or cyclic base graph.
const DefaultMaxChainDepth = 1000

// Key identifies one revision of one name.
type Key struct {
	Name string
	Node Node
}

// Delta is the answer to a GetDelta call: the stored delta bytes plus
// what they were computed against.
type Delta struct {
	Delta    []byte
	Name     string
	BaseName string
	BaseNode Node
	Meta     Metadata
}

// ChainLink is one element of a resolved delta chain.
type ChainLink struct {
	Name     string
	Node     Node
	BaseName string
	BaseNode Node
	Delta    []byte
}

// RevisionReader is the query set shared by finalized packs, mutable
// packs, and the multi-pack store; the store's fan-out is written once
// against it.
type RevisionReader interface {
	GetDelta(name string, node Node) (*Delta, error)
	GetMeta(name string, node Node) (Metadata, error)
	GetDeltaChain(name string, node Node) ([]*ChainLink, error)
	GetMissing(keys []Key) ([]Key, error)
}

// entrySource is the point-lookup primitive deltaChain walks over.
type entrySource interface {
	entry(node Node) (*Entry, error)
}

// deltaChain follows base links from node until it reaches a full
// text, a node src doesn't have, or the depth bound.  An absent base
// is not an error: the chain simply ends at the last entry found.
// Only an absent head node is NotFound.
func deltaChain(src entrySource, name string, node Node, maxDepth int) (chain []*ChainLink, err error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxChainDepth
	}
	cur := node
	for depth := 0; depth < maxDepth; depth++ {
		entry, err := src.entry(cur)
		if err != nil {
			if IsNotFound(err) && len(chain) > 0 {
				break
			}
			if IsNotFound(err) {
				return nil, &NotFoundError{Name: name, Node: node}
			}
			return nil, err
		}
		chain = append(chain, &ChainLink{
			Name:     entry.Name,
			Node:     entry.Node,
			BaseName: entry.Name,
			BaseNode: entry.BaseNode,
			Delta:    entry.Delta,
		})
		base, ok := entry.Base()
		if !ok {
			break
		}
		cur = base
	}
	return chain, nil
}

// deltaFromEntry shapes an entry into the GetDelta answer.  Deltas are
// always computed against a prior revision of the same name.
func deltaFromEntry(entry *Entry) *Delta {
	delta := &Delta{
		Delta:    entry.Delta,
		Name:     entry.Name,
		BaseName: entry.Name,
		BaseNode: entry.BaseNode,
	}
	if entry.Meta != nil {
		delta.Meta = *entry.Meta
	}
	return delta
}
