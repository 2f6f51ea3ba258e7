package packbase

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultCacheSize bounds the number of simultaneously open packs.
const DefaultCacheSize = 100

// StoreOptions configures a DataPackStore.  Zero values get defaults.
type StoreOptions struct {
	Dir           string
	CacheSize     int  // max open packs; DefaultCacheSize when 0
	DeleteCorrupt bool // delete pack pairs that fail to parse
	Repack        bool // merge packs when the directory outgrows the cache
	MaxChainDepth int
}

// DataPackStore owns a directory of packs: it discovers them, bounds
// the number of open handles with an LRU, evicts the ones that turn
// out to be corrupt, and fans lookups out across the rest.  It holds
// no revision content itself.  Mutating operations are caller-
// serialized; only the staleness flag is safe to touch from another
// goroutine (the directory watcher does).
type DataPackStore struct {
	opts   StoreOptions
	cache  *lru.Cache // base path -> *DataPack
	packs  []string   // every discovered base path, fan-out order
	staged []*MutableDataPack

	mu        sync.Mutex // guards dirty
	dirty     bool
	refreshed bool
}

// NewDataPackStore creates a store over opts.Dir, creating the
// directory if needed.  No packs are opened until the first read or
// explicit Refresh.
func NewDataPackStore(opts StoreOptions) (store *DataPackStore, err error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.MaxChainDepth <= 0 {
		opts.MaxChainDepth = DefaultMaxChainDepth
	}
	err = os.MkdirAll(opts.Dir, 0755)
	if err != nil {
		return nil, err
	}
	store = &DataPackStore{opts: opts}
	store.cache = lru.New(opts.CacheSize)
	store.cache.OnEvicted = func(key lru.Key, value interface{}) {
		value.(*DataPack).Close()
	}
	return store, nil
}

// Dir returns the pack directory.
func (store *DataPackStore) Dir() string {
	return store.opts.Dir
}

// Packs returns the base paths discovered by the last refresh, in
// fan-out order.
func (store *DataPackStore) Packs() []string {
	return append([]string(nil), store.packs...)
}

// scan lists complete pack pairs in the directory, newest first (name
// as tie-break), which fixes the fan-out order until the next refresh.
func (store *DataPackStore) scan() (bases []string, err error) {
	infos, err := ioutil.ReadDir(store.opts.Dir)
	if err != nil {
		return nil, err
	}
	type candidate struct {
		base  string
		mtime int64
	}
	var found []candidate
	for _, info := range infos {
		name := info.Name()
		if !strings.HasSuffix(name, PackSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, PackSuffix)
		if !exists(filepath.Join(store.opts.Dir, base+IndexSuffix)) {
			// half-published or half-deleted pair; invisible
			continue
		}
		found = append(found, candidate{base: base, mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mtime != found[j].mtime {
			return found[i].mtime > found[j].mtime
		}
		return found[i].base < found[j].base
	})
	for _, c := range found {
		bases = append(bases, filepath.Join(store.opts.Dir, c.base))
	}
	return
}

// Refresh rescans the pack directory.  When repacking is enabled and
// the directory has outgrown the cache bound, the packs are first
// merged into one.  Packs are opened eagerly up to the cache bound so
// corruption surfaces (and, when configured, deletes) here rather than
// during an unlucky read.
func (store *DataPackStore) Refresh() (err error) {
	store.mu.Lock()
	store.dirty = false
	store.mu.Unlock()

	bases, err := store.scan()
	if err != nil {
		return err
	}

	if store.opts.Repack && len(bases) > store.opts.CacheSize {
		log.Debugf("store %s: %d packs over cache bound %d, repacking",
			store.opts.Dir, len(bases), store.opts.CacheSize)
		store.cache.Clear()
		if _, err = RepackPacks(store.opts.Dir, bases); err != nil {
			return err
		}
		if bases, err = store.scan(); err != nil {
			return err
		}
	}

	// drop handles for packs that vanished since the last refresh
	known := make(map[string]bool, len(bases))
	for _, base := range bases {
		known[base] = true
	}
	for _, base := range store.packs {
		if !known[base] {
			store.cache.Remove(base)
		}
	}
	store.packs = bases

	// sealed mutable packs are inert; stop consulting them
	live := store.staged[:0]
	for _, mp := range store.staged {
		if !mp.Sealed() {
			live = append(live, mp)
		}
	}
	store.staged = live

	for _, base := range store.Packs()[:min(len(bases), store.opts.CacheSize)] {
		if _, err := store.getPack(base); err != nil && !IsNotFound(err) {
			if isPackDamage(err) && !store.opts.DeleteCorrupt {
				return err
			}
			// corrupt pack already deleted, or racing deletion; move on
		}
	}
	store.refreshed = true
	return nil
}

// MarkForRefresh flags the store as stale without paying for a rescan
// now; the next read or Refresh does the work.
func (store *DataPackStore) MarkForRefresh() {
	store.mu.Lock()
	store.dirty = true
	store.mu.Unlock()
}

func (store *DataPackStore) maybeRefresh() error {
	store.mu.Lock()
	stale := store.dirty || !store.refreshed
	store.mu.Unlock()
	if stale {
		return store.Refresh()
	}
	return nil
}

// Stage attaches a still-open mutable pack to the fan-out, so content
// being received is readable before it is flushed.
func (store *DataPackStore) Stage(mp *MutableDataPack) {
	mp.maxDepth = store.opts.MaxChainDepth
	store.staged = append(store.staged, mp)
}

// Commit flushes a staged builder and marks the store stale so the new
// pack is picked up on the next read.
func (store *DataPackStore) Commit(mp *MutableDataPack) (base string, err error) {
	base, err = mp.Flush()
	if err != nil {
		return
	}
	store.MarkForRefresh()
	return
}

// getPack returns the open handle for base, opening (and possibly
// evicting the least recently used pack) on a cache miss.  At most one
// handle represents a given on-disk pack.
func (store *DataPackStore) getPack(base string) (*DataPack, error) {
	if v, ok := store.cache.Get(base); ok {
		return v.(*DataPack), nil
	}
	pack, err := OpenDataPack(base)
	if err != nil {
		if isPackDamage(err) && store.opts.DeleteCorrupt {
			store.deletePack(base, err)
			return nil, &NotFoundError{}
		}
		return nil, err
	}
	pack.maxDepth = store.opts.MaxChainDepth
	store.cache.Add(base, pack)
	return pack, nil
}

// deletePack removes a corrupt pack's two files and forgets the pack.
// The caller's lookup proceeds as if the pack never existed.
func (store *DataPackStore) deletePack(base string, cause error) {
	log.Warnf("deleting corrupt pack %s: %v", base, cause)
	store.cache.Remove(base)
	os.Remove(base + PackSuffix)
	os.Remove(base + IndexSuffix)
	store.forget(base)
}

func (store *DataPackStore) forget(base string) {
	for i, b := range store.packs {
		if b == base {
			store.packs = append(store.packs[:i], store.packs[i+1:]...)
			return
		}
	}
}

// fanout runs fn against each staged mutable pack, then each pack in
// scan order, until fn reports done.  A pack that proves corrupt mid-
// read is evicted (when configured) and the fan-out continues, so the
// caller sees absence rather than a parse error.
func (store *DataPackStore) fanout(fn func(src RevisionReader) (done bool, err error)) error {
	if err := store.maybeRefresh(); err != nil {
		return err
	}
	for _, mp := range store.staged {
		done, err := fn(mp)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	for _, base := range store.Packs() {
		pack, err := store.getPack(base)
		if err != nil {
			if IsNotFound(err) || os.IsNotExist(errors.Cause(err)) {
				store.forget(base)
				continue
			}
			return err
		}
		done, err := fn(pack)
		if err != nil {
			if isPackDamage(err) {
				if store.opts.DeleteCorrupt {
					store.deletePack(base, err)
					continue
				}
				return err
			}
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// GetDelta returns the first open pack's answer for (name, node).
func (store *DataPackStore) GetDelta(name string, node Node) (delta *Delta, err error) {
	err = store.fanout(func(src RevisionReader) (bool, error) {
		d, err := src.GetDelta(name, node)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		delta = d
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if delta == nil {
		return nil, &NotFoundError{Name: name, Node: node}
	}
	return delta, nil
}

// GetMeta returns the first open pack's metadata for (name, node).
func (store *DataPackStore) GetMeta(name string, node Node) (meta Metadata, err error) {
	found := false
	err = store.fanout(func(src RevisionReader) (bool, error) {
		m, err := src.GetMeta(name, node)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		meta, found = m, true
		return true, nil
	})
	if err != nil {
		return Metadata{}, err
	}
	if !found {
		return Metadata{}, &NotFoundError{Name: name, Node: node}
	}
	return meta, nil
}

// GetDeltaChain returns the chain from the first pack holding node.
func (store *DataPackStore) GetDeltaChain(name string, node Node) (chain []*ChainLink, err error) {
	err = store.fanout(func(src RevisionReader) (bool, error) {
		c, err := src.GetDeltaChain(name, node)
		if err != nil {
			if IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		chain = c
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, &NotFoundError{Name: name, Node: node}
	}
	return chain, nil
}

// GetMissing returns the keys absent from every open pack, preserving
// input order.
func (store *DataPackStore) GetMissing(keys []Key) (missing []Key, err error) {
	missing = append([]Key(nil), keys...)
	err = store.fanout(func(src RevisionReader) (bool, error) {
		var err error
		missing, err = src.GetMissing(missing)
		if err != nil {
			return false, err
		}
		return len(missing) == 0, nil
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}

// Repack merges every pack in the directory into one, regardless of
// the cache bound.
func (store *DataPackStore) Repack() (base string, err error) {
	bases, err := store.scan()
	if err != nil {
		return "", err
	}
	store.cache.Clear()
	base, err = RepackPacks(store.opts.Dir, bases)
	if err != nil {
		return "", err
	}
	store.MarkForRefresh()
	return base, nil
}

// Close evicts every open pack, closing their handles.  The store can
// be used again; the next read re-opens what it needs.
func (store *DataPackStore) Close() {
	store.cache.Clear()
	store.packs = nil
	store.refreshed = false
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
