package packbase

import (
	"crypto/sha1"
	"io/ioutil"
	"math/rand"
	"os"
	"testing"
)

// test boolean condition
func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper() // cause file:line info to show caller
	if !cond {
		t.Fatalf(txt, args...)
	}
}

// revision is the tuple callers feed into a mutable pack.
type revision struct {
	name  string
	node  Node
	base  Node
	delta []byte
	meta  *Metadata
}

func makeTempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "packbase")
	tassert(t, err == nil, "TempDir err %v", err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func hashOf(buf []byte) Node {
	sum := sha1.Sum(buf)
	node, _ := NodeFromBytes(sum[:])
	return node
}

func fakeHash() (node Node) {
	rand.Read(node[:])
	return
}

// flushPack builds and flushes one pack, returning its base path.
func flushPack(t *testing.T, dir string, revisions []revision) string {
	t.Helper()
	mp := NewMutableDataPack(dir)
	for _, rev := range revisions {
		err := mp.Add(rev.name, rev.node, rev.base, rev.delta, rev.meta)
		tassert(t, err == nil, "Add err %v", err)
	}
	base, err := mp.Flush()
	tassert(t, err == nil, "Flush err %v", err)
	tassert(t, base != "", "Flush returned empty base")
	return base
}

func createPack(t *testing.T, dir string, revisions []revision) *DataPack {
	t.Helper()
	base := flushPack(t, dir, revisions)
	pack, err := OpenDataPack(base)
	tassert(t, err == nil, "OpenDataPack err %v", err)
	t.Cleanup(func() { pack.Close() })
	return pack
}

// chainRevisions builds a chain of n revisions of one name, each
// based on the previous; the first is a full text.  The chain head is
// the last element.
func chainRevisions(name string, n int) (revisions []revision) {
	base := NullNode
	for i := 0; i < n; i++ {
		delta := []byte(name + "-delta-" + string(rune('a'+i%26)))
		node := fakeHash()
		revisions = append(revisions, revision{
			name:  name,
			node:  node,
			base:  base,
			delta: delta,
		})
		base = node
	}
	return
}

// countFiles returns the number of directory entries in dir.
func countFiles(t *testing.T, dir string) int {
	t.Helper()
	infos, err := ioutil.ReadDir(dir)
	tassert(t, err == nil, "ReadDir err %v", err)
	return len(infos)
}

// clobber truncates path to length n, making it writable first --
// flushed packs land read-only.
func clobber(t *testing.T, path string, n int64) {
	t.Helper()
	err := os.Chmod(path, 0644)
	tassert(t, err == nil, "Chmod err %v", err)
	err = os.Truncate(path, n)
	tassert(t, err == nil, "Truncate err %v", err)
}
