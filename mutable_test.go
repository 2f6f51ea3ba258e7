package packbase

import (
	"bytes"
	"testing"
)

func TestReadingMutablePack(t *testing.T) {
	// data written into a mutable pack is readable before flush
	dir := makeTempDir(t)
	mp := NewMutableDataPack(dir)

	// unused first revision for noise
	err := mp.Add("qwert", fakeHash(), NullNode, []byte("qwertcontent"), nil)
	tassert(t, err == nil, "Add err %v", err)

	content := []byte("asdf")
	node := fakeHash()
	meta := &Metadata{Flag: 1, Size: uint64(len(content))}
	err = mp.Add("filename1", node, NullNode, content, meta)
	tassert(t, err == nil, "Add err %v", err)

	// unused third revision for noise
	err = mp.Add("zxcv", fakeHash(), NullNode, []byte("zxcvcontent"), nil)
	tassert(t, err == nil, "Add err %v", err)

	absent := Key{"", fakeHash()}
	missing, err := mp.GetMissing([]Key{absent, {"filename1", node}})
	tassert(t, err == nil, "GetMissing err %v", err)
	tassert(t, len(missing) == 1 && missing[0] == absent, "missing %v", missing)

	got, err := mp.GetMeta("filename1", node)
	tassert(t, err == nil, "GetMeta err %v", err)
	tassert(t, got == *meta, "meta %+v", got)

	delta, err := mp.GetDelta("filename1", node)
	tassert(t, err == nil, "GetDelta err %v", err)
	tassert(t, bytes.Equal(delta.Delta, content), "content mismatch")
	tassert(t, delta.BaseName == "filename1", "base name %q", delta.BaseName)
	tassert(t, delta.BaseNode.IsNull(), "base node %s", delta.BaseNode)
	tassert(t, delta.Meta == *meta, "meta %+v", delta.Meta)

	chain, err := mp.GetDeltaChain("filename1", node)
	tassert(t, err == nil, "GetDeltaChain err %v", err)
	tassert(t, len(chain) == 1, "chain len %d", len(chain))
	tassert(t, chain[0].Node == node, "chain node mismatch")
	tassert(t, bytes.Equal(chain[0].Delta, content), "chain content mismatch")
}

func TestRoundTrip(t *testing.T) {
	// everything added comes back identically after flush
	dir := makeTempDir(t)
	revisions := []revision{
		{name: "a", node: fakeHash(), base: NullNode, delta: []byte("full text"), meta: &Metadata{Size: 9}},
		{name: "b", node: fakeHash(), base: fakeHash(), delta: []byte("diff"), meta: &Metadata{Flag: 42, Size: 100}},
		{name: "c", node: fakeHash(), base: NullNode, delta: nil},
	}
	pack := createPack(t, dir, revisions)

	for _, rev := range revisions {
		delta, err := pack.GetDelta(rev.name, rev.node)
		tassert(t, err == nil, "GetDelta err %v", err)
		tassert(t, bytes.Equal(delta.Delta, rev.delta), "content mismatch for %s", rev.name)
		tassert(t, delta.Name == rev.name, "name %q", delta.Name)
		tassert(t, delta.BaseNode == rev.base, "base mismatch for %s", rev.name)
		want := Metadata{}
		if rev.meta != nil {
			want = *rev.meta
		}
		tassert(t, delta.Meta == want, "meta mismatch for %s: %+v", rev.name, delta.Meta)
	}
}

func TestAddAfterFlushThrows(t *testing.T) {
	dir := makeTempDir(t)
	mp := NewMutableDataPack(dir)
	err := mp.Add("foo", fakeHash(), NullNode, []byte("content"), nil)
	tassert(t, err == nil, "Add err %v", err)
	_, err = mp.Flush()
	tassert(t, err == nil, "Flush err %v", err)

	err = mp.Add("bar", fakeHash(), NullNode, []byte("more"), nil)
	_, ok := err.(*SealedError)
	tassert(t, ok, "want SealedError, got %T: %v", err, err)

	_, err = mp.Flush()
	_, ok = err.(*SealedError)
	tassert(t, ok, "re-flush: want SealedError, got %T: %v", err, err)
}

func TestDiscard(t *testing.T) {
	dir := makeTempDir(t)
	mp := NewMutableDataPack(dir)
	err := mp.Add("foo", fakeHash(), NullNode, []byte("content"), nil)
	tassert(t, err == nil, "Add err %v", err)
	mp.Discard()

	tassert(t, mp.Sealed(), "discarded pack not sealed")
	tassert(t, countFiles(t, dir) == 0, "discard wrote files")

	err = mp.Add("bar", fakeHash(), NullNode, []byte("more"), nil)
	_, ok := err.(*SealedError)
	tassert(t, ok, "want SealedError, got %T: %v", err, err)
}

func TestEmptyFlush(t *testing.T) {
	dir := makeTempDir(t)
	mp := NewMutableDataPack(dir)
	base, err := mp.Flush()
	tassert(t, err == nil, "Flush err %v", err)
	tassert(t, base == "", "empty flush returned %q", base)
	tassert(t, countFiles(t, dir) == 0, "empty flush wrote files")
}

func TestFlushWritesPair(t *testing.T) {
	dir := makeTempDir(t)
	base := flushPack(t, dir, chainRevisions("pair", 3))
	tassert(t, exists(base+PackSuffix), "missing data file")
	tassert(t, exists(base+IndexSuffix), "missing index file")
	tassert(t, countFiles(t, dir) == 2, "unexpected extra files")
}
