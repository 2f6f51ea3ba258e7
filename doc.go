/*

Packbase is a content-addressed delta store able to hold many historical
file revisions in a small number of immutable pack files.

Vocabulary:

- node: 20-byte content hash identifying one revision of one name
- name: byte string naming the revision's path in the client's tree
- delta: opaque byte string; either a full text, or a diff against the
	revision named by the delta base
- delta base: node of the revision a delta was computed against; an
	all-zero node on the wire means the delta is a full text
- chain: ordered list of revisions produced by following delta base
	links until hitting a full text, an absent node, or the depth bound
- pack: immutable pair of files sharing a base path; the data file
	holds serialized revisions, the index file holds a fanout table over
	the hash-sorted node list
- fanout: table partitioning the node space by leading byte(s) so a
	lookup binary-searches only one bucket of the index
- mutable pack: in-memory builder answering the same queries as a pack;
	flushing it publishes exactly one pack and seals the builder
- store: a directory of packs behind a bounded cache of open handles;
	fans lookups out across packs and evicts the ones that fail to parse
- repack: merging many small packs into one as a maintenance operation

*/

package packbase
