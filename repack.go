package packbase

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// RepackPacks merges the packs named by bases into a single
// replacement pack in dir, preserving every entry verbatim -- no
// re-basing, no deduplication.  Input files are deleted only after the
// replacement is durably published.  Returns the new pack's base path.
//
// A pack that fails to open is skipped and left on disk; its fate
// belongs to the store's corruption handling, not to repacking.
func RepackPacks(dir string, bases []string) (base string, err error) {
	defer Return(&err)

	switch len(bases) {
	case 0:
		return "", nil
	case 1:
		return bases[0], nil
	}

	err = checkRepackSpace(dir, bases)
	Ck(err)

	mp := NewMutableDataPack(dir)
	var merged []string
	for _, b := range bases {
		pack, err := OpenDataPack(b)
		if err != nil {
			log.Warnf("repack: skipping unreadable pack %s: %v", b, err)
			continue
		}
		err = pack.ForEach(func(entry *Entry) error {
			return mp.Add(entry.Name, entry.Node, entry.BaseNode, entry.Delta, entry.Meta)
		})
		pack.Close()
		Ck(err)
		merged = append(merged, b)
	}

	base, err = mp.Flush()
	Ck(err)

	for _, b := range merged {
		if b == base {
			// merging a single pack's worth of nodes can reproduce its id
			continue
		}
		os.Remove(b + PackSuffix)
		os.Remove(b + IndexSuffix)
	}
	log.Debugf("repacked %d packs into %s", len(merged), base)
	return base, nil
}

// checkRepackSpace refuses to repack when the directory's filesystem
// could not hold a full copy of the inputs.  An unavailable usage
// reading is not an error; the write itself will fail loudly enough.
func checkRepackSpace(dir string, bases []string) error {
	var need uint64
	for _, base := range bases {
		for _, path := range []string{base + PackSuffix, base + IndexSuffix} {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			need += uint64(info.Size())
		}
	}
	usage, err := disk.Usage(dir)
	if err != nil {
		log.Debugf("repack: disk usage unavailable for %s: %v", dir, err)
		return nil
	}
	if usage.Free < need {
		return fmt.Errorf("repack needs %d bytes free in %s, have %d", need, dir, usage.Free)
	}
	return nil
}
