package packbase

import (
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	. "github.com/stevegt/goadapt"
)

// Watcher marks a store stale when pack pairs appear in or vanish from
// its directory, so readers pick up other processes' flushes without
// polling.  The index file is published last, so an index event means
// the pair is complete.
type Watcher struct {
	store   *DataPackStore
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchStore starts watching the store's pack directory.
func WatchStore(store *DataPackStore) (w *Watcher, err error) {
	defer Return(&err)
	fsw, err := fsnotify.NewWatcher()
	Ck(err)
	err = fsw.Add(store.Dir())
	Ck(err)
	w = &Watcher{store: store, watcher: fsw, done: make(chan struct{})}
	go w.run()
	return
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(event.Name, IndexSuffix) {
				log.Debugf("pack directory event: %v", event)
				w.store.MarkForRefresh()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("pack watcher: %v", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.  The store keeps working; it just goes back
// to explicit MarkForRefresh calls.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
