package oplog

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports external writes to a file-backed log, so a process can
// pick up operations enqueued by another tab or a CLI sync script sharing
// the same file. Events are coalesced: a pending notification is dropped
// if the consumer has not read the previous one yet.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	events  chan struct{}
	done    chan struct{}
}

// Watch starts watching the log file at path. The parent directory is
// watched so the atomic rename the file log uses on save is observed.
func Watch(path string) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	w := &Watcher{
		watcher: fsWatcher,
		path:    filepath.Clean(path),
		events:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Events delivers one notification per observed external write. The
// channel closes when the watcher stops.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.events <- struct{}{}:
			default:
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
