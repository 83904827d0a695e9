// Package watcher re-runs ingestion when the episodes source changes on disk.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"podcastrag/internal/logger"
)

const DefaultDebounce = 500 * time.Millisecond

// ReloadFunc is called once per burst of changes.
type ReloadFunc func(ctx context.Context) error

// Watcher monitors an episodes file, or every *.json file of a directory.
type Watcher struct {
	fs       *fsnotify.Watcher
	dir      string
	file     string // empty when watching a whole directory
	debounce time.Duration
	reload   ReloadFunc
	log      *logger.Logger
}

// New watches path. A file is watched through its parent directory so editors that
// replace the file on save are still noticed.
func New(path string, debounce time.Duration, reload ReloadFunc, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Nop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	w := &Watcher{debounce: debounce, reload: reload, log: log}
	if info.IsDir() {
		w.dir = abs
	} else {
		w.dir, w.file = filepath.Split(abs)
		w.dir = filepath.Clean(w.dir)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(w.dir); err != nil {
		fs.Close()
		return nil, err
	}
	w.fs = fs
	return w, nil
}

// Run blocks until ctx is done, calling reload after each quiet period that follows a change.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.log.Debug("episodes changed", logrus.Fields{"path": event.Name, "op": event.Op.String()})
			timer.Reset(w.debounce)
		case <-timer.C:
			if err := w.reload(ctx); err != nil {
				w.log.Error("re-ingest failed", logrus.Fields{"error": err.Error()})
				continue
			}
			w.log.Info("re-ingest complete", logrus.Fields{"dir": w.dir})
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", logrus.Fields{"error": err.Error()})
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(event.Name)
	if w.file != "" {
		return name == w.file
	}
	return filepath.Ext(name) == ".json"
}
