// Package watcher watches a dataset directory for changes to its vector
// files and triggers a rebuild using fsnotify. Indexes are build-once, so
// any change to the dataset means a full rebuild.
package watcher

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// RebuildFunc rebuilds the index from the dataset on disk.
type RebuildFunc func() error

// Watcher watches one dataset directory.
type Watcher struct {
	fw      *fsnotify.Watcher
	log     zerolog.Logger
	rebuild RebuildFunc
}

// New creates a Watcher that invokes rebuild after dataset changes settle.
func New(log zerolog.Logger, rebuild RebuildFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	return &Watcher{fw: fw, log: log, rebuild: rebuild}, nil
}

// isVectorFile reports whether path looks like part of the dataset.
func isVectorFile(path string) bool {
	switch filepath.Ext(path) {
	case ".fvecs", ".ivecs":
		return true
	}
	return false
}

// Watch adds dir to the watch list and begins processing events. It blocks
// until done closes or an unrecoverable error occurs.
func (w *Watcher) Watch(dir string, done <-chan struct{}) error {
	if err := w.fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	// Debounce: a dataset refresh rewrites several files in quick
	// succession; rebuild once after the burst settles.
	var pending *time.Timer

	for {
		select {
		case <-done:
			if pending != nil {
				pending.Stop()
			}
			return w.fw.Close()

		case event, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !isVectorFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			name := filepath.Base(event.Name)
			pending = time.AfterFunc(500*time.Millisecond, func() {
				w.log.Info().Str("changed", name).Msg("dataset changed, rebuilding")
				if err := w.rebuild(); err != nil {
					w.log.Error().Err(err).Msg("rebuild failed")
					return
				}
				w.log.Info().Msg("rebuild done")
			})

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watch error")
		}
	}
}
