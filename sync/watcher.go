package sync

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
)

const debounceInterval = 300 * time.Millisecond

// TargetsWatcher keeps the target set in line with a targets file. Only ids
// the file itself contributed are ever removed. Targets that were configured
// or added through the API before the file listed them survive edits of the
// file.
type TargetsWatcher struct {
	path    string
	control *Control
	watcher *fsnotify.Watcher
	current []string
}

// NewTargetsWatcher creates a watcher for path. initial is the ids the file
// added to the target set at startup.
func NewTargetsWatcher(path string, control *Control, initial []string) (*TargetsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &TargetsWatcher{
		path:    filepath.Clean(path),
		control: control,
		watcher: w,
		current: initial,
	}, nil
}

// Start watches the file's directory, since editors often replace the file
// rather than write it in place. Blocks until ctx is cancelled.
func (w *TargetsWatcher) Start(ctx context.Context) error {
	l := sub("watcher")
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.watcher.Close()
		return err
	}
	l.Info("watching targets file", "path", w.path)

	timer := time.NewTimer(debounceInterval)
	timer.Stop()
	dirty := false

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			dirty = true
			timer.Reset(debounceInterval)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			l.Warn("watcher error", "err", err)

		case <-timer.C:
			if dirty {
				dirty = false
				w.reload()
			}
		}
	}
}

// reload applies the difference between the file's previous and current
// contents. A file that cannot be read leaves the targets unchanged.
func (w *TargetsWatcher) reload() {
	l := sub("watcher")
	ids, err := LoadTargetsFile(w.path)
	if err != nil {
		l.Warn("targets file reload failed", "path", w.path, "err", err)
		return
	}

	gone, fresh := lo.Difference(w.current, ids)
	kept := lo.Without(w.current, gone...)
	var added, removed []string
	if len(fresh) > 0 {
		added = w.control.AddTargets(fresh...)
	}
	if len(gone) > 0 {
		removed = w.control.RemoveTargets(gone...)
	}
	w.current = append(kept, added...)
	l.Info("targets file reloaded", "path", w.path, "added", len(added), "removed", len(removed))
}

// Close closes the underlying fsnotify watcher.
func (w *TargetsWatcher) Close() error {
	return w.watcher.Close()
}
