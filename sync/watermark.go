package sync

import (
	"log/slog"
	gosync "sync"
)

// Watermarks records, per directory id, the highest marker already indexed.
type Watermarks struct {
	mu    gosync.RWMutex
	marks map[string]Marker
}

// NewWatermarks creates an empty watermark store.
func NewWatermarks() *Watermarks {
	return &Watermarks{marks: make(map[string]Marker)}
}

// Get returns the watermark for id, or 0 if the directory was never synced.
func (w *Watermarks) Get(id string) Marker {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.marks[id]
}

// Advance raises the watermark for id to m. A value at or below the current
// watermark is ignored; it reports whether the stored value changed.
func (w *Watermarks) Advance(id string, m Marker) bool {
	w.mu.Lock()
	cur := w.marks[id]
	if m <= cur {
		w.mu.Unlock()
		if logEnabled(slog.LevelDebug) {
			sub("watermark").Debug("advance ignored", "id", id, "current", cur, "proposed", m)
		}
		return false
	}
	w.marks[id] = m
	w.mu.Unlock()

	if logEnabled(slog.LevelDebug) {
		sub("watermark").Debug("advance", "id", id, "from", cur, "to", m)
	}
	return true
}

// Snapshot returns a copy of all recorded watermarks.
func (w *Watermarks) Snapshot() map[string]Marker {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]Marker, len(w.marks))
	for k, v := range w.marks {
		out[k] = v
	}
	return out
}
