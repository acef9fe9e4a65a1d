package feed

import (
	"sync"
	"time"

	"github.com/faultsys/alertrelay/internal/alert"
)

// DefaultWindowSize is how many alerts a dashboard keeps on screen.
const DefaultWindowSize = 50

// Entry is one decoded alert together with the payload it came from.
type Entry struct {
	Alert    alert.Alert
	Raw      []byte
	Received time.Time
}

// Window holds the most recent alerts, newest first. Pushing onto a full
// window evicts the oldest entry. Window is safe for concurrent use.
type Window struct {
	mu      sync.RWMutex
	size    int
	entries []Entry
}

// NewWindow returns a window holding at most size entries; size <= 0 uses
// DefaultWindowSize.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{size: size, entries: make([]Entry, 0, size)}
}

// Push records e as the newest entry.
func (w *Window) Push(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) < w.size {
		w.entries = append(w.entries, Entry{})
	}
	copy(w.entries[1:], w.entries[:len(w.entries)-1])
	w.entries[0] = e
}

// Snapshot returns a copy of the entries, newest first.
func (w *Window) Snapshot() []Entry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Len returns the number of entries held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Size returns the window's capacity.
func (w *Window) Size() int {
	return w.size
}

// Critical counts held entries in the critical tier.
func (w *Window) Critical() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	n := 0
	for _, e := range w.entries {
		if e.Alert.Critical() {
			n++
		}
	}
	return n
}
