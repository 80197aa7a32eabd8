package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces events per path and emits them as one batch once no
// event has arrived for the window. Within a window:
//   - CREATE then MODIFY stays CREATE
//   - CREATE then DELETE drops the path
//   - DELETE then CREATE becomes MODIFY
//   - otherwise the latest operation wins
type Debouncer struct {
	window time.Duration
	output chan []FileEvent

	mu      sync.Mutex
	pending map[string]FileEvent
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer with the given quiet window.
func NewDebouncer(window time.Duration, buffer int) *Debouncer {
	if buffer < 1 {
		buffer = 1
	}
	return &Debouncer{
		window:  window,
		output:  make(chan []FileEvent, buffer),
		pending: make(map[string]FileEvent),
	}
}

// coalesce merges next into an event already pending for the same path.
// ok is false when the two cancel out.
func coalesce(prev, next Operation) (op Operation, ok bool) {
	switch {
	case prev == OpCreate && next == OpModify:
		return OpCreate, true
	case prev == OpCreate && next == OpDelete:
		return 0, false
	case prev == OpDelete && next == OpCreate:
		return OpModify, true
	default:
		return next, true
	}
}

// Add records an event and restarts the quiet window.
func (d *Debouncer) Add(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		op, keep := coalesce(prev.Operation, ev.Operation)
		if !keep {
			delete(d.pending, ev.Path)
		} else {
			ev.Operation = op
			d.pending[ev.Path] = ev
		}
	} else {
		d.pending[ev.Path] = ev
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]FileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	d.pending = make(map[string]FileEvent)

	select {
	case d.output <- batch:
	default:
		slog.Warn("watch_batch_dropped", slog.Int("batch_size", len(batch)))
	}
}

// Output delivers batches sorted by path.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop discards pending events and closes Output. Safe to call twice.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
