package watcher

import (
	"time"
)

// Operation is the kind of change seen on a file.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns CREATE, MODIFY, DELETE or UNKNOWN.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one debounced change.
type FileEvent struct {
	// Path is absolute.
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a DirWatcher.
type Options struct {
	// Debounce is how long a path must stay quiet before its event is
	// emitted. Default: 500ms
	Debounce time.Duration

	// Filter reports whether a file is of interest. Nil accepts every file.
	Filter func(path string) bool

	// Recursive also watches subdirectories, including ones created later.
	Recursive bool

	// EventBufferSize is the number of batches buffered. Default: 16
	EventBufferSize int
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		Debounce:        500 * time.Millisecond,
		EventBufferSize: 16,
	}
}

// WithDefaults fills zero values.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = d.EventBufferSize
	}
	return o
}
