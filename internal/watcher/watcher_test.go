package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/ingest"
)

func waitBatch(t *testing.T, ch <-chan []FileEvent, timeout time.Duration) []FileEvent {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(timeout):
		t.Fatal("timeout waiting for batch")
		return nil
	}
}

// =============================================================================
// Debouncer
// =============================================================================

func TestOperation_String(t *testing.T) {
	assert.Equal(t, "CREATE", OpCreate.String())
	assert.Equal(t, "MODIFY", OpModify.String())
	assert.Equal(t, "DELETE", OpDelete.String())
	assert.Equal(t, "UNKNOWN", Operation(42).String())
}

func TestCoalesce(t *testing.T) {
	tests := []struct {
		prev, next Operation
		want       Operation
		keep       bool
	}{
		{OpCreate, OpModify, OpCreate, true},
		{OpCreate, OpDelete, 0, false},
		{OpDelete, OpCreate, OpModify, true},
		{OpModify, OpModify, OpModify, true},
		{OpModify, OpDelete, OpDelete, true},
	}
	for _, tt := range tests {
		t.Run(tt.prev.String()+"+"+tt.next.String(), func(t *testing.T) {
			op, keep := coalesce(tt.prev, tt.next)
			assert.Equal(t, tt.keep, keep)
			if keep {
				assert.Equal(t, tt.want, op)
			}
		})
	}
}

func TestDebouncer_CoalescesBurstIntoOneSortedBatch(t *testing.T) {
	// Given: a burst of writes across two files
	d := NewDebouncer(40*time.Millisecond, 4)
	defer d.Stop()

	// When: events keep arriving inside the window
	d.Add(FileEvent{Path: "/in/b.pdf", Operation: OpCreate})
	for range 4 {
		d.Add(FileEvent{Path: "/in/b.pdf", Operation: OpModify})
		d.Add(FileEvent{Path: "/in/a.png", Operation: OpModify})
		time.Sleep(10 * time.Millisecond)
	}

	// Then: one batch, one event per path, CREATE preserved
	batch := waitBatch(t, d.Output(), time.Second)
	require.Len(t, batch, 2)
	assert.Equal(t, "/in/a.png", batch[0].Path)
	assert.Equal(t, OpModify, batch[0].Operation)
	assert.Equal(t, "/in/b.pdf", batch[1].Path)
	assert.Equal(t, OpCreate, batch[1].Operation)
}

func TestDebouncer_CreateThenDelete_NoBatch(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 1)
	defer d.Stop()

	d.Add(FileEvent{Path: "/in/tmp.pdf", Operation: OpCreate})
	d.Add(FileEvent{Path: "/in/tmp.pdf", Operation: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_StopClosesOutputAndIgnoresAdds(t *testing.T) {
	d := NewDebouncer(time.Hour, 1)
	d.Add(FileEvent{Path: "/in/a.pdf", Operation: OpCreate})

	d.Stop()
	d.Stop()
	d.Add(FileEvent{Path: "/in/b.pdf", Operation: OpCreate})

	_, ok := <-d.Output()
	assert.False(t, ok)
}

// =============================================================================
// DirWatcher
// =============================================================================

func TestDirWatcher_EmitsFilteredFiles(t *testing.T) {
	// Given: a watcher that only accepts PDFs
	dir := t.TempDir()
	w, err := New(Options{
		Debounce: 30 * time.Millisecond,
		Filter:   func(p string) bool { return strings.HasSuffix(p, ".pdf") },
	})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = w.Start(ctx, dir) }()
	require.Eventually(t, func() bool { return w.Root() != "" }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// When: dropping a PDF, a text file and a lock file
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.pdf"), []byte("%PDF"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".~lock.report.pdf#"), []byte("x"), 0o644))

	// Then: only the PDF is reported
	batch := waitBatch(t, w.Events(), 2*time.Second)
	require.Len(t, batch, 1)
	assert.Equal(t, "report.pdf", filepath.Base(batch[0].Path))
	assert.True(t, filepath.IsAbs(batch[0].Path))
}

func TestDirWatcher_StartRejectsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "x.pdf")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	err = w.Start(t.Context(), file)

	assert.Error(t, err)
}

func TestDirWatcher_StopEndsStart(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background(), t.TempDir()) }()
	require.Eventually(t, func() bool { return w.Root() != "" }, time.Second, 5*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

// =============================================================================
// Feeder
// =============================================================================

type recordingIngestor struct {
	mu    sync.Mutex
	paths []string
	fail  string
}

func (r *recordingIngestor) Invoke(_ context.Context, path string) (*ingest.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	if filepath.Base(path) == r.fail {
		return nil, fmt.Errorf("render failed")
	}
	return &ingest.Result{DocID: "doc-" + filepath.Base(path), Path: path}, nil
}

func TestFeeder_IngestsExistingFilesInOrder(t *testing.T) {
	// Given: two files on disk, one deleted path, one vanished path
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pdf")
	b := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(a, nil, 0o644))
	require.NoError(t, os.WriteFile(b, nil, 0o644))

	events := make(chan []FileEvent, 1)
	events <- []FileEvent{
		{Path: a, Operation: OpCreate},
		{Path: filepath.Join(dir, "gone.pdf"), Operation: OpDelete},
		{Path: filepath.Join(dir, "vanished.pdf"), Operation: OpModify},
		{Path: b, Operation: OpModify},
	}
	close(events)

	ing := &recordingIngestor{fail: "b.png"}
	var results []string
	var failures int
	f := NewFeeder(ing, func(ev FileEvent, res *ingest.Result, err error) {
		if err != nil {
			failures++
			return
		}
		results = append(results, res.DocID)
	})

	// When: running until the channel closes
	err := f.Run(t.Context(), events)

	// Then: only existing files were ingested, in batch order
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, ing.paths)
	assert.Equal(t, []string{"doc-a.pdf"}, results)
	assert.Equal(t, 1, failures)
}

func TestFeeder_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := NewFeeder(&recordingIngestor{}, nil).Run(ctx, make(chan []FileEvent))

	assert.ErrorIs(t, err, context.Canceled)
}
