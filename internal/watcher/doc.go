// Package watcher ingests documents dropped into a directory.
//
// A DirWatcher turns fsnotify events into debounced batches of FileEvent,
// keeping only files the filter accepts. A Feeder drains those batches and
// ingests created or modified files one at a time.
//
// Usage:
//
//	w, err := watcher.New(watcher.Options{Filter: render.Supported})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, dir) }()
//	watcher.NewFeeder(orchestrator, onResult).Run(ctx, w.Events())
package watcher
