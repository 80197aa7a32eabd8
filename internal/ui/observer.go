package ui

import (
	"fmt"
	"path/filepath"

	"github.com/Aman-CERP/docindex/internal/ingest"
)

// IngestObserver adapts orchestrator events to r. Each document restarts
// the extraction bar at zero of its page count; failed pages and lost
// elements become warnings.
func IngestObserver(r Renderer) func(ingest.Event) {
	return func(ev ingest.Event) {
		name := filepath.Base(ev.Path)
		switch ev.Kind {
		case ingest.EventRendered:
			r.UpdateProgress(ProgressEvent{
				Stage:       StageExtracting,
				Total:       ev.Total,
				CurrentFile: ev.Path,
				Message:     fmt.Sprintf("%s: %d pages rendered", name, ev.Total),
			})
		case ingest.EventPage:
			r.UpdateProgress(ProgressEvent{
				Stage:       StageExtracting,
				Current:     ev.Done,
				Total:       ev.Total,
				CurrentFile: ev.Path,
				Message:     fmt.Sprintf("%s: page %d, %d elements", name, ev.Page+1, ev.Inserted),
			})
			if ev.Failed {
				r.AddError(ErrorEvent{
					File:   ev.Path,
					Err:    fmt.Errorf("extraction failed on page %d", ev.Page+1),
					IsWarn: true,
				})
			}
			if ev.InsertFailures > 0 {
				r.AddError(ErrorEvent{
					File:   ev.Path,
					Err:    fmt.Errorf("%d elements on page %d could not be stored", ev.InsertFailures, ev.Page+1),
					IsWarn: true,
				})
			}
		}
	}
}
