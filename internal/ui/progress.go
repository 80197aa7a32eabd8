package ui

import (
	"sync"
	"time"
)

// ProgressTracker holds progress state across stages. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu          sync.RWMutex
	stage       Stage
	current     int
	total       int
	currentFile string
	message     string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	lastETA time.Duration // previous ETA, for smoothing
}

// ProgressStats is a snapshot of a ProgressTracker.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	Message     string
	ErrorCount  int
	WarnCount   int
}

// NewProgressTracker creates a tracker in StageRendering.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageRendering,
		startTime:  now,
		stageStart: now,
	}
}

// SetStage starts a stage (or a new document within one) with total items.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.message = ""
	p.stageStart = time.Now()
	p.lastETA = 0
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, file, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}
	p.message = message
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Progress returns the fraction done (0.0-1.0).
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fraction()
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1.0)
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return time.Since(p.startTime)
}

// Stats returns a snapshot. It takes the write lock since the ETA is
// smoothed against the previous call.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    p.fraction(),
		ETA:         p.calculateETA(),
		CurrentFile: p.currentFile,
		Message:     p.message,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
	}
}

// etaSmoothingFactor is the weight of a new ETA sample.
const etaSmoothingFactor = 0.3

// calculateETA must be called with the lock held.
func (p *ProgressTracker) calculateETA() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}
	progress := float64(p.current) / float64(p.total)
	if progress >= 1.0 {
		return 0
	}

	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}

	smoothed := time.Duration(etaSmoothingFactor*float64(raw) + (1-etaSmoothingFactor)*float64(p.lastETA))
	p.lastETA = smoothed
	return smoothed
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}
