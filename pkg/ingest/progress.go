package ingest

import (
	"sync"
	"time"
)

// Progress tracks a running intake operation.
type Progress struct {
	mu sync.RWMutex

	// Counts
	TotalFiles     int
	ProcessedCount int
	ImportedCount  int
	SkippedCount   int
	FailedCount    int

	// Current state
	CurrentFile string
	Status      string

	// Timing
	StartedAt time.Time
	UpdatedAt time.Time

	onUpdate func(*Progress)
}

// NewProgress creates a progress tracker.
func NewProgress(totalFiles int) *Progress {
	return &Progress{
		TotalFiles: totalFiles,
		Status:     "pending",
		StartedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
}

// SetOnUpdate sets a callback invoked on each update.
func (p *Progress) SetOnUpdate(fn func(*Progress)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = fn
}

// Start marks the operation as running.
func (p *Progress) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = "running"
	p.StartedAt = time.Now()
	p.touch()
}

// SetCurrentFile records the file being processed.
func (p *Progress) SetCurrentFile(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentFile = path
	p.touch()
}

// RecordImported counts a successful import.
func (p *Progress) RecordImported() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ImportedCount++
	p.ProcessedCount++
	p.touch()
}

// RecordSkipped counts a duplicate skip.
func (p *Progress) RecordSkipped() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SkippedCount++
	p.ProcessedCount++
	p.touch()
}

// RecordFailed counts a failed file.
func (p *Progress) RecordFailed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FailedCount++
	p.ProcessedCount++
	p.touch()
}

// Complete marks the operation finished.
func (p *Progress) Complete(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if success {
		p.Status = "completed"
	} else {
		p.Status = "completed_with_errors"
	}
	p.CurrentFile = ""
	p.touch()
}

// Cancel marks the operation cancelled.
func (p *Progress) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Status = "cancelled"
	p.touch()
}

// Snapshot returns a copy safe to read without holding the lock.
func (p *Progress) Snapshot() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Progress{
		TotalFiles:     p.TotalFiles,
		ProcessedCount: p.ProcessedCount,
		ImportedCount:  p.ImportedCount,
		SkippedCount:   p.SkippedCount,
		FailedCount:    p.FailedCount,
		CurrentFile:    p.CurrentFile,
		Status:         p.Status,
		StartedAt:      p.StartedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

// touch must be called with the lock held.
func (p *Progress) touch() {
	p.UpdatedAt = time.Now()
	if p.onUpdate != nil {
		p.onUpdate(p)
	}
}
