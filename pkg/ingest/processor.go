package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/logging"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// DefaultConcurrency is the default number of concurrent workers.
const DefaultConcurrency = 4

// DocumentStore is the persistence surface intake needs.
type DocumentStore interface {
	GetBySourceMessageID(ctx context.Context, sourceMessageID string) (*docs.Document, error)
	Upsert(ctx context.Context, doc *docs.Document) (*docs.Document, error)
}

// Enqueuer hands imported documents to the processing queue.
type Enqueuer interface {
	Enqueue(msg queues.Message) error
}

// ProcessorConfig configures the intake processor.
type ProcessorConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int

	// DryRun validates files without persisting or enqueueing.
	DryRun bool

	// Force re-imports records whose source_message_id already exists and
	// asks the pipeline to reclassify them.
	Force bool

	// Priority for the enqueued processing messages.
	Priority queues.Priority

	// OnProgress, when set, receives updates as files finish.
	OnProgress func(*Progress)
}

// Result summarizes one intake run.
type Result struct {
	BatchID       string
	TotalFiles    int
	ImportedCount int
	SkippedCount  int
	FailedCount   int
	StartedAt     time.Time
	CompletedAt   time.Time
	Success       bool
	Errors        []FileError
}

// FileError records an error for a specific file.
type FileError struct {
	FilePath string
	Error    string
}

// Processor imports document record files.
type Processor struct {
	cfg    ProcessorConfig
	store  DocumentStore
	queue  Enqueuer
	logger logging.Logger

	progress *Progress
	mu       sync.Mutex
}

// NewProcessor creates an intake processor.
func NewProcessor(store DocumentStore, queue Enqueuer, logger logging.Logger, cfg ProcessorConfig) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Processor{
		cfg:    cfg,
		store:  store,
		queue:  queue,
		logger: logger.With(logging.F("component", "intake")),
	}
}

// Process imports all .json record files at path (file or directory).
func (p *Processor) Process(ctx context.Context, path string) (*Result, error) {
	files, err := discoverFiles(path)
	if err != nil {
		return nil, fmt.Errorf("discovering record files: %w", err)
	}

	result := &Result{
		BatchID:    uuid.New().String(),
		TotalFiles: len(files),
		StartedAt:  time.Now(),
		Errors:     []FileError{},
	}
	if len(files) == 0 {
		result.CompletedAt = time.Now()
		result.Success = true
		return result, nil
	}

	p.progress = NewProgress(len(files))
	if p.cfg.OnProgress != nil {
		p.progress.SetOnUpdate(p.cfg.OnProgress)
	}
	p.progress.Start()

	if p.cfg.Concurrency == 1 {
		p.processSequential(ctx, result, files)
	} else {
		p.processParallel(ctx, result, files)
	}

	result.CompletedAt = time.Now()
	result.Success = result.FailedCount == 0
	p.progress.Complete(result.Success)

	p.logger.Info("intake finished",
		logging.F("batch_id", result.BatchID),
		logging.F("total", result.TotalFiles),
		logging.F("imported", result.ImportedCount),
		logging.F("skipped", result.SkippedCount),
		logging.F("failed", result.FailedCount),
	)
	return result, nil
}

// Progress returns the current progress tracker.
func (p *Processor) Progress() *Progress {
	return p.progress
}

func (p *Processor) processSequential(ctx context.Context, result *Result, files []string) {
	for _, file := range files {
		if ctx.Err() != nil {
			p.progress.Cancel()
			return
		}
		p.progress.SetCurrentFile(file)
		p.recordOutcome(result, file, p.processFile(ctx, result.BatchID, file))
	}
}

func (p *Processor) processParallel(ctx context.Context, result *Result, files []string) {
	filesCh := make(chan string, len(files))
	outcomesCh := make(chan fileOutcome, len(files))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range filesCh {
				if ctx.Err() != nil {
					outcomesCh <- fileOutcome{file: file, status: statusSkipped}
					continue
				}
				p.progress.SetCurrentFile(file)
				outcomesCh <- p.processFile(ctx, result.BatchID, file).tagged(file)
			}
		}()
	}

	for _, file := range files {
		filesCh <- file
	}
	close(filesCh)

	go func() {
		wg.Wait()
		close(outcomesCh)
	}()

	for fo := range outcomesCh {
		p.recordOutcome(result, fo.file, fo)
	}
}

const (
	statusImported = "imported"
	statusSkipped  = "skipped"
	statusFailed   = "failed"
)

type fileOutcome struct {
	file   string
	status string
	err    error
}

func (o fileOutcome) tagged(file string) fileOutcome {
	o.file = file
	return o
}

// processFile imports one record file.
func (p *Processor) processFile(ctx context.Context, batchID, path string) fileOutcome {
	rec, err := ReadRecord(path)
	if err != nil {
		p.logger.Error("record file rejected", logging.Err(err), logging.F("file", path))
		return fileOutcome{status: statusFailed, err: err}
	}

	if !p.cfg.Force {
		existing, err := p.store.GetBySourceMessageID(ctx, rec.SourceMessageID)
		if err == nil && existing != nil {
			p.logger.Debug("duplicate record skipped",
				logging.F("file", path),
				logging.F("source_message_id", rec.SourceMessageID),
				logging.F("existing_id", existing.ID),
			)
			return fileOutcome{status: statusSkipped}
		}
	}

	if p.cfg.DryRun {
		p.logger.Info("dry run: would import",
			logging.F("file", path),
			logging.F("source_message_id", rec.SourceMessageID),
		)
		return fileOutcome{status: statusImported}
	}

	stored, err := p.store.Upsert(ctx, rec.Document())
	if err != nil {
		p.logger.Error("document upsert failed", logging.Err(err), logging.F("file", path))
		return fileOutcome{status: statusFailed, err: err}
	}

	if err := p.queue.Enqueue(&queues.DocumentMessage{
		DocumentID:      stored.ID,
		SourceMessageID: stored.SourceMessageID,
		Priority:        p.cfg.Priority,
		EnqueuedAt:      time.Now(),
		BatchID:         batchID,
		Reclassify:      p.cfg.Force,
	}); err != nil {
		// The document row exists; only the queue hand-off failed. A
		// relink or reclassify sweep will still pick it up.
		p.logger.Error("enqueue failed after upsert", logging.Err(err),
			logging.F("document_id", stored.ID))
		return fileOutcome{status: statusFailed, err: err}
	}

	return fileOutcome{status: statusImported}
}

func (p *Processor) recordOutcome(result *Result, file string, o fileOutcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch o.status {
	case statusImported:
		result.ImportedCount++
		p.progress.RecordImported()
	case statusSkipped:
		result.SkippedCount++
		p.progress.RecordSkipped()
	default:
		result.FailedCount++
		p.progress.RecordFailed()
		msg := "unknown error"
		if o.err != nil {
			msg = o.err.Error()
		}
		result.Errors = append(result.Errors, FileError{FilePath: file, Error: msg})
	}
}

// discoverFiles finds all .json record files at path.
func discoverFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !info.IsDir() {
		if strings.HasSuffix(strings.ToLower(path), ".json") {
			abs, err := filepath.Abs(path)
			if err != nil {
				return nil, err
			}
			return []string{abs}, nil
		}
		return nil, fmt.Errorf("file is not a .json record: %s", path)
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".json") {
			abs, err := filepath.Abs(p)
			if err != nil {
				return err
			}
			files = append(files, abs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
