package logging

import (
	"context"
	"sync"
	"testing"
	"time"
)

// captureWriter records every batch it receives.
type captureWriter struct {
	mu      sync.Mutex
	batches [][]LogEntry
	err     error
}

func (w *captureWriter) WriteBatch(ctx context.Context, entries []LogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	batch := make([]LogEntry, len(entries))
	copy(batch, entries)
	w.batches = append(w.batches, batch)
	return nil
}

func (w *captureWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func (w *captureWriter) entryCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.batches {
		n += len(b)
	}
	return n
}

func (w *captureWriter) firstEntry() (LogEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.batches {
		if len(b) > 0 {
			return b[0], true
		}
	}
	return LogEntry{}, false
}

func testEntry(msg string) LogEntry {
	return LogEntry{
		Timestamp: time.Now(),
		Level:     "info",
		Service:   "caravel-workers",
		Message:   msg,
	}
}

func TestDBSink_BatchBoundary(t *testing.T) {
	writer := &captureWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
	})
	defer sink.Close()

	// 25 entries fill two batches and leave 5 buffered.
	for i := 0; i < 25; i++ {
		sink.Write(testEntry("batch boundary"))
	}
	time.Sleep(50 * time.Millisecond)

	if got := writer.batchCount(); got != 2 {
		t.Errorf("batches before flush: got %d, want 2", got)
	}

	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := writer.batchCount(); got != 3 {
		t.Errorf("batches after flush: got %d, want 3", got)
	}
	if got := writer.entryCount(); got != 25 {
		t.Errorf("total entries: got %d, want 25", got)
	}
}

func TestDBSink_TimerFlush(t *testing.T) {
	writer := &captureWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    100,
		BatchSize:     100,
		FlushInterval: 200 * time.Millisecond,
	})
	defer sink.Close()

	for i := 0; i < 5; i++ {
		sink.Write(testEntry("timer flush"))
	}
	time.Sleep(300 * time.Millisecond)

	if got := writer.batchCount(); got != 1 {
		t.Fatalf("batches from timer flush: got %d, want 1", got)
	}
	if got := writer.entryCount(); got != 5 {
		t.Errorf("entries: got %d, want 5", got)
	}
}

func TestDBSink_DropsOnFullBuffer(t *testing.T) {
	writer := &captureWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    10,
		BatchSize:     100,
		FlushInterval: 10 * time.Second,
	})
	defer sink.Close()

	for i := 0; i < 20; i++ {
		sink.Write(testEntry("overflow"))
	}
	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	total := writer.entryCount()
	if total >= 20 {
		t.Errorf("all 20 entries landed despite buffer of 10")
	}
	// The writer goroutine may consume a few entries while the producer
	// is still filling the channel.
	if total > 15 {
		t.Errorf("entries written: got %d, want roughly the buffer size", total)
	}
}

func TestDBSink_CloseDrains(t *testing.T) {
	writer := &captureWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    100,
		BatchSize:     10,
		FlushInterval: time.Second,
	})

	for i := 0; i < 5; i++ {
		sink.Write(testEntry("pre-close"))
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := writer.entryCount(); got != 5 {
		t.Errorf("entries after close: got %d, want 5", got)
	}

	// Writes after Close are discarded.
	sink.Write(testEntry("post-close"))
	if got := writer.entryCount(); got != 5 {
		t.Errorf("write after close landed: got %d entries, want 5", got)
	}
}

func TestDBSink_ConcurrentWriters(t *testing.T) {
	writer := &captureWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    500,
		BatchSize:     50,
		FlushInterval: 100 * time.Millisecond,
	})
	defer sink.Close()

	const goroutines = 10
	const perGoroutine = 20

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				sink.Write(testEntry("concurrent"))
				time.Sleep(time.Microsecond)
			}
		}()
	}
	wg.Wait()

	time.Sleep(50 * time.Millisecond)
	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	want := goroutines * perGoroutine
	if got := writer.entryCount(); got < want-5 {
		t.Errorf("entries: got %d, want close to %d", got, want)
	}
}

func TestDBSink_EntryRoundTrip(t *testing.T) {
	writer := &captureWriter{}
	sink := NewDBSink(DBSinkConfig{
		Writer:        writer,
		BufferSize:    10,
		BatchSize:     10,
		FlushInterval: time.Second,
	})
	defer sink.Close()

	sink.Write(LogEntry{
		Timestamp: time.Now(),
		Level:     "warn",
		Service:   "caravel-workers",
		Message:   "container match ambiguous",
		Fields: map[string]string{
			"container_no": "MSCU1234567",
			"candidates":   "2",
		},
		TraceID: "trace-123",
		Caller:  "linker.go:42",
	})

	time.Sleep(10 * time.Millisecond)
	if err := sink.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if got := writer.entryCount(); got != 1 {
		t.Fatalf("entries: got %d, want 1", got)
	}
	entry, ok := writer.firstEntry()
	if !ok {
		t.Fatal("no entry captured")
	}

	if entry.Level != "warn" {
		t.Errorf("Level: got %q", entry.Level)
	}
	if entry.Service != "caravel-workers" {
		t.Errorf("Service: got %q", entry.Service)
	}
	if entry.Message != "container match ambiguous" {
		t.Errorf("Message: got %q", entry.Message)
	}
	if entry.TraceID != "trace-123" {
		t.Errorf("TraceID: got %q", entry.TraceID)
	}
	if entry.Caller != "linker.go:42" {
		t.Errorf("Caller: got %q", entry.Caller)
	}
	if entry.Fields["container_no"] != "MSCU1234567" {
		t.Errorf("Fields[container_no]: got %q", entry.Fields["container_no"])
	}
	if entry.Fields["candidates"] != "2" {
		t.Errorf("Fields[candidates]: got %q", entry.Fields["candidates"])
	}
}
