package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	cverrors "github.com/caravelhq/caravel-cli/pkg/errors"
	"github.com/caravelhq/caravel-cli/pkg/queues"
)

// memStore is an in-memory DocumentStore keyed on source_message_id.
type memStore struct {
	mu     sync.Mutex
	nextID int64
	byMsg  map[string]*docs.Document

	upsertErr error
}

func newMemStore() *memStore {
	return &memStore{byMsg: make(map[string]*docs.Document)}
}

func (m *memStore) GetBySourceMessageID(_ context.Context, id string) (*docs.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if doc, ok := m.byMsg[id]; ok {
		copied := *doc
		return &copied, nil
	}
	return nil, cverrors.ErrNotFound
}

func (m *memStore) Upsert(_ context.Context, doc *docs.Document) (*docs.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	stored := *doc
	if existing, ok := m.byMsg[doc.SourceMessageID]; ok {
		stored.ID = existing.ID
	} else {
		m.nextID++
		stored.ID = m.nextID
	}
	m.byMsg[doc.SourceMessageID] = &stored
	copied := stored
	return &copied, nil
}

// memQueue records enqueued messages.
type memQueue struct {
	mu   sync.Mutex
	msgs []queues.Message

	enqueueErr error
}

func (q *memQueue) Enqueue(msg queues.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *memQueue) messages() []queues.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queues.Message(nil), q.msgs...)
}

func writeRecordFile(t *testing.T, dir, name, sourceMessageID string) string {
	t.Helper()
	content := fmt.Sprintf(`{
		"source_message_id": %q,
		"received_at": "2026-03-10T08:30:00Z",
		"sender_address": "noreply@maersk.com",
		"subject": "Booking Confirmation 263714007",
		"body_excerpt": "Booking 263714007 confirmed.",
		"attachment_names": ["booking_confirmation.pdf"]
	}`, sourceMessageID)
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestProcessImportsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.json", "<msg-a@carrier.test>")
	writeRecordFile(t, dir, "b.json", "<msg-b@carrier.test>")
	// Nested directories are walked.
	nested := filepath.Join(dir, "2026-03")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeRecordFile(t, nested, "c.json", "<msg-c@carrier.test>")
	// Non-JSON files are ignored by discovery.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	store := newMemStore()
	queue := &memQueue{}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 2, Priority: queues.PriorityNormal})

	result, err := proc.Process(context.Background(), dir)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TotalFiles)
	assert.Equal(t, 3, result.ImportedCount)
	assert.Len(t, queue.messages(), 3)
	assert.NotEmpty(t, result.BatchID)

	// Imported documents are pending and unclassified.
	doc, err := store.GetBySourceMessageID(context.Background(), "<msg-a@carrier.test>")
	require.NoError(t, err)
	assert.Equal(t, docs.TypeUnknown, doc.DocumentType)
	assert.Equal(t, docs.LinkStatusPending, doc.LinkStatus)
	assert.Equal(t, "noreply@maersk.com", doc.SenderAddress)

	msg, ok := queue.messages()[0].(*queues.DocumentMessage)
	require.True(t, ok)
	assert.Equal(t, result.BatchID, msg.BatchID)
	assert.False(t, msg.Reclassify)
}

func TestProcessSkipsDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.json", "<dup@carrier.test>")

	store := newMemStore()
	_, err := store.Upsert(context.Background(), &docs.Document{SourceMessageID: "<dup@carrier.test>"})
	require.NoError(t, err)

	queue := &memQueue{}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 1})

	result, err := proc.Process(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.SkippedCount)
	assert.Zero(t, result.ImportedCount)
	assert.Empty(t, queue.messages())
}

func TestProcessForceReimportsAndReclassifies(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.json", "<dup@carrier.test>")

	store := newMemStore()
	_, err := store.Upsert(context.Background(), &docs.Document{SourceMessageID: "<dup@carrier.test>"})
	require.NoError(t, err)

	queue := &memQueue{}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 1, Force: true})

	result, err := proc.Process(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedCount)
	require.Len(t, queue.messages(), 1)
	msg := queue.messages()[0].(*queues.DocumentMessage)
	assert.True(t, msg.Reclassify)
}

func TestProcessDryRunPersistsNothing(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.json", "<dry@carrier.test>")

	store := newMemStore()
	queue := &memQueue{}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 1, DryRun: true})

	result, err := proc.Process(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.ImportedCount)
	assert.Empty(t, store.byMsg)
	assert.Empty(t, queue.messages())
}

func TestProcessCountsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "good.json", "<good@carrier.test>")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644))
	// Valid JSON missing a required field.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "incomplete.json"),
		[]byte(`{"source_message_id": "<x@y>", "sender_address": "a@b.test"}`), 0644))

	store := newMemStore()
	queue := &memQueue{}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 1})

	result, err := proc.Process(context.Background(), dir)
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.ImportedCount)
	assert.Equal(t, 2, result.FailedCount)
	assert.Len(t, result.Errors, 2)
	// One bad file never blocks the rest of the batch.
	assert.Len(t, queue.messages(), 1)
}

func TestProcessEnqueueFailureCountsFailed(t *testing.T) {
	dir := t.TempDir()
	writeRecordFile(t, dir, "a.json", "<q@carrier.test>")

	store := newMemStore()
	queue := &memQueue{enqueueErr: errors.New("redis down")}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 1})

	result, err := proc.Process(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.FailedCount)
	// The document row still exists; a later sweep can pick it up.
	_, err = store.GetBySourceMessageID(context.Background(), "<q@carrier.test>")
	assert.NoError(t, err)
}

func TestProcessSingleFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRecordFile(t, dir, "one.json", "<one@carrier.test>")

	store := newMemStore()
	queue := &memQueue{}
	proc := NewProcessor(store, queue, nil, ProcessorConfig{Concurrency: 1})

	result, err := proc.Process(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ImportedCount)
}

func TestProcessRejectsNonJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mail.eml")
	require.NoError(t, os.WriteFile(path, []byte("From: x"), 0644))

	proc := NewProcessor(newMemStore(), &memQueue{}, nil, ProcessorConfig{})
	_, err := proc.Process(context.Background(), path)
	assert.Error(t, err)
}

func TestReadRecordValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing source message id",
			content: `{"received_at": "2026-03-10T08:30:00Z", "sender_address": "a@b.test"}`,
			wantErr: "source_message_id",
		},
		{
			name:    "missing received at",
			content: `{"source_message_id": "<x@y>", "sender_address": "a@b.test"}`,
			wantErr: "received_at",
		},
		{
			name:    "missing sender",
			content: `{"source_message_id": "<x@y>", "received_at": "2026-03-10T08:30:00Z"}`,
			wantErr: "sender_address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rec.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := ReadRecord(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRecordDocumentDefaults(t *testing.T) {
	rec := &Record{
		SourceMessageID: "<r@carrier.test>",
		ReceivedAt:      time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC),
		SenderAddress:   "ops@oceanline.test",
		Subject:         "Arrival Notice",
	}

	doc := rec.Document()
	assert.Equal(t, docs.TypeUnknown, doc.DocumentType)
	assert.Equal(t, docs.DirectionUnknown, doc.Direction)
	assert.Equal(t, docs.ThreadRolePrimary, doc.ThreadRole)
	assert.Equal(t, docs.LinkStatusPending, doc.LinkStatus)
	assert.False(t, doc.DocumentType.Valid())
}
