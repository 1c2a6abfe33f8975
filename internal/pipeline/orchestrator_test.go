package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"document-context-platform/internal/retry"
	"document-context-platform/models"
	"document-context-platform/services"
)

type storeWrite struct {
	op       string
	stage    string
	progress int
	fields   bson.M
	message  string
}

type fakeStore struct {
	mu     sync.Mutex
	writes []storeWrite

	inserted  []*models.UploadRecord
	duplicate *models.UploadRecord

	insertErr     error
	duplicateErr  error
	updateErr     error
	markReadyErr  error
	markFailedErr error

	insertCalls     int
	markFailedCalls int
	markReadyCalls  int
}

func (f *fakeStore) Insert(ctx context.Context, rec *models.UploadRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, rec)
	return nil
}

func (f *fakeStore) FindDuplicate(ctx context.Context, ownerID, contentHash string) (*models.UploadRecord, error) {
	return f.duplicate, f.duplicateErr
}

func (f *fakeStore) UpdateProcessing(ctx context.Context, id, stage string, progress int, fields bson.M) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	f.writes = append(f.writes, storeWrite{op: "update", stage: stage, progress: progress, fields: fields})
	return nil
}

func (f *fakeStore) MarkReady(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadyCalls++
	if f.markReadyErr != nil {
		return f.markReadyErr
	}
	f.writes = append(f.writes, storeWrite{op: "ready"})
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, id, stage, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markFailedCalls++
	if f.markFailedErr != nil {
		return f.markFailedErr
	}
	f.writes = append(f.writes, storeWrite{op: "failed", stage: stage, message: message})
	return nil
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, filename, contentType string) (*services.ExtractionResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &services.ExtractionResult{Text: f.text}, nil
}

type fakeCompressor struct {
	summary string
	err     error
}

func (f *fakeCompressor) Compress(ctx context.Context, text, filename, contentType string) (string, error) {
	return f.summary, f.err
}

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEnqueuer) EnqueueProcess(ctx context.Context, rec *models.UploadRecord, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func instantRetry(attempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Sleep:       func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func newTestOrchestrator(store *fakeStore, opts ...Option) *Orchestrator {
	opts = append([]Option{WithWriteRetry(instantRetry(3))}, opts...)
	return NewOrchestrator(store,
		&fakeExtractor{text: "extracted body"},
		&fakeCompressor{summary: "a short description"},
		&fakeEmbedder{vector: make([]float32, 768)},
		opts...)
}

func validInput() UploadInput {
	return UploadInput{
		Data:        []byte("hello world"),
		Filename:    "notes.txt",
		OwnerID:     "owner-1",
		ContentType: "text/plain",
	}
}

func TestRunHappyPathWritesEveryCheckpoint(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store)

	var mu sync.Mutex
	var progress []int
	rec := &models.UploadRecord{ID: "rec-1", Filename: "notes.txt", ContentType: "text/plain"}
	o.Run(context.Background(), rec, []byte("hello"), func(p Progress) {
		mu.Lock()
		progress = append(progress, p.Progress)
		mu.Unlock()
	})

	assert.Equal(t, []int{0, 25, 75, 90, 100}, progress)

	require.Len(t, store.writes, 5)
	assert.Equal(t, storeWrite{op: "update", stage: models.StageExtraction, progress: 0}, store.writes[0])

	assert.Equal(t, models.StageExtraction, store.writes[1].stage)
	assert.Equal(t, models.ProgressExtracted, store.writes[1].progress)
	assert.Equal(t, len("extracted body"), store.writes[1].fields["extracted_chars"])
	assert.Contains(t, store.writes[1].fields, "compressed_text")

	assert.Equal(t, models.StageCompression, store.writes[2].stage)
	assert.Equal(t, models.ProgressCompressed, store.writes[2].progress)
	assert.Equal(t, "a short description", store.writes[2].fields["description"])

	assert.Equal(t, models.StageEmbedding, store.writes[3].stage)
	assert.Equal(t, models.ProgressEmbedded, store.writes[3].progress)

	assert.Equal(t, "ready", store.writes[4].op)
}

func TestRunExtractionFailure(t *testing.T) {
	store := &fakeStore{}
	o := NewOrchestrator(store,
		&fakeExtractor{err: services.ErrCorruptDocument},
		&fakeCompressor{summary: "unused"},
		&fakeEmbedder{vector: make([]float32, 768)},
		WithWriteRetry(instantRetry(3)))

	var last Progress
	rec := &models.UploadRecord{ID: "rec-1", Filename: "bad.pdf", ContentType: "application/pdf"}
	o.Run(context.Background(), rec, []byte("%PDF"), func(p Progress) { last = p })

	// Progress stays frozen at the checkpoint reached before the failure.
	assert.Equal(t, 0, last.Progress)
	assert.Equal(t, models.StageExtraction, last.Stage)

	require.Len(t, store.writes, 2)
	assert.Equal(t, "failed", store.writes[1].op)
	assert.Equal(t, models.StageExtraction, store.writes[1].stage)
	assert.Contains(t, store.writes[1].message, services.ErrCorruptDocument.Error())
}

func TestRunCompressionFailureFreezesAtExtracted(t *testing.T) {
	store := &fakeStore{}
	o := NewOrchestrator(store,
		&fakeExtractor{text: "body"},
		&fakeCompressor{err: services.ErrEmptySummary},
		&fakeEmbedder{vector: make([]float32, 768)},
		WithWriteRetry(instantRetry(3)))

	var last Progress
	rec := &models.UploadRecord{ID: "rec-1", Filename: "a.txt", ContentType: "text/plain"}
	o.Run(context.Background(), rec, []byte("body"), func(p Progress) { last = p })

	assert.Equal(t, models.ProgressExtracted, last.Progress)
	assert.Equal(t, models.StageCompression, last.Stage)

	final := store.writes[len(store.writes)-1]
	assert.Equal(t, "failed", final.op)
	assert.Equal(t, models.StageCompression, final.stage)
}

func TestRunEmbeddingFailureFreezesAtCompressed(t *testing.T) {
	store := &fakeStore{}
	o := NewOrchestrator(store,
		&fakeExtractor{text: "body"},
		&fakeCompressor{summary: "desc"},
		&fakeEmbedder{err: services.ErrDimensionMismatch},
		WithWriteRetry(instantRetry(3)))

	var last Progress
	rec := &models.UploadRecord{ID: "rec-1", Filename: "a.txt", ContentType: "text/plain"}
	o.Run(context.Background(), rec, []byte("body"), func(p Progress) { last = p })

	assert.Equal(t, models.ProgressCompressed, last.Progress)
	assert.Equal(t, models.StageEmbedding, last.Stage)
}

func TestRunMarkFailedRetriedThreeTimesThenGivesUp(t *testing.T) {
	store := &fakeStore{markFailedErr: errors.New("primary unreachable")}
	o := NewOrchestrator(store,
		&fakeExtractor{err: services.ErrEmptyDocument},
		&fakeCompressor{}, &fakeEmbedder{},
		WithWriteRetry(instantRetry(3)))

	rec := &models.UploadRecord{ID: "rec-1", Filename: "a.txt", ContentType: "text/plain"}
	// Must not panic or hang when the failure write itself keeps failing.
	o.Run(context.Background(), rec, []byte("x"), nil)

	assert.Equal(t, 3, store.markFailedCalls)
}

func TestRunMarkReadyRetriedButCompletionStillNotified(t *testing.T) {
	store := &fakeStore{markReadyErr: errors.New("primary unreachable")}
	o := newTestOrchestrator(store)

	var last Progress
	rec := &models.UploadRecord{ID: "rec-1", Filename: "a.txt", ContentType: "text/plain"}
	o.Run(context.Background(), rec, []byte("x"), func(p Progress) { last = p })

	assert.Equal(t, 3, store.markReadyCalls)
	assert.Equal(t, models.ProgressDone, last.Progress)
}

func TestRunToleratesPanickingCallback(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store)

	rec := &models.UploadRecord{ID: "rec-1", Filename: "a.txt", ContentType: "text/plain"}
	o.Run(context.Background(), rec, []byte("x"), func(Progress) { panic("observer bug") })

	// The pipeline still reaches ready.
	assert.Equal(t, "ready", store.writes[len(store.writes)-1].op)
}

type fakeMetrics struct {
	mu        sync.Mutex
	completed []string
	seconds   []float64
}

func (f *fakeMetrics) RecordUploadCompleted(status string, seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, status)
	f.seconds = append(f.seconds, seconds)
}

func TestRunRecordsTerminalOutcome(t *testing.T) {
	recorder := &fakeMetrics{}
	store := &fakeStore{}
	o := newTestOrchestrator(store, WithMetrics(recorder))

	rec := &models.UploadRecord{ID: "rec-1", Filename: "a.txt", ContentType: "text/plain"}
	o.Run(context.Background(), rec, []byte("x"), nil)

	require.Equal(t, []string{models.StatusReady}, recorder.completed)
	assert.GreaterOrEqual(t, recorder.seconds[0], 0.0)

	// A stage failure reports the failed outcome instead.
	recorder = &fakeMetrics{}
	failing := NewOrchestrator(&fakeStore{},
		&fakeExtractor{err: services.ErrEmptyDocument},
		&fakeCompressor{}, &fakeEmbedder{},
		WithWriteRetry(instantRetry(3)), WithMetrics(recorder))
	failing.Run(context.Background(), rec, []byte("x"), nil)

	require.Equal(t, []string{models.StatusFailed}, recorder.completed)
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store)

	cases := []struct {
		name  string
		mut   func(*UploadInput)
		field string
	}{
		{"empty data", func(in *UploadInput) { in.Data = nil }, "file"},
		{"missing filename", func(in *UploadInput) { in.Filename = "" }, "filename"},
		{"malformed owner", func(in *UploadInput) { in.OwnerID = "../etc/passwd" }, "owner_id"},
		{"empty owner", func(in *UploadInput) { in.OwnerID = "" }, "owner_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mut(&in)

			_, err := o.Process(context.Background(), in)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	// Validation failures never create a record.
	assert.Zero(t, store.insertCalls)
}

func TestProcessRejectsOversizedUpload(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store, WithMaxSize(8))

	in := validInput()
	in.Data = []byte("123456789")

	_, err := o.Process(context.Background(), in)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "file", verr.Field)
	assert.Zero(t, store.insertCalls)
}

func TestProcessDuplicateContent(t *testing.T) {
	store := &fakeStore{duplicate: &models.UploadRecord{ID: "existing-1"}}
	o := newTestOrchestrator(store)

	_, err := o.Process(context.Background(), validInput())

	var derr *DuplicateError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "existing-1", derr.ExistingID)
	assert.Zero(t, store.insertCalls)
}

func TestProcessInsertFailureSurfacesAfterRetries(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("primary unreachable")}
	o := newTestOrchestrator(store)

	_, err := o.Process(context.Background(), validInput())

	require.Error(t, err)
	assert.Equal(t, 3, store.insertCalls)
}

func TestProcessCompletesPipelineInBackground(t *testing.T) {
	store := &fakeStore{}
	o := newTestOrchestrator(store)

	done := make(chan struct{})
	in := validInput()
	in.OnProgress = func(p Progress) {
		if p.Progress == models.ProgressDone {
			close(done)
		}
	}

	id, err := o.Process(context.Background(), in)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not complete")
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.inserted, 1)
	assert.Equal(t, id, store.inserted[0].ID)
	assert.Equal(t, models.StatusPending, store.inserted[0].Status)
	assert.Equal(t, "ready", store.writes[len(store.writes)-1].op)
}

func TestProcessPrefersEnqueuer(t *testing.T) {
	store := &fakeStore{}
	eq := &fakeEnqueuer{}
	o := newTestOrchestrator(store, WithEnqueuer(eq))

	id, err := o.Process(context.Background(), validInput())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	eq.mu.Lock()
	defer eq.mu.Unlock()
	assert.Equal(t, 1, eq.calls)

	// The record exists but no pipeline writes happened locally.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, 1, store.insertCalls)
	assert.Empty(t, store.writes)
}

func TestProcessFallsBackWhenEnqueueFails(t *testing.T) {
	store := &fakeStore{}
	eq := &fakeEnqueuer{err: errors.New("broker down")}
	o := newTestOrchestrator(store, WithEnqueuer(eq))

	done := make(chan struct{})
	in := validInput()
	in.OnProgress = func(p Progress) {
		if p.Progress == models.ProgressDone {
			close(done)
		}
	}

	_, err := o.Process(context.Background(), in)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("in-process fallback did not run")
	}
}
