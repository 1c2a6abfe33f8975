// Package pipeline sequences the four processing stages for each upload and
// owns every durable write to the record store.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"document-context-platform/internal/logger"
	"document-context-platform/internal/retry"
	"document-context-platform/models"
	"document-context-platform/services"
	"document-context-platform/utils"
)

// Store is the slice of the record store the orchestrator writes through.
type Store interface {
	Insert(ctx context.Context, rec *models.UploadRecord) error
	FindDuplicate(ctx context.Context, ownerID, contentHash string) (*models.UploadRecord, error)
	UpdateProcessing(ctx context.Context, id, stage string, progress int, fields bson.M) error
	MarkReady(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, stage, message string) error
}

// Stage service contracts. Implemented by the services package; faked in tests.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename, contentType string) (*services.ExtractionResult, error)
}

type Compressor interface {
	Compress(ctx context.Context, text, filename, contentType string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Enqueuer hands a validated upload off to a background worker. Optional;
// without one the pipeline runs on a local goroutine.
type Enqueuer interface {
	EnqueueProcess(ctx context.Context, rec *models.UploadRecord, data []byte) error
}

// MetricsRecorder observes terminal pipeline outcomes. Satisfied by
// telemetry.Metrics.
type MetricsRecorder interface {
	RecordUploadCompleted(status string, seconds float64)
}

// Progress is delivered to the optional caller-supplied callback at each
// stage transition.
type Progress struct {
	RecordID string
	Stage    string
	Progress int
	Message  string
}

// ProgressFunc is best-effort: failures are logged and never affect the
// pipeline.
type ProgressFunc func(Progress)

// UploadInput is one inbound upload.
type UploadInput struct {
	Data        []byte
	Filename    string
	OwnerID     string
	ContentType string
	OnProgress  ProgressFunc
}

// Orchestrator validates uploads, creates their records and drives them to a
// terminal status.
type Orchestrator struct {
	store      Store
	extractor  Extractor
	compressor Compressor
	embedder   Embedder
	enqueuer   Enqueuer
	metrics    MetricsRecorder
	writeRetry retry.Policy
	maxSize    int64
	runTimeout time.Duration
}

type Option func(*Orchestrator)

// WithEnqueuer routes pipeline execution through a task queue instead of a
// local goroutine.
func WithEnqueuer(e Enqueuer) Option {
	return func(o *Orchestrator) { o.enqueuer = e }
}

// WithMetrics reports terminal pipeline outcomes and durations.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithWriteRetry overrides the durable-write retry policy.
func WithWriteRetry(p retry.Policy) Option {
	return func(o *Orchestrator) { o.writeRetry = p }
}

// WithMaxSize overrides the upload size ceiling.
func WithMaxSize(n int64) Option {
	return func(o *Orchestrator) { o.maxSize = n }
}

func NewOrchestrator(store Store, ex Extractor, cp Compressor, em Embedder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:      store,
		extractor:  ex,
		compressor: cp,
		embedder:   em,
		writeRetry: retry.DefaultWritePolicy(),
		maxSize:    26214400,
		runTimeout: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

var ownerIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,63}$`)

// Process validates the upload, creates its record and hands processing off.
// The returned record id is available before the pipeline finishes; pipeline
// failures are recorded on the row, never returned here.
func (o *Orchestrator) Process(ctx context.Context, in UploadInput) (string, error) {
	if err := o.validate(in); err != nil {
		return "", err
	}

	contentHash := utils.ContentHash(in.Data)

	existing, err := o.store.FindDuplicate(ctx, in.OwnerID, contentHash)
	if err != nil {
		return "", fmt.Errorf("duplicate check failed: %w", err)
	}
	if existing != nil {
		return "", &DuplicateError{ExistingID: existing.ID}
	}

	now := time.Now().UTC()
	rec := &models.UploadRecord{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Filename:    in.Filename,
		ContentType: in.ContentType,
		Size:        int64(len(in.Data)),
		ContentHash: contentHash,
		Status:      models.StatusPending,
		Progress:    models.ProgressStarted,
		UploadedAt:  now,
		UpdatedAt:   now,
	}

	if err := o.writeRetry.Do(ctx, func() error { return o.store.Insert(ctx, rec) }); err != nil {
		return "", fmt.Errorf("failed to create upload record: %w", err)
	}

	if o.enqueuer != nil {
		if err := o.enqueuer.EnqueueProcess(ctx, rec, in.Data); err == nil {
			return rec.ID, nil
		} else {
			logger.Error("enqueue failed, falling back to in-process pipeline",
				"record_id", rec.ID, "error", err)
		}
	}

	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), o.runTimeout)
		defer cancel()
		o.Run(runCtx, rec, in.Data, in.OnProgress)
	}()

	return rec.ID, nil
}

func (o *Orchestrator) validate(in UploadInput) error {
	if len(in.Data) == 0 {
		return &ValidationError{Field: "file", Reason: "empty upload"}
	}
	if in.Filename == "" {
		return &ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if !ownerIDRe.MatchString(in.OwnerID) {
		return &ValidationError{Field: "owner_id", Reason: "malformed identifier"}
	}
	if o.maxSize > 0 && int64(len(in.Data)) > o.maxSize {
		return &ValidationError{Field: "file", Reason: fmt.Sprintf("exceeds %d byte limit", o.maxSize)}
	}
	return nil
}

// Run executes the staged pipeline for an already-created record. Called on
// a goroutine by Process or by the queue worker. It always drives the record
// to a terminal status and never returns an error to its caller.
func (o *Orchestrator) Run(ctx context.Context, rec *models.UploadRecord, data []byte, onProgress ProgressFunc) {
	start := time.Now()
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("record_id", rec.ID),
		attribute.Int("size", len(data)),
	)

	o.notify(onProgress, rec.ID, models.StageExtraction, models.ProgressStarted, "processing started")
	o.persist(ctx, rec.ID, models.StageExtraction, models.ProgressStarted, nil)

	// Extraction
	extracted, err := o.extractor.Extract(ctx, data, rec.Filename, rec.ContentType)
	if err != nil {
		o.fail(ctx, rec.ID, models.StageExtraction, models.ProgressStarted, err, onProgress)
		o.recordCompletion(models.StatusFailed, start)
		return
	}
	for _, w := range extracted.Warnings {
		logger.Warn("extraction warning", "record_id", rec.ID, "warning", w)
	}

	fields := bson.M{"extracted_chars": len(extracted.Text)}
	if snapshot, cerr := utils.CompressText(extracted.Text); cerr == nil {
		fields["compressed_text"] = snapshot
	} else {
		logger.Warn("failed to compress extracted text", "record_id", rec.ID, "error", cerr)
	}
	o.persist(ctx, rec.ID, models.StageExtraction, models.ProgressExtracted, fields)
	o.notify(onProgress, rec.ID, models.StageExtraction, models.ProgressExtracted, "text extracted")

	// Compression
	description, err := o.compressor.Compress(ctx, extracted.Text, rec.Filename, rec.ContentType)
	if err != nil {
		o.fail(ctx, rec.ID, models.StageCompression, models.ProgressExtracted, err, onProgress)
		o.recordCompletion(models.StatusFailed, start)
		return
	}
	o.persist(ctx, rec.ID, models.StageCompression, models.ProgressCompressed, bson.M{"description": description})
	o.notify(onProgress, rec.ID, models.StageCompression, models.ProgressCompressed, "description generated")

	// Embedding
	embedding, err := o.embedder.Embed(ctx, description)
	if err != nil {
		o.fail(ctx, rec.ID, models.StageEmbedding, models.ProgressCompressed, err, onProgress)
		o.recordCompletion(models.StatusFailed, start)
		return
	}
	o.persist(ctx, rec.ID, models.StageEmbedding, models.ProgressEmbedded, bson.M{"embedding": embedding})
	o.notify(onProgress, rec.ID, models.StageEmbedding, models.ProgressEmbedded, "embedding generated")

	// Finalize
	if err := o.writeRetry.Do(ctx, func() error { return o.store.MarkReady(ctx, rec.ID) }); err != nil {
		logger.Error("failed to finalize record after retries", "record_id", rec.ID, "error", err)
	}
	o.notify(onProgress, rec.ID, models.StageFinalization, models.ProgressDone, "processing complete")
	o.recordCompletion(models.StatusReady, start)
}

func (o *Orchestrator) recordCompletion(status string, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordUploadCompleted(status, time.Since(start).Seconds())
	}
}

// persist writes stage progress with retries. Exhausted retries on the
// success path are logged and processing continues with the in-memory state.
func (o *Orchestrator) persist(ctx context.Context, id, stage string, progress int, fields bson.M) {
	err := o.writeRetry.Do(ctx, func() error {
		return o.store.UpdateProcessing(ctx, id, stage, progress, fields)
	})
	if err != nil {
		logger.Error("durable write failed after retries",
			"record_id", id, "stage", stage, "progress", progress, "error", err)
	}
}

// fail marks the record failed. Already on an error path, so exhausted
// retries are logged and nothing propagates. lastProgress is the checkpoint
// reached before the failing stage; progress stays frozen there.
func (o *Orchestrator) fail(ctx context.Context, id, stage string, lastProgress int, cause error, onProgress ProgressFunc) {
	stageErr := &StageError{Stage: stage, Err: cause}
	logger.Error("pipeline stage failed", "record_id", id, "stage", stage, "error", cause)

	err := o.writeRetry.Do(ctx, func() error {
		return o.store.MarkFailed(ctx, id, stage, stageErr.Error())
	})
	if err != nil {
		logger.Error("failed to record pipeline failure", "record_id", id, "stage", stage, "error", err)
	}
	o.notify(onProgress, id, stage, lastProgress, stageErr.Error())
}

// notify invokes the progress callback inside its own error boundary.
func (o *Orchestrator) notify(fn ProgressFunc, id, stage string, progress int, message string) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("progress callback panicked", "record_id", id, "panic", r)
		}
	}()
	fn(Progress{RecordID: id, Stage: stage, Progress: progress, Message: message})
}
