package models

import (
	"time"
)

// UploadRecord is the durable state of one uploaded document as it moves
// through the processing pipeline. All queries against it are scoped by
// OwnerID; deduplication is scoped by (OwnerID, ContentHash).
type UploadRecord struct {
	ID             string    `bson:"_id" json:"id"`
	OwnerID        string    `bson:"owner_id" json:"owner_id"`
	Filename       string    `bson:"filename" json:"filename"`
	ContentType    string    `bson:"content_type" json:"content_type"`
	Size           int64     `bson:"size" json:"size"`
	ContentHash    string    `bson:"content_hash" json:"content_hash"`
	Status         string    `bson:"status" json:"status"`
	Stage          string    `bson:"processing_stage,omitempty" json:"processing_stage,omitempty"`
	Progress       int       `bson:"progress" json:"progress"`
	Description    string    `bson:"description,omitempty" json:"description,omitempty"`
	Embedding      []float32 `bson:"embedding,omitempty" json:"-"`
	ExtractedChars int       `bson:"extracted_chars,omitempty" json:"extracted_chars,omitempty"`
	CompressedText []byte    `bson:"compressed_text,omitempty" json:"-"` // brotli snapshot of extracted text
	ErrorMessage   string    `bson:"error_message,omitempty" json:"error_message,omitempty"`
	UploadedAt     time.Time `bson:"uploaded_at" json:"uploaded_at"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// Upload status values. Transitions only move forward:
// pending -> processing -> ready|failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Processing stages, in pipeline order.
const (
	StageExtraction   = "extraction"
	StageCompression  = "compression"
	StageEmbedding    = "embedding"
	StageFinalization = "finalization"
)

// Progress checkpoints reported at each stage transition.
const (
	ProgressStarted    = 0
	ProgressExtracted  = 25
	ProgressCompressed = 75
	ProgressEmbedded   = 90
	ProgressDone       = 100
)

// IsTerminal reports whether the record has reached a final status.
func (r *UploadRecord) IsTerminal() bool {
	return r.Status == StatusReady || r.Status == StatusFailed
}

// UploadResponse is returned by the upload endpoint once a record has been
// created and processing has been handed off.
type UploadResponse struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploaded_at"`
	Message    string    `json:"message"`
}
