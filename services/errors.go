package services

import "errors"

// Typed stage-service failures. The pipeline records these on the upload
// record together with the stage that raised them.
var (
	// Extraction
	ErrEmptyDocument   = errors.New("document contains no extractable content")
	ErrOversized       = errors.New("document exceeds the maximum allowed size")
	ErrCorruptDocument = errors.New("document could not be parsed")
	ErrUnsupportedType = errors.New("unsupported content type")

	// Compression
	ErrEmptySummary = errors.New("summarization returned no text")

	// Embedding
	ErrDimensionMismatch = errors.New("embedding has unexpected dimensions")
)
