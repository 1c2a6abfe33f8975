package utils

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
)

// CompressText brotli-compresses extracted document text for storage on the
// upload record. Descriptions stay uncompressed; only the raw extraction
// snapshot is large enough to be worth it.
func CompressText(text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	var buf bytes.Buffer
	w := brotli.NewWriterLevel(&buf, brotli.BestCompression)
	if _, err := w.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("failed to write to brotli writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close brotli writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecompressText reverses CompressText.
func DecompressText(compressed []byte) (string, error) {
	if len(compressed) == 0 {
		return "", nil
	}
	r := brotli.NewReader(bytes.NewReader(compressed))
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to decompress: %w", err)
	}
	return string(data), nil
}
