package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	assert.False(t, (&UploadRecord{Status: StatusPending}).IsTerminal())
	assert.False(t, (&UploadRecord{Status: StatusProcessing}).IsTerminal())
	assert.True(t, (&UploadRecord{Status: StatusReady}).IsTerminal())
	assert.True(t, (&UploadRecord{Status: StatusFailed}).IsTerminal())
}

func TestRecordJSONHidesInternalFields(t *testing.T) {
	rec := UploadRecord{
		ID:             "rec-1",
		OwnerID:        "owner-1",
		Status:         StatusReady,
		Embedding:      []float32{0.1, 0.2},
		CompressedText: []byte("snapshot"),
	}

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	// Embeddings and the compressed snapshot never leave the API.
	assert.NotContains(t, string(data), "embedding")
	assert.NotContains(t, string(data), "compressed_text")
	assert.Contains(t, string(data), `"id":"rec-1"`)
}
