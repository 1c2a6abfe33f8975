package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017/doc_context", cfg.MongoURI)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, int64(26214400), cfg.MaxFileSize)
	assert.Equal(t, 768, cfg.VectorDim)
	assert.Equal(t, 3, cfg.WriteRetryAttempts)
	assert.Equal(t, 30, cfg.HeartbeatSecs)
	assert.Equal(t, 4000, cfg.ContextTokenBudget)
	assert.False(t, cfg.TracingEnabled)
	assert.Contains(t, cfg.AllowedTypes, "application/pdf")
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("HEARTBEAT_SECS", "5")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, int64(1048576), cfg.MaxFileSize)
	assert.Equal(t, 5, cfg.HeartbeatSecs)
	assert.True(t, cfg.TracingEnabled)
}

func TestLoadConfigRequiresGeminiKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
}

func TestGetEnvIntIgnoresGarbage(t *testing.T) {
	t.Setenv("SOME_INT", "not-a-number")
	assert.Equal(t, 42, getEnvInt("SOME_INT", 42))
}
