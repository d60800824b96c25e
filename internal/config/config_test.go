package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "intent.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "anthropic", cfg.Backend.Provider)
	assert.Equal(t, int64(256), cfg.Backend.MaxTokens)
	assert.Equal(t, -1.0, cfg.Backend.Temperature)
	assert.Equal(t, 60, cfg.Backend.CallTimeoutSecs)
	assert.Equal(t, 20, cfg.Backend.MaxConcurrency)
	assert.Equal(t, 4, cfg.Pipeline.AcceptThreshold)
	assert.Equal(t, 3, cfg.Pipeline.FallbackThreshold)
	assert.Equal(t, 100, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 1, cfg.Pipeline.ChunkParallelism)
	assert.Equal(t, 10, cfg.Pipeline.Workers)
	assert.Equal(t, 10000, cfg.Pipeline.MaxConversations)
	assert.Equal(t, uint64(42), cfg.Pipeline.SampleSeed)
	assert.Equal(t, 5, cfg.Pipeline.MinWords)
	assert.Equal(t, 10, cfg.Pipeline.MaxWords)
	assert.Equal(t, "runs", cfg.Artifacts.BaseDir)
	assert.False(t, cfg.Artifacts.S3.Enabled())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Monitoring.Enabled())
	assert.Equal(t, 300, cfg.Monitoring.CheckIntervalSecs)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.0001)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "claude-sonnet-4-5-20250929", cfg.Anthropic.Model)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/intents
pipeline:
  chunk_size: 37
  workers: 4
log:
  level: debug
  format: console
artifacts:
  s3:
    endpoint: localhost:9000
    bucket: intent-runs
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 37, cfg.Pipeline.ChunkSize)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Artifacts.S3.Enabled())
	// Defaults still apply for unset values
	assert.Equal(t, 4, cfg.Pipeline.AcceptThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
pipeline:
  workers: 4
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("INTENT_PIPELINE_WORKERS", "16")
	t.Setenv("INTENT_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Pipeline.Workers)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadZeroTemperature(t *testing.T) {
	chdirTemp(t)
	t.Setenv("INTENT_BACKEND_TEMPERATURE", "0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Backend.Temperature)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("INTENT_GEMINI_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("INTENT_GEMINI_KEY") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Gemini.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("pipeline: [broken"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func validDefaults() *Config {
	return &Config{
		Backend: BackendConfig{Provider: "anthropic", CallTimeoutSecs: 60},
		Pipeline: PipelineConfig{
			AcceptThreshold:   4,
			FallbackThreshold: 3,
			ChunkSize:         100,
			Workers:           10,
			MaxConversations:  10000,
			MinWords:          5,
			MaxWords:          10,
		},
		Server: ServerConfig{Port: 8080},
	}
}

func TestValidateDiscover_AllPresent(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateDiscover_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateGeminiProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Backend.Provider = "gemini"

	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini.key is required")

	cfg.Gemini.Key = "g-key"
	assert.NoError(t, cfg.Validate("discover"))
}

func TestValidateUnsupportedProvider(t *testing.T) {
	cfg := validDefaults()
	cfg.Backend.Provider = "bedrock"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `backend.provider "bedrock" is not supported`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidatePipelineBounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = "sk-ant-key"

	cfg.Pipeline.AcceptThreshold = 6
	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accept_threshold")

	cfg.Pipeline.AcceptThreshold = 4
	cfg.Pipeline.FallbackThreshold = 5
	err = cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fallback_threshold")

	cfg.Pipeline.FallbackThreshold = 3
	cfg.Pipeline.ChunkSize = 0
	cfg.Pipeline.Workers = 0
	err = cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
	assert.Contains(t, err.Error(), "workers")
}

func TestValidateFilterNeedsNoBackend(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.Validate("filter"))
	assert.NoError(t, cfg.Validate("runs"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
