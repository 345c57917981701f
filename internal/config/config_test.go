package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLevel(t *testing.T) {
	assert.Equal(t, LogDebug, normalizeLevel("debug"))
	assert.Equal(t, LogDebug, normalizeLevel("DEBUG"))
	assert.Equal(t, LogWarn, normalizeLevel("warn"))
	assert.Equal(t, LogWarn, normalizeLevel("warning"))
	assert.Equal(t, LogError, normalizeLevel("error"))
	assert.Equal(t, LogInfo, normalizeLevel("info"))
	assert.Equal(t, LogInfo, normalizeLevel("garbage"))
}

func TestParseEnvFile(t *testing.T) {
	content := "# a comment\n\nMFT_ADB_SERVER=10.0.0.1:5037\nMFT_LOG_LEVEL=warn\nMFT_LOADER_CACHE_DIR=/tmp/loaders\nnot-a-kv-line\n"
	cfg := &Config{}
	parseEnvFile(content, cfg)

	assert.Equal(t, "10.0.0.1:5037", cfg.AdbServer)
	assert.Equal(t, LogWarn, cfg.LogLevel)
	assert.Equal(t, "/tmp/loaders", cfg.LoaderCacheDir)
}

func TestParseEnvFileIgnoresUnknownKeys(t *testing.T) {
	cfg := &Config{AdbServer: "unchanged"}
	parseEnvFile("SOME_OTHER_VAR=value\n", cfg)
	assert.Equal(t, "unchanged", cfg.AdbServer)
}

func TestLoadPopulatesDefaults(t *testing.T) {
	cfg := Load()
	assert.NotEmpty(t, cfg.AdbServer)
	assert.NotEmpty(t, cfg.LoaderCacheDir)

	// memoized: a second call returns the exact same instance
	assert.Same(t, cfg, Load())
}
