package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	clearEnv(t, "IMS_BASE_URL")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("IMS_BASE_URL", "https://images.example.com")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "jpg", cfg.DefaultFormat)
	assert.Equal(t, "vips", cfg.CodecBackend)
	assert.Equal(t, 4, cfg.TaskWorkers)
	assert.Equal(t, 10*time.Second, cfg.WaitBudgetMin)
}

func TestLoadTrimsTrailingSlashFromBaseURL(t *testing.T) {
	t.Setenv("IMS_BASE_URL", "https://images.example.com/")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.com", cfg.BaseURL)
}

func TestLoadRejectsInvertedWaitBudget(t *testing.T) {
	t.Setenv("IMS_BASE_URL", "https://images.example.com")
	t.Setenv("IMS_WAIT_BUDGET_MIN", "60s")
	t.Setenv("IMS_WAIT_BUDGET_MAX", "10s")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadHonoursOverrides(t *testing.T) {
	t.Setenv("IMS_BASE_URL", "https://images.example.com")
	t.Setenv("IMS_CODEC_BACKEND", "stdimage")
	t.Setenv("IMS_TASK_WORKERS", "8")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "stdimage", cfg.CodecBackend)
	assert.Equal(t, 8, cfg.TaskWorkers)
}
