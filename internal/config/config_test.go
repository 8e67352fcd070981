package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("COZE_BOT_ID", "")
	t.Setenv("COZE_API_TOKEN", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "deepseek-chat", cfg.AI.Model)
	assert.Equal(t, 8, cfg.Coze.MaxPolls)
	assert.Equal(t, 2*time.Second, cfg.Coze.PollInterval)
	assert.False(t, cfg.CozeEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("COZE_BOT_ID", "bot")
	t.Setenv("COZE_API_TOKEN", "tok")
	t.Setenv("COZE_POLL_INTERVAL", "500")
	t.Setenv("AI_TIMEOUT", "30s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DIALOG_LOG_ENABLED", "off")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.CozeEnabled())
	assert.Equal(t, 500*time.Millisecond, cfg.Coze.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.DialogLog.Enabled)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("COZE_MAX_POLLS", "0")
	t.Setenv("PORT", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COZE_MAX_POLLS")
	assert.Contains(t, err.Error(), "PORT")
}

func TestGetEnvDuration_Unparseable(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("SOME_DURATION", time.Second))
}
