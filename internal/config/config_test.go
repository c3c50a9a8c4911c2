package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"HOST", "PORT", "LOG_LEVEL", "LOG_FORMAT", "LLM_PROVIDER", "LLM_API_URL",
		"LLM_HISTORY_LIMIT", "STT_PROVIDER", "PIPELINE_WORKERS", "PIPELINE_QUEUE_TIMEOUT",
		"DEFAULT_VOICE_PERSONALITY", "VOICE_CONFIG_DIR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:1234/v1", cfg.LLM.APIURL)
	assert.Equal(t, 0, cfg.LLM.HistoryLimit)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, ProviderOpenAI, cfg.STT.Provider)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.QueueTimeout)
	assert.Equal(t, "professional_female", cfg.Voice.DefaultPersonality)
	assert.Equal(t, "voices", cfg.Voice.ConfigDir)
}

func TestLoadServerAddr(t *testing.T) {
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "9001")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9001", cfg.Server.Addr)

	t.Setenv("PORT", "127.0.0.1:7000")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Addr)

	t.Setenv("PORT", "eighty")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadLLMEndpointNormalized(t *testing.T) {
	t.Setenv("LLM_API_URL", "http://10.0.0.5:1234/v1/chat/completions/")
	t.Setenv("LLM_TIMEOUT", "45")
	t.Setenv("LLM_HISTORY_LIMIT", "8")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:1234/v1", cfg.LLM.APIURL)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 8, cfg.LLM.HistoryLimit)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"LLM_PROVIDER":           "mystery",
		"STT_PROVIDER":           "mystery",
		"PIPELINE_WORKERS":       "0",
		"PIPELINE_QUEUE_TIMEOUT": "soon",
		"LLM_TEMPERATURE":        "warm",
		"LOG_COMPRESS":           "perhaps",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestAIConfigEnabled(t *testing.T) {
	assert.False(t, AIConfig{}.Enabled())
	assert.False(t, AIConfig{APIKey: "k"}.Enabled())
	assert.True(t, AIConfig{APIKey: "k", Model: "m"}.Enabled())
	assert.True(t, AIConfig{AccessKey: "a", SecretKey: "s", Model: "m"}.Enabled())
}
