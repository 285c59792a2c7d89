package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	require.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StorageDriverLocal, cfg.Storage.Driver)
	assert.Equal(t, []string{"application/pdf", "image/jpeg", "image/png", "text/plain"}, cfg.Storage.AllowedMIMEs)
	assert.Equal(t, LLMProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 300, cfg.OCR.DPI)
	assert.Equal(t, "credeval", cfg.Redis.KeyPrefix)
	assert.Equal(t, 15*time.Minute, cfg.Evaluation.StaleAfter)
	assert.Equal(t, 24*time.Hour, cfg.Rules.CacheTTL)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "VERTEX")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("STORAGE_DRIVER", "minio")
	t.Setenv("EVALUATION_STALE_AFTER", "not-a-duration")

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, LLMProviderVertex, cfg.LLM.Provider)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, StorageDriverMinIO, cfg.Storage.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Evaluation.StaleAfter)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a , ,b "))
}
