package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, DefaultSchedulerTickInterval, cfg.Scheduler.TickInterval)
	assert.Equal(t, DefaultTriggerBaseURL, cfg.Upstream.Trigger.BaseURL)
	assert.NotEmpty(t, cfg.Daemon.DataPath)
	require.NotEmpty(t, cfg.Models.Registry)
	assert.Equal(t, "openai", cfg.Models.Registry[0].Provider)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TAPAGENT_SERVER_PORT", "9191")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestDurationOrDefault(t *testing.T) {
	d, err := DurationOrDefault("", "5m")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)

	d, err = DurationOrDefault("30s", "5m")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)

	_, err = DurationOrDefault("nonsense", "5m")
	assert.Error(t, err)

	_, err = DurationOrDefault("", "")
	assert.Error(t, err)
}
