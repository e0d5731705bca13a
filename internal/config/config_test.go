package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `version: 1
aws:
  region: eu-west-1
  profile: research
stack:
  tags:
    team: data
  create_timeout: 45m
polling:
  interval: 10s
  step_timeout: 2h
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Version)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, "research", cfg.AWS.Profile)
	assert.Equal(t, map[string]string{"team": "data"}, cfg.Stack.Tags)
	assert.Equal(t, 45*time.Minute, cfg.Stack.CreateTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Stack.DeleteTimeout)
	assert.Equal(t, 10*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 2*time.Hour, cfg.Polling.StepTimeout)
	assert.Zero(t, cfg.Polling.ReadyTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Polling.TerminateTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, CurrentVersion, cfg.Version)
	assert.Equal(t, 30*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 60*time.Minute, cfg.Stack.CreateTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ExpandHome(DefaultLogDir), cfg.Logging.Directory)
	assert.NotNil(t, cfg.Stack.Tags)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadInvalidVersion(t *testing.T) {
	path := writeConfig(t, "version: 99\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config version 99")
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "version: 1\npolling:\n  interval: 10s\n")
	t.Setenv("STACKRUN_POLLING_INTERVAL", "5s")
	t.Setenv("STACKRUN_AWS_REGION", "us-west-2")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Polling.Interval)
	assert.Equal(t, "us-west-2", cfg.AWS.Region)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := writeConfig(t, `version: 1
polling:
  interval: 0s
logging:
  level: loud
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "polling.interval must be positive")
	assert.Contains(t, err.Error(), `logging.level "loud"`)
}

func TestExpandHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	assert.Equal(t, filepath.Join(home, ".stackrun", "state.yaml"), ExpandHome("~/.stackrun/state.yaml"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
}
