package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "development", config.Environment)
	assert.Equal(t, "cli", config.Engine.Provider)
	assert.Equal(t, 3, config.Queue.Workers)
	assert.Equal(t, "5m", config.Queue.TaskTimeout)
	assert.Equal(t, "4m30s", config.Engine.ExecTimeout)
	assert.Equal(t, 0.8, config.Queue.StallFraction)
	assert.Equal(t, 9222, config.Browser.DebugPort)
	assert.Equal(t, 24, config.Login.ValidityHours)
	assert.Equal(t, 200, config.Storage.HistoryLimit)

	require.NoError(t, config.Validate())
}

func TestLoadFromFiles_NoFiles(t *testing.T) {
	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, 3, config.Queue.Workers)
}

func TestLoadFromFiles_MissingFile(t *testing.T) {
	_, err := LoadFromFiles("/nonexistent/praeco.toml")
	assert.Error(t, err)
}

func TestLoadFromFiles_Override(t *testing.T) {
	path := writeConfigFile(t, "praeco.toml", `
environment = "production"

[queue]
workers = 8
task_timeout = "2m"

[engine]
binary = "claude-dev"

[[platforms]]
id = "chirper"
check_url = "https://chirper.example.com/home"
domain = "chirper.example.com"
login_cookies = ["auth_token", "ct0"]
`)

	config, err := LoadFromFiles(path)
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.True(t, config.IsProduction())
	assert.Equal(t, 8, config.Queue.Workers)
	assert.Equal(t, "2m", config.Queue.TaskTimeout)
	assert.Equal(t, "claude-dev", config.Engine.Binary)
	// Untouched sections keep defaults.
	assert.Equal(t, "4m30s", config.Engine.ExecTimeout)
	require.Len(t, config.Platforms, 1)
	assert.Equal(t, "chirper", config.Platforms[0].ID)
	assert.Equal(t, []string{"auth_token", "ct0"}, config.Platforms[0].LoginCookies)
}

func TestLoadFromFiles_LaterFileWins(t *testing.T) {
	base := writeConfigFile(t, "base.toml", `
[queue]
workers = 5
`)
	local := writeConfigFile(t, "local.toml", `
[queue]
workers = 2
`)

	config, err := LoadFromFiles(base, local)
	require.NoError(t, err)
	assert.Equal(t, 2, config.Queue.Workers)
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	t.Setenv("PRAECO_ENV", "production")
	t.Setenv("PRAECO_QUEUE_WORKERS", "7")
	t.Setenv("PRAECO_BROWSER_DEBUG_PORT", "9333")
	t.Setenv("PRAECO_LOG_OUTPUT", "stdout, file")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "production", config.Environment)
	assert.Equal(t, 7, config.Queue.Workers)
	assert.Equal(t, 9333, config.Browser.DebugPort)
	assert.Equal(t, []string{"stdout", "file"}, config.Logging.Output)
}

func TestValidate_BadDuration(t *testing.T) {
	config := NewDefaultConfig()
	config.Queue.TaskTimeout = "five minutes"

	err := config.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue.task_timeout")
}

func TestValidate_StallFraction(t *testing.T) {
	config := NewDefaultConfig()

	config.Queue.StallFraction = 0
	assert.Error(t, config.Validate())

	config.Queue.StallFraction = 1.5
	assert.Error(t, config.Validate())

	config.Queue.StallFraction = 1.0
	assert.NoError(t, config.Validate())
}

func TestValidate_BadProvider(t *testing.T) {
	config := NewDefaultConfig()
	config.Engine.Provider = "grpc"
	assert.Error(t, config.Validate())
}

func TestValidate_ZeroWorkers(t *testing.T) {
	config := NewDefaultConfig()
	config.Queue.Workers = 0
	assert.Error(t, config.Validate())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 5*time.Second, Duration("5s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("garbage", time.Minute))
}
