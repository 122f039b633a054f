package domain

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.NotNil(t, config)
	assert.Equal(t, "localhost", config.Server.Host)
	assert.Equal(t, 8080, config.Server.Port)
	assert.Equal(t, 2*time.Second, config.Backend.ReconcileDelay)
	assert.Equal(t, 3, config.Download.MaxRetries)
	assert.Equal(t, 30*time.Second, config.Download.RetryDelay)
	assert.True(t, config.Download.FetchArtifacts)
	assert.True(t, config.Queue.AutoStart)
	assert.Equal(t, 10*time.Second, config.Queue.CheckInterval)
	assert.Len(t, config.Routing.Rules, 4)
	assert.Contains(t, config.Routing.AdaptiveMarkers, ".m3u8")
	assert.False(t, config.Extraction.Enabled)
	assert.True(t, config.Notification.Enabled)
	assert.Equal(t, "info", config.Logging.Level)
}

func TestDownloadConfig_Dirs(t *testing.T) {
	cfg := DownloadConfig{BaseDir: "/data/hqmx"}

	assert.Equal(t, filepath.Join("/data/hqmx", "incoming"), cfg.IncomingDir())
	assert.Equal(t, filepath.Join("/data/hqmx", "completed"), cfg.CompletedDir())
	assert.Equal(t, filepath.Join("/data/hqmx", "logs"), cfg.LogsDir())
	assert.Equal(t, filepath.Join("/data/hqmx", "config"), cfg.ConfigDir())
}
