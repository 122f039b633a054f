package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMultiLogger_WritesCategoryFiles(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)

	ml.LogQueueEvent("download_added", zap.String("id", "d1"))
	ml.LogDownloadEvent("strategy_selected", zap.String("strategy", "server_job"))
	ml.LogAppError("boom", zap.String("id", "d1"))
	require.NoError(t, ml.Close())

	reader := NewLogReader(dir)
	queue, err := reader.ReadLogs(CategoryQueue, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, "download_added", queue[0].Message)
	assert.Equal(t, "info", queue[0].Level)
	assert.Equal(t, "d1", queue[0].Fields["id"])
	assert.NotEmpty(t, queue[0].Timestamp)

	downloads, err := reader.ReadLogs(CategoryDownload, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, "server_job", downloads[0].Fields["strategy"])

	errs, err := reader.ReadLogs(CategoryError, time.Now(), 0)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, "error", errs[0].Level)
}

func TestMultiLogger_ErrorFileOnlyTakesErrors(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "debug", LogsDir: dir})
	require.NoError(t, err)

	ml.Error().Info("not an error")
	require.NoError(t, ml.Close())

	entries, err := NewLogReader(dir).ReadLogs(CategoryError, time.Now(), 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMultiLogger_RotatesOnDateChange(t *testing.T) {
	dir := t.TempDir()
	ml, err := NewMultiLogger(MultiLoggerConfig{Level: "info", LogsDir: dir})
	require.NoError(t, err)
	defer ml.Close()

	tomorrow := time.Now().Add(24 * time.Hour)
	ml.now = func() time.Time { return tomorrow }
	ml.LogQueueEvent("after_midnight")

	_, err = os.Stat(filepath.Join(dir, LogFileName(CategoryQueue, tomorrow)))
	assert.NoError(t, err)
}

func TestNewMultiLogger_RequiresDir(t *testing.T) {
	_, err := NewMultiLogger(MultiLoggerConfig{})
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("download")
	require.NoError(t, err)
	assert.Equal(t, CategoryDownload, c)

	_, err = ParseCategory("web")
	assert.Error(t, err)
}

func TestLogReader_LimitAndSearch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName(CategoryQueue, time.Now()))
	content := `{"ts":"t1","level":"info","msg":"download_added","url":"https://youtu.be/a"}
{"ts":"t2","level":"info","msg":"download_started"}
plain text line
{"ts":"t3","level":"info","msg":"download_added","url":"https://tiktok.com/b"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	reader := NewLogReader(dir)

	last, err := reader.ReadLogs(CategoryQueue, time.Now(), 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "plain text line", last[0].Message)
	assert.Equal(t, "t3", last[1].Timestamp)

	found, err := reader.SearchLogs(CategoryQueue, time.Now(), "TIKTOK", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "t3", found[0].Timestamp)

	missing, err := reader.ReadLogs(CategoryError, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestLogReader_TailLogs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, LogFileName(CategoryDownload, time.Now()))
	require.NoError(t, os.WriteFile(path, []byte(`{"msg":"old"}`+"\n"), 0644))

	reader := NewLogReader(dir)
	reader.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	entries := make(chan LogEntry, 4)
	done := make(chan error, 1)
	go func() { done <- reader.TailLogs(ctx, CategoryDownload, entries) }()

	// Give the tail time to seek past the existing line
	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"msg":"new","level":"info"}` + "\n")
	require.NoError(t, err)
	f.Close()

	select {
	case e := <-entries:
		assert.Equal(t, "new", e.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("no entry tailed")
	}

	cancel()
	assert.NoError(t, <-done)
}
