package joblog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

func writeLogFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCollectStructuredLines(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "log_20250101_000000.txt",
		"2025-01-01 00:00:00,000 | INFO | mapsrv.job.abc | Job started\n"+
			"2025-01-01 00:00:01,000 | WARNING | mapsrv.job.abc | Low disk space\n"+
			"2025-01-01 00:00:02,000 | ERROR | mapsrv.job.abc | Clip failed\n"+
			"2025-01-01 00:00:03,000 | CRITICAL | mapsrv.job.abc | Engine exited\n"+
			"2025-01-01 00:00:04,000 - DEBUG - verbose detail\n")

	got := Collect(dir)

	require.Len(t, got.Info, 2)
	assert.Equal(t, "Job started", got.Info[0].Message)
	assert.Equal(t, "mapsrv.job.abc", got.Info[0].Source)
	assert.Equal(t, "2025-01-01 00:00:00,000", got.Info[0].Timestamp)
	assert.Equal(t, "log_20250101_000000.txt", got.Info[0].File)
	assert.Equal(t, "DEBUG", got.Info[1].Level)
	assert.Empty(t, got.Info[1].Source)

	require.Len(t, got.Warning, 1)
	assert.Equal(t, "Low disk space", got.Warning[0].Message)

	require.Len(t, got.Error, 2)
	assert.Equal(t, "Clip failed", got.Error[0].Message)
	assert.Equal(t, "CRITICAL", got.Error[1].Level)

	assert.Empty(t, got.Note)
}

func TestCollectContinuationLines(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "job.log",
		"2025-01-01 00:00:00,000 | INFO | x | hello\n"+
			"continued\n"+
			"\n"+
			"still going\n")

	got := Collect(dir)

	require.Len(t, got.Info, 1)
	assert.Equal(t, "hello\ncontinued\nstill going", got.Info[0].Message)
}

func TestCollectPromotesRawLines(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "raw.txt",
		"traceback begins\n"+
			"some ERROR text from the engine\n"+
			"warning: projection mismatch\n")

	got := Collect(dir)

	require.Len(t, got.Info, 1)
	assert.Equal(t, "raw", got.Info[0].Source)
	assert.Equal(t, "INFO", got.Info[0].Level)
	assert.Equal(t, "traceback begins", got.Info[0].Message)

	require.Len(t, got.Error, 1)
	assert.Equal(t, "raw", got.Error[0].Source)
	assert.Equal(t, "some ERROR text from the engine", got.Error[0].Message)

	require.Len(t, got.Warning, 1)
	assert.Equal(t, "raw", got.Warning[0].Source)
	assert.Equal(t, "warning: projection mismatch", got.Warning[0].Message)
}

func TestCollectContinuationAfterPromotedEntry(t *testing.T) {
	dir := t.TempDir()
	writeLogFile(t, dir, "gp.txt",
		"ERROR 000210: Cannot create output\n"+
			"Failed to execute (Clip).\n")

	got := Collect(dir)

	require.Len(t, got.Error, 1)
	assert.Equal(t, "ERROR 000210: Cannot create output\nFailed to execute (Clip).", got.Error[0].Message)
	assert.Empty(t, got.Info)
}

func TestCollectNoLogFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte("{}"), 0o644))

	got := Collect(dir)

	assert.Equal(t, "No log files found", got.Note)
	assert.Empty(t, got.Info)
	assert.Empty(t, got.Warning)
	assert.Empty(t, got.Error)
}

func TestCollectMissingDir(t *testing.T) {
	got := Collect(filepath.Join(t.TempDir(), "nope"))

	assert.Empty(t, got.Note)
	assert.NotNil(t, got.Info)
	assert.Empty(t, got.Info)
	assert.Empty(t, got.Warning)
	assert.Empty(t, got.Error)
}

func TestCollectOrdersFilesByModTime(t *testing.T) {
	dir := t.TempDir()
	older := writeLogFile(t, dir, "b.log", "2025-01-01 00:00:00,000 | INFO | x | first\n")
	newer := writeLogFile(t, dir, "a.txt", "2025-01-02 00:00:00,000 | INFO | x | second\n")

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))
	require.NoError(t, os.Chtimes(newer, past.Add(time.Hour), past.Add(time.Hour)))

	got := Collect(dir)

	require.Len(t, got.Info, 2)
	assert.Equal(t, "first", got.Info[0].Message)
	assert.Equal(t, "second", got.Info[1].Message)
}

func TestCollectUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "trap.txt"), 0o755))
	writeLogFile(t, dir, "ok.log", "2025-01-01 00:00:00,000 | INFO | x | fine\n")

	got := Collect(dir)

	require.Len(t, got.Info, 1)
	assert.Equal(t, "fine", got.Info[0].Message)

	require.Len(t, got.Error, 1)
	assert.Equal(t, "log.reader", got.Error[0].Source)
	assert.Contains(t, got.Error[0].Message, "Failed reading trap.txt")
}

func TestFilterByLevel(t *testing.T) {
	all := types.LogsByLevel{
		Info:    []types.LogEntry{{Message: "i"}},
		Warning: []types.LogEntry{{Message: "w"}},
		Error:   []types.LogEntry{{Message: "e"}},
		Note:    "No log files found",
	}

	t.Run("all is identity", func(t *testing.T) {
		got := FilterByLevel(all, types.LogFilterAll)
		assert.Equal(t, all, got)
	})

	t.Run("info only", func(t *testing.T) {
		got := FilterByLevel(all, types.LogFilterInfo)
		assert.Equal(t, all.Info, got.Info)
		assert.Empty(t, got.Warning)
		assert.Empty(t, got.Error)
		assert.Equal(t, all.Note, got.Note)
	})

	t.Run("warning only", func(t *testing.T) {
		got := FilterByLevel(all, types.LogFilterWarning)
		assert.Empty(t, got.Info)
		assert.Equal(t, all.Warning, got.Warning)
		assert.Empty(t, got.Error)
		assert.Equal(t, all.Note, got.Note)
	})

	t.Run("error only", func(t *testing.T) {
		got := FilterByLevel(all, types.LogFilterError)
		assert.Empty(t, got.Info)
		assert.Empty(t, got.Warning)
		assert.Equal(t, all.Error, got.Error)
		assert.Equal(t, all.Note, got.Note)
	})
}
