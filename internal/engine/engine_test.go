package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The fake worker is a shell script so these tests exercise the real
// subprocess path. sh accepts the -u flag the bridge passes for python.
func writeFakeWorker(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh on this platform")
	}
	script := filepath.Join(t.TempDir(), "worker.sh")
	content := "#!/bin/sh\nresult=\"\"\nwhile [ \"$#\" -gt 0 ]; do\n  case \"$1\" in\n    --result) result=\"${2:-}\"; shift ;;\n  esac\n  shift\ndone\n" + body + "\n"
	require.NoError(t, os.WriteFile(script, []byte(content), 0o755))
	return script
}

func newTestRequest(t *testing.T, step Step) StepRequest {
	t.Helper()
	workdir := t.TempDir()
	return StepRequest{
		Step:       step,
		JobID:      "job-1",
		SurveyType: "water_network",
		Workdir:    workdir,
		LogPath:    filepath.Join(workdir, "run.log"),
	}
}

func TestRunStepDecodesSuccessAndAppendsOutput(t *testing.T) {
	script := writeFakeWorker(t, `echo "partitioning 4 grid sheets"
printf '{"success": true, "data": "%s"}' "collections" > "$result"`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	req := newTestRequest(t, StepPartition)
	res := bridge.RunStep(context.Background(), req)

	require.True(t, res.Conforms())
	assert.True(t, res.Ok())
	assert.Equal(t, "collections", res.Data)

	logged, err := os.ReadFile(req.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "partitioning 4 grid sheets")
}

func TestRunStepTrustsResultFileOverExitCode(t *testing.T) {
	script := writeFakeWorker(t, `printf '{"success": false, "errors": ["Sheet 12 failed to clip"]}' > "$result"
exit 1`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	res := bridge.RunStep(context.Background(), newTestRequest(t, StepExport))

	require.True(t, res.Conforms())
	assert.False(t, res.Ok())
	assert.Equal(t, "Sheet 12 failed to clip", res.ErrorText())
}

func TestRunStepMissingResultFileIsNonConforming(t *testing.T) {
	script := writeFakeWorker(t, `exit 3`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	res := bridge.RunStep(context.Background(), newTestRequest(t, StepExport))

	assert.False(t, res.Conforms())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "exit status 3")
}

func TestRunStepCleanExitWithoutResultIsNonConforming(t *testing.T) {
	script := writeFakeWorker(t, `exit 0`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	res := bridge.RunStep(context.Background(), newTestRequest(t, StepPartition))

	assert.False(t, res.Conforms())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "no result file")
}

func TestRunStepUndecodableResultIsNonConforming(t *testing.T) {
	script := writeFakeWorker(t, `printf 'Traceback (most recent call last)' > "$result"`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	res := bridge.RunStep(context.Background(), newTestRequest(t, StepPartition))

	assert.False(t, res.Conforms())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "undecodable result file")
}

func TestRunStepSalvagesContaminatedResult(t *testing.T) {
	script := writeFakeWorker(t, `printf 'RuntimeWarning: CRS detection disabled\n{"success": true, "data": "collections"}\n' > "$result"`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	res := bridge.RunStep(context.Background(), newTestRequest(t, StepExport))

	require.True(t, res.Conforms())
	assert.True(t, res.Ok())
	assert.Equal(t, "collections", res.Data)
}

func TestRunStepKillsWorkerOnTimeout(t *testing.T) {
	script := writeFakeWorker(t, `sleep 30`)
	bridge := NewBridge("/bin/sh", script, 150*time.Millisecond)

	start := time.Now()
	res := bridge.RunStep(context.Background(), newTestRequest(t, StepExport))

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, res.Conforms())
}

func TestRunStepPassesFlagsThrough(t *testing.T) {
	script := writeFakeWorker(t, `printf '{"success": true, "data": "%s"}' "$ARGS" > "$result"`)
	// The parse loop consumes the args, so capture them up front.
	raw, err := os.ReadFile(script)
	require.NoError(t, err)
	patched := strings.Replace(string(raw), "result=\"\"\n", "result=\"\"\nARGS=\"$*\"\n", 1)
	require.NoError(t, os.WriteFile(script, []byte(patched), 0o755))

	bridge := NewBridge("/bin/sh", script, time.Minute)
	req := newTestRequest(t, StepPartition)
	req.GdbPath = "/data/staging/BRN_20250812.gdb"
	req.GridzonePath = "/data/gridzones/water.xlsx"
	req.DivisionCode = "BRN"
	req.LookupCSV = filepath.Join(req.Workdir, "lookup.csv")
	req.InputFolder = filepath.Join(req.Workdir, "collections")

	res := bridge.RunStep(context.Background(), req)

	require.True(t, res.Ok())
	for _, want := range []string{
		"--step partition",
		"--job job-1",
		"--survey-type water_network",
		"--gdb /data/staging/BRN_20250812.gdb",
		"--gridzones /data/gridzones/water.xlsx",
		"--division BRN",
		"--lookup " + req.LookupCSV,
		"--input " + req.InputFolder,
	} {
		assert.Contains(t, res.Data, want)
	}
}

func TestRunStepClearsStaleResult(t *testing.T) {
	script := writeFakeWorker(t, `exit 0`)
	bridge := NewBridge("/bin/sh", script, time.Minute)

	req := newTestRequest(t, StepExport)
	stale := filepath.Join(req.Workdir, "step_export_result.json")
	require.NoError(t, os.WriteFile(stale, []byte(`{"success": true}`), 0o644))

	res := bridge.RunStep(context.Background(), req)

	// The stale success payload must not leak into this run.
	assert.False(t, res.Conforms())
}
