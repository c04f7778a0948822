// Package engine runs the ArcPy worker script that does the actual
// geoprocessing. The worker is a separate Python process: ArcGIS licensing
// ties it to a specific interpreter, so the server only orchestrates it.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/pkg/util"
)

// Step names one engine checkpoint.
type Step string

const (
	// StepPartition joins gridzones with the survey workbook and clips the
	// configured feature classes per grid cell.
	StepPartition Step = "partition"
	// StepExport materializes feature collections and layer packages from
	// the partition output.
	StepExport Step = "export"
)

// StepRequest carries everything one engine invocation needs. LogPath is the
// job's active log file; the worker's stdout and stderr are appended there
// raw, which is the channel the fail-fast file rescan exists for.
type StepRequest struct {
	Step         Step
	JobID        string
	SurveyType   string
	DivisionCode string
	Workdir      string
	GdbPath      string
	GridzonePath string
	LookupCSV    string
	InputFolder  string
	LogPath      string
}

// Bridge invokes the worker script once per step and decodes the result file
// it leaves behind.
type Bridge struct {
	python      string
	script      string
	stepTimeout time.Duration
}

func NewBridge(python, script string, stepTimeout time.Duration) *Bridge {
	if stepTimeout <= 0 {
		stepTimeout = 2 * time.Hour
	}
	return &Bridge{python: python, script: script, stepTimeout: stepTimeout}
}

// RunStep executes one checkpoint. Failures of any shape (the process cannot
// start, exits without a result file, writes an undecodable payload) are
// reported through the StepResult: a payload without the success flag marks
// the result non-conforming and carries a diagnostic.
func (b *Bridge) RunStep(ctx context.Context, req StepRequest) types.StepResult {
	resultPath := filepath.Join(req.Workdir, fmt.Sprintf("step_%s_result.json", req.Step))
	// A leftover file from an earlier run must never be mistaken for this
	// run's outcome.
	_ = os.Remove(resultPath)

	args := []string{"-u", b.script,
		"--step", string(req.Step),
		"--job", req.JobID,
		"--survey-type", req.SurveyType,
		"--workdir", req.Workdir,
		"--result", resultPath,
	}
	if req.GdbPath != "" {
		args = append(args, "--gdb", req.GdbPath)
	}
	if req.GridzonePath != "" {
		args = append(args, "--gridzones", req.GridzonePath)
	}
	if req.DivisionCode != "" {
		args = append(args, "--division", req.DivisionCode)
	}
	if req.LookupCSV != "" {
		args = append(args, "--lookup", req.LookupCSV)
	}
	if req.InputFolder != "" {
		args = append(args, "--input", req.InputFolder)
	}

	ctx, cancel := context.WithTimeout(ctx, b.stepTimeout)
	defer cancel()

	logFile, err := os.OpenFile(req.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		return nonConforming(fmt.Sprintf("engine step %s: cannot open log file: %v", req.Step, err))
	}

	cmd := exec.CommandContext(ctx, b.python, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	runErr := cmd.Run()
	logFile.Close()

	data, err := os.ReadFile(resultPath)
	if err != nil {
		if runErr != nil {
			return nonConforming(fmt.Sprintf("engine step %s: %v (no result file)", req.Step, runErr))
		}
		return nonConforming(fmt.Sprintf("engine step %s: worker wrote no result file", req.Step))
	}

	var res types.StepResult
	if err := json.Unmarshal(data, &res); err != nil {
		// ArcPy warnings sometimes leak into the result file around the
		// payload; salvage the embedded object before giving up.
		salvaged := util.ExtractJsonFromText(string(data))
		if salvaged == "" || json.Unmarshal([]byte(salvaged), &res) != nil {
			return nonConforming(fmt.Sprintf("engine step %s: undecodable result file: %v", req.Step, err))
		}
	}
	// An exit error with a decoded result is the worker reporting a failure
	// in its own words; the file wins.
	return res
}

func nonConforming(diagnostic string) types.StepResult {
	return types.StepResult{Errors: []string{diagnostic}}
}
