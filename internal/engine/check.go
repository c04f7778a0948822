package engine

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
)

type DependencyTier string

const (
	DependencyTierMust   DependencyTier = "must"
	DependencyTierShould DependencyTier = "should"
)

type DependencyStatus string

const (
	DependencyStatusOK      DependencyStatus = "ok"
	DependencyStatusMissing DependencyStatus = "missing"
	DependencyStatusError   DependencyStatus = "error"
)

type DependencySource string

const (
	DependencySourceConfig   DependencySource = "config"
	DependencySourceLookPath DependencySource = "lookpath"
)

type DependencySpec struct {
	ID             string
	Name           string
	Command        string
	Tier           DependencyTier
	ConfiguredPath string
	Hint           string
}

type DependencyState struct {
	DependencySpec
	ResolvedPath string
	Status       DependencyStatus
	Source       DependencySource
	Error        string
}

type PathResolver struct {
	LookPath func(file string) (string, error)
	AbsPath  func(path string) (string, error)
	Stat     func(name string) (os.FileInfo, error)
}

func NewPathResolver() PathResolver {
	return PathResolver{
		LookPath: exec.LookPath,
		AbsPath:  filepath.Abs,
		Stat:     os.Stat,
	}
}

func (r PathResolver) Resolve(spec DependencySpec) DependencyState {
	state := DependencyState{DependencySpec: spec}
	configured := strings.TrimSpace(spec.ConfiguredPath)

	if configured != "" {
		state.Source = DependencySourceConfig
		resolvedPath, err := r.resolveConfiguredPath(configured)
		if err == nil {
			state.Status = DependencyStatusOK
			state.ResolvedPath = resolvedPath
			return state
		}

		if absPath, absErr := r.AbsPath(configured); absErr == nil {
			state.ResolvedPath = absPath
		} else {
			state.ResolvedPath = configured
		}
		state.Error = err.Error()
		if isMissingPathError(err) {
			state.Status = DependencyStatusMissing
		} else {
			state.Status = DependencyStatusError
		}
		return state
	}

	state.Source = DependencySourceLookPath
	resolvedPath, err := r.LookPath(spec.Command)
	if err == nil {
		state.Status = DependencyStatusOK
		state.ResolvedPath = resolvedPath
		return state
	}

	state.Error = err.Error()
	if isMissingPathError(err) {
		state.Status = DependencyStatusMissing
		return state
	}
	state.Status = DependencyStatusError
	return state
}

func (r PathResolver) resolveConfiguredPath(configuredPath string) (string, error) {
	if resolvedPath, err := r.LookPath(configuredPath); err == nil {
		return resolvedPath, nil
	}

	absPath, err := r.AbsPath(configuredPath)
	if err != nil {
		return "", err
	}
	if _, err = r.Stat(absPath); err != nil {
		return "", err
	}
	return absPath, nil
}

func ResolveDependencyStates(specs []DependencySpec, resolver PathResolver) []DependencyState {
	resolved := make([]DependencyState, 0, len(specs))
	for _, spec := range specs {
		resolved = append(resolved, resolver.Resolve(spec))
	}
	return resolved
}

// ResolveEngineInventory diagnoses everything a map-creation run needs on
// disk. Missing must-tier entries do not stop the server; submissions still
// fail per job, this just makes the report available up front.
func ResolveEngineInventory() []DependencyState {
	specs := BuildEngineInventory()
	return ResolveDependencyStates(specs, NewPathResolver())
}

func BuildEngineInventory() []DependencySpec {
	return []DependencySpec{
		{
			ID:             "python",
			Name:           "ArcPy interpreter",
			Command:        "python",
			Tier:           DependencyTierMust,
			ConfiguredPath: config.Conf.Engine.Python,
			Hint:           "Point engine.python at the ArcGIS Pro conda environment; a plain CPython has no arcpy.",
		},
		{
			ID:             "worker-script",
			Name:           "survey mapper worker",
			Tier:           DependencyTierMust,
			ConfiguredPath: config.Conf.Engine.Script,
			Hint:           "The worker script that runs the partition and export steps.",
		},
		{
			ID:             "registry-dir",
			Name:           "geodatabase registry",
			Tier:           DependencyTierShould,
			ConfiguredPath: config.Conf.Registry.Dir,
			Hint:           "Directory scanned for *_YYYYMMDD.gdb.zip archives; submissions without one fail.",
		},
		{
			ID:             "survey-definitions",
			Name:           "survey definitions",
			Tier:           DependencyTierShould,
			ConfiguredPath: config.Conf.Surveys.DefinitionFile,
			Hint:           "JSON file mapping survey types to their feature classes and gridzone workbooks.",
		},
	}
}

// FormatDependencyReport renders the states for the boot log and the
// diagnose command.
func FormatDependencyReport(states []DependencyState) string {
	if len(states) == 0 {
		return "No engine dependencies to diagnose."
	}

	var builder strings.Builder
	builder.WriteString("Engine dependency status")

	for _, state := range states {
		path := strings.TrimSpace(state.ResolvedPath)
		if path == "" {
			path = "unknown"
		}
		builder.WriteString(fmt.Sprintf("\n- %s [%s] %s (%s)", state.Name, strings.ToUpper(string(state.Tier)), state.Status, path))
		if state.Error != "" {
			builder.WriteString("\n    ")
			builder.WriteString(state.Error)
		}
		if state.Status != DependencyStatusOK && state.Hint != "" {
			builder.WriteString("\n    hint: ")
			builder.WriteString(state.Hint)
		}
	}

	return builder.String()
}

func isMissingPathError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return true
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if errors.Is(pathErr.Err, os.ErrNotExist) {
			return true
		}
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		if errors.Is(execErr.Err, exec.ErrNotFound) {
			return true
		}
	}

	message := strings.ToLower(err.Error())
	return strings.Contains(message, "not found") || strings.Contains(message, "cannot find")
}
