package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/cancel"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/engine"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/mocks"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/storage"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/log"
	apperrors "github.com/andrewpyen/arcpy-automated-map-creation/pkg/errors"
)

func TestMain(m *testing.M) {
	log.Logger = zap.NewNop()
	os.Exit(m.Run())
}

// fakeStepRunner answers each step from a canned result map and optionally
// runs a hook first, in place of the real worker process.
type fakeStepRunner struct {
	mu       sync.Mutex
	requests []engine.StepRequest
	results  map[engine.Step]types.StepResult
	hook     func(req engine.StepRequest)
}

func (f *fakeStepRunner) RunStep(_ context.Context, req engine.StepRequest) types.StepResult {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(req)
	}
	if res, ok := f.results[req.Step]; ok {
		return res
	}
	return types.StepOK("")
}

func (f *fakeStepRunner) seen() []engine.StepRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.StepRequest(nil), f.requests...)
}

// fakeLookup drops a small CSV wherever the fetch is pointed.
type fakeLookup struct{ enabled bool }

func (f *fakeLookup) Enabled() bool { return f.enabled }

func (f *fakeLookup) FetchCSV(_ context.Context, destPath string) error {
	return os.WriteFile(destPath, []byte("asset_code\n"), 0o644)
}

func openServiceStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jobs.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&types.MapJob{}))
	return storage.NewStore(db)
}

// newTestService wires a Service over temp dirs with a fake engine. The
// returned job is seeded queued with a staged geodatabase and a ready
// results directory.
func newTestService(t *testing.T) (Service, *fakeStepRunner, *types.MapJob) {
	t.Helper()

	orig := config.Conf
	t.Cleanup(func() { config.Conf = orig })
	root := t.TempDir()
	config.Conf.Paths.UploadRoot = filepath.Join(root, "uploads")
	config.Conf.Paths.OutputRoot = filepath.Join(root, "output")

	runner := &fakeStepRunner{results: map[engine.Step]types.StepResult{
		engine.StepPartition: types.StepOK("partition-out"),
		engine.StepExport:    types.StepOK(""),
	}}

	svc := Service{
		Store:   openServiceStore(t),
		Tokens:  cancel.NewRegistry(),
		Surveys: config.NewSurveyTypeSet(config.SurveyType{Name: "electric_distribution"}),
		Engine:  runner,
	}

	jobID := "job-under-test"
	outputDir := filepath.Join(config.Conf.Paths.OutputRoot, jobID)
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, resultsDirName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, resultsDirName, "grid.json"), []byte("{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(stagingGdbDir(jobID), "Survey.gdb"), 0o755))

	gridzone := filepath.Join(root, "gridzones.xlsx")
	require.NoError(t, os.WriteFile(gridzone, []byte("workbook"), 0o644))

	job := &types.MapJob{
		JobId:        jobID,
		Status:       types.JobStatusQueued,
		SurveyType:   "electric_distribution",
		DivisionCode: "SAZ",
		GridzonePath: gridzone,
		OutputDir:    outputDir,
	}
	require.NoError(t, svc.Store.CreateJob(job))
	return svc, runner, job
}

func jobStatus(t *testing.T, svc Service, jobID string) *types.MapJob {
	t.Helper()
	job, err := svc.Store.GetJob(jobID)
	require.NoError(t, err)
	return job
}

func TestOrchestrateHappyPath(t *testing.T) {
	svc, runner, job := newTestService(t)
	uploader := new(mocks.MockUploader)
	uploader.On("UploadFile", mock.Anything, "map-results/"+job.JobId+"/"+resultsZipName, mock.Anything).
		Return("https://bucket.example/results.zip", nil)
	notifier := new(mocks.MockNotifier)
	notifier.On("JobFinished", job.JobId, types.JobStatusComplete).Return(nil)
	svc.Oss = uploader
	svc.Sms = notifier

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusComplete, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, filepath.Join(job.OutputDir, resultsZipName), got.ResultZipPath)
	assert.Equal(t, "https://bucket.example/results.zip", got.ResultOssUrl)
	assert.FileExists(t, got.ResultZipPath)

	steps := runner.seen()
	require.Len(t, steps, 2)
	assert.Equal(t, engine.StepPartition, steps[0].Step)
	assert.Contains(t, steps[0].GdbPath, "Survey.gdb")
	assert.Equal(t, job.GridzonePath, steps[0].GridzonePath)
	assert.Equal(t, "SAZ", steps[0].DivisionCode)
	assert.Equal(t, engine.StepExport, steps[1].Step)
	assert.Equal(t, "partition-out", steps[1].InputFolder)

	uploader.AssertExpectations(t)
	notifier.AssertExpectations(t)

	_, live := svc.Tokens.Lookup(job.JobId)
	assert.False(t, live, "token must be unregistered after the run")
}

func TestOrchestrateWritesJobLog(t *testing.T) {
	svc, _, job := newTestService(t)

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	logs, err := filepath.Glob(filepath.Join(job.OutputDir, "logs", "log_*.txt"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	raw, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	content := string(raw)
	assert.Contains(t, content, "Job started")
	assert.Contains(t, content, "Step 1: completed successfully")
	assert.Contains(t, content, "Step 2: completed successfully")
	assert.Contains(t, content, "Job completed successfully")
	assert.Contains(t, content, "Job finalizer finished")
}

func TestOrchestrateStepOneFailure(t *testing.T) {
	svc, runner, job := newTestService(t)
	runner.results[engine.StepPartition] = types.StepFailed("clip blew up")

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "Grid processing failed", got.Error)
	assert.Len(t, runner.seen(), 1, "export must not run after a failed partition")
}

func TestOrchestrateFailFastAfterStepOne(t *testing.T) {
	svc, runner, job := newTestService(t)
	// The worker writes its error straight into the log file and still
	// reports success; the rescan has to catch it.
	runner.hook = func(req engine.StepRequest) {
		if req.Step != engine.StepPartition {
			return
		}
		f, err := os.OpenFile(req.LogPath, os.O_APPEND|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()
		_, err = f.WriteString("ERROR 001234: Clip failed on grid cell B4\n")
		require.NoError(t, err)
	}

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "after step1: Fail-fast due to error in logs: Error detected in log file", got.Error)
	assert.Len(t, runner.seen(), 1)
}

func TestOrchestrateCancelBeforeStart(t *testing.T) {
	svc, runner, job := newTestService(t)
	svc.Tokens.Register(job.JobId).Signal()

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusCanceled, got.Status)
	assert.Equal(t, "Canceled before start", got.Error)
	assert.Empty(t, runner.seen())
}

func TestOrchestrateCancelBetweenSteps(t *testing.T) {
	svc, runner, job := newTestService(t)
	token := svc.Tokens.Register(job.JobId)
	runner.hook = func(req engine.StepRequest) {
		if req.Step == engine.StepPartition {
			token.Signal()
		}
	}

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusCanceled, got.Status)
	assert.Equal(t, "Canceled before export", got.Error)
	assert.Len(t, runner.seen(), 1)
}

func TestOrchestrateExportNonConforming(t *testing.T) {
	svc, runner, job := newTestService(t)
	runner.results[engine.StepExport] = types.StepResult{Errors: []string{"worker wrote no result file"}}

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "Internal error - export step did not return a result", got.Error)
}

func TestOrchestrateExportReportedErrors(t *testing.T) {
	svc, runner, job := newTestService(t)
	runner.results[engine.StepExport] = types.StepFailed("no features", "layer missing")

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "no features; layer missing", got.Error)
}

func TestOrchestrateExportEmptyErrorsDefaults(t *testing.T) {
	svc, runner, job := newTestService(t)
	runner.results[engine.StepExport] = types.StepFailed()

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	assert.Equal(t, "Export failed", jobStatus(t, svc, job.JobId).Error)
}

func TestOrchestrateLookupWarningDoesNotFailJob(t *testing.T) {
	svc, _, job := newTestService(t)
	lookup := new(mocks.MockLookupFetcher)
	lookup.On("Enabled").Return(true)
	lookup.On("FetchCSV", mock.Anything, filepath.Join(job.OutputDir, lookupCSVName)).
		Return(fmt.Errorf("connection refused"))
	svc.Lookup = lookup

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusComplete, got.Status)
	lookup.AssertExpectations(t)

	logs, _ := filepath.Glob(filepath.Join(job.OutputDir, "logs", "log_*.txt"))
	require.Len(t, logs, 1)
	raw, _ := os.ReadFile(logs[0])
	assert.Contains(t, string(raw), "Warning: could not load LUTAssetTypes from DB - connection refused")
}

func TestOrchestrateLookupFeedsEngine(t *testing.T) {
	svc, runner, job := newTestService(t)
	svc.Lookup = &fakeLookup{enabled: true}

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	steps := runner.seen()
	require.Len(t, steps, 2)
	want := filepath.Join(job.OutputDir, lookupCSVName)
	assert.Equal(t, want, steps[0].LookupCSV)
	assert.Equal(t, want, steps[1].LookupCSV)
}

func TestOrchestrateZipFailure(t *testing.T) {
	svc, _, job := newTestService(t)
	require.NoError(t, os.RemoveAll(filepath.Join(job.OutputDir, resultsDirName)))

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "Zipping failed: ")
}

func TestOrchestrateOssFailureStillCompletes(t *testing.T) {
	svc, _, job := newTestService(t)
	uploader := new(mocks.MockUploader)
	uploader.On("UploadFile", mock.Anything, mock.Anything, mock.Anything).Return("", fmt.Errorf("bucket gone"))
	svc.Oss = uploader

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusComplete, got.Status)
	assert.Empty(t, got.ResultOssUrl)
}

func TestOrchestratePanicIsRecorded(t *testing.T) {
	svc, runner, job := newTestService(t)
	runner.hook = func(engine.StepRequest) { panic("arcpy took the process down") }

	err := svc.Orchestrate(context.Background(), job.JobId)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Contains(t, got.Error, "arcpy took the process down")

	_, live := svc.Tokens.Lookup(job.JobId)
	assert.False(t, live)
}

func TestOrchestrateUnknownJob(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Orchestrate(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeJobNotFound))
}

func TestOrchestrateMissingStagedGdb(t *testing.T) {
	svc, runner, job := newTestService(t)
	require.NoError(t, os.RemoveAll(stagingGdbDir(job.JobId)))

	require.NoError(t, svc.Orchestrate(context.Background(), job.JobId))

	got := jobStatus(t, svc, job.JobId)
	assert.Equal(t, types.JobStatusFailed, got.Status)
	assert.Equal(t, "No staged geodatabase found", got.Error)
	assert.Empty(t, runner.seen())
}
