package service

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/engine"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/joblog"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/log"
	"github.com/andrewpyen/arcpy-automated-map-creation/pkg/archive"
	apperrors "github.com/andrewpyen/arcpy-automated-map-creation/pkg/errors"
)

// lookupCSVName is where the asset-type lookup lands for the engine to read.
const lookupCSVName = "lookup.csv"

// Orchestrate drives one queued job through the checkpoint pipeline: grid
// partition, feature export, result packaging. Every transition is persisted;
// cancellation and fail-fast state are checked between checkpoints, never
// inside one. The returned error reports infrastructure trouble only - a job
// that fails on its own terms is recorded in the store and returns nil.
func (s Service) Orchestrate(ctx context.Context, jobID string) (err error) {
	job, err := s.Store.GetJob(jobID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeJobNotFound, fmt.Sprintf("job %s not found", jobID), err)
	}

	// A queue-mode worker process never saw the submission, so the token
	// may not exist here yet.
	token, ok := s.Tokens.Lookup(jobID)
	if !ok {
		token = s.Tokens.Register(jobID)
	}
	defer s.Tokens.Unregister(jobID)

	start := time.Now()
	outcome := types.JobStatusFailed
	finish := func() {
		elapsed := time.Since(start)
		if s.Metrics != nil {
			s.Metrics.RecordJobFinished(ctx, job.SurveyType, outcome, elapsed.Seconds())
		}
		if s.Sms != nil && outcome != types.JobStatusCanceled {
			if nerr := s.Sms.JobFinished(jobID, outcome); nerr != nil {
				log.GetLogger().Warn("job notification failed", zap.String("job_id", jobID), zap.Error(nerr))
			}
		}
		log.GetLogger().Info("map job finished",
			zap.String("job_id", jobID),
			zap.String("outcome", string(outcome)),
			zap.Duration("elapsed", elapsed))
	}

	jl, err := joblog.New(jobID, job.OutputDir)
	if err != nil {
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, "Cannot open job log: "+err.Error())
		finish()
		return err
	}
	defer jl.Close()
	defer func() {
		jl.Info("Job finalizer finished")
		finish()
	}()
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			log.GetLogger().Error("map job panic", zap.Any("panic:", r), zap.Any("stack:", buf))
			s.Store.UpdateStatus(jobID, types.JobStatusFailed, fmt.Sprint(r))
			jl.Errorf("Unhandled error in job: %v", r)
			err = fmt.Errorf("map job %s panicked: %v", jobID, r)
		}
	}()

	// The engine writes error text into the log file through channels the
	// structured logger never sees; abortIfError rescans the file so those
	// still stop the job.
	abortIfError := func(prefix string) bool {
		jl.Watcher.ScanFileOnce()
		msg := jl.Watcher.ErrorMessage()
		if msg == "" {
			return false
		}
		full := fmt.Sprintf("%sFail-fast due to error in logs: %s", prefix, msg)
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, full)
		jl.Error(full)
		return true
	}

	s.Store.UpdateStatus(jobID, types.JobStatusProcessing, "")
	jl.Info("Job started")

	if abortIfError("pre-start: ") {
		return nil
	}

	if token.Cancelled() {
		s.Store.UpdateStatus(jobID, types.JobStatusCanceled, "Canceled before start")
		jl.Warn("Cancellation flag set before start")
		outcome = types.JobStatusCanceled
		return nil
	}

	// Optional asset-type lookup from the database. Failures degrade the
	// output, they do not stop the job.
	lookupCSV := ""
	if s.Lookup != nil && s.Lookup.Enabled() {
		jl.Info("Attempting database fetch for LUTAssetTypes")
		dest := filepath.Join(job.OutputDir, lookupCSVName)
		if ferr := s.Lookup.FetchCSV(ctx, dest); ferr != nil {
			msg := fmt.Sprintf("Warning: could not load LUTAssetTypes from DB - %v", ferr)
			s.Store.UpdateStatus(jobID, types.JobStatusProcessing, msg)
			jl.Warn(msg)
		} else {
			jl.Info("Database fetch succeeded")
			lookupCSV = dest
		}
	}

	if token.Cancelled() {
		s.Store.UpdateStatus(jobID, types.JobStatusCanceled, "Canceled before processing")
		jl.Warn("Cancellation before processing")
		outcome = types.JobStatusCanceled
		return nil
	}

	gdbs := listGdbDirs(stagingGdbDir(jobID))
	if len(gdbs) == 0 {
		msg := "No staged geodatabase found"
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, msg)
		jl.Error(msg)
		return nil
	}
	gdbPath := gdbs[0]

	// Step 1 - grid partition and clipping
	if token.Cancelled() {
		s.Store.UpdateStatus(jobID, types.JobStatusCanceled, "Canceled before grid processing")
		jl.Warn("Cancellation before grid processing")
		outcome = types.JobStatusCanceled
		return nil
	}

	jl.Info("Step 1: process grid and clipping - start")
	step1 := s.runStep(ctx, engine.StepRequest{
		Step:         engine.StepPartition,
		JobID:        jobID,
		SurveyType:   job.SurveyType,
		DivisionCode: job.DivisionCode,
		Workdir:      job.OutputDir,
		GdbPath:      gdbPath,
		GridzonePath: job.GridzonePath,
		LookupCSV:    lookupCSV,
		LogPath:      jl.Path,
	})

	// A latched engine error is more specific than the generic step
	// verdict, so it wins and the row sees a single failed write.
	if abortIfError("after step1: ") {
		return nil
	}
	if !step1.Ok() {
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, "Grid processing failed")
		jl.Error("Step 1 failed")
		return nil
	}
	jl.Info("Step 1: completed successfully")

	// Step 2 - feature collections
	if token.Cancelled() {
		s.Store.UpdateStatus(jobID, types.JobStatusCanceled, "Canceled before export")
		jl.Warn("Cancellation before export")
		outcome = types.JobStatusCanceled
		return nil
	}

	jl.Info("Step 2: export feature collections - start")
	step2 := s.runStep(ctx, engine.StepRequest{
		Step:         engine.StepExport,
		JobID:        jobID,
		SurveyType:   job.SurveyType,
		DivisionCode: job.DivisionCode,
		Workdir:      job.OutputDir,
		InputFolder:  step1.Data,
		LookupCSV:    lookupCSV,
		LogPath:      jl.Path,
	})
	if !step2.Conforms() {
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, "Internal error - export step did not return a result")
		jl.Errorf("Step 2 failed: %s", step2.ErrorText())
		return nil
	}
	if !step2.Ok() {
		msg := step2.ErrorText()
		if msg == "" {
			msg = "Export failed"
		}
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, msg)
		jl.Errorf("Step 2 failed: %s", msg)
		return nil
	}
	jl.Info("Step 2: completed successfully")

	// Step 3 - zip output for download
	if token.Cancelled() {
		s.Store.UpdateStatus(jobID, types.JobStatusCanceled, "Canceled before zip")
		jl.Warn("Cancellation before zip")
		outcome = types.JobStatusCanceled
		return nil
	}

	resultsDir := filepath.Join(job.OutputDir, resultsDirName)
	zipDest := filepath.Join(job.OutputDir, resultsZipName)
	jl.Infof("Step 3: zipping output from '%s' to '%s'", resultsDir, zipDest)

	if abortIfError("before zip: ") {
		return nil
	}

	jl.Info("Clearing caches before zipping")
	archive.RemoveLockFiles(resultsDir)

	if _, zerr := archive.ZipDirectory(resultsDir, zipDest); zerr != nil {
		msg := fmt.Sprintf("Zipping failed: %v", zerr)
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, msg)
		jl.Error(msg)
		return nil
	}
	jl.Infof("Zipping output completed: %s", zipDest)

	job.ResultZipPath = zipDest
	if s.Oss != nil {
		key := fmt.Sprintf("map-results/%s/%s", jobID, resultsZipName)
		if url, uerr := s.Oss.UploadFile(ctx, key, zipDest); uerr != nil {
			jl.Warnf("Warning: result upload to OSS failed - %v", uerr)
		} else {
			job.ResultOssUrl = url
			jl.Infof("Result uploaded to OSS: %s", url)
		}
	}

	jl.Info("Zipping completed")
	s.Store.UpdateStatus(jobID, types.JobStatusComplete, "")
	job.Status = types.JobStatusComplete
	if serr := s.Store.SaveJob(job); serr != nil {
		log.GetLogger().Warn("failed to record result path", zap.String("job_id", jobID), zap.Error(serr))
	}
	jl.Info("Job completed successfully")
	outcome = types.JobStatusComplete
	return nil
}

func (s Service) runStep(ctx context.Context, req engine.StepRequest) types.StepResult {
	stepStart := time.Now()
	res := s.Engine.RunStep(ctx, req)
	if s.Metrics != nil {
		s.Metrics.RecordStep(ctx, string(req.Step), res.Ok(), time.Since(stepStart).Seconds())
	}
	return res
}
