package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/dto"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/joblog"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/zipreg"
	apperrors "github.com/andrewpyen/arcpy-automated-map-creation/pkg/errors"
)

// ParseLevel validates a log level query parameter, defaulting to all.
func ParseLevel(level string) (types.LogLevelFilter, error) {
	if level == "" {
		return types.LogFilterAll, nil
	}
	f := types.LogLevelFilter(strings.ToLower(level))
	if !f.Valid() {
		return "", apperrors.New(apperrors.CodeInvalidParams, fmt.Sprintf("Invalid level filter: %s", level))
	}
	return f, nil
}

// GetJobStatus returns one job's status with its filtered log view.
func (s Service) GetJobStatus(jobID string, level types.LogLevelFilter) (*dto.JobStatusResData, error) {
	job, err := s.Store.GetJob(jobID)
	if err != nil {
		return nil, jobLookupError(jobID, err)
	}
	data := s.jobStatusView(job, level)
	return &data, nil
}

// ListJobs returns every job newest-first, each with its filtered log view.
func (s Service) ListJobs(level types.LogLevelFilter) (*dto.ListJobsResData, error) {
	jobs, err := s.Store.ListJobs(0)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "Failed to list jobs", err)
	}
	return &dto.ListJobsResData{
		Jobs: lo.Map(jobs, func(job types.MapJob, _ int) dto.JobStatusResData {
			return s.jobStatusView(&job, level)
		}),
	}, nil
}

// JobLogs returns the leveled log view for one job.
func (s Service) JobLogs(jobID string, level types.LogLevelFilter) (*dto.JobLogsResData, error) {
	job, err := s.Store.GetJob(jobID)
	if err != nil {
		return nil, jobLookupError(jobID, err)
	}
	logs := joblog.FilterByLevel(joblog.Collect(filepath.Join(job.OutputDir, joblog.LogDirName)), level)
	return &dto.JobLogsResData{JobId: jobID, Logs: logs}, nil
}

// CancelJob signals a queued or running job to cancel. A job with no live
// token reports its last persisted status instead.
func (s Service) CancelJob(jobID string) (*dto.CancelJobResData, error) {
	token, ok := s.Tokens.Lookup(jobID)
	if !ok {
		job, err := s.Store.GetJob(jobID)
		if err != nil {
			return nil, jobLookupError(jobID, err)
		}
		return &dto.CancelJobResData{
			JobId:   jobID,
			Status:  string(job.Status),
			Message: "Job not running; no cancel needed",
		}, nil
	}

	s.Store.UpdateStatus(jobID, types.JobStatusCancelling, "")
	token.Signal()
	return &dto.CancelJobResData{
		JobId:   jobID,
		Status:  string(types.JobStatusCancelling),
		Message: "Cancellation requested",
	}, nil
}

// CancelAllJobs signals every live token, then records the transitions.
func (s Service) CancelAllJobs() *dto.CancelAllResData {
	ids := s.Tokens.SignalAll()
	for _, id := range ids {
		s.Store.UpdateStatus(id, types.JobStatusCancelling, "")
	}
	return &dto.CancelAllResData{Count: len(ids), JobIds: ids}
}

// ResolveDownload validates the job id and returns the path of its packaged
// results. Only complete jobs have one.
func (s Service) ResolveDownload(jobID string) (string, error) {
	if strings.ContainsAny(jobID, "/\\") || strings.Contains(jobID, "..") {
		return "", apperrors.New(apperrors.CodeInvalidParams, "Invalid job id")
	}
	job, err := s.Store.GetJob(jobID)
	if err != nil {
		return "", jobLookupError(jobID, err)
	}
	if job.Status != types.JobStatusComplete {
		return "", apperrors.New(apperrors.CodeJobNotComplete, "Job has no result yet")
	}
	path := job.ResultZipPath
	if path == "" {
		path = filepath.Join(job.OutputDir, resultsZipName)
	}
	if _, err := os.Stat(path); err != nil {
		return "", apperrors.Wrap(apperrors.CodeFileNotFound, "ZIP file not found", err)
	}
	return path, nil
}

// RegistryCurrent reports the zip registry's view of the drop directory.
func (s Service) RegistryCurrent() *dto.RegistryCurrentResData {
	data := &dto.RegistryCurrentResData{}
	if s.Zips == nil {
		return data
	}
	data.Entries = lo.Map(s.Zips.List(), func(e zipreg.Entry, _ int) dto.RegistryEntryData {
		return registryEntryView(e)
	})
	if current, err := s.Zips.Current(); err == nil {
		v := registryEntryView(current)
		data.Current = &v
	}
	return data
}

// RegistryRefresh forces a rescan of the drop directory.
func (s Service) RegistryRefresh() (*dto.RegistryCurrentResData, error) {
	if s.Zips == nil {
		return nil, apperrors.New(apperrors.CodeRegistryScan, "Zip registry not configured")
	}
	if err := s.Zips.Refresh(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeRegistryScan, "Registry rescan failed", err)
	}
	return s.RegistryCurrent(), nil
}

// ListSurveyTypes reports the configured survey catalogue.
func (s Service) ListSurveyTypes() *dto.SurveyTypesResData {
	names := s.Surveys.Names()
	data := &dto.SurveyTypesResData{SurveyTypes: make([]dto.SurveyTypeData, 0, len(names))}
	for _, name := range names {
		st, ok := s.Surveys.Get(name)
		if !ok {
			continue
		}
		data.SurveyTypes = append(data.SurveyTypes, dto.SurveyTypeData{
			Name:        st.Name,
			Description: st.Description,
			LayerCount:  len(st.LayerItems),
		})
	}
	return data
}

func (s Service) jobStatusView(job *types.MapJob, level types.LogLevelFilter) dto.JobStatusResData {
	data := dto.JobStatusResData{
		JobId:        job.JobId,
		Status:       string(job.Status),
		Error:        job.Error,
		SurveyType:   job.SurveyType,
		DivisionCode: job.DivisionCode,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		ResultOssUrl: job.ResultOssUrl,
	}
	// A job with no output dir has no logs worth collecting.
	if job.OutputDir != "" {
		logs := joblog.FilterByLevel(joblog.Collect(filepath.Join(job.OutputDir, joblog.LogDirName)), level)
		data.LogsSummary = &logs
	}
	if job.Status == types.JobStatusComplete {
		data.DownloadUrl = fmt.Sprintf("/api/jobs/%s/download", job.JobId)
	}
	return data
}

func registryEntryView(e zipreg.Entry) dto.RegistryEntryData {
	return dto.RegistryEntryData{
		Name:     e.Name,
		Date:     e.Date.Format("2006-01-02"),
		Modified: e.ModTime,
	}
}

func jobLookupError(jobID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(apperrors.CodeJobNotFound, "Job ID not found", err)
	}
	return apperrors.Wrap(apperrors.CodeDBError, fmt.Sprintf("Failed to load job %s", jobID), err)
}
