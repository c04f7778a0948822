package service

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/dto"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/joblog"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/log"
	"github.com/andrewpyen/arcpy-automated-map-creation/pkg/archive"
	apperrors "github.com/andrewpyen/arcpy-automated-map-creation/pkg/errors"
)

const (
	resultsDirName = "results"
	resultsZipName = "results.zip"
)

// Division codes ride in archive names like MyProject_SAZ_20250109.gdb.zip:
// a delimited three-letter chunk first, any standalone chunk as fallback.
var (
	reDivisionDelimited  = regexp.MustCompile(`[_\-]([A-Z]{3})[_.\-]`)
	reDivisionStandalone = regexp.MustCompile(`\b([A-Z]{3})\b`)
	reDivisionOverride   = regexp.MustCompile(`^[A-Z]{3}$`)
)

// SubmitMapJob stages the submission, records the job as queued and hands it
// to the executor. The response carries the id immediately; all processing
// happens behind it.
func (s Service) SubmitMapJob(ctx context.Context, req dto.SubmitMapJobReq, gdbZip, gridzone *multipart.FileHeader) (*dto.SubmitMapJobResData, error) {
	st, ok := s.Surveys.Get(req.SurveyType)
	if !ok {
		detail := ""
		if closest := s.Surveys.Closest(req.SurveyType); closest != "" {
			detail = fmt.Sprintf("did you mean %q?", closest)
		}
		return nil, apperrors.WrapWithDetail(apperrors.CodeUnknownSurveyType,
			fmt.Sprintf("Invalid survey_type: %s", req.SurveyType), detail, nil)
	}

	division := strings.ToUpper(strings.TrimSpace(req.Division))
	if division != "" && !reDivisionOverride.MatchString(division) {
		return nil, apperrors.New(apperrors.CodeInvalidParams,
			fmt.Sprintf("Invalid division override: %s", req.Division))
	}

	// Resolve the source archive: uploaded, named in the registry dir, or
	// the registry's current entry.
	var sourceZip, zipName string
	switch {
	case gdbZip != nil:
		zipName = filepath.Base(gdbZip.Filename)
	case req.ZipName != "":
		if !safeArchiveName(req.ZipName) {
			return nil, apperrors.New(apperrors.CodeBadSourceZip,
				fmt.Sprintf("Invalid zip_name: %s", req.ZipName))
		}
		path, name, err := s.resolveRegistryZip(req.ZipName)
		if err != nil {
			return nil, err
		}
		sourceZip, zipName = path, name
	default:
		if s.Zips == nil {
			return nil, apperrors.ErrNoRegistryZip
		}
		entry, err := s.Zips.Current()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeNoRegistryZip,
				"No geodatabase zip available in registry", err)
		}
		sourceZip, zipName = entry.Path, entry.Name
	}

	if division == "" {
		division = extractDivisionCode(zipName)
	}

	jobID := uuid.NewString()
	stagingDir := filepath.Join(config.Conf.Paths.UploadRoot, jobID)
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeFileWriteError, "Failed to create staging directory", err)
	}

	if gdbZip != nil {
		sourceZip = filepath.Join(stagingDir, zipName)
		if err := saveUpload(gdbZip, sourceZip); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUploadFailed, "Failed to store uploaded zip", err)
		}
	}

	gdbDir := stagingGdbDir(jobID)
	if err := archive.Unzip(sourceZip, gdbDir); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeBadSourceZip,
			fmt.Sprintf("Failed to extract %s", zipName), err)
	}
	if gdbs := listGdbDirs(gdbDir); len(gdbs) == 0 {
		return nil, apperrors.New(apperrors.CodeBadSourceZip,
			fmt.Sprintf("No .gdb found inside %s.", zipName))
	}

	// Gridzone workbook: the uploaded one wins, then the survey type's
	// configured default.
	gridzonePath := ""
	switch {
	case gridzone != nil:
		gridzonePath = filepath.Join(stagingDir, filepath.Base(gridzone.Filename))
		if err := saveUpload(gridzone, gridzonePath); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUploadFailed, "Failed to store gridzone workbook", err)
		}
	case st.GridzoneFile != "":
		if _, err := os.Stat(st.GridzoneFile); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFileNotFound,
				fmt.Sprintf("Configured gridzone workbook missing for %s", st.Name), err)
		}
		gridzonePath = st.GridzoneFile
	default:
		return nil, apperrors.New(apperrors.CodeInvalidParams,
			"Gridzone workbook required: upload one or configure a default for the survey type")
	}

	if s.Agol != nil && len(st.LayerItems) > 0 {
		if err := s.Agol.Preflight(ctx, st.LayerItems); err != nil {
			return nil, apperrors.Wrap(apperrors.CodePreflightFailed,
				"Referenced portal items failed preflight", err)
		}
	}

	outputDir := filepath.Join(config.Conf.Paths.OutputRoot, jobID)
	for _, sub := range []string{joblog.LogDirName, resultsDirName} {
		if err := os.MkdirAll(filepath.Join(outputDir, sub), 0o755); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeFileWriteError, "Failed to create output directory", err)
		}
	}

	job := &types.MapJob{
		JobId:        jobID,
		Status:       types.JobStatusQueued,
		SurveyType:   st.Name,
		DivisionCode: division,
		SourceZip:    sourceZip,
		GridzonePath: gridzonePath,
		OutputDir:    outputDir,
	}
	if err := s.Store.CreateJob(job); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDBError, "Failed to record job", err)
	}

	s.Tokens.Register(jobID)
	if err := s.dispatch(jobID, st.Name); err != nil {
		s.Tokens.Unregister(jobID)
		s.Store.UpdateStatus(jobID, types.JobStatusFailed, "Not dispatched: "+err.Error())
		return nil, apperrors.Wrap(apperrors.CodeQueueSaturated, "Job queue is full, retry later", err)
	}

	if s.Metrics != nil {
		s.Metrics.RecordJobSubmitted(ctx, st.Name)
	}
	log.GetLogger().Info("map job queued",
		zap.String("job_id", jobID),
		zap.String("survey_type", st.Name),
		zap.String("source_zip", zipName),
		zap.String("division", division))

	return &dto.SubmitMapJobResData{JobId: jobID, Status: string(types.JobStatusQueued)}, nil
}

func (s Service) dispatch(jobID, surveyType string) error {
	if s.Dispatch == nil {
		return fmt.Errorf("no job executor configured")
	}
	return s.Dispatch(jobID, surveyType)
}

// resolveRegistryZip finds a named archive in the drop directory. The
// registry only indexes dated archives, so undated names fall back to a
// direct stat.
func (s Service) resolveRegistryZip(name string) (path, resolved string, err error) {
	if s.Zips == nil {
		return "", "", apperrors.ErrNoRegistryZip
	}
	if entry, ok := s.Zips.Lookup(name); ok {
		return entry.Path, entry.Name, nil
	}
	direct := filepath.Join(s.Zips.Dir(), name)
	if _, statErr := os.Stat(direct); statErr != nil {
		return "", "", apperrors.New(apperrors.CodeBadSourceZip,
			fmt.Sprintf("zip_name '%s' not found in registry directory", name))
	}
	return direct, name, nil
}

// stagingGdbDir is where a job's geodatabase is extracted; the orchestrator
// rediscovers it from here by job id alone.
func stagingGdbDir(jobID string) string {
	return filepath.Join(config.Conf.Paths.UploadRoot, jobID, "gdb")
}

// listGdbDirs returns the top-level *.gdb entries under dir.
func listGdbDirs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var gdbs []string
	for _, e := range entries {
		if strings.HasSuffix(strings.ToLower(e.Name()), ".gdb") {
			gdbs = append(gdbs, filepath.Join(dir, e.Name()))
		}
	}
	return gdbs
}

func extractDivisionCode(zipName string) string {
	if m := reDivisionDelimited.FindStringSubmatch(zipName); m != nil {
		return m[1]
	}
	if m := reDivisionStandalone.FindStringSubmatch(zipName); m != nil {
		return m[1]
	}
	return ""
}

func safeArchiveName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\") && !strings.Contains(name, "..")
}

func saveUpload(fh *multipart.FileHeader, dest string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
