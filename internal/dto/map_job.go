package dto

import (
	"time"

	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
)

// SubmitMapJobReq is the multipart form accompanying a submission. The
// geodatabase zip itself arrives as the `gdb_zip` file part; ZipName instead
// selects an archive from the registry drop directory. When both are absent
// the registry's newest archive is used.
type SubmitMapJobReq struct {
	SurveyType string `form:"survey_type" binding:"required"`
	ZipName    string `form:"zip_name"`
	Division   string `form:"division"`
}

type SubmitMapJobResData struct {
	JobId  string `json:"job_id"`
	Status string `json:"status"`
}

type SubmitMapJobRes struct {
	Error int32                `json:"error"`
	Msg   string               `json:"msg"`
	Data  *SubmitMapJobResData `json:"data"`
}

// GetJobStatusReq carries the optional log level filter (all/info/warning/error).
type GetJobStatusReq struct {
	Level string `form:"level"`
}

type JobStatusResData struct {
	JobId        string             `json:"job_id"`
	Status       string             `json:"status"`
	Error        string             `json:"error,omitempty"`
	SurveyType   string             `json:"survey_type,omitempty"`
	DivisionCode string             `json:"division_code,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
	DownloadUrl  string             `json:"download_url,omitempty"`
	ResultOssUrl string             `json:"result_oss_url,omitempty"`
	LogsSummary  *types.LogsByLevel `json:"logs_summary,omitempty"`
}

type JobStatusRes struct {
	Error int32             `json:"error"`
	Msg   string            `json:"msg"`
	Data  *JobStatusResData `json:"data"`
}

type ListJobsResData struct {
	Jobs []JobStatusResData `json:"jobs"`
}

type ListJobsRes struct {
	Error int32            `json:"error"`
	Msg   string           `json:"msg"`
	Data  *ListJobsResData `json:"data"`
}

type CancelJobResData struct {
	JobId   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type CancelJobRes struct {
	Error int32             `json:"error"`
	Msg   string            `json:"msg"`
	Data  *CancelJobResData `json:"data"`
}

type CancelAllResData struct {
	Count  int      `json:"count"`
	JobIds []string `json:"job_ids"`
}

type JobLogsResData struct {
	JobId string            `json:"job_id"`
	Logs  types.LogsByLevel `json:"logs"`
}

// RegistryEntryData is one archive from the zip registry drop directory.
type RegistryEntryData struct {
	Name     string    `json:"name"`
	Date     string    `json:"date"`
	Modified time.Time `json:"modified"`
}

type RegistryCurrentResData struct {
	Current *RegistryEntryData  `json:"current"`
	Entries []RegistryEntryData `json:"entries"`
}

type SurveyTypeData struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LayerCount  int    `json:"layer_count"`
}

type SurveyTypesResData struct {
	SurveyTypes []SurveyTypeData `json:"survey_types"`
}
