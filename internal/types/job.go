package types

import (
	"strings"
	"time"
)

// JobStatus is the lifecycle state of a map-creation job. Values are stored
// verbatim in the jobs table, so they never change meaning between releases.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCanceled   JobStatus = "canceled"
	JobStatusFailed     JobStatus = "failed"
	JobStatusComplete   JobStatus = "complete"
)

// IsTerminal reports whether no further transition can occur from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCanceled || s == JobStatusFailed || s == JobStatusComplete
}

// AllowedPrior returns the statuses a job may hold immediately before moving
// to s. Status writes are guarded with this set so a row never moves backward
// (e.g. a late "processing" write cannot demote a job already cancelling) and
// never leaves a terminal state.
func (s JobStatus) AllowedPrior() []JobStatus {
	switch s {
	case JobStatusProcessing:
		return []JobStatus{JobStatusQueued, JobStatusProcessing}
	case JobStatusCancelling:
		return []JobStatus{JobStatusQueued, JobStatusProcessing}
	case JobStatusCanceled:
		return []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusCancelling}
	case JobStatusFailed, JobStatusComplete:
		return []JobStatus{JobStatusQueued, JobStatusProcessing, JobStatusCancelling}
	default:
		return nil
	}
}

// MapJob is the durable record of one map-creation job.
type MapJob struct {
	Id            int64     `json:"-" gorm:"column:id;primarykey"`
	JobId         string    `json:"job_id" gorm:"column:job_id;type:varchar(64);uniqueIndex"`
	Status        JobStatus `json:"status" gorm:"column:status;type:varchar(16);index"`
	Error         string    `json:"error,omitempty" gorm:"column:error"`
	SurveyType    string    `json:"survey_type" gorm:"column:survey_type;type:varchar(64)"`
	DivisionCode  string    `json:"division_code,omitempty" gorm:"column:division_code;type:varchar(8)"`
	SourceZip     string    `json:"-" gorm:"column:source_zip"`
	GridzonePath  string    `json:"-" gorm:"column:gridzone_path"`
	OutputDir     string    `json:"-" gorm:"column:output_dir"`
	ResultZipPath string    `json:"-" gorm:"column:result_zip_path"`
	ResultOssUrl  string    `json:"result_oss_url,omitempty" gorm:"column:result_oss_url"`
	CreatedAt     time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime;index"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (MapJob) TableName() string {
	return "jobs"
}

// StepResult is the structured outcome of one engine checkpoint. Success is a
// pointer so a payload that never carried the flag is distinguishable from an
// explicit false; the bridge treats a nil Success as a malformed result.
type StepResult struct {
	Success *bool    `json:"success"`
	Data    string   `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Ok reports whether the step conformed to the contract and succeeded.
func (r StepResult) Ok() bool {
	return r.Success != nil && *r.Success
}

// Conforms reports whether the payload carried the mandatory success flag.
func (r StepResult) Conforms() bool {
	return r.Success != nil
}

// ErrorText joins the step's reported errors for a job failure message.
func (r StepResult) ErrorText() string {
	return strings.Join(r.Errors, "; ")
}

// StepOK builds a successful StepResult carrying an optional output path.
func StepOK(data string) StepResult {
	ok := true
	return StepResult{Success: &ok, Data: data}
}

// StepFailed builds a failed StepResult with the given error strings.
func StepFailed(errs ...string) StepResult {
	ok := false
	return StepResult{Success: &ok, Errors: errs}
}
