// Package service implements the map-creation pipeline: submission staging,
// the checkpointed job orchestrator and the query/control operations the API
// exposes.
package service

import (
	"context"
	"time"

	"github.com/andrewpyen/arcpy-automated-map-creation/config"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/cancel"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/engine"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/lut"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/notify"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/observability"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/storage"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/types"
	"github.com/andrewpyen/arcpy-automated-map-creation/internal/zipreg"
	"github.com/andrewpyen/arcpy-automated-map-creation/pkg/agol"
	"github.com/andrewpyen/arcpy-automated-map-creation/pkg/oss"
)

// StepRunner runs one engine checkpoint and reports its decoded result.
type StepRunner interface {
	RunStep(ctx context.Context, req engine.StepRequest) types.StepResult
}

// LookupFetcher pulls the asset-type lookup table for the engine.
type LookupFetcher interface {
	Enabled() bool
	FetchCSV(ctx context.Context, destPath string) error
}

// Preflighter verifies referenced portal items before a submission is accepted.
type Preflighter interface {
	Preflight(ctx context.Context, itemIDs []string) error
}

// Uploader offloads the packaged result archive to object storage.
type Uploader interface {
	UploadFile(ctx context.Context, key, localPath string) (string, error)
}

// Notifier announces terminal job states.
type Notifier interface {
	JobFinished(jobID string, status types.JobStatus) error
}

// DispatchFunc hands an accepted job to the executor backend. Wired after
// construction because the executor itself runs Service.Orchestrate.
type DispatchFunc func(jobID, surveyType string) error

type Service struct {
	Store    *storage.Store
	Tokens   *cancel.Registry
	Zips     *zipreg.Registry
	Surveys  *config.SurveyTypeSet
	Engine   StepRunner
	Lookup   LookupFetcher
	Agol     Preflighter            // nil disables submission preflight
	Oss      Uploader               // nil disables result offload
	Sms      Notifier               // nil disables notifications
	Metrics  *observability.Metrics // nil disables instrumentation
	Dispatch DispatchFunc
}

// NewService assembles the pipeline from configuration. The store, token
// registry, zip registry and survey catalogue are managed by the caller; the
// engine bridge and the optional clients are built here from config.
func NewService(store *storage.Store, tokens *cancel.Registry, zips *zipreg.Registry, surveys *config.SurveyTypeSet, metrics *observability.Metrics) (*Service, error) {
	s := &Service{
		Store:   store,
		Tokens:  tokens,
		Zips:    zips,
		Surveys: surveys,
		Metrics: metrics,
	}

	s.Engine = engine.NewBridge(
		config.Conf.Engine.Python,
		config.Conf.Engine.Script,
		time.Duration(config.Conf.Engine.StepTimeoutMin)*time.Minute,
	)
	s.Lookup = lut.NewFetcher(config.Conf.Database)

	if config.Conf.Agol.Enabled {
		s.Agol = agol.NewClient(
			config.Conf.Agol.PortalUrl,
			config.Conf.Agol.Username,
			config.Conf.Agol.Password,
			config.Conf.Agol.TokenMinutes,
		)
	}
	if config.Conf.Oss.Enabled {
		s.Oss = oss.NewClient(
			config.Conf.Oss.AccessKeyId,
			config.Conf.Oss.AccessKeySecret,
			config.Conf.Oss.Region,
			config.Conf.Oss.Bucket,
		)
	}
	if config.Conf.Sms.Enabled {
		sms, err := notify.NewSmsNotifier(config.Conf.Sms)
		if err != nil {
			return nil, err
		}
		s.Sms = sms
	}
	return s, nil
}
