// Package runner executes queued map-creation jobs with in-process workers.
// It is the default dispatch path; deployments that need cross-process
// workers switch to the asynq queue instead.
package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/log"
)

const (
	defaultQueueSize = 16
	// ArcGIS seats are licensed per concurrent process, so the default stays
	// at one worker.
	defaultConcurrency = 1
)

var (
	ErrRunnerStopped = errors.New("job runner stopped")
	ErrQueueFull     = errors.New("job queue is full")
)

// JobExecutor drives one submitted job to a terminal state.
type JobExecutor interface {
	Orchestrate(ctx context.Context, jobID string) error
}

// Config controls in-process job runner behavior.
type Config struct {
	QueueSize   int
	Concurrency int
}

func DefaultConfig() Config {
	return Config{
		QueueSize:   defaultQueueSize,
		Concurrency: defaultConcurrency,
	}
}

// MapJobPayload contains map-creation enqueue data. Everything else a run
// needs lives on the persisted job row.
type MapJobPayload struct {
	JobID      string `json:"job_id"`
	SurveyType string `json:"survey_type"`
}

// Runner executes queued jobs with in-memory workers.
type Runner struct {
	executor JobExecutor
	config   Config

	queue  chan MapJobPayload
	ctx    context.Context
	cancel context.CancelFunc

	workerWg sync.WaitGroup
	closed   atomic.Bool
}

// New creates and starts a job runner.
func New(executor JobExecutor, cfg Config) *Runner {
	cfg = normalizeConfig(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	runner := &Runner{
		executor: executor,
		config:   cfg,
		queue:    make(chan MapJobPayload, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}

	for i := 0; i < cfg.Concurrency; i++ {
		runner.workerWg.Add(1)
		go runner.worker(i + 1)
	}

	return runner
}

func normalizeConfig(cfg Config) Config {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return cfg
}

// SubmitMapJob queues a map-creation job.
func (r *Runner) SubmitMapJob(payload MapJobPayload) error {
	if payload.JobID == "" {
		return errors.New("map job id is required")
	}
	if r.closed.Load() {
		return ErrRunnerStopped
	}

	select {
	case <-r.ctx.Done():
		return ErrRunnerStopped
	case r.queue <- payload:
		log.GetLogger().Info("[JobRunner] job submitted",
			zap.String("job_id", payload.JobID),
			zap.String("survey_type", payload.SurveyType))
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Runner) worker(workerID int) {
	defer r.workerWg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		select {
		case <-r.ctx.Done():
			return
		case payload := <-r.queue:
			r.processJob(workerID, payload)
		}
	}
}

func (r *Runner) processJob(workerID int, payload MapJobPayload) {
	if r.executor == nil {
		log.GetLogger().Error("[JobRunner] no executor configured",
			zap.String("job_id", payload.JobID))
		return
	}

	if err := r.executor.Orchestrate(r.ctx, payload.JobID); err != nil {
		log.GetLogger().Error("[JobRunner] job failed",
			zap.Int("worker_id", workerID),
			zap.String("job_id", payload.JobID),
			zap.String("survey_type", payload.SurveyType),
			zap.Error(err))
		return
	}

	log.GetLogger().Info("[JobRunner] job finished",
		zap.Int("worker_id", workerID),
		zap.String("job_id", payload.JobID),
		zap.String("survey_type", payload.SurveyType))
}

// Close stops workers and rejects new jobs. In-flight jobs observe the
// canceled context, abort their engine step and persist a terminal status
// before the worker exits.
func (r *Runner) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}

	r.cancel()
	r.workerWg.Wait()
}

// Pending returns the number of queued jobs waiting for workers.
func (r *Runner) Pending() int {
	return len(r.queue)
}
