package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/andrewpyen/arcpy-automated-map-creation/log"
)

// JobExecutor drives one submitted job to a terminal state.
type JobExecutor interface {
	Orchestrate(ctx context.Context, jobID string) error
}

// TaskHandlers provides handlers for the queued task types.
type TaskHandlers struct {
	executor JobExecutor
}

func NewTaskHandlers(executor JobExecutor) *TaskHandlers {
	return &TaskHandlers{executor: executor}
}

// HandleMapCreate processes one map-creation job.
func (h *TaskHandlers) HandleMapCreate(ctx context.Context, t *asynq.Task) error {
	var payload MapJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	log.GetLogger().Info("[Queue] Processing map job",
		zap.String("job_id", payload.JobID),
		zap.String("survey_type", payload.SurveyType))

	if err := h.executor.Orchestrate(ctx, payload.JobID); err != nil {
		return fmt.Errorf("map job %s: %w", payload.JobID, err)
	}

	log.GetLogger().Info("[Queue] Map job completed",
		zap.String("job_id", payload.JobID))

	return nil
}

// RegisterHandlers registers all task handlers with the Asynq server mux.
func (h *TaskHandlers) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeMapCreate, h.HandleMapCreate)
}

// StartWorker starts the Asynq worker with registered handlers. It blocks
// until the server shuts down.
func StartWorker(q *Queue, executor JobExecutor) error {
	handlers := NewTaskHandlers(executor)

	mux := asynq.NewServeMux()
	handlers.RegisterHandlers(mux)

	log.GetLogger().Info("[Queue] Starting worker",
		zap.String("redis_addr", q.config.RedisAddr),
		zap.Int("concurrency", q.config.Concurrency))

	return q.server.Run(mux)
}
