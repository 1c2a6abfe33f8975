package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"document-context-platform/internal/logger"
	"document-context-platform/internal/pipeline"
	"document-context-platform/models"
)

const TaskProcessUpload = "upload:process"

// ProcessUploadPayload carries the created record plus the raw file bytes.
// Files are never written to disk, so the queue payload is the only place
// the bytes live between accept and processing.
type ProcessUploadPayload struct {
	Record models.UploadRecord `json:"record"`
	Data   []byte              `json:"data"`
}

// Enqueuer submits pipeline work to the asynq queue.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

func (e *Enqueuer) EnqueueProcess(ctx context.Context, rec *models.UploadRecord, data []byte) error {
	payload, err := json.Marshal(ProcessUploadPayload{Record: *rec, Data: data})
	if err != nil {
		return err
	}

	task := asynq.NewTask(
		TaskProcessUpload,
		payload,
		asynq.MaxRetry(2),
		asynq.Timeout(15*time.Minute),
		asynq.Queue("critical"),
	)
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logger.Debug("enqueued upload for processing", "record_id", rec.ID, "task_id", info.ID)
	return nil
}

// TaskProcessor handles queued pipeline tasks in the worker binary.
type TaskProcessor struct {
	orchestrator *pipeline.Orchestrator
}

func NewTaskProcessor(orchestrator *pipeline.Orchestrator) *TaskProcessor {
	return &TaskProcessor{orchestrator: orchestrator}
}

// ProcessUpload runs the pipeline for one queued upload. The pipeline drives
// the record to a terminal status itself and failures are recorded on the
// row, so the task never signals asynq to retry except on a corrupt payload.
func (p *TaskProcessor) ProcessUpload(ctx context.Context, t *asynq.Task) error {
	var payload ProcessUploadPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}

	logger.Info("processing queued upload",
		"record_id", payload.Record.ID, "owner_id", payload.Record.OwnerID)
	p.orchestrator.Run(ctx, &payload.Record, payload.Data, nil)
	return nil
}
