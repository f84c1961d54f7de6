// Package ingest runs knowledge ingestion in the background from the SQLite
// job queue.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/knowledge"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// Job types handled by the worker.
const (
	JobKnowledgeDigest = "knowledge_digest"
	JobKnowledgeAction = "knowledge_action"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// Ingestor is the part of knowledge.Ingestor the worker drives.
type Ingestor interface {
	IngestDigest(ctx context.Context, digestID string) (knowledge.Outcome, error)
	IngestAction(ctx context.Context, actionID string) (knowledge.Outcome, error)
}

type jobPayload struct {
	DigestID string `json:"digest_id,omitempty"`
	ActionID string `json:"action_id,omitempty"`
}

// DigestJob builds the job that ingests a freshly stored digest.
func DigestJob(digestID string) storage.Job {
	return newJob(JobKnowledgeDigest, jobPayload{DigestID: digestID})
}

// ActionJob builds the job that ingests an executed action.
func ActionJob(actionID string) storage.Job {
	return newJob(JobKnowledgeAction, jobPayload{ActionID: actionID})
}

func newJob(typ string, p jobPayload) storage.Job {
	raw, _ := json.Marshal(p)
	return storage.Job{ID: uuid.New().String(), Type: typ, PayloadJSON: string(raw)}
}

// Worker processes knowledge jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	ingestor Ingestor
	poll     time.Duration
	logger   *zap.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, ingestor Ingestor, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    store,
		ingestor: ingestor,
		poll:     pollInterval,
		logger:   logger,
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", zap.Error(err))
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single knowledge job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobKnowledgeDigest, JobKnowledgeAction})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", zap.String("job_id", job.ID), zap.String("type", job.Type), zap.Error(err))
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload jobPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	var out knowledge.Outcome
	var err error
	switch job.Type {
	case JobKnowledgeDigest:
		out, err = w.ingestor.IngestDigest(ctx, payload.DigestID)
	case JobKnowledgeAction:
		out, err = w.ingestor.IngestAction(ctx, payload.ActionID)
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
	if err != nil {
		return err
	}

	w.logger.Debug("job done",
		zap.String("job_id", job.ID),
		zap.String("source_id", out.SourceID),
		zap.Int("items", out.ItemsCreated),
		zap.Bool("skipped", out.Skipped),
	)
	return nil
}
