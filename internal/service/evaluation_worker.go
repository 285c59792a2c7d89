package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/jobs"
)

// AdvanceJobType labels queued advance jobs.
const AdvanceJobType = "evaluation.advance"

type advancer interface {
	Advance(ctx context.Context, requestID string, req dto.AdvanceRequest) (*models.EvaluationResult, error)
	CheckAdvance(ctx context.Context, requestID string, req dto.AdvanceRequest) (*models.EvaluationRequest, error)
}

// AdvancePayload is carried by queued advance jobs.
type AdvancePayload struct {
	RequestID string
	Request   dto.AdvanceRequest
}

// EvaluationWorker runs Advance in the background through a job queue.
type EvaluationWorker struct {
	evaluations advancer
	queue       jobDispatcher
	logger      *zap.Logger
}

// NewEvaluationWorker constructs a worker. SetQueue must be called before Enqueue.
func NewEvaluationWorker(evaluations advancer, logger *zap.Logger) *EvaluationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationWorker{evaluations: evaluations, logger: logger}
}

// SetQueue attaches the dispatcher; the queue itself is built with Handle as handler.
func (w *EvaluationWorker) SetQueue(queue jobDispatcher) {
	w.queue = queue
}

// Enqueue checks the request can be advanced and schedules the work.
func (w *EvaluationWorker) Enqueue(ctx context.Context, requestID string, req dto.AdvanceRequest) (*dto.AdvanceAcceptedResponse, error) {
	if w.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "evaluation queue not configured")
	}
	request, err := w.evaluations.CheckAdvance(ctx, requestID, req)
	if err != nil {
		return nil, err
	}
	job := jobs.Job{
		ID:       uuid.NewString(),
		Type:     AdvanceJobType,
		Payload:  AdvancePayload{RequestID: requestID, Request: req},
		Enqueued: time.Now().UTC(),
	}
	if err := w.queue.Enqueue(job); err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "evaluation queue is full")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "evaluation queue unavailable")
	}
	w.logger.Sugar().Infow("advance queued", "job_id", job.ID, "request_id", requestID, "document_id", req.DocumentID)
	return &dto.AdvanceAcceptedResponse{
		RequestID:  requestID,
		DocumentID: req.DocumentID,
		Status:     request.Status,
		JobID:      job.ID,
	}, nil
}

// Handle processes a queued advance. Errors are permanent so the queue never retries.
func (w *EvaluationWorker) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(AdvancePayload)
	if !ok {
		return jobs.Permanent(fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID))
	}
	_, err := w.evaluations.Advance(ctx, payload.RequestID, payload.Request)
	if err != nil {
		w.logger.Sugar().Warnw("queued advance failed", "job_id", job.ID, "request_id", payload.RequestID, "error", err)
		return jobs.Permanent(err)
	}
	return nil
}
