package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	internalmiddleware "github.com/noah-isme/credential-eval-api/internal/middleware"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/response"
)

type evaluationService interface {
	Submit(ctx context.Context, req dto.SubmitEvaluationRequest) (*models.EvaluationRequest, error)
	Get(ctx context.Context, id string) (*models.EvaluationDetail, error)
	List(ctx context.Context, query dto.ListEvaluationsQuery) ([]models.EvaluationRequest, *models.Pagination, error)
	Advance(ctx context.Context, requestID string, req dto.AdvanceRequest) (*models.EvaluationResult, error)
	RecordReview(ctx context.Context, requestID string, req dto.ReviewRequest, reviewerID string) (*models.EvaluationResult, error)
	Finalize(ctx context.Context, requestID string, req dto.FinalizeRequest, reviewerID string) (*models.EvaluationResult, error)
}

type advanceQueue interface {
	Enqueue(ctx context.Context, requestID string, req dto.AdvanceRequest) (*dto.AdvanceAcceptedResponse, error)
}

// EvaluationHandler exposes the evaluation request lifecycle.
type EvaluationHandler struct {
	service evaluationService
	queue   advanceQueue
}

// NewEvaluationHandler constructs the handler. queue may be nil, in which case
// async advance requests are rejected.
func NewEvaluationHandler(service evaluationService, queue advanceQueue) *EvaluationHandler {
	return &EvaluationHandler{service: service, queue: queue}
}

// Submit godoc
// @Summary Submit an evaluation request
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param payload body dto.SubmitEvaluationRequest true "Evaluation request"
// @Success 201 {object} response.Envelope
// @Router /evaluations [post]
func (h *EvaluationHandler) Submit(c *gin.Context) {
	var req dto.SubmitEvaluationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid evaluation payload"))
		return
	}
	request, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List evaluation requests
// @Tags Evaluations
// @Produce json
// @Param studentRef query string false "Student reference"
// @Param countryCode query string false "Country code"
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /evaluations [get]
func (h *EvaluationHandler) List(c *gin.Context) {
	var query dto.ListEvaluationsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query parameters"))
		return
	}
	items, pagination, err := h.service.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination, internalmiddleware.ExtractMeta(c))
}

// Get godoc
// @Summary Evaluation detail with documents and result
// @Tags Evaluations
// @Produce json
// @Param id path string true "Evaluation request ID"
// @Success 200 {object} response.Envelope
// @Router /evaluations/{id} [get]
func (h *EvaluationHandler) Get(c *gin.Context) {
	detail, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Advance godoc
// @Summary Run extraction and equivalency for a document
// @Description Synchronous by default; async=true queues the work and answers 202.
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param id path string true "Evaluation request ID"
// @Param async query bool false "Queue the work"
// @Param payload body dto.AdvanceRequest true "Advance payload"
// @Success 200 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Router /evaluations/{id}/advance [post]
func (h *EvaluationHandler) Advance(c *gin.Context) {
	var req dto.AdvanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid advance payload"))
		return
	}
	async, _ := strconv.ParseBool(c.Query("async"))
	if async {
		if h.queue == nil {
			response.Error(c, appErrors.Clone(appErrors.ErrPreconditionFailed, "async processing is disabled"))
			return
		}
		accepted, err := h.queue.Enqueue(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, accepted)
		return
	}
	result, err := h.service.Advance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Review godoc
// @Summary Store a reviewer draft
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param id path string true "Evaluation request ID"
// @Param payload body dto.ReviewRequest true "Review payload"
// @Success 200 {object} response.Envelope
// @Router /evaluations/{id}/review [post]
func (h *EvaluationHandler) Review(c *gin.Context) {
	reviewer := actorID(c)
	if reviewer == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid review payload"))
		return
	}
	result, err := h.service.RecordReview(c.Request.Context(), c.Param("id"), req, reviewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Finalize godoc
// @Summary Complete a reviewed evaluation
// @Tags Evaluations
// @Accept json
// @Produce json
// @Param id path string true "Evaluation request ID"
// @Param payload body dto.FinalizeRequest false "Final result"
// @Success 200 {object} response.Envelope
// @Router /evaluations/{id}/finalize [post]
func (h *EvaluationHandler) Finalize(c *gin.Context) {
	reviewer := actorID(c)
	if reviewer == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.FinalizeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid finalize payload"))
			return
		}
	}
	result, err := h.service.Finalize(c.Request.Context(), c.Param("id"), req, reviewer)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
