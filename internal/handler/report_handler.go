package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/service"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/response"
)

type reportService interface {
	CreateJob(ctx context.Context, requestID string, req dto.ReportRequest, actorID string) (*dto.ReportJobResponse, error)
	GetStatus(ctx context.Context, id string) (*dto.ReportStatusResponse, error)
	ListForRequest(ctx context.Context, requestID string) ([]dto.ReportStatusResponse, error)
	ResolveDownload(ctx context.Context, token string) (*service.ReportDownload, error)
}

// ReportHandler exposes evaluation report export endpoints.
type ReportHandler struct {
	service reportService
	logger  *zap.Logger
}

// NewReportHandler constructs handler.
func NewReportHandler(service reportService, logger *zap.Logger) *ReportHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportHandler{service: service, logger: logger}
}

// Generate godoc
// @Summary Queue an evaluation report export
// @Tags Reports
// @Accept json
// @Produce json
// @Param id path string true "Evaluation request ID"
// @Param payload body dto.ReportRequest true "Report format"
// @Success 202 {object} response.Envelope
// @Router /evaluations/{id}/reports [post]
func (h *ReportHandler) Generate(c *gin.Context) {
	var req dto.ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid report payload"))
		return
	}
	resp, err := h.service.CreateJob(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, resp)
}

// ListForRequest godoc
// @Summary Report jobs of an evaluation
// @Tags Reports
// @Produce json
// @Param id path string true "Evaluation request ID"
// @Success 200 {object} response.Envelope
// @Router /evaluations/{id}/reports [get]
func (h *ReportHandler) ListForRequest(c *gin.Context) {
	items, err := h.service.ListForRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Status godoc
// @Summary Report job status
// @Tags Reports
// @Produce json
// @Param id path string true "Report job ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	resp, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, resp, nil)
}

// Download godoc
// @Summary Download a rendered report through its signed token
// @Tags Reports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /export/{token} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	download, err := h.service.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer func() {
		if err := download.File.Close(); err != nil {
			h.logger.Sugar().Warnw("failed to close export file", "error", err)
		}
	}()
	info, err := download.File.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, info.Size(), download.ContentType, download.File, nil)
}
