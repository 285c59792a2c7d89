package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/response"
)

type documentService interface {
	AttachDocument(ctx context.Context, req dto.AttachDocumentRequest) (*models.Document, error)
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	Reparse(ctx context.Context, documentID string) (*models.Document, error)
}

// DocumentHandler manages document uploads.
type DocumentHandler struct {
	service  documentService
	maxBytes int64
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 20 << 20
	}
	return &DocumentHandler{service: service, maxBytes: maxBytes}
}

// Upload godoc
// @Summary Upload a diploma or transcript
// @Description Without requestId a placeholder evaluation request is created.
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param requestId formData string false "Evaluation request ID"
// @Param studentRef formData string false "Student reference, required without requestId"
// @Param documentType formData string true "Transcript, Diploma or Other"
// @Param file formData file true "Document"
// @Success 201 {object} response.Envelope
// @Router /documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	if fileHeader.Size > h.maxBytes {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is too large"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close() //nolint:errcheck

	content, err := io.ReadAll(io.LimitReader(src, h.maxBytes+1))
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
		return
	}
	mediaType := fileHeader.Header.Get("Content-Type")
	if override := strings.TrimSpace(c.PostForm("mediaType")); override != "" {
		mediaType = override
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = http.DetectContentType(content)
	}

	req := dto.AttachDocumentRequest{
		RequestID:        strings.TrimSpace(c.PostForm("requestId")),
		StudentRef:       strings.TrimSpace(c.PostForm("studentRef")),
		OriginalFilename: fileHeader.Filename,
		MediaType:        mediaType,
		DocumentType:     models.DocumentType(strings.TrimSpace(c.PostForm("documentType"))),
		Content:          content,
	}
	doc, err := h.service.AttachDocument(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, doc)
}

// Get godoc
// @Summary Document metadata and extracted record
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id} [get]
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}

// Reparse godoc
// @Summary Discard and redo structured extraction
// @Tags Documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Router /documents/{id}/reparse [post]
func (h *DocumentHandler) Reparse(c *gin.Context) {
	doc, err := h.service.Reparse(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc, nil)
}
