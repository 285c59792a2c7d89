package dto

import "github.com/noah-isme/credential-eval-api/internal/models"

// ReportRequest captures POST /evaluations/:id/reports payload.
type ReportRequest struct {
	Format models.ReportFormat `json:"format" validate:"required,oneof=csv pdf xlsx"`
}

// ReportJobResponse is returned after enqueueing a report.
type ReportJobResponse struct {
	ID        string              `json:"id"`
	RequestID string              `json:"requestId"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
}

// ReportStatusResponse exposes job progress metadata.
type ReportStatusResponse struct {
	ID        string              `json:"id"`
	RequestID string              `json:"requestId"`
	Format    models.ReportFormat `json:"format"`
	Status    models.ReportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}
