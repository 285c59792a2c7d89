package dto

import (
	"encoding/json"

	"github.com/noah-isme/credential-eval-api/internal/models"
)

// SubmitEvaluationRequest captures POST /evaluations payload.
type SubmitEvaluationRequest struct {
	StudentRef     string                `json:"studentRef" validate:"required,max=128"`
	Institution    string                `json:"institution" validate:"omitempty,max=255"`
	CountryCode    string                `json:"countryCode" validate:"omitempty,min=2,max=3"`
	ProgramName    string                `json:"programName" validate:"omitempty,max=255"`
	EvaluationType models.EvaluationType `json:"evaluationType" validate:"omitempty,oneof=DocumentByDocument CourseByCourse"`
}

// AttachDocumentRequest describes an uploaded file. When RequestID is empty a
// placeholder request is created for StudentRef.
type AttachDocumentRequest struct {
	RequestID        string              `json:"requestId" validate:"omitempty,uuid"`
	StudentRef       string              `json:"studentRef" validate:"required_without=RequestID,max=128"`
	OriginalFilename string              `json:"originalFilename" validate:"required,max=255"`
	MediaType        string              `json:"mediaType" validate:"required"`
	DocumentType     models.DocumentType `json:"documentType" validate:"required,oneof=Transcript Diploma Other"`
	Content          []byte              `json:"-"`
}

// AdvanceRequest captures POST /evaluations/:id/advance payload.
type AdvanceRequest struct {
	DocumentID     string                `json:"documentId" validate:"required,uuid"`
	CountryCode    string                `json:"countryCode" validate:"required,min=2,max=3"`
	Institution    string                `json:"institution" validate:"omitempty,max=255"`
	EvaluationType models.EvaluationType `json:"evaluationType" validate:"omitempty,oneof=DocumentByDocument CourseByCourse"`
}

// ReviewRequest stores a reviewer draft while the request is in HumanReview.
type ReviewRequest struct {
	HumanReview json.RawMessage `json:"humanReview" validate:"required"`
	Notes       *string         `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

// FinalizeRequest completes a request. An empty FinalResult approves the AI analysis as is.
type FinalizeRequest struct {
	FinalResult json.RawMessage `json:"finalResult,omitempty"`
	Notes       *string         `json:"notes,omitempty" validate:"omitempty,max=4000"`
}

// ListEvaluationsQuery binds GET /evaluations query parameters.
type ListEvaluationsQuery struct {
	StudentRef  string `form:"studentRef"`
	CountryCode string `form:"countryCode"`
	Status      string `form:"status"`
	Page        int    `form:"page"`
	PageSize    int    `form:"pageSize"`
}

// AdvanceAcceptedResponse is returned when advance runs in the background.
type AdvanceAcceptedResponse struct {
	RequestID  string                  `json:"requestId"`
	DocumentID string                  `json:"documentId"`
	Status     models.EvaluationStatus `json:"status"`
	JobID      string                  `json:"jobId"`
}
