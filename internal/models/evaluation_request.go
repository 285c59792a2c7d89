package models

import "time"

// EvaluationStatus is the lifecycle state of an evaluation request.
type EvaluationStatus string

const (
	EvaluationStatusSubmitted    EvaluationStatus = "Submitted"
	EvaluationStatusAiProcessing EvaluationStatus = "AiProcessing"
	EvaluationStatusHumanReview  EvaluationStatus = "HumanReview"
	EvaluationStatusCompleted    EvaluationStatus = "Completed"
	EvaluationStatusError        EvaluationStatus = "Error"
)

// CanAdvance reports whether automatic processing may start from s.
// AiProcessing is accepted so an abandoned call can be resumed, Error is the retry path.
func (s EvaluationStatus) CanAdvance() bool {
	switch s {
	case EvaluationStatusSubmitted, EvaluationStatusAiProcessing, EvaluationStatusError:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s EvaluationStatus) Valid() bool {
	switch s {
	case EvaluationStatusSubmitted, EvaluationStatusAiProcessing, EvaluationStatusHumanReview,
		EvaluationStatusCompleted, EvaluationStatusError:
		return true
	default:
		return false
	}
}

// EvaluationType selects how documents are evaluated.
type EvaluationType string

const (
	EvaluationTypeDocumentByDocument EvaluationType = "DocumentByDocument"
	EvaluationTypeCourseByCourse     EvaluationType = "CourseByCourse"
)

// PlaceholderInstitution marks requests created implicitly by a document upload.
const PlaceholderInstitution = "Unknown"

// EvaluationRequest is one student's submission for credential evaluation.
type EvaluationRequest struct {
	ID             string           `db:"id" json:"id"`
	StudentRef     string           `db:"student_ref" json:"studentRef"`
	Institution    string           `db:"institution" json:"institution"`
	CountryCode    string           `db:"country_code" json:"countryCode"`
	ProgramName    string           `db:"program_name" json:"programName"`
	EvaluationType EvaluationType   `db:"evaluation_type" json:"evaluationType"`
	Status         EvaluationStatus `db:"status" json:"status"`
	FailureReason  *string          `db:"failure_reason" json:"failureReason,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
}

// EvaluationRequestFilter narrows list queries.
type EvaluationRequestFilter struct {
	StudentRef  string
	CountryCode string
	Status      []EvaluationStatus
	Page        int
	PageSize    int
}

// EvaluationDetail aggregates a request with its documents and result.
type EvaluationDetail struct {
	Request   *EvaluationRequest `json:"request"`
	Documents []Document         `json:"documents"`
	Result    *EvaluationResult  `json:"result,omitempty"`
}
