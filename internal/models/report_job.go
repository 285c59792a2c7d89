package models

import "time"

// ReportFormat enumerates supported export formats.
type ReportFormat string

const (
	ReportFormatCSV  ReportFormat = "csv"
	ReportFormatPDF  ReportFormat = "pdf"
	ReportFormatXLSX ReportFormat = "xlsx"
)

// Valid reports whether f is a supported export format.
func (f ReportFormat) Valid() bool {
	return f == ReportFormatCSV || f == ReportFormatPDF || f == ReportFormatXLSX
}

// ReportStatus captures background job lifecycle states.
type ReportStatus string

const (
	ReportStatusQueued     ReportStatus = "QUEUED"
	ReportStatusProcessing ReportStatus = "PROCESSING"
	ReportStatusFinished   ReportStatus = "FINISHED"
	ReportStatusFailed     ReportStatus = "FAILED"
)

// ReportJob persisted background export job metadata.
type ReportJob struct {
	ID           string       `db:"id" json:"id"`
	RequestID    string       `db:"request_id" json:"requestId"`
	Format       ReportFormat `db:"format" json:"format"`
	Status       ReportStatus `db:"status" json:"status"`
	Progress     int          `db:"progress" json:"progress"`
	ResultURL    *string      `db:"result_url" json:"resultUrl,omitempty"`
	CreatedBy    string       `db:"created_by" json:"createdBy"`
	CreatedAt    time.Time    `db:"created_at" json:"createdAt"`
	FinishedAt   *time.Time   `db:"finished_at" json:"finishedAt,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"errorMessage,omitempty"`
}

// EvaluationReport is the flattened data set rendered by the exporters.
type EvaluationReport struct {
	Request     EvaluationRequest `json:"request"`
	Documents   []Document        `json:"documents"`
	Result      *EvaluationResult `json:"result,omitempty"`
	GeneratedAt time.Time         `json:"generatedAt"`
}
