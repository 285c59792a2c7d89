package models

import (
	"mime"
	"strings"
	"time"
)

// DocumentType classifies an uploaded academic document.
type DocumentType string

const (
	DocumentTypeTranscript DocumentType = "Transcript"
	DocumentTypeDiploma    DocumentType = "Diploma"
	DocumentTypeOther      DocumentType = "Other"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t == DocumentTypeTranscript || t == DocumentTypeDiploma || t == DocumentTypeOther
}

// Evaluable reports whether the equivalency engine can process t.
func (t DocumentType) Evaluable() bool {
	return t == DocumentTypeTranscript || t == DocumentTypeDiploma
}

// Media types accepted by the extraction pipeline.
const (
	MediaTypePDF   = "application/pdf"
	MediaTypeJPEG  = "image/jpeg"
	MediaTypePNG   = "image/png"
	MediaTypePlain = "text/plain"
)

// NormalizeMediaType strips parameters and lowercases a declared media type.
func NormalizeMediaType(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if parsed, _, err := mime.ParseMediaType(raw); err == nil {
		raw = parsed
	}
	raw = strings.ToLower(raw)
	if raw == "image/jpg" || raw == "image/pjpeg" {
		return MediaTypeJPEG
	}
	return raw
}

// SupportedMediaType reports whether raw can be turned into text.
func SupportedMediaType(raw string) bool {
	switch NormalizeMediaType(raw) {
	case MediaTypePDF, MediaTypeJPEG, MediaTypePNG, MediaTypePlain:
		return true
	default:
		return false
	}
}

// Document is an uploaded file attached to an evaluation request.
type Document struct {
	ID               string          `db:"id" json:"id"`
	RequestID        string          `db:"request_id" json:"requestId"`
	Filename         string          `db:"filename" json:"filename"`
	OriginalFilename string          `db:"original_filename" json:"originalFilename"`
	StoragePath      string          `db:"storage_path" json:"storagePath"`
	MediaType        string          `db:"media_type" json:"mediaType"`
	SizeBytes        int64           `db:"size_bytes" json:"sizeBytes"`
	DocumentType     DocumentType    `db:"document_type" json:"documentType"`
	ExtractedData    *AcademicRecord `db:"extracted_data" json:"extractedData,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updatedAt"`
}

// HasExtractedData reports whether structuring already succeeded for the document.
func (d *Document) HasExtractedData() bool {
	return d != nil && d.ExtractedData != nil && d.ExtractedData.Kind != ""
}
