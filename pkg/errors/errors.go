package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so callers can compare against the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrUnsupportedMediaType    = New("UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType, "unsupported media type")
	ErrUnsupportedDocumentType = New("UNSUPPORTED_DOCUMENT_TYPE", http.StatusUnprocessableEntity, "unsupported document type")
	ErrExtractionFailed        = New("EXTRACTION_FAILED", http.StatusUnprocessableEntity, "text extraction failed")
	ErrMalformedModelOutput    = New("MALFORMED_MODEL_OUTPUT", http.StatusBadGateway, "language model returned malformed output")
	ErrIncompleteExtraction    = New("INCOMPLETE_EXTRACTION", http.StatusUnprocessableEntity, "structured extraction is incomplete")
	ErrRuleGeneration          = New("RULE_GENERATION_FAILED", http.StatusBadGateway, "rule set generation failed")
)

// ExtractionFailure keeps both the primary and the fallback extraction errors.
type ExtractionFailure struct {
	Primary  error
	Fallback error
}

func (e *ExtractionFailure) Error() string {
	if e.Fallback == nil {
		return fmt.Sprintf("primary: %v", e.Primary)
	}
	return fmt.Sprintf("primary: %v; fallback: %v", e.Primary, e.Fallback)
}

// Unwrap exposes both causes to errors.Is / errors.As.
func (e *ExtractionFailure) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Primary != nil {
		out = append(out, e.Primary)
	}
	if e.Fallback != nil {
		out = append(out, e.Fallback)
	}
	return out
}

// IncompleteExtraction names the required fields absent from a structured record.
type IncompleteExtraction struct {
	MissingFields []string
}

func (e *IncompleteExtraction) Error() string {
	return "missing required fields: " + strings.Join(e.MissingFields, ", ")
}

// NewExtractionFailure wraps primary/fallback errors into the EXTRACTION_FAILED kind.
func NewExtractionFailure(primary, fallback error) *Error {
	return Wrap(&ExtractionFailure{Primary: primary, Fallback: fallback}, ErrExtractionFailed.Code, ErrExtractionFailed.Status, ErrExtractionFailed.Message)
}

// NewIncompleteExtraction wraps the missing field list into the INCOMPLETE_EXTRACTION kind.
func NewIncompleteExtraction(fields ...string) *Error {
	return Wrap(&IncompleteExtraction{MissingFields: fields}, ErrIncompleteExtraction.Code, ErrIncompleteExtraction.Status, ErrIncompleteExtraction.Message)
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}
