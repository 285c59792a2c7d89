package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// RecordKind tags the variant held by an AcademicRecord.
type RecordKind string

const (
	RecordKindDiploma    RecordKind = "diploma"
	RecordKindTranscript RecordKind = "transcript"
)

// DiplomaRecord holds the fields structured out of a diploma.
type DiplomaRecord struct {
	Institution    string  `json:"institution"`
	Degree         string  `json:"degree"`
	GraduationDate string  `json:"graduationDate,omitempty"`
	StudentName    string  `json:"studentName,omitempty"`
	Honors         *string `json:"honors,omitempty"`
}

// Course is one transcript line.
type Course struct {
	Name     string     `json:"name"`
	Code     *string    `json:"code,omitempty"`
	Credits  *float64   `json:"credits,omitempty"`
	Grade    GradeValue `json:"grade"`
	Semester *string    `json:"semester,omitempty"`
}

// TranscriptRecord holds the ordered course list structured out of a transcript.
type TranscriptRecord struct {
	Courses        []Course `json:"courses"`
	GPA            *float64 `json:"gpa,omitempty"`
	AcademicPeriod *string  `json:"academicPeriod,omitempty"`
}

// AcademicRecord is the tagged output of structured extraction. Exactly one of
// Diploma or Transcript is set, matching Kind. RawText keeps the source text.
type AcademicRecord struct {
	Kind             RecordKind        `json:"kind"`
	Diploma          *DiplomaRecord    `json:"diploma,omitempty"`
	Transcript       *TranscriptRecord `json:"transcript,omitempty"`
	RawText          string            `json:"rawText"`
	ExtractionMethod string            `json:"extractionMethod,omitempty"`
	ExtractedAt      time.Time         `json:"extractedAt"`
}

// DocumentType maps the record variant back to a document type.
func (r *AcademicRecord) DocumentType() DocumentType {
	if r == nil {
		return DocumentTypeOther
	}
	switch r.Kind {
	case RecordKindDiploma:
		return DocumentTypeDiploma
	case RecordKindTranscript:
		return DocumentTypeTranscript
	default:
		return DocumentTypeOther
	}
}

// Value marshals the record to JSON for persistence.
func (r AcademicRecord) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal academic record: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSONB payload into the record.
func (r *AcademicRecord) Scan(value interface{}) error {
	return scanJSON(value, r, "academic record")
}

// GradeValue is a course grade as printed on the transcript. Models emit it as
// either a JSON string or number; both decode into the textual form.
type GradeValue string

// UnmarshalJSON accepts strings, numbers and null.
func (g *GradeValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*g = GradeValue(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("grade must be a string or number: %w", err)
	}
	*g = GradeValue(n.String())
	return nil
}

// Numeric parses the grade as a number, accepting a decimal comma.
func (g GradeValue) Numeric() (float64, bool) {
	raw := strings.TrimSpace(string(g))
	if raw == "" {
		return 0, false
	}
	raw = strings.Replace(raw, ",", ".", 1)
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func scanJSON(value interface{}, dest interface{}, label string) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, label)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", label, err)
	}
	return nil
}
