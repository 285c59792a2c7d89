package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/llm"
)

type modelStub struct {
	answers  map[string]string
	err      error
	calls    int
	requests []llm.Request
}

func (m *modelStub) CompleteJSON(ctx context.Context, req llm.Request) ([]byte, error) {
	m.calls++
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	answer, ok := m.answers[req.Operation]
	if !ok {
		return nil, fmt.Errorf("no answer for %s", req.Operation)
	}
	return []byte(answer), nil
}

func TestStructuredExtractorDiploma(t *testing.T) {
	model := &modelStub{answers: map[string]string{
		"structure": `{"institution":" UNAM ","degree":"Licenciatura en Derecho","graduationDate":"2019-06-30","studentName":"Ana Pérez","honors":null}`,
	}}
	extractor := NewStructuredExtractor(model, nil, nil)

	record, err := extractor.Structure(context.Background(), "UNIVERSIDAD NACIONAL ...", models.DocumentTypeDiploma)
	require.NoError(t, err)
	assert.Equal(t, models.RecordKindDiploma, record.Kind)
	require.NotNil(t, record.Diploma)
	assert.Equal(t, "UNAM", record.Diploma.Institution)
	assert.Equal(t, "Licenciatura en Derecho", record.Diploma.Degree)
	assert.Nil(t, record.Diploma.Honors)
	assert.Equal(t, "UNIVERSIDAD NACIONAL ...", record.RawText)
	assert.False(t, record.ExtractedAt.IsZero())

	require.Len(t, model.requests, 1)
	assert.Contains(t, model.requests[0].System, "institution")
	assert.Contains(t, model.requests[0].System, "honors")
	assert.Contains(t, model.requests[0].Prompt, "UNIVERSIDAD NACIONAL")
	assert.NotNil(t, model.requests[0].Schema)
}

func TestStructuredExtractorDiplomaMissingDegree(t *testing.T) {
	model := &modelStub{answers: map[string]string{"structure": `{"institution":"UNAM","degree":"  "}`}}
	_, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "text", models.DocumentTypeDiploma)
	require.Error(t, err)

	assert.True(t, appErrors.HasCode(err, appErrors.ErrIncompleteExtraction.Code))
	var incomplete *appErrors.IncompleteExtraction
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"degree"}, incomplete.MissingFields)
}

func TestStructuredExtractorTranscript(t *testing.T) {
	model := &modelStub{answers: map[string]string{
		"structure": `{"courses":[{"name":"Álgebra","code":"MAT101","credits":8,"grade":95},{"name":"Física","grade":"8,2"}],"gpa":9.1,"academicPeriod":"2018-2022"}`,
	}}
	record, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "raw", models.DocumentTypeTranscript)
	require.NoError(t, err)
	require.NotNil(t, record.Transcript)
	require.Len(t, record.Transcript.Courses, 2)
	assert.Equal(t, models.GradeValue("95"), record.Transcript.Courses[0].Grade)
	assert.Equal(t, models.GradeValue("8,2"), record.Transcript.Courses[1].Grade)
	require.NotNil(t, record.Transcript.GPA)
	assert.Equal(t, 9.1, *record.Transcript.GPA)
	assert.Equal(t, models.DocumentTypeTranscript, record.DocumentType())
}

func TestStructuredExtractorTranscriptWithoutCourses(t *testing.T) {
	model := &modelStub{answers: map[string]string{"structure": `{"courses":[]}`}}
	_, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "raw", models.DocumentTypeTranscript)

	var incomplete *appErrors.IncompleteExtraction
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"courses"}, incomplete.MissingFields)
}

func TestStructuredExtractorTranscriptCourseGaps(t *testing.T) {
	model := &modelStub{answers: map[string]string{"structure": `{"courses":[{"name":"Química","grade":null},{"name":"","grade":"A"}]}`}}
	_, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "raw", models.DocumentTypeTranscript)

	var incomplete *appErrors.IncompleteExtraction
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []string{"courses[0].grade", "courses[1].name"}, incomplete.MissingFields)
}

func TestStructuredExtractorMalformedOutput(t *testing.T) {
	cases := map[string]*modelStub{
		"wrong types":   {answers: map[string]string{"structure": `{"courses":"none"}`}},
		"client reject": {err: fmt.Errorf("%w: no json object", llm.ErrMalformedOutput)},
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "raw", models.DocumentTypeTranscript)
			require.Error(t, err)
			assert.True(t, appErrors.HasCode(err, appErrors.ErrMalformedModelOutput.Code))
		})
	}
}

func TestStructuredExtractorModelTimeout(t *testing.T) {
	model := &modelStub{err: fmt.Errorf("%w after 1s", llm.ErrTimeout)}
	_, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "raw", models.DocumentTypeDiploma)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrExtractionFailed.Code))
	assert.ErrorIs(t, err, llm.ErrTimeout)
}

func TestStructuredExtractorRejectsOther(t *testing.T) {
	model := &modelStub{}
	_, err := NewStructuredExtractor(model, nil, nil).Structure(context.Background(), "raw", models.DocumentTypeOther)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnsupportedDocumentType.Code))
	assert.Zero(t, model.calls)
}
