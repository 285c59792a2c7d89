package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/events"
	"github.com/noah-isme/credential-eval-api/pkg/extraction"
)

type requestRepoStub struct {
	mu    sync.Mutex
	items map[string]models.EvaluationRequest
	seq   int
}

func (r *requestRepoStub) Create(ctx context.Context, req *models.EvaluationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = map[string]models.EvaluationRequest{}
	}
	if req.ID == "" {
		r.seq++
		req.ID = fmt.Sprintf("00000000-0000-4000-8000-%012d", r.seq)
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now
	if req.EvaluationType == "" {
		req.EvaluationType = models.EvaluationTypeDocumentByDocument
	}
	r.items[req.ID] = *req
	return nil
}

func (r *requestRepoStub) FindByID(ctx context.Context, id string) (*models.EvaluationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &req, nil
}

func (r *requestRepoStub) List(ctx context.Context, filter models.EvaluationRequestFilter) ([]models.EvaluationRequest, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EvaluationRequest
	for _, req := range r.items {
		out = append(out, req)
	}
	return out, len(out), nil
}

func (r *requestRepoStub) UpdateStatus(ctx context.Context, id string, status models.EvaluationStatus, reason *string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	req.Status, req.FailureReason, req.UpdatedAt = status, reason, at
	r.items[id] = req
	return nil
}

func (r *requestRepoStub) UpdateContext(ctx context.Context, req *models.EvaluationRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[req.ID]
	if !ok {
		return sql.ErrNoRows
	}
	current.Institution, current.CountryCode, current.EvaluationType = req.Institution, req.CountryCode, req.EvaluationType
	r.items[req.ID] = current
	return nil
}

func (r *requestRepoStub) ListStale(ctx context.Context, status models.EvaluationStatus, cutoff time.Time, limit int) ([]models.EvaluationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.EvaluationRequest
	for _, req := range r.items {
		if req.Status == status && req.UpdatedAt.Before(cutoff) {
			out = append(out, req)
		}
	}
	return out, nil
}

func (r *requestRepoStub) status(id string) models.EvaluationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[id].Status
}

type documentRepoStub struct {
	mu    sync.Mutex
	items map[string]models.Document
}

func (d *documentRepoStub) Create(ctx context.Context, doc *models.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.items == nil {
		d.items = map[string]models.Document{}
	}
	d.items[doc.ID] = *doc
	return nil
}

func (d *documentRepoStub) FindByID(ctx context.Context, id string) (*models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.items[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &doc, nil
}

func (d *documentRepoStub) ListByRequest(ctx context.Context, requestID string) ([]models.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.Document
	for _, doc := range d.items {
		if doc.RequestID == requestID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (d *documentRepoStub) SetExtractedData(ctx context.Context, id string, record *models.AcademicRecord) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc := d.items[id]
	if doc.ExtractedData != nil {
		return false, nil
	}
	doc.ExtractedData = record
	d.items[id] = doc
	return true, nil
}

func (d *documentRepoStub) ClearExtractedData(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.items[id]
	if !ok {
		return sql.ErrNoRows
	}
	doc.ExtractedData = nil
	d.items[id] = doc
	return nil
}

type resultRepoStub struct {
	mu    sync.Mutex
	items map[string]models.EvaluationResult
}

func (r *resultRepoStub) FindByRequest(ctx context.Context, requestID string) (*models.EvaluationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.items[requestID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &res, nil
}

func (r *resultRepoStub) UpsertAnalysis(ctx context.Context, result *models.EvaluationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items == nil {
		r.items = map[string]models.EvaluationResult{}
	}
	if result.ID == "" {
		result.ID = "res-" + result.RequestID
	}
	r.items[result.RequestID] = *result
	return nil
}

func (r *resultRepoStub) SaveReview(ctx context.Context, result *models.EvaluationResult) error {
	return r.UpsertAnalysis(ctx, result)
}

func (r *resultRepoStub) Finalize(ctx context.Context, result *models.EvaluationResult) error {
	return r.UpsertAnalysis(ctx, result)
}

type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

type extractorStub struct {
	mu     sync.Mutex
	result extraction.Result
	err    error
	calls  int
	delay  time.Duration
}

func (e *extractorStub) Extract(ctx context.Context, data []byte, mediaType string) (extraction.Result, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	time.Sleep(e.delay)
	return e.result, e.err
}

func (e *extractorStub) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type structurerStub struct {
	mu     sync.Mutex
	record *models.AcademicRecord
	err    error
	calls  int
}

func (s *structurerStub) Structure(ctx context.Context, text string, docType models.DocumentType) (*models.AcademicRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	record := *s.record
	record.RawText = text
	return &record, nil
}

type rulesStub struct {
	set *models.CountryRuleSet
	err error
}

func (r rulesStub) GetRules(ctx context.Context, country string) (*models.CountryRuleSet, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.set, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.StatusChanged
}

func (e *eventRecorder) PublishStatus(ctx context.Context, evt events.StatusChanged) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
	return nil
}

func (e *eventRecorder) Close() error { return nil }

func (e *eventRecorder) transitions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, evt := range e.events {
		out = append(out, evt.From+"->"+evt.To)
	}
	return out
}

type evaluationFixture struct {
	svc        *EvaluationService
	requests   *requestRepoStub
	documents  *documentRepoStub
	results    *resultRepoStub
	store      *memoryStore
	extractor  *extractorStub
	structurer *structurerStub
	events     *eventRecorder
}

func newEvaluationFixture(t *testing.T, rules ruleProvider, textExtractor textExtractor) *evaluationFixture {
	t.Helper()
	f := &evaluationFixture{
		requests:  &requestRepoStub{},
		documents: &documentRepoStub{},
		results:   &resultRepoStub{},
		store:     &memoryStore{},
		extractor: &extractorStub{result: extraction.Result{Text: "Algebra 95\nPhysics 82\nChemistry 71", Method: extraction.MethodPDFText}},
		structurer: &structurerStub{record: &models.AcademicRecord{
			Kind: models.RecordKindTranscript,
			Transcript: &models.TranscriptRecord{Courses: []models.Course{
				{Name: "Algebra", Grade: "95"},
				{Name: "Physics", Grade: "82"},
				{Name: "Chemistry", Grade: "71"},
			}},
		}},
		events: &eventRecorder{},
	}
	if rules == nil {
		rules = rulesStub{set: mexicoRuleSet()}
	}
	if textExtractor == nil {
		textExtractor = f.extractor
	}
	f.svc = NewEvaluationService(EvaluationDeps{
		Requests:   f.requests,
		Documents:  f.documents,
		Results:    f.results,
		Store:      f.store,
		Extractor:  textExtractor,
		Structurer: f.structurer,
		Rules:      rules,
		Events:     f.events,
		Metrics:    NewMetricsService(),
	}, nil, nil, EvaluationServiceConfig{StaleAfter: time.Minute})
	return f
}

func (f *evaluationFixture) submitWithDocument(t *testing.T, docType models.DocumentType, mediaType string) (*models.EvaluationRequest, *models.Document) {
	t.Helper()
	req, err := f.svc.Submit(context.Background(), dto.SubmitEvaluationRequest{StudentRef: "stu-1", Institution: "UNAM", CountryCode: "mx"})
	require.NoError(t, err)
	doc, err := f.svc.AttachDocument(context.Background(), dto.AttachDocumentRequest{
		RequestID:        req.ID,
		OriginalFilename: "record.pdf",
		MediaType:        mediaType,
		DocumentType:     docType,
		Content:          []byte("%PDF-1.4 fake"),
	})
	require.NoError(t, err)
	return req, doc
}

func advanceRequest(docID string) dto.AdvanceRequest {
	return dto.AdvanceRequest{DocumentID: docID, CountryCode: "mx"}
}

func TestEvaluationServiceSubmit(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)

	req, err := f.svc.Submit(context.Background(), dto.SubmitEvaluationRequest{StudentRef: " stu-1 ", CountryCode: "mx"})
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationStatusSubmitted, req.Status)
	assert.Equal(t, "stu-1", req.StudentRef)
	assert.Equal(t, "MX", req.CountryCode)
	assert.Equal(t, models.EvaluationTypeDocumentByDocument, req.EvaluationType)
	assert.Equal(t, []string{"->Submitted"}, f.events.transitions())

	_, err = f.svc.Submit(context.Background(), dto.SubmitEvaluationRequest{})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}

func TestEvaluationServiceAttachDocumentCreatesPlaceholder(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)

	doc, err := f.svc.AttachDocument(context.Background(), dto.AttachDocumentRequest{
		StudentRef:       "stu-9",
		OriginalFilename: "diploma.PNG",
		MediaType:        "image/png",
		DocumentType:     models.DocumentTypeDiploma,
		Content:          []byte("png-bytes"),
	})
	require.NoError(t, err)
	assert.Equal(t, ".png", doc.Filename[len(doc.Filename)-4:])
	assert.Equal(t, int64(9), doc.SizeBytes)
	assert.Contains(t, f.store.objects, doc.StoragePath)

	req, err := f.requests.FindByID(context.Background(), doc.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.PlaceholderInstitution, req.Institution)
	assert.Equal(t, models.EvaluationStatusSubmitted, req.Status)
	assert.Equal(t, "stu-9", req.StudentRef)
}

func TestEvaluationServiceAttachDocumentRejectsUnsupportedMedia(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)

	_, err := f.svc.AttachDocument(context.Background(), dto.AttachDocumentRequest{
		StudentRef:       "stu-9",
		OriginalFilename: "transcript.docx",
		MediaType:        "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		DocumentType:     models.DocumentTypeTranscript,
		Content:          []byte("PK"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnsupportedMediaType.Code))
	assert.Empty(t, f.requests.items, "no placeholder request is created")
	assert.Empty(t, f.store.objects)
}

func TestEvaluationServiceAttachDocumentUnknownRequest(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	_, err := f.svc.AttachDocument(context.Background(), dto.AttachDocumentRequest{
		RequestID:        "8d0c7a4e-3c1a-4e4b-9a57-0a1f2b3c4d5e",
		OriginalFilename: "t.pdf",
		MediaType:        models.MediaTypePDF,
		DocumentType:     models.DocumentTypeTranscript,
		Content:          []byte("%PDF"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}

func TestEvaluationServiceAdvanceTranscript(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	result, err := f.svc.Advance(context.Background(), req.ID, dto.AdvanceRequest{DocumentID: doc.ID, CountryCode: "mx", Institution: "UNAM Facultad de Ciencias"})
	require.NoError(t, err)
	require.Len(t, result.AIAnalysis.Documents, 1)

	analysis := result.AIAnalysis.Documents[0].Result
	require.NotNil(t, analysis.NormalizedGPA)
	assert.Equal(t, 3.00, *analysis.NormalizedGPA)
	assert.Equal(t, "A", analysis.Courses[0].USGrade)
	assert.Equal(t, "B", analysis.Courses[1].USGrade)
	assert.Equal(t, "C", analysis.Courses[2].USGrade)

	stored, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, models.EvaluationStatusHumanReview, stored.Status)
	assert.Equal(t, "UNAM Facultad de Ciencias", stored.Institution)
	assert.Equal(t, "MX", stored.CountryCode)

	storedDoc, _ := f.documents.FindByID(context.Background(), doc.ID)
	require.True(t, storedDoc.HasExtractedData())
	assert.Equal(t, string(extraction.MethodPDFText), storedDoc.ExtractedData.ExtractionMethod)
	assert.Contains(t, storedDoc.ExtractedData.RawText, "Algebra 95")

	assert.Equal(t, []string{"->Submitted", "Submitted->AiProcessing", "AiProcessing->HumanReview"}, f.events.transitions())
}

func TestEvaluationServiceAdvanceSkipsExtractionWhenDataExists(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	_, err := f.documents.SetExtractedData(context.Background(), doc.ID, f.structurer.record)
	require.NoError(t, err)

	_, err = f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)
	assert.Zero(t, f.extractor.count())
	assert.Zero(t, f.structurer.calls)
}

func TestEvaluationServiceRetryReusesExtractedData(t *testing.T) {
	f := newEvaluationFixture(t, rulesStub{err: appErrors.Clone(appErrors.ErrRuleGeneration, "generated rules failed validation")}, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrRuleGeneration.Code))
	assert.Equal(t, models.EvaluationStatusError, f.requests.status(req.ID))

	f.svc.rules = rulesStub{set: mexicoRuleSet()}
	_, err = f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationStatusHumanReview, f.requests.status(req.ID))
	assert.Equal(t, 1, f.extractor.count(), "extraction is not repeated on retry")
}

func TestEvaluationServiceAdvanceBothExtractorsFail(t *testing.T) {
	runner := &failingOCRRunner{}
	ocr := extraction.NewExtractor(extraction.Config{TempDir: t.TempDir()}, nil,
		extraction.WithRunner(runner),
		extraction.WithPDFParser(func([]byte) (string, error) { return "", errors.New("malformed xref table") }),
	)
	f := newEvaluationFixture(t, nil, ocr)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrExtractionFailed.Code))

	var failure *appErrors.ExtractionFailure
	require.True(t, errors.As(err, &failure))
	assert.Contains(t, failure.Primary.Error(), "malformed xref table")
	require.NotNil(t, failure.Fallback)
	assert.Contains(t, failure.Fallback.Error(), "tesseract")

	stored, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, models.EvaluationStatusError, stored.Status)
	require.NotNil(t, stored.FailureReason)
	assert.Contains(t, *stored.FailureReason, "malformed xref table")
	assert.Contains(t, *stored.FailureReason, "tesseract")
	assert.Zero(t, f.structurer.calls)
	assert.Equal(t, "AiProcessing->Error", f.events.transitions()[2])
}

type failingOCRRunner struct{}

func (failingOCRRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	switch name {
	case "pdftoppm":
		prefix := args[len(args)-1]
		return nil, nil, os.WriteFile(prefix+"-1.png", []byte("png"), 0o600)
	default:
		return nil, []byte("Error opening data file"), errors.New("exit status 1")
	}
}

func TestEvaluationServiceAdvanceStructuringFailure(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	f.structurer.err = appErrors.NewIncompleteExtraction("courses")
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	var incomplete *appErrors.IncompleteExtraction
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, models.EvaluationStatusError, f.requests.status(req.ID))

	storedDoc, _ := f.documents.FindByID(context.Background(), doc.ID)
	assert.False(t, storedDoc.HasExtractedData())
}

func TestEvaluationServiceAdvanceRejectsOtherDocumentType(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeOther, models.MediaTypePDF)

	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnsupportedDocumentType.Code))
	assert.Equal(t, models.EvaluationStatusSubmitted, f.requests.status(req.ID))
	assert.Zero(t, f.extractor.count())
}

func TestEvaluationServiceAdvanceRejectsReviewedRequest(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)

	_, err = f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
	assert.Equal(t, models.EvaluationStatusHumanReview, f.requests.status(req.ID))
}

func TestEvaluationServiceAdvanceRejectsForeignDocument(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	_, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	other, err := f.svc.Submit(context.Background(), dto.SubmitEvaluationRequest{StudentRef: "stu-2"})
	require.NoError(t, err)

	_, err = f.svc.Advance(context.Background(), other.ID, advanceRequest(doc.ID))
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	assert.Equal(t, models.EvaluationStatusSubmitted, f.requests.status(other.ID))
}

func TestEvaluationServiceConcurrentAdvanceIsSerialized(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	f.extractor.delay = 30 * time.Millisecond
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code), err.Error())
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.extractor.count())
}

func TestEvaluationServiceFinalizeRequiresHumanReview(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, _ := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	require.NoError(t, f.requests.UpdateStatus(context.Background(), req.ID, models.EvaluationStatusAiProcessing, nil, time.Now()))

	_, err := f.svc.Finalize(context.Background(), req.ID, dto.FinalizeRequest{FinalResult: json.RawMessage(`{"approved":true}`)}, "reviewer-1")
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
	assert.Equal(t, models.EvaluationStatusAiProcessing, f.requests.status(req.ID))
	_, err = f.results.FindByRequest(context.Background(), req.ID)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestEvaluationServiceFinalizeDefaultsToAIAnalysis(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)

	notes := "approved as generated"
	result, err := f.svc.Finalize(context.Background(), req.ID, dto.FinalizeRequest{Notes: &notes}, "reviewer-1")
	require.NoError(t, err)
	assert.Equal(t, models.EvaluationStatusCompleted, f.requests.status(req.ID))
	require.NotNil(t, result.ReviewedBy)
	assert.Equal(t, "reviewer-1", *result.ReviewedBy)
	require.NotNil(t, result.ReviewedAt)

	var final models.AIAnalysis
	require.NoError(t, json.Unmarshal(result.FinalResult, &final))
	require.Len(t, final.Documents, 1)
	assert.Equal(t, doc.ID, final.Documents[0].DocumentID)

	_, err = f.svc.Finalize(context.Background(), req.ID, dto.FinalizeRequest{}, "reviewer-1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
}

func TestEvaluationServiceReviewThenFinalize(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	_, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)

	_, err = f.svc.RecordReview(context.Background(), req.ID, dto.ReviewRequest{HumanReview: json.RawMessage(`{"gpa":3.1}`)}, "reviewer-2")
	require.NoError(t, err)

	result, err := f.svc.Finalize(context.Background(), req.ID, dto.FinalizeRequest{}, "reviewer-2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"gpa":3.1}`, string(result.FinalResult))
}

func TestEvaluationServiceReparse(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	f.extractor.result = extraction.Result{Text: "Algebra 99", Method: extraction.MethodPDFOCR}
	reparsed, err := f.svc.Reparse(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.count())
	assert.Equal(t, "Algebra 99", reparsed.ExtractedData.RawText)
	assert.Equal(t, string(extraction.MethodPDFOCR), reparsed.ExtractedData.ExtractionMethod)
	assert.Equal(t, models.EvaluationStatusSubmitted, f.requests.status(req.ID))

	_, err = f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, f.extractor.count(), "advance reuses the re-parsed record")

	_, err = f.svc.Finalize(context.Background(), req.ID, dto.FinalizeRequest{}, "reviewer-1")
	require.NoError(t, err)
	_, err = f.svc.Reparse(context.Background(), doc.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
}

func TestEvaluationServiceReviewKeepsDocumentsFrozen(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	reviewed, err := f.svc.Advance(context.Background(), req.ID, advanceRequest(doc.ID))
	require.NoError(t, err)
	require.Equal(t, models.EvaluationStatusHumanReview, f.requests.status(req.ID))
	stored, err := f.documents.FindByID(context.Background(), doc.ID)
	require.NoError(t, err)
	rawText := stored.ExtractedData.RawText

	f.extractor.result = extraction.Result{Text: "Algebra 10", Method: extraction.MethodPDFOCR}
	_, err = f.svc.Reparse(context.Background(), doc.ID)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
	assert.Equal(t, 1, f.extractor.count())

	_, err = f.svc.AttachDocument(context.Background(), dto.AttachDocumentRequest{
		RequestID:        req.ID,
		OriginalFilename: "late.pdf",
		MediaType:        models.MediaTypePDF,
		DocumentType:     models.DocumentTypeTranscript,
		Content:          []byte("%PDF-1.4 late"),
	})
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))
	assert.Len(t, f.store.objects, 1)

	stored, err = f.documents.FindByID(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rawText, stored.ExtractedData.RawText)

	final, err := f.svc.Finalize(context.Background(), req.ID, dto.FinalizeRequest{}, "reviewer-1")
	require.NoError(t, err)
	expected, err := json.Marshal(reviewed.AIAnalysis)
	require.NoError(t, err)
	assert.JSONEq(t, string(expected), string(final.FinalResult))
}

func TestEvaluationServiceExpireStale(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, _ := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	fresh, _ := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)
	require.NoError(t, f.requests.UpdateStatus(context.Background(), req.ID, models.EvaluationStatusAiProcessing, nil, time.Now().Add(-time.Hour)))
	require.NoError(t, f.requests.UpdateStatus(context.Background(), fresh.ID, models.EvaluationStatusAiProcessing, nil, time.Now()))

	expired, err := f.svc.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	stale, _ := f.requests.FindByID(context.Background(), req.ID)
	assert.Equal(t, models.EvaluationStatusError, stale.Status)
	require.NotNil(t, stale.FailureReason)
	assert.Contains(t, *stale.FailureReason, "timed out")
	assert.Equal(t, models.EvaluationStatusAiProcessing, f.requests.status(fresh.ID))
}

func TestEvaluationServiceGetAndList(t *testing.T) {
	f := newEvaluationFixture(t, nil, nil)
	req, doc := f.submitWithDocument(t, models.DocumentTypeTranscript, models.MediaTypePDF)

	detail, err := f.svc.Get(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, detail.Documents, 1)
	assert.Equal(t, doc.ID, detail.Documents[0].ID)
	assert.Nil(t, detail.Result)

	_, err = f.svc.Get(context.Background(), "missing")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	items, pagination, err := f.svc.List(context.Background(), dto.ListEvaluationsQuery{Status: "Submitted,HumanReview"})
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, pagination.TotalCount)
	assert.Equal(t, 20, pagination.PageSize)

	_, _, err = f.svc.List(context.Background(), dto.ListEvaluationsQuery{Status: "Pending"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))
}
