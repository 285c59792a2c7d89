package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/events"
	"github.com/noah-isme/credential-eval-api/pkg/extraction"
	"github.com/noah-isme/credential-eval-api/pkg/keylock"
)

type evaluationRequestRepository interface {
	Create(ctx context.Context, req *models.EvaluationRequest) error
	FindByID(ctx context.Context, id string) (*models.EvaluationRequest, error)
	List(ctx context.Context, filter models.EvaluationRequestFilter) ([]models.EvaluationRequest, int, error)
	UpdateStatus(ctx context.Context, id string, status models.EvaluationStatus, reason *string, at time.Time) error
	UpdateContext(ctx context.Context, req *models.EvaluationRequest) error
	ListStale(ctx context.Context, status models.EvaluationStatus, cutoff time.Time, limit int) ([]models.EvaluationRequest, error)
}

type documentRepository interface {
	Create(ctx context.Context, doc *models.Document) error
	FindByID(ctx context.Context, id string) (*models.Document, error)
	ListByRequest(ctx context.Context, requestID string) ([]models.Document, error)
	SetExtractedData(ctx context.Context, id string, record *models.AcademicRecord) (bool, error)
	ClearExtractedData(ctx context.Context, id string) error
}

type evaluationResultRepository interface {
	FindByRequest(ctx context.Context, requestID string) (*models.EvaluationResult, error)
	UpsertAnalysis(ctx context.Context, result *models.EvaluationResult) error
	SaveReview(ctx context.Context, result *models.EvaluationResult) error
	Finalize(ctx context.Context, result *models.EvaluationResult) error
}

type documentStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

type textExtractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (extraction.Result, error)
}

type recordStructurer interface {
	Structure(ctx context.Context, text string, docType models.DocumentType) (*models.AcademicRecord, error)
}

type ruleProvider interface {
	GetRules(ctx context.Context, country string) (*models.CountryRuleSet, error)
}

type equivalencyEvaluator interface {
	Evaluate(record *models.AcademicRecord, rules *models.CountryRuleSet) (*models.EquivalencyResult, error)
}

// EvaluationServiceConfig tunes uploads and the stale processing watchdog.
type EvaluationServiceConfig struct {
	MaxFileSizeBytes int64
	StaleAfter       time.Duration
	WatchdogInterval time.Duration
}

// EvaluationDeps groups the collaborators of EvaluationService.
type EvaluationDeps struct {
	Requests   evaluationRequestRepository
	Documents  documentRepository
	Results    evaluationResultRepository
	Store      documentStore
	Extractor  textExtractor
	Structurer recordStructurer
	Rules      ruleProvider
	Engine     equivalencyEvaluator
	Events     events.Publisher
	Locks      *keylock.Locker
	Metrics    *MetricsService
}

// EvaluationService owns the lifecycle of evaluation requests.
type EvaluationService struct {
	requests   evaluationRequestRepository
	documents  documentRepository
	results    evaluationResultRepository
	store      documentStore
	extractor  textExtractor
	structurer recordStructurer
	rules      ruleProvider
	engine     equivalencyEvaluator
	events     events.Publisher
	locks      *keylock.Locker
	metrics    *MetricsService
	validator  *validator.Validate
	logger     *zap.Logger
	cfg        EvaluationServiceConfig
	now        func() time.Time
}

// NewEvaluationService constructs the service.
func NewEvaluationService(deps EvaluationDeps, validate *validator.Validate, logger *zap.Logger, cfg EvaluationServiceConfig) *EvaluationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New()
	}
	if deps.Engine == nil {
		deps.Engine = NewEquivalencyEngine()
	}
	if cfg.MaxFileSizeBytes <= 0 {
		cfg.MaxFileSizeBytes = 20 << 20
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	return &EvaluationService{
		requests:   deps.Requests,
		documents:  deps.Documents,
		results:    deps.Results,
		store:      deps.Store,
		extractor:  deps.Extractor,
		structurer: deps.Structurer,
		rules:      deps.Rules,
		engine:     deps.Engine,
		events:     deps.Events,
		locks:      deps.Locks,
		metrics:    deps.Metrics,
		validator:  validate,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Submit creates a request in Submitted.
func (s *EvaluationService) Submit(ctx context.Context, req dto.SubmitEvaluationRequest) (*models.EvaluationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	evalType := req.EvaluationType
	if evalType == "" {
		evalType = models.EvaluationTypeDocumentByDocument
	}
	request := &models.EvaluationRequest{
		StudentRef:     strings.TrimSpace(req.StudentRef),
		Institution:    strings.TrimSpace(req.Institution),
		CountryCode:    models.NormalizeCountryCode(req.CountryCode),
		ProgramName:    strings.TrimSpace(req.ProgramName),
		EvaluationType: evalType,
		Status:         models.EvaluationStatusSubmitted,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evaluation request")
	}
	s.publish(ctx, request.ID, "", models.EvaluationStatusSubmitted, "")
	s.logger.Sugar().Infow("evaluation submitted", "request_id", request.ID, "student_ref", request.StudentRef)
	return request, nil
}

// AttachDocument stores an uploaded file and links it to a request, creating
// a placeholder request when none is given.
func (s *EvaluationService) AttachDocument(ctx context.Context, req dto.AttachDocumentRequest) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	mediaType := models.NormalizeMediaType(req.MediaType)
	if !models.SupportedMediaType(mediaType) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedMediaType, fmt.Sprintf("media type %q is not supported", req.MediaType))
	}
	if len(req.Content) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "document is empty")
	}
	if int64(len(req.Content)) > s.cfg.MaxFileSizeBytes {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("document exceeds %d bytes", s.cfg.MaxFileSizeBytes))
	}

	var request *models.EvaluationRequest
	if req.RequestID == "" {
		request = &models.EvaluationRequest{
			StudentRef:  strings.TrimSpace(req.StudentRef),
			Institution: models.PlaceholderInstitution,
			Status:      models.EvaluationStatusSubmitted,
		}
		if err := s.requests.Create(ctx, request); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create placeholder request")
		}
		s.publish(ctx, request.ID, "", models.EvaluationStatusSubmitted, "created by document upload")
	} else {
		unlock, err := s.lock(ctx, req.RequestID)
		if err != nil {
			return nil, err
		}
		defer unlock()
		if request, err = s.loadRequest(ctx, req.RequestID); err != nil {
			return nil, err
		}
		switch request.Status {
		case models.EvaluationStatusCompleted:
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot attach documents to a completed request")
		case models.EvaluationStatusHumanReview:
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "cannot attach documents while the request is under review")
		}
	}

	docID := uuid.NewString()
	filename := docID + documentExtension(req.OriginalFilename, mediaType)
	key := fmt.Sprintf("documents/%s/%s", request.ID, filename)
	if err := s.store.Put(ctx, key, req.Content, mediaType); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	doc := &models.Document{
		ID:               docID,
		RequestID:        request.ID,
		Filename:         filename,
		OriginalFilename: filepath.Base(req.OriginalFilename),
		StoragePath:      key,
		MediaType:        mediaType,
		SizeBytes:        int64(len(req.Content)),
		DocumentType:     req.DocumentType,
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			s.logger.Sugar().Warnw("failed to remove orphaned document", "key", key, "error", delErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save document")
	}
	s.logger.Sugar().Infow("document attached", "request_id", request.ID, "document_id", doc.ID, "media_type", mediaType, "size", doc.SizeBytes)
	return doc, nil
}

// Advance runs extraction, structuring and equivalency for one document and
// moves the request to HumanReview. Failures move the request to Error and are
// returned to the caller; nothing is retried automatically.
func (s *EvaluationService) Advance(ctx context.Context, requestID string, req dto.AdvanceRequest) (*models.EvaluationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.CanAdvance() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("request is %s and cannot be processed", request.Status))
	}
	doc, err := s.loadDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.RequestID != request.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document does not belong to this request")
	}
	if !doc.DocumentType.Evaluable() {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedDocumentType, fmt.Sprintf("document type %s cannot be evaluated", doc.DocumentType))
	}

	from := request.Status
	if institution := strings.TrimSpace(req.Institution); institution != "" {
		request.Institution = institution
	}
	request.CountryCode = models.NormalizeCountryCode(req.CountryCode)
	if req.EvaluationType != "" {
		request.EvaluationType = req.EvaluationType
	}
	if err := s.requests.UpdateContext(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request")
	}
	if err := s.transition(ctx, request, models.EvaluationStatusAiProcessing, nil); err != nil {
		return nil, err
	}
	s.logger.Sugar().Infow("evaluation processing", "request_id", request.ID, "document_id", doc.ID, "from", from, "country", request.CountryCode)

	record := doc.ExtractedData
	if !doc.HasExtractedData() {
		if record, err = s.extractRecord(ctx, doc); err != nil {
			return nil, s.markFailed(ctx, request, err)
		}
	}

	rules, err := s.rules.GetRules(ctx, request.CountryCode)
	if err != nil {
		return nil, s.markFailed(ctx, request, err)
	}
	analysis, err := s.engine.Evaluate(record, rules)
	if err != nil {
		return nil, s.markFailed(ctx, request, err)
	}

	result, err := s.results.FindByRequest(ctx, request.ID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, s.markFailed(ctx, request, err)
		}
		result = &models.EvaluationResult{RequestID: request.ID}
	}
	result.AIAnalysis.Put(models.DocumentAnalysis{DocumentID: doc.ID, Result: *analysis, EvaluatedAt: s.now().UTC()})
	if err := s.results.UpsertAnalysis(ctx, result); err != nil {
		return nil, s.markFailed(ctx, request, err)
	}

	if err := s.transition(ctx, request, models.EvaluationStatusHumanReview, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// Finalize records the reviewer's decision and completes a request in HumanReview.
func (s *EvaluationService) Finalize(ctx context.Context, requestID string, req dto.FinalizeRequest, reviewerID string) (*models.EvaluationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if len(req.FinalResult) > 0 && !json.Valid(req.FinalResult) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "finalResult must be valid json")
	}
	if strings.TrimSpace(reviewerID) == "" {
		return nil, appErrors.ErrUnauthorized
	}
	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.EvaluationStatusHumanReview {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("request is %s; finalize requires %s", request.Status, models.EvaluationStatusHumanReview))
	}
	result, err := s.loadResult(ctx, requestID)
	if err != nil {
		return nil, err
	}

	final := models.JSONPayload(req.FinalResult)
	if len(final) == 0 || string(final) == "null" {
		if len(result.HumanReview) > 0 {
			final = result.HumanReview
		} else {
			raw, err := json.Marshal(result.AIAnalysis)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode analysis")
			}
			final = raw
		}
	}
	reviewedAt := s.now().UTC()
	result.FinalResult = final
	result.ReviewedBy = &reviewerID
	result.ReviewedAt = &reviewedAt
	if req.Notes != nil {
		result.ReviewNotes = req.Notes
	}
	if err := s.results.Finalize(ctx, result); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store final result")
	}
	if err := s.transition(ctx, request, models.EvaluationStatusCompleted, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// RecordReview saves a reviewer draft without completing the request.
func (s *EvaluationService) RecordReview(ctx context.Context, requestID string, req dto.ReviewRequest, reviewerID string) (*models.EvaluationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	if !json.Valid(req.HumanReview) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "humanReview must be valid json")
	}
	unlock, err := s.lock(ctx, requestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request.Status != models.EvaluationStatusHumanReview {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("request is %s; review requires %s", request.Status, models.EvaluationStatusHumanReview))
	}
	result, err := s.loadResult(ctx, requestID)
	if err != nil {
		return nil, err
	}
	result.HumanReview = models.JSONPayload(req.HumanReview)
	result.ReviewedBy = &reviewerID
	if req.Notes != nil {
		result.ReviewNotes = req.Notes
	}
	if err := s.results.SaveReview(ctx, result); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store review")
	}
	return result, nil
}

// Reparse drops the structured record of a document and extracts it again.
// The request status is left untouched; a later Advance uses the new record.
// Requests under review are refused so the analysis being reviewed always
// matches the stored record.
func (s *EvaluationService) Reparse(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := s.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.DocumentType.Evaluable() {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedDocumentType, fmt.Sprintf("document type %s cannot be parsed", doc.DocumentType))
	}
	unlock, err := s.lock(ctx, doc.RequestID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	request, err := s.loadRequest(ctx, doc.RequestID)
	if err != nil {
		return nil, err
	}
	switch request.Status {
	case models.EvaluationStatusCompleted, models.EvaluationStatusAiProcessing, models.EvaluationStatusHumanReview:
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("documents of a %s request cannot be re-parsed", request.Status))
	}
	if err := s.documents.ClearExtractedData(ctx, doc.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear extracted data")
	}
	doc.ExtractedData = nil
	record, err := s.extractRecord(ctx, doc)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	doc.ExtractedData = record
	return doc, nil
}

// Get returns a request with its documents and result.
func (s *EvaluationService) Get(ctx context.Context, id string) (*models.EvaluationDetail, error) {
	request, err := s.loadRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.documents.ListByRequest(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load documents")
	}
	if docs == nil {
		docs = []models.Document{}
	}
	detail := &models.EvaluationDetail{Request: request, Documents: docs}
	result, err := s.results.FindByRequest(ctx, id)
	switch {
	case err == nil:
		detail.Result = result
	case !errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load result")
	}
	return detail, nil
}

// GetDocument returns a single document.
func (s *EvaluationService) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return s.loadDocument(ctx, id)
}

// List returns requests matching the query with pagination metadata.
func (s *EvaluationService) List(ctx context.Context, query dto.ListEvaluationsQuery) ([]models.EvaluationRequest, *models.Pagination, error) {
	filter := models.EvaluationRequestFilter{
		StudentRef:  strings.TrimSpace(query.StudentRef),
		CountryCode: query.CountryCode,
		Page:        query.Page,
		PageSize:    query.PageSize,
	}
	for _, raw := range strings.Split(query.Status, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		status := models.EvaluationStatus(raw)
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", raw))
		}
		filter.Status = append(filter.Status, status)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	items, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evaluation requests")
	}
	if items == nil {
		items = []models.EvaluationRequest{}
	}
	return items, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// CheckAdvance reports whether Advance would currently be accepted for the request.
func (s *EvaluationService) CheckAdvance(ctx context.Context, requestID string, req dto.AdvanceRequest) (*models.EvaluationRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	request, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.CanAdvance() {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, fmt.Sprintf("request is %s and cannot be processed", request.Status))
	}
	doc, err := s.loadDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.RequestID != request.ID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document does not belong to this request")
	}
	if !doc.DocumentType.Evaluable() {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedDocumentType, fmt.Sprintf("document type %s cannot be evaluated", doc.DocumentType))
	}
	return request, nil
}

// ExpireStale forces requests stuck in AiProcessing past StaleAfter into Error.
func (s *EvaluationService) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.cfg.StaleAfter)
	stale, err := s.requests.ListStale(ctx, models.EvaluationStatusAiProcessing, cutoff, 100)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list stale requests")
	}
	expired := 0
	for _, candidate := range stale {
		lockCtx, cancel := context.WithTimeout(ctx, time.Second)
		unlock, err := s.locks.Lock(lockCtx, candidate.ID)
		cancel()
		if err != nil {
			// held by a live Advance in this process
			continue
		}
		request, err := s.requests.FindByID(ctx, candidate.ID)
		if err == nil && request.Status == models.EvaluationStatusAiProcessing && request.UpdatedAt.Before(cutoff) {
			timeout := fmt.Errorf("processing timed out after %s", s.cfg.StaleAfter)
			_ = s.markFailed(ctx, request, appErrors.Wrap(timeout, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "processing abandoned"))
			expired++
		}
		unlock()
	}
	if expired > 0 {
		s.logger.Sugar().Warnw("expired stale evaluations", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}

// StartWatchdog periodically runs ExpireStale until ctx is done.
func (s *EvaluationService) StartWatchdog(ctx context.Context) {
	interval := s.cfg.WatchdogInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.ExpireStale(ctx); err != nil {
					s.logger.Sugar().Warnw("watchdog sweep failed", "error", err)
				}
			}
		}
	}()
}

func (s *EvaluationService) extractRecord(ctx context.Context, doc *models.Document) (*models.AcademicRecord, error) {
	data, err := s.store.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read stored document")
	}
	text, err := s.extractor.Extract(ctx, data, doc.MediaType)
	method := string(text.Method)
	if method == "" {
		method = doc.MediaType
	}
	s.metrics.RecordExtraction(method, err)
	if err != nil {
		return nil, err
	}
	record, err := s.structurer.Structure(ctx, text.Text, doc.DocumentType)
	if err != nil {
		return nil, err
	}
	record.ExtractionMethod = string(text.Method)

	stored, err := s.documents.SetExtractedData(ctx, doc.ID, record)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store extracted data")
	}
	if !stored {
		current, err := s.loadDocument(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if current.HasExtractedData() {
			return current.ExtractedData, nil
		}
	}
	s.logger.Sugar().Infow("document structured", "document_id", doc.ID, "method", text.Method, "kind", record.Kind)
	return record, nil
}

func (s *EvaluationService) transition(ctx context.Context, request *models.EvaluationRequest, to models.EvaluationStatus, reason *string) error {
	from := request.Status
	at := s.now().UTC()
	if err := s.requests.UpdateStatus(ctx, request.ID, to, reason, at); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update request status")
	}
	request.Status = to
	request.FailureReason = reason
	request.UpdatedAt = at
	if from != to {
		s.metrics.RecordTransition(from, to)
		detail := ""
		if reason != nil {
			detail = *reason
		}
		s.publish(ctx, request.ID, from, to, detail)
	}
	return nil
}

// markFailed moves the request to Error and returns cause as an *appErrors.Error.
// The write is detached from ctx so an abandoned caller still leaves a final status.
func (s *EvaluationService) markFailed(ctx context.Context, request *models.EvaluationRequest, cause error) error {
	appErr := appErrors.FromError(cause)
	reason := failureReason(cause)
	if err := s.transition(context.WithoutCancel(ctx), request, models.EvaluationStatusError, &reason); err != nil {
		s.logger.Sugar().Errorw("failed to record evaluation error", "request_id", request.ID, "cause", cause, "error", err)
	}
	s.logger.Sugar().Warnw("evaluation failed", "request_id", request.ID, "code", appErr.Code, "reason", reason)
	return appErr
}

func failureReason(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		return fmt.Sprintf("%s: %s", appErr.Message, appErr.Err.Error())
	}
	return err.Error()
}

func (s *EvaluationService) publish(ctx context.Context, requestID string, from, to models.EvaluationStatus, reason string) {
	evt := events.StatusChanged{
		RequestID:  requestID,
		From:       string(from),
		To:         string(to),
		Reason:     reason,
		OccurredAt: s.now().UTC(),
	}
	if err := s.events.PublishStatus(context.WithoutCancel(ctx), evt); err != nil {
		s.logger.Sugar().Warnw("failed to publish status event", "request_id", requestID, "to", to, "error", err)
	}
}

func (s *EvaluationService) lock(ctx context.Context, requestID string) (func(), error) {
	unlock, err := s.locks.Lock(ctx, requestID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "request is busy")
	}
	return unlock, nil
}

func (s *EvaluationService) loadRequest(ctx context.Context, id string) (*models.EvaluationRequest, error) {
	request, err := s.requests.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evaluation request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation request")
	}
	return request, nil
}

func (s *EvaluationService) loadDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.documents.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return doc, nil
}

func (s *EvaluationService) loadResult(ctx context.Context, requestID string) (*models.EvaluationResult, error) {
	result, err := s.results.FindByRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "request has no analysis to review")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evaluation result")
	}
	return result, nil
}

func documentExtension(original, mediaType string) string {
	if ext := strings.ToLower(filepath.Ext(original)); ext != "" && len(ext) <= 6 {
		return ext
	}
	switch mediaType {
	case models.MediaTypePDF:
		return ".pdf"
	case models.MediaTypeJPEG:
		return ".jpg"
	case models.MediaTypePNG:
		return ".png"
	case models.MediaTypePlain:
		return ".txt"
	default:
		return ""
	}
}
