package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/models"
	"github.com/noah-isme/credential-eval-api/internal/repository"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/jobs"
)

type reportRepoStub struct {
	jobs map[string]*models.ReportJob
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: map[string]*models.ReportJob{}}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("get report job: %w", sql.ErrNoRows)
	}
	return job, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		job.ResultURL = params.ResultURL
	}
	if params.ErrorMessage != nil {
		job.ErrorMessage = params.ErrorMessage
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (r *reportRepoStub) ListQueued(ctx context.Context, limit int) ([]models.ReportJob, error) {
	var queued []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued {
			queued = append(queued, *job)
		}
	}
	return queued, nil
}

func (r *reportRepoStub) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ReportJob, error) {
	return nil, nil
}

func (r *reportRepoStub) ListByRequest(ctx context.Context, requestID string) ([]models.ReportJob, error) {
	var out []models.ReportJob
	for _, job := range r.jobs {
		if job.RequestID == requestID {
			out = append(out, *job)
		}
	}
	return out, nil
}

type failingGenerator struct{ err error }

func (f failingGenerator) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	return nil, f.err
}

func newReportServiceForTest(t *testing.T, status models.EvaluationStatus) (*ReportService, *reportRepoStub, *dispatcherStub, *ExportService) {
	t.Helper()
	details := map[string]*models.EvaluationDetail{"req-1": reviewedEvaluation(status)}
	repo := newReportRepoStub()
	queue := &dispatcherStub{}
	exportSvc, _ := newExportServiceForTest(t, details)
	svc := NewReportService(repo, evaluationReaderStub{details: details}, queue, exportSvc, nil, zap.NewNop(), ReportServiceConfig{
		ResultTTL:       time.Hour,
		CleanupInterval: time.Hour,
		MaxRetries:      3,
	})
	return svc, repo, queue, exportSvc
}

func TestReportServiceCreateJob(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t, models.EvaluationStatusHumanReview)

	resp, err := svc.CreateJob(context.Background(), "req-1", dto.ReportRequest{Format: models.ReportFormatXLSX}, "reviewer-1")
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ReportJobType, queue.jobs[0].Type)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	assert.Equal(t, "req-1", repo.jobs[resp.ID].RequestID)
	assert.Equal(t, "reviewer-1", repo.jobs[resp.ID].CreatedBy)
}

func TestReportServiceCreateJobRejected(t *testing.T) {
	svc, _, queue, _ := newReportServiceForTest(t, models.EvaluationStatusAiProcessing)

	_, err := svc.CreateJob(context.Background(), "req-1", dto.ReportRequest{Format: models.ReportFormatCSV}, "reviewer-1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrPreconditionFailed.Code))

	_, err = svc.CreateJob(context.Background(), "req-1", dto.ReportRequest{Format: "docx"}, "reviewer-1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrValidation.Code))

	_, err = svc.CreateJob(context.Background(), "missing", dto.ReportRequest{Format: models.ReportFormatCSV}, "reviewer-1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
	assert.Empty(t, queue.jobs)
}

func TestReportServiceCreateJobEnqueueFailure(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t, models.EvaluationStatusCompleted)
	queue.err = errors.New("queue full")

	_, err := svc.CreateJob(context.Background(), "req-1", dto.ReportRequest{Format: models.ReportFormatCSV}, "reviewer-1")
	require.Error(t, err)
	require.Len(t, repo.jobs, 1)
	for _, job := range repo.jobs {
		assert.Equal(t, models.ReportStatusFailed, job.Status)
		require.NotNil(t, job.ErrorMessage)
	}
}

func TestReportServiceCreateJobQueueFull(t *testing.T) {
	svc, _, queue, _ := newReportServiceForTest(t, models.EvaluationStatusHumanReview)
	queue.err = fmt.Errorf("queue reports: %w", jobs.ErrQueueFull)

	_, err := svc.CreateJob(context.Background(), "req-1", dto.ReportRequest{Format: models.ReportFormatCSV}, "reviewer-1")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrConflict.Code))
}

func TestReportServiceRecoverWaitsForQueueSpace(t *testing.T) {
	svc, repo, queue, _ := newReportServiceForTest(t, models.EvaluationStatusHumanReview)
	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, repo.Create(context.Background(), &models.ReportJob{ID: id, RequestID: "req-1", Format: models.ReportFormatCSV, Status: models.ReportStatusQueued}))
	}

	svc.RecoverPendingJobs(context.Background())
	assert.Len(t, queue.jobs, 3)
	assert.Equal(t, 3, queue.waited)
}

func TestReportWorkerLifecycleAndDownload(t *testing.T) {
	svc, repo, _, exportSvc := newReportServiceForTest(t, models.EvaluationStatusCompleted)
	resp, err := svc.CreateJob(context.Background(), "req-1", dto.ReportRequest{Format: models.ReportFormatCSV}, "reviewer-1")
	require.NoError(t, err)

	worker := NewReportWorker(repo, exportSvc, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Type: ReportJobType, Attempt: 1}))

	status, err := svc.GetStatus(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusFinished, status.Status)
	assert.Equal(t, 100, status.Progress)
	require.NotNil(t, status.ResultURL)
	assert.Nil(t, status.Error)

	download, err := svc.ResolveDownload(context.Background(), extractToken(*status.ResultURL))
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck
	assert.Equal(t, "evaluation-req-1.csv", download.Filename)
	assert.Equal(t, "text/csv", download.ContentType)

	_, err = svc.ResolveDownload(context.Background(), "bogus.token.value.sig")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrForbidden.Code))

	listed, err := svc.ListForRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestReportWorkerRetriesThenFails(t *testing.T) {
	repo := newReportRepoStub()
	require.NoError(t, repo.Create(context.Background(), &models.ReportJob{ID: "job-1", RequestID: "req-1", Format: models.ReportFormatPDF, Status: models.ReportStatusQueued}))
	worker := NewReportWorker(repo, failingGenerator{err: errors.New("render failed")}, 2, nil)

	err := worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 1})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusQueued, repo.jobs["job-1"].Status)

	err = worker.Handle(context.Background(), jobs.Job{ID: "job-1", Attempt: 2})
	require.Error(t, err)
	assert.Equal(t, models.ReportStatusFailed, repo.jobs["job-1"].Status)
	assert.Equal(t, "render failed", *repo.jobs["job-1"].ErrorMessage)

	err = worker.Handle(context.Background(), jobs.Job{ID: "missing"})
	assert.True(t, jobs.IsPermanent(err))
}

func TestReportServiceGetStatusNotFound(t *testing.T) {
	svc, _, _, _ := newReportServiceForTest(t, models.EvaluationStatusCompleted)
	_, err := svc.GetStatus(context.Background(), "nope")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}
