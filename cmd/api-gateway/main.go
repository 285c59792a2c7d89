package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/credential-eval-api/api/swagger"
	"github.com/noah-isme/credential-eval-api/internal/handler"
	internalmiddleware "github.com/noah-isme/credential-eval-api/internal/middleware"
	"github.com/noah-isme/credential-eval-api/internal/repository"
	"github.com/noah-isme/credential-eval-api/internal/service"
	"github.com/noah-isme/credential-eval-api/pkg/cache"
	"github.com/noah-isme/credential-eval-api/pkg/config"
	"github.com/noah-isme/credential-eval-api/pkg/database"
	"github.com/noah-isme/credential-eval-api/pkg/events"
	"github.com/noah-isme/credential-eval-api/pkg/extraction"
	"github.com/noah-isme/credential-eval-api/pkg/jobs"
	"github.com/noah-isme/credential-eval-api/pkg/keylock"
	"github.com/noah-isme/credential-eval-api/pkg/llm"
	"github.com/noah-isme/credential-eval-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/credential-eval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/credential-eval-api/pkg/middleware/requestid"
	"github.com/noah-isme/credential-eval-api/pkg/storage"
)

// @title Credential Evaluation API
// @version 1.0.0
// @description Foreign academic credential evaluation: document intake, extraction, US equivalency and review.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Migrations.Enabled {
		if err := database.Migrate(db, cfg.Migrations.Dir, logr); err != nil {
			logr.Sugar().Fatalw("migrations failed", "error", err)
		}
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, rule cache disabled", "error", err)
			redisClient = nil
		}
	}
	var cacheRepo service.CacheRepository
	if redisClient != nil {
		repo := repository.NewCacheRepository(redisClient, cfg.Redis.KeyPrefix, logr)
		defer repo.Close() //nolint:errcheck
		cacheRepo = repo
	}
	cacheService := service.NewCacheService(cacheRepo, metrics, cfg.Rules.CacheTTL, logr, cfg.Rules.CacheEnabled && cacheRepo != nil)

	documents, err := newDocumentStore(ctx, cfg.Storage)
	if err != nil {
		logr.Sugar().Fatalw("document storage init failed", "error", err)
	}

	publisher := newPublisher(cfg.Events, logr)
	defer publisher.Close() //nolint:errcheck

	model, err := llm.New(ctx, cfg.LLM, logr)
	if err != nil {
		logr.Sugar().Fatalw("language model init failed", "error", err)
	}
	defer model.Close() //nolint:errcheck

	extractor := extraction.NewExtractor(extraction.Config{
		Pdftoppm:  cfg.OCR.Pdftoppm,
		Tesseract: cfg.OCR.Tesseract,
		Language:  cfg.OCR.Language,
		DPI:       cfg.OCR.DPI,
		Timeout:   cfg.OCR.Timeout,
	}, logr, extraction.WithCommandObserver(metrics.ObserveOCRCommand))

	requestRepo := repository.NewEvaluationRequestRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	resultRepo := repository.NewEvaluationResultRepository(db)
	ruleRepo := repository.NewRuleSetRepository(db)

	rules := service.NewRuleStore(ruleRepo, cacheService, model, metrics, validate, logr, service.RuleStoreConfig{CacheTTL: cfg.Rules.CacheTTL})
	evaluations := service.NewEvaluationService(service.EvaluationDeps{
		Requests:   requestRepo,
		Documents:  documentRepo,
		Results:    resultRepo,
		Store:      documents,
		Extractor:  extractor,
		Structurer: service.NewStructuredExtractor(model, metrics, logr),
		Rules:      rules,
		Engine:     service.NewEquivalencyEngine(),
		Events:     publisher,
		Locks:      keylock.New(),
		Metrics:    metrics,
	}, validate, logr, service.EvaluationServiceConfig{
		MaxFileSizeBytes: cfg.Storage.MaxFileSizeBytes,
		StaleAfter:       cfg.Evaluation.StaleAfter,
		WatchdogInterval: cfg.Evaluation.WatchdogInterval,
	})

	evaluationWorker := service.NewEvaluationWorker(evaluations, logr)
	evaluationQueue := jobs.NewQueue("evaluations", evaluationWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Evaluation.WorkerConcurrency,
		BufferSize: cfg.Evaluation.WorkerBuffer,
		MaxRetries: -1,
		Logger:     logr,
		OnDone:     metrics.JobObserver("evaluations"),
	})
	evaluationWorker.SetQueue(evaluationQueue)
	evaluationQueue.Start(ctx)
	defer evaluationQueue.Stop()

	evaluations.StartWatchdog(ctx)

	var reportHandler *handler.ReportHandler
	if cfg.Reports.Enabled {
		reportHandler = setupReports(ctx, cfg, db, evaluations, metrics, validate, logr)
	}

	tokens := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
	})

	checks := map[string]handler.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	metricsHandler := handler.NewMetricsHandler(metrics, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(apiPrefix(cfg.APIPrefix))
	api.Use(internalmiddleware.WithResponseMeta())
	handler.RegisterRoutes(api, handler.Handlers{
		Evaluations: handler.NewEvaluationHandler(evaluations, evaluationWorker),
		Documents:   handler.NewDocumentHandler(evaluations, cfg.Storage.MaxFileSizeBytes),
		Rules:       handler.NewRuleHandler(rules),
		Reports:     reportHandler,
		Metrics:     metricsHandler,
	}, internalmiddleware.JWT(tokens))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}

func setupReports(ctx context.Context, cfg *config.Config, db *sqlx.DB, evaluations *service.EvaluationService, metrics *service.MetricsService, validate *validator.Validate, logr *zap.Logger) *handler.ReportHandler {
	files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("report storage init failed", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exporter := service.NewExportService(evaluations, files, signer, service.ExportConfig{
		APIPrefix: apiPrefix(cfg.APIPrefix),
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr)

	reportRepo := repository.NewReportRepository(db)
	worker := service.NewReportWorker(reportRepo, exporter, cfg.Reports.WorkerRetries, logr)
	queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Reports.WorkerConcurrency,
		MaxRetries: cfg.Reports.WorkerRetries,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
		OnDone:     metrics.JobObserver("reports"),
	})
	queue.Start(ctx)
	go func() {
		<-ctx.Done()
		queue.Stop()
	}()

	reports := service.NewReportService(reportRepo, evaluations, queue, exporter, validate, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
		MaxRetries:      cfg.Reports.WorkerRetries,
	})
	reports.RecoverPendingJobs(ctx)
	reports.StartCleanup(ctx)

	return handler.NewReportHandler(reports, logr)
}

func newDocumentStore(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStore, error) {
	if cfg.Driver == config.StorageDriverMinIO {
		return storage.NewMinIOStorage(ctx, storage.MinIOConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			UseSSL:    cfg.MinIO.UseSSL,
		})
	}
	return storage.NewLocalStorage(cfg.LocalDir)
}

func newPublisher(cfg config.EventsConfig, logr *zap.Logger) events.Publisher {
	if cfg.AMQPURL == "" {
		return events.NopPublisher{}
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.Exchange, logr)
	if err != nil {
		logr.Sugar().Warnw("status events disabled", "error", err)
		return events.NopPublisher{}
	}
	return publisher
}

func apiPrefix(raw string) string {
	prefix := "/" + strings.Trim(raw, "/")
	if prefix == "/" {
		return "/api/v1"
	}
	return prefix
}
