package handler

import (
	"github.com/gin-gonic/gin"

	internalmiddleware "github.com/noah-isme/credential-eval-api/internal/middleware"
	"github.com/noah-isme/credential-eval-api/internal/models"
)

// Handlers groups the HTTP handlers mounted by RegisterRoutes.
type Handlers struct {
	Evaluations *EvaluationHandler
	Documents   *DocumentHandler
	Rules       *RuleHandler
	Reports     *ReportHandler
	Metrics     *MetricsHandler
}

// RegisterRoutes mounts the API under api. auth guards every route except the
// signed export download.
func RegisterRoutes(api gin.IRouter, h Handlers, auth gin.HandlerFunc) {
	anyRole := internalmiddleware.RequireRoles(models.RoleSubmitter, models.RoleReviewer, models.RoleAdmin)
	reviewers := internalmiddleware.RequireRoles(models.RoleReviewer, models.RoleAdmin)
	admins := internalmiddleware.RequireRoles(models.RoleAdmin)

	if h.Reports != nil {
		api.GET("/export/:token", h.Reports.Download)
	}

	secured := api.Group("")
	secured.Use(auth)

	evaluations := secured.Group("/evaluations")
	evaluations.POST("", anyRole, h.Evaluations.Submit)
	evaluations.GET("", anyRole, h.Evaluations.List)
	evaluations.GET("/:id", anyRole, h.Evaluations.Get)
	evaluations.POST("/:id/advance", anyRole, h.Evaluations.Advance)
	evaluations.POST("/:id/review", reviewers, h.Evaluations.Review)
	evaluations.POST("/:id/finalize", reviewers, h.Evaluations.Finalize)

	documents := secured.Group("/documents")
	documents.POST("", anyRole, h.Documents.Upload)
	documents.GET("/:id", anyRole, h.Documents.Get)
	documents.POST("/:id/reparse", reviewers, h.Documents.Reparse)

	rules := secured.Group("/rules")
	rules.GET("", anyRole, h.Rules.List)
	rules.GET("/:country", anyRole, h.Rules.Get)
	rules.PUT("/:country", admins, h.Rules.Put)

	if h.Reports != nil {
		evaluations.POST("/:id/reports", reviewers, h.Reports.Generate)
		evaluations.GET("/:id/reports", reviewers, h.Reports.ListForRequest)
		secured.GET("/reports/:id", reviewers, h.Reports.Status)
	}
	if h.Metrics != nil {
		secured.GET("/metrics/summary", admins, h.Metrics.Summary)
	}
}
