package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	internalmiddleware "github.com/noah-isme/credential-eval-api/internal/middleware"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/response"
)

type ruleService interface {
	LookupRules(ctx context.Context, country string) (*models.CountryRuleSet, models.RuleSetOrigin, error)
	PutRules(ctx context.Context, country string, req dto.UpsertRuleSetRequest) (*models.CountryRuleSet, error)
	ListRules(ctx context.Context) ([]models.CountryRuleSet, error)
}

// RuleHandler exposes country grading rule sets.
type RuleHandler struct {
	service ruleService
}

// NewRuleHandler constructs the handler.
func NewRuleHandler(service ruleService) *RuleHandler {
	return &RuleHandler{service: service}
}

// List godoc
// @Summary List stored country rule sets
// @Tags Rules
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /rules [get]
func (h *RuleHandler) List(c *gin.Context) {
	sets, err := h.service.ListRules(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sets, nil)
}

// Get godoc
// @Summary Country rule set, generated on first use
// @Description meta.rule_origin is cache, store or generated; meta.cache_hit is true for cache.
// @Tags Rules
// @Produce json
// @Param country path string true "Country code"
// @Success 200 {object} response.Envelope
// @Router /rules/{country} [get]
func (h *RuleHandler) Get(c *gin.Context) {
	set, origin, err := h.service.LookupRules(c.Request.Context(), c.Param("country"))
	if err != nil {
		response.Error(c, err)
		return
	}
	internalmiddleware.SetRuleOrigin(c, origin)
	response.JSON(c, http.StatusOK, set, nil, internalmiddleware.ExtractMeta(c))
}

// Put godoc
// @Summary Replace a country rule set
// @Tags Rules
// @Accept json
// @Produce json
// @Param country path string true "Country code"
// @Param payload body dto.UpsertRuleSetRequest true "Rule set"
// @Success 200 {object} response.Envelope
// @Router /rules/{country} [put]
func (h *RuleHandler) Put(c *gin.Context) {
	var req dto.UpsertRuleSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rule set payload"))
		return
	}
	set, err := h.service.PutRules(c.Request.Context(), c.Param("country"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, set, nil)
}
