package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/credential-eval-api/internal/dto"
	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
	"github.com/noah-isme/credential-eval-api/pkg/llm"
)

type ruleSetRepository interface {
	FindByCountry(ctx context.Context, countryCode string) (*models.CountryRuleSet, error)
	InsertIfAbsent(ctx context.Context, set *models.CountryRuleSet) (*models.CountryRuleSet, error)
	Upsert(ctx context.Context, set *models.CountryRuleSet) error
	List(ctx context.Context) ([]models.CountryRuleSet, error)
}

type ruleSetCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) error
}

const ruleGenerationInstruction = `You are an expert in international credential evaluation.
Produce the grading rules used to convert grades of the given country to the US system as a JSON object with:
gradingScale {min, max, passing} using the country's most common secondary and higher education scale,
gradeConversions: an array of {label, min, max} mapping closed numeric ranges to US letter grades A, B, C, D and F.
The ranges must not overlap and together must cover the whole scale from min to max,
degreeEquivalences: an array of {localDegree, usEquivalent, credits, duration} for the common degrees of the country,
with localDegree written in the local language.`

var ruleSetSchema = map[string]any{
	"type":     "object",
	"required": []any{"gradingScale", "gradeConversions"},
	"properties": map[string]any{
		"gradingScale": map[string]any{
			"type":     "object",
			"required": []any{"min", "max", "passing"},
			"properties": map[string]any{
				"min":     map[string]any{"type": "number"},
				"max":     map[string]any{"type": "number"},
				"passing": map[string]any{"type": "number"},
			},
		},
		"gradeConversions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"label", "min", "max"},
				"properties": map[string]any{
					"label": map[string]any{"type": "string"},
					"min":   map[string]any{"type": "number"},
					"max":   map[string]any{"type": "number"},
				},
			},
		},
		"degreeEquivalences": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"localDegree":  map[string]any{"type": "string"},
					"usEquivalent": map[string]any{"type": "string"},
					"credits":      map[string]any{"type": "number"},
					"duration":     map[string]any{"type": "string"},
				},
			},
		},
	},
}

// rangeGapRatio bounds the distance between consecutive conversion ranges as a
// share of the scale span. Edges written at the precision of the scale fit
// (89 to 90 on 0-100, 3.9 to 4.0 on 0-5); a missing grade band does not.
const rangeGapRatio = 0.02

// rangeEpsilon absorbs float noise in edges such as 89.99 and 90.
const rangeEpsilon = 1e-9

func maxRangeGap(scale models.GradingScale) float64 {
	return (scale.Max - scale.Min) * rangeGapRatio
}

// RuleStoreConfig tunes caching.
type RuleStoreConfig struct {
	CacheTTL time.Duration
}

// RuleStore serves country rule sets, generating and persisting missing ones.
type RuleStore struct {
	repo      ruleSetRepository
	cache     ruleSetCache
	model     languageModel
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       RuleStoreConfig
	group     singleflight.Group
}

// NewRuleStore constructs the store. cache may be nil.
func NewRuleStore(repo ruleSetRepository, cache ruleSetCache, model languageModel, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, cfg RuleStoreConfig) *RuleStore {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &RuleStore{repo: repo, cache: cache, model: model, metrics: metrics, validator: validate, logger: logger, cfg: cfg}
}

func ruleSetCacheKey(countryCode string) string {
	return "rules:" + countryCode
}

// GetRules returns the rule set of country, generating it on first use.
func (s *RuleStore) GetRules(ctx context.Context, country string) (*models.CountryRuleSet, error) {
	set, _, err := s.LookupRules(ctx, country)
	return set, err
}

// LookupRules is GetRules that also reports whether the set came from the
// cache, the database or a fresh generation.
func (s *RuleStore) LookupRules(ctx context.Context, country string) (*models.CountryRuleSet, models.RuleSetOrigin, error) {
	code := models.NormalizeCountryCode(country)
	if code == "" {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "country code is required")
	}

	if s.cache != nil {
		var cached models.CountryRuleSet
		if hit, err := s.cache.Get(ctx, ruleSetCacheKey(code), &cached); err == nil && hit {
			return &cached, models.RuleSetOriginCache, nil
		}
	}

	set, err := s.repo.FindByCountry(ctx, code)
	if err == nil {
		s.remember(ctx, set)
		return set, models.RuleSetOriginStore, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rule set")
	}

	ch := s.group.DoChan(code, func() (interface{}, error) {
		return s.generate(context.WithoutCancel(ctx), code)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		return res.Val.(*models.CountryRuleSet), models.RuleSetOriginGenerated, nil
	case <-ctx.Done():
		return nil, "", appErrors.Wrap(ctx.Err(), appErrors.ErrRuleGeneration.Code, appErrors.ErrRuleGeneration.Status, "rule generation abandoned")
	}
}

func (s *RuleStore) generate(ctx context.Context, code string) (*models.CountryRuleSet, error) {
	if s.model == nil {
		return nil, appErrors.Clone(appErrors.ErrRuleGeneration, "language model not configured")
	}
	req := llm.Request{
		Operation: "rules",
		System:    ruleGenerationInstruction,
		Prompt:    fmt.Sprintf("Country code (ISO 3166-1): %s", code),
		Schema:    ruleSetSchema,
	}
	start := time.Now()
	raw, err := s.model.CompleteJSON(ctx, req)
	s.metrics.ObserveLLMCall(req.Operation, err, time.Since(start))
	if err != nil {
		s.metrics.RecordRuleGeneration(err)
		s.logger.Sugar().Warnw("rule generation failed", "country", code, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrRuleGeneration.Code, appErrors.ErrRuleGeneration.Status, "language model could not generate rules")
	}

	var definition models.RuleDefinition
	if err := json.Unmarshal(raw, &definition); err != nil {
		s.metrics.RecordRuleGeneration(err)
		return nil, appErrors.Wrap(err, appErrors.ErrRuleGeneration.Code, appErrors.ErrRuleGeneration.Status, "generated rules are not valid json")
	}
	if err := ValidateRuleDefinition(definition); err != nil {
		s.metrics.RecordRuleGeneration(err)
		s.logger.Sugar().Warnw("generated rules rejected", "country", code, "error", err)
		return nil, appErrors.Wrap(err, appErrors.ErrRuleGeneration.Code, appErrors.ErrRuleGeneration.Status, "generated rules failed validation")
	}

	stored, err := s.repo.InsertIfAbsent(ctx, &models.CountryRuleSet{
		CountryCode: code,
		Rules:       definition,
		Source:      models.RuleSetSourceGenerated,
	})
	if err != nil {
		s.metrics.RecordRuleGeneration(err)
		return nil, appErrors.Wrap(err, appErrors.ErrRuleGeneration.Code, appErrors.ErrRuleGeneration.Status, "failed to persist generated rules")
	}
	s.metrics.RecordRuleGeneration(nil)
	s.logger.Sugar().Infow("rule set generated", "country", code, "source", stored.Source, "conversions", len(stored.Rules.GradeConversions))
	s.remember(ctx, stored)
	return stored, nil
}

// PutRules replaces the rule set of a country administratively.
func (s *RuleStore) PutRules(ctx context.Context, country string, req dto.UpsertRuleSetRequest) (*models.CountryRuleSet, error) {
	code := models.NormalizeCountryCode(country)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "country code is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	definition := req.Definition()
	if err := ValidateRuleDefinition(definition); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}
	set := &models.CountryRuleSet{CountryCode: code, Rules: definition, Source: models.RuleSetSourceManual}
	if err := s.repo.Upsert(ctx, set); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store rule set")
	}
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, ruleSetCacheKey(code))
	}
	s.logger.Sugar().Infow("rule set replaced", "country", code)
	return set, nil
}

// ListRules returns every persisted rule set.
func (s *RuleStore) ListRules(ctx context.Context) ([]models.CountryRuleSet, error) {
	sets, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rule sets")
	}
	return sets, nil
}

func (s *RuleStore) remember(ctx context.Context, set *models.CountryRuleSet) {
	if s.cache == nil || set == nil {
		return
	}
	_ = s.cache.Set(ctx, ruleSetCacheKey(set.CountryCode), set, s.cfg.CacheTTL)
}

// ValidateRuleDefinition checks that the conversion table is disjoint and
// covers the grading scale, and that degree equivalences are usable.
func ValidateRuleDefinition(def models.RuleDefinition) error {
	scale := def.GradingScale
	if !finite(scale.Min, scale.Max, scale.Passing) {
		return errors.New("grading scale values must be finite numbers")
	}
	if scale.Min >= scale.Max {
		return fmt.Errorf("grading scale min %v must be below max %v", scale.Min, scale.Max)
	}
	if scale.Passing < scale.Min || scale.Passing > scale.Max {
		return fmt.Errorf("passing grade %v is outside the scale", scale.Passing)
	}
	if len(def.GradeConversions) == 0 {
		return errors.New("at least one grade conversion is required")
	}

	ranges := make([]models.GradeConversion, len(def.GradeConversions))
	copy(ranges, def.GradeConversions)
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Min < ranges[j].Min })

	labels := make(map[string]struct{}, len(ranges))
	for i, r := range ranges {
		label := strings.TrimSpace(r.Label)
		if label == "" {
			return errors.New("grade conversion label is required")
		}
		if _, dup := labels[strings.ToUpper(label)]; dup {
			return fmt.Errorf("grade conversion label %q is repeated", label)
		}
		labels[strings.ToUpper(label)] = struct{}{}
		if !finite(r.Min, r.Max) || r.Min > r.Max {
			return fmt.Errorf("grade conversion %q has an invalid range", label)
		}
		if r.Min < scale.Min || r.Max > scale.Max {
			return fmt.Errorf("grade conversion %q lies outside the scale", label)
		}
		if i == 0 {
			continue
		}
		prev := ranges[i-1]
		if r.Min <= prev.Max {
			return fmt.Errorf("grade conversions %q and %q overlap", prev.Label, label)
		}
		if r.Min-prev.Max > maxRangeGap(scale)+rangeEpsilon {
			return fmt.Errorf("grades between %v and %v are not covered", prev.Max, r.Min)
		}
	}
	if ranges[0].Min != scale.Min {
		return fmt.Errorf("grades from %v to %v are not covered", scale.Min, ranges[0].Min)
	}
	if last := ranges[len(ranges)-1]; last.Max != scale.Max {
		return fmt.Errorf("grades from %v to %v are not covered", last.Max, scale.Max)
	}

	for _, eq := range def.DegreeEquivalences {
		if strings.TrimSpace(eq.LocalDegree) == "" || strings.TrimSpace(eq.USEquivalent) == "" {
			return errors.New("degree equivalences need a local degree and a US equivalent")
		}
		if eq.Credits < 0 {
			return fmt.Errorf("degree %q has negative credits", eq.LocalDegree)
		}
	}
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
