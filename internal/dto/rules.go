package dto

import "github.com/noah-isme/credential-eval-api/internal/models"

// UpsertRuleSetRequest replaces a country rule set administratively.
type UpsertRuleSetRequest struct {
	GradingScale       models.GradingScale        `json:"gradingScale" validate:"required"`
	GradeConversions   []models.GradeConversion   `json:"gradeConversions" validate:"required,min=1,dive"`
	DegreeEquivalences []models.DegreeEquivalence `json:"degreeEquivalences" validate:"omitempty,dive"`
}

// Definition converts the payload into the persisted rule body.
func (r UpsertRuleSetRequest) Definition() models.RuleDefinition {
	return models.RuleDefinition{
		GradingScale:       r.GradingScale,
		GradeConversions:   r.GradeConversions,
		DegreeEquivalences: r.DegreeEquivalences,
	}
}
