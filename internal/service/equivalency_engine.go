package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/noah-isme/credential-eval-api/internal/models"
	appErrors "github.com/noah-isme/credential-eval-api/pkg/errors"
)

// usGradePoints is the fixed letter to 4.0 scale mapping used for GPA normalization.
var usGradePoints = map[string]float64{
	"A": 4.0,
	"B": 3.0,
	"C": 2.0,
	"D": 1.0,
	"F": 0.0,
}

const fallbackFailingLabel = "F"

// EquivalencyEngine converts academic records into US equivalency results.
// It holds no state and is safe for concurrent use.
type EquivalencyEngine struct{}

// NewEquivalencyEngine constructs the engine.
func NewEquivalencyEngine() *EquivalencyEngine {
	return &EquivalencyEngine{}
}

// Evaluate applies the country rule set to record.
func (e *EquivalencyEngine) Evaluate(record *models.AcademicRecord, rules *models.CountryRuleSet) (*models.EquivalencyResult, error) {
	if rules == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "rule set is required")
	}
	switch record.DocumentType() {
	case models.DocumentTypeTranscript:
		if record.Transcript == nil {
			return nil, appErrors.NewIncompleteExtraction("courses")
		}
		return e.evaluateTranscript(record.Transcript, rules), nil
	case models.DocumentTypeDiploma:
		if record.Diploma == nil {
			return nil, appErrors.NewIncompleteExtraction("institution", "degree")
		}
		return e.evaluateDiploma(record.Diploma, rules), nil
	default:
		return nil, appErrors.Clone(appErrors.ErrUnsupportedDocumentType, "only transcripts and diplomas can be evaluated")
	}
}

func (e *EquivalencyEngine) evaluateTranscript(transcript *models.TranscriptRecord, rules *models.CountryRuleSet) *models.EquivalencyResult {
	scale := rules.Rules.GradingScale
	courses := make([]models.CourseConversion, 0, len(transcript.Courses))
	var points float64
	for _, course := range transcript.Courses {
		conversion := models.CourseConversion{
			Name:          course.Name,
			Code:          course.Code,
			Credits:       course.Credits,
			OriginalGrade: course.Grade,
		}
		if grade, ok := course.Grade.Numeric(); ok {
			g := grade
			conversion.NumericGrade = &g
			conversion.USGrade = convertGrade(rules.Rules, grade)
			conversion.Passed = grade >= scale.Passing && grade <= scale.Max
		} else {
			conversion.USGrade = lowestLabel(rules.Rules.GradeConversions)
		}
		conversion.GradePoints = usGradePoints[strings.ToUpper(conversion.USGrade)]
		points += conversion.GradePoints
		courses = append(courses, conversion)
	}

	result := &models.EquivalencyResult{
		DocumentType: models.DocumentTypeTranscript,
		CountryCode:  rules.CountryCode,
		OriginalGPA:  transcript.GPA,
		Courses:      courses,
	}
	if len(courses) > 0 {
		gpa := roundTo(points/float64(len(courses)), 2)
		result.NormalizedGPA = &gpa
	}
	result.Note = fmt.Sprintf("Converted %d course(s) from the %s grading scale (%s to %s, passing %s) to the US 4.0 scale.",
		len(courses), rules.CountryCode, formatGrade(scale.Min), formatGrade(scale.Max), formatGrade(scale.Passing))
	return result
}

func (e *EquivalencyEngine) evaluateDiploma(diploma *models.DiplomaRecord, rules *models.CountryRuleSet) *models.EquivalencyResult {
	degree := strings.TrimSpace(diploma.Degree)
	outcome := &models.DegreeOutcome{
		LocalDegree:  degree,
		Institution:  diploma.Institution,
		USEquivalent: models.NoDirectEquivalent,
	}
	note := fmt.Sprintf("No direct equivalent found for %q in the %s degree equivalence table.", degree, rules.CountryCode)
	for _, eq := range rules.Rules.DegreeEquivalences {
		if !strings.EqualFold(strings.TrimSpace(eq.LocalDegree), degree) {
			continue
		}
		credits := eq.Credits
		outcome.USEquivalent = eq.USEquivalent
		outcome.Credits = &credits
		outcome.Duration = eq.Duration
		outcome.Matched = true
		note = fmt.Sprintf("%q from %s is equivalent to a US %s per the %s degree equivalence table.", degree, diploma.Institution, eq.USEquivalent, rules.CountryCode)
		break
	}
	return &models.EquivalencyResult{
		DocumentType: models.DocumentTypeDiploma,
		CountryCode:  rules.CountryCode,
		Degree:       outcome,
		Note:         note,
	}
}

// convertGrade returns the label of the range grade falls under, or the
// lowest label when the grade is off the scale.
func convertGrade(def models.RuleDefinition, grade float64) string {
	if c, ok := def.Classify(grade); ok {
		return c.Label
	}
	return lowestLabel(def.GradeConversions)
}

func lowestLabel(conversions []models.GradeConversion) string {
	if len(conversions) == 0 {
		return fallbackFailingLabel
	}
	lowest := conversions[0]
	for _, c := range conversions[1:] {
		if c.Min < lowest.Min {
			lowest = c
		}
	}
	return lowest.Label
}

func roundTo(value float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(value*factor) / factor
}

func formatGrade(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}
