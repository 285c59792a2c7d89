package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RuleSetSource records how a rule set entered the store.
type RuleSetSource string

const (
	RuleSetSourceGenerated RuleSetSource = "generated"
	RuleSetSourceManual    RuleSetSource = "manual"
)

// RuleSetOrigin tells where a lookup found its rule set.
type RuleSetOrigin string

const (
	RuleSetOriginCache     RuleSetOrigin = "cache"
	RuleSetOriginStore     RuleSetOrigin = "store"
	RuleSetOriginGenerated RuleSetOrigin = "generated"
)

// GradingScale bounds the numeric grades of a country.
type GradingScale struct {
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Passing float64 `json:"passing"`
}

// GradeConversion maps a closed numeric range to a US letter grade.
type GradeConversion struct {
	Label string  `json:"label"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// Contains reports whether grade lies within [Min, Max].
func (c GradeConversion) Contains(grade float64) bool {
	return grade >= c.Min && grade <= c.Max
}

// DegreeEquivalence maps a local degree title to its US equivalent.
type DegreeEquivalence struct {
	LocalDegree  string  `json:"localDegree"`
	USEquivalent string  `json:"usEquivalent"`
	Credits      float64 `json:"credits"`
	Duration     string  `json:"duration"`
}

// RuleDefinition is the persisted JSON body of a country rule set.
type RuleDefinition struct {
	GradingScale       GradingScale        `json:"gradingScale"`
	GradeConversions   []GradeConversion   `json:"gradeConversions"`
	DegreeEquivalences []DegreeEquivalence `json:"degreeEquivalences"`
}

// Classify returns the conversion a grade falls under. Each range owns the
// grades from its Min up to the next range's Min, so a grade in the narrow
// gap between two written ranges belongs to the lower one. Grades outside the
// grading scale or below every range match nothing.
func (d RuleDefinition) Classify(grade float64) (GradeConversion, bool) {
	if grade < d.GradingScale.Min || grade > d.GradingScale.Max {
		return GradeConversion{}, false
	}
	ranges := make([]GradeConversion, len(d.GradeConversions))
	copy(ranges, d.GradeConversions)
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Min < ranges[j].Min })

	match := -1
	for i, r := range ranges {
		if r.Contains(grade) {
			return r, true
		}
		if r.Min <= grade {
			match = i
		}
	}
	if match < 0 {
		return GradeConversion{}, false
	}
	return ranges[match], true
}

// Value marshals the definition for the JSONB column.
func (d RuleDefinition) Value() (driver.Value, error) {
	if d.GradeConversions == nil {
		d.GradeConversions = []GradeConversion{}
	}
	if d.DegreeEquivalences == nil {
		d.DegreeEquivalences = []DegreeEquivalence{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal rule definition: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSONB column.
func (d *RuleDefinition) Scan(value interface{}) error {
	return scanJSON(value, d, "rule definition")
}

// CountryRuleSet is the grading and degree reference data for one country.
type CountryRuleSet struct {
	CountryCode string         `db:"country_code" json:"countryCode"`
	Rules       RuleDefinition `db:"rules" json:"rules"`
	Source      RuleSetSource  `db:"source" json:"source"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// NormalizeCountryCode trims and upper-cases a country identifier.
func NormalizeCountryCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
