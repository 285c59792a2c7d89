package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/credential-eval-api/internal/models"
)

const ruleSetColumns = `country_code, rules, source, created_at, updated_at`

// RuleSetRepository persists country rule sets keyed by country code.
type RuleSetRepository struct {
	db *sqlx.DB
}

// NewRuleSetRepository constructs the repository.
func NewRuleSetRepository(db *sqlx.DB) *RuleSetRepository {
	return &RuleSetRepository{db: db}
}

// FindByCountry returns the rule set of a country. sql.ErrNoRows is returned untouched.
func (r *RuleSetRepository) FindByCountry(ctx context.Context, countryCode string) (*models.CountryRuleSet, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM country_rule_sets WHERE country_code = $1`
	var set models.CountryRuleSet
	if err := r.db.GetContext(ctx, &set, query, models.NormalizeCountryCode(countryCode)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find rule set: %w", err)
	}
	return &set, nil
}

// InsertIfAbsent stores set unless a row for the country already exists. It
// returns the row that is persisted afterwards, which is the earlier one on conflict.
func (r *RuleSetRepository) InsertIfAbsent(ctx context.Context, set *models.CountryRuleSet) (*models.CountryRuleSet, error) {
	set.CountryCode = models.NormalizeCountryCode(set.CountryCode)
	now := time.Now().UTC()
	set.CreatedAt = now
	set.UpdatedAt = now
	if set.Source == "" {
		set.Source = models.RuleSetSourceGenerated
	}
	const query = `INSERT INTO country_rule_sets (country_code, rules, source, created_at, updated_at)
VALUES (:country_code, :rules, :source, :created_at, :updated_at)
ON CONFLICT (country_code) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, set); err != nil {
		return nil, fmt.Errorf("insert rule set: %w", err)
	}
	return r.FindByCountry(ctx, set.CountryCode)
}

// Upsert replaces the rule set of a country.
func (r *RuleSetRepository) Upsert(ctx context.Context, set *models.CountryRuleSet) error {
	set.CountryCode = models.NormalizeCountryCode(set.CountryCode)
	now := time.Now().UTC()
	if set.CreatedAt.IsZero() {
		set.CreatedAt = now
	}
	set.UpdatedAt = now
	const query = `INSERT INTO country_rule_sets (country_code, rules, source, created_at, updated_at)
VALUES (:country_code, :rules, :source, :created_at, :updated_at)
ON CONFLICT (country_code) DO UPDATE SET rules = EXCLUDED.rules, source = EXCLUDED.source, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, set); err != nil {
		return fmt.Errorf("upsert rule set: %w", err)
	}
	return nil
}

// List returns every stored rule set ordered by country.
func (r *RuleSetRepository) List(ctx context.Context) ([]models.CountryRuleSet, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM country_rule_sets ORDER BY country_code ASC`
	var sets []models.CountryRuleSet
	if err := r.db.SelectContext(ctx, &sets, query); err != nil {
		return nil, fmt.Errorf("list rule sets: %w", err)
	}
	return sets, nil
}

// Delete removes the rule set of a country.
func (r *RuleSetRepository) Delete(ctx context.Context, countryCode string) error {
	const query = `DELETE FROM country_rule_sets WHERE country_code = $1`
	res, err := r.db.ExecContext(ctx, query, models.NormalizeCountryCode(countryCode))
	if err != nil {
		return fmt.Errorf("delete rule set: %w", err)
	}
	return requireAffected(res, "delete rule set")
}
