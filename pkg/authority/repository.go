package authority

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caravelhq/caravel-cli/pkg/docs"
	"github.com/caravelhq/caravel-cli/pkg/entities"
)

// Repository loads authority rules from PostgreSQL. It implements
// RuleSource.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a rule repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadRules reads the full rule table. The table is small (tens of rows) so
// a single read is fine; the TTL cache keeps it off the hot path.
func (r *Repository) LoadRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT document_type, entity_type, authority_level, can_override_from
		FROM authority_rules
		ORDER BY document_type, entity_type`)
	if err != nil {
		return nil, fmt.Errorf("query authority rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var overrideFrom []string
		if err := rows.Scan(&rule.DocumentType, &rule.EntityType, &rule.Level, &overrideFrom); err != nil {
			return nil, fmt.Errorf("scan authority rule: %w", err)
		}
		for _, t := range overrideFrom {
			rule.CanOverrideFrom = append(rule.CanOverrideFrom, docs.Type(t))
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Upsert writes one rule, replacing any existing rule for the same
// (document_type, entity_type) pair.
func (r *Repository) Upsert(ctx context.Context, rule Rule) error {
	overrideFrom := make([]string, 0, len(rule.CanOverrideFrom))
	for _, t := range rule.CanOverrideFrom {
		overrideFrom = append(overrideFrom, string(t))
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO authority_rules (document_type, entity_type, authority_level, can_override_from)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_type, entity_type) DO UPDATE SET
			authority_level   = EXCLUDED.authority_level,
			can_override_from = EXCLUDED.can_override_from`,
		rule.DocumentType, rule.EntityType, rule.Level, overrideFrom)
	if err != nil {
		return fmt.Errorf("upsert authority rule: %w", err)
	}
	return nil
}

// Delete removes the rule for (docType, entityType).
func (r *Repository) Delete(ctx context.Context, docType docs.Type, entityType entities.Type) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM authority_rules WHERE document_type = $1 AND entity_type = $2`,
		docType, entityType)
	if err != nil {
		return fmt.Errorf("delete authority rule: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ RuleSource = (*Repository)(nil)
