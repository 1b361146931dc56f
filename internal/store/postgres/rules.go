package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/orbitfeed/orbitfeed/internal/pipeline"
)

func scanRules(rows pgx.Rows) ([]pipeline.TagRule, error) {
	var out []pipeline.TagRule
	for rows.Next() {
		var r pipeline.TagRule
		if err := rows.Scan(&r.ID, &r.Pattern, &r.Tag, &r.Enabled, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tag rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tag rules: %w", err)
	}
	return out, nil
}

// ListEnabledRules returns the currently enabled tag rules. Queried fresh each
// cycle so admin edits propagate without restart.
func (s *Store) ListEnabledRules(ctx context.Context) ([]pipeline.TagRule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, pattern, tag, enabled, created_at
FROM tag_rules
WHERE enabled = TRUE
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query enabled rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// ListRules returns every tag rule.
func (s *Store) ListRules(ctx context.Context) ([]pipeline.TagRule, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, pattern, tag, enabled, created_at
FROM tag_rules
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()
	return scanRules(rows)
}

// CreateRule stores a new tag rule and returns its ID.
func (s *Store) CreateRule(ctx context.Context, rule pipeline.TagRule) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO tag_rules (pattern, tag, enabled)
VALUES ($1, $2, $3)
RETURNING id`, rule.Pattern, rule.Tag, rule.Enabled).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create rule: %w", err)
	}
	return id, nil
}

// UpdateRule rewrites an existing tag rule.
func (s *Store) UpdateRule(ctx context.Context, rule pipeline.TagRule) error {
	if _, err := s.pool.Exec(ctx, `
UPDATE tag_rules SET pattern = $2, tag = $3, enabled = $4
WHERE id = $1`, rule.ID, rule.Pattern, rule.Tag, rule.Enabled); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}
	return nil
}

// DeleteRule removes a tag rule.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tag_rules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}
