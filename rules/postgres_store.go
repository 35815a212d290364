package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store backed by PostgreSQL.
// The schema lives in migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed Store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LookupPack(ctx context.Context, packID string) (*Pack, error) {
	var pack Pack
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name
		FROM packs
		WHERE id = $1
	`, packID).Scan(&pack.ID, &pack.Name)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pack %s: %w", packID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pack: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, freq, threshold
		FROM pack_rules
		WHERE pack_id = $1
		ORDER BY position ASC
	`, packID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pack rules: %w", err)
	}
	defer rows.Close()

	pack.Rules = []PackRule{}
	for rows.Next() {
		var link PackRule
		if err := rows.Scan(&link.ID, &link.Freq, &link.Threshold); err != nil {
			return nil, fmt.Errorf("failed to scan pack rule: %w", err)
		}
		pack.Rules = append(pack.Rules, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pack rules: %w", err)
	}

	return &pack, nil
}

func (s *PostgresStore) LookupTarget(ctx context.Context, targetID string) (*Target, error) {
	var (
		t                                 Target
		headers, bodyTemplate, capability []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, method, base_url, headers, body_template, capabilities
		FROM targets
		WHERE id = $1
	`, targetID).Scan(&t.ID, &t.Name, &t.Type, &t.Method, &t.BaseURL, &headers, &bodyTemplate, &capability)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("target %s: %w", targetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get target: %w", err)
	}

	if err := unmarshalNullable(headers, &t.Headers); err != nil {
		return nil, fmt.Errorf("target %s headers: %w", targetID, err)
	}
	if err := unmarshalNullable(bodyTemplate, &t.BodyTemplate); err != nil {
		return nil, fmt.Errorf("target %s body template: %w", targetID, err)
	}
	if err := unmarshalNullable(capability, &t.Capabilities); err != nil {
		return nil, fmt.Errorf("target %s capabilities: %w", targetID, err)
	}
	return &t, nil
}

// LookupRulesForPack joins the pack's links against the rules table; links
// whose rule row is missing drop out of the join.
func (s *PostgresStore) LookupRulesForPack(ctx context.Context, pack *Pack) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, r.category, r.scoring, r.prompt_template, r.expected, r.io_expects, r.io_field
		FROM pack_rules pr
		JOIN rules r ON r.id = pr.rule_id
		WHERE pr.pack_id = $1
		ORDER BY pr.position ASC
	`, pack.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pack rules: %w", err)
	}
	defer rows.Close()

	resolved := []*Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return resolved, nil
}

func (s *PostgresStore) LookupRule(ctx context.Context, ruleID string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category, scoring, prompt_template, expected, io_expects, io_field
		FROM rules
		WHERE id = $1
	`, ruleID)

	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", ruleID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// PutRule inserts or replaces a rule.
func (s *PostgresStore) PutRule(ctx context.Context, r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}
	expected, err := json.Marshal(r.Expected)
	if err != nil {
		return fmt.Errorf("failed to marshal expected for rule %s: %w", r.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, category, scoring, prompt_template, expected, io_expects, io_field, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, category = EXCLUDED.category, scoring = EXCLUDED.scoring,
			prompt_template = EXCLUDED.prompt_template, expected = EXCLUDED.expected,
			io_expects = EXCLUDED.io_expects, io_field = EXCLUDED.io_field, updated_at = NOW()
	`, r.ID, r.Name, r.Category, r.Scoring, r.PromptTemplate, string(expected), r.IO.Expects, nullString(r.IO.Field))
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// PutPack inserts or replaces a pack together with its rule links.
func (s *PostgresStore) PutPack(ctx context.Context, p *Pack) error {
	if err := ValidatePack(p); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO packs (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = NOW()
	`, p.ID, p.Name); err != nil {
		return fmt.Errorf("failed to upsert pack: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM pack_rules WHERE pack_id = $1`, p.ID); err != nil {
		return fmt.Errorf("failed to clear pack rules: %w", err)
	}

	for i, link := range p.Rules {
		freq := link.Freq
		if freq == "" {
			freq = "daily"
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pack_rules (pack_id, position, rule_id, freq, threshold)
			VALUES ($1, $2, $3, $4, $5)
		`, p.ID, i, link.ID, freq, link.Threshold); err != nil {
			return fmt.Errorf("failed to insert pack rule %s: %w", link.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pack: %w", err)
	}
	return nil
}

// PutTarget inserts or replaces a target.
func (s *PostgresStore) PutTarget(ctx context.Context, t *Target) error {
	if err := ValidateTarget(t); err != nil {
		return err
	}

	headers, err := marshalNullable(t.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers for target %s: %w", t.ID, err)
	}
	bodyTemplate, err := marshalNullable(t.BodyTemplate)
	if err != nil {
		return fmt.Errorf("failed to marshal body template for target %s: %w", t.ID, err)
	}
	capabilities, err := marshalNullable(t.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to marshal capabilities for target %s: %w", t.ID, err)
	}

	targetType := t.Type
	if targetType == "" {
		targetType = TargetTypeHTTP
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO targets (id, name, type, method, base_url, headers, body_template, capabilities, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, type = EXCLUDED.type, method = EXCLUDED.method,
			base_url = EXCLUDED.base_url, headers = EXCLUDED.headers,
			body_template = EXCLUDED.body_template, capabilities = EXCLUDED.capabilities,
			updated_at = NOW()
	`, t.ID, t.Name, targetType, t.Method, t.BaseURL, headers, bodyTemplate, capabilities)
	if err != nil {
		return fmt.Errorf("failed to upsert target: %w", err)
	}
	return nil
}

// ImportSeed writes every definition in seed to the database.
func (s *PostgresStore) ImportSeed(ctx context.Context, seed *Seed) error {
	for _, r := range seed.Rules {
		if err := s.PutRule(ctx, r); err != nil {
			return err
		}
	}
	for _, p := range seed.Packs {
		if err := s.PutPack(ctx, p); err != nil {
			return err
		}
	}
	for _, t := range seed.Targets {
		if err := s.PutTarget(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r        Rule
		expected []byte
		field    sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Category, &r.Scoring, &r.PromptTemplate,
		&expected, &r.IO.Expects, &field); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan rule: %w", err)
	}

	if err := unmarshalNullable(expected, &r.Expected); err != nil {
		return nil, fmt.Errorf("rule %s expected: %w", r.ID, err)
	}
	r.IO.Field = field.String
	return &r, nil
}

func unmarshalNullable(data []byte, dst any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// marshalNullable maps nil values to SQL NULL. JSON is passed as a string
// because lib/pq sends []byte parameters as bytea.
func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
