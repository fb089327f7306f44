package importer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRuleStore persists import rules in the import_rules table.
type PgRuleStore struct {
	pool *pgxpool.Pool
}

func NewPgRuleStore(pool *pgxpool.Pool) *PgRuleStore {
	return &PgRuleStore{pool: pool}
}

func (s *PgRuleStore) List(ctx context.Context) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, entity_type, raw_value, action, target_entity_id, active, created_at, updated_at
		FROM import_rules
		ORDER BY entity_type, lower(raw_value)`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PgRuleStore) Upsert(ctx context.Context, rule Rule) (Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO import_rules (id, entity_type, raw_value, action, target_entity_id, active)
		VALUES ($1, $2, $3, $4, $5, true)
		ON CONFLICT (entity_type, raw_value) DO UPDATE SET
			action           = EXCLUDED.action,
			target_entity_id = EXCLUDED.target_entity_id,
			active           = true,
			updated_at       = now()
		RETURNING id, entity_type, raw_value, action, target_entity_id, active, created_at, updated_at`,
		rule.ID, rule.EntityType, rule.RawValue, rule.Action, nullIfEmpty(rule.TargetEntityID))
	return scanRule(row)
}

func (s *PgRuleStore) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE import_rules SET active = $2, updated_at = now() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rule %s", ErrRuleNotFound, id)
	}
	return nil
}

func (s *PgRuleStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM import_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rule %s", ErrRuleNotFound, id)
	}
	return nil
}

func scanRule(row pgx.Row) (Rule, error) {
	var r Rule
	var target *string
	err := row.Scan(&r.ID, &r.EntityType, &r.RawValue, &r.Action, &target, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return Rule{}, err
	}
	if target != nil {
		r.TargetEntityID = *target
	}
	return r, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
