package importer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the query surface shared by a pool and a transaction.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// tableFor maps an entity dimension to its Postgres table. All three tables
// share the same shape: id, name, active, deactivated_at.
func tableFor(entityType EntityType) (string, error) {
	switch entityType {
	case EntityDepartment:
		return "departments", nil
	case EntityOrganization:
		return "training_organizations", nil
	case EntityCategory:
		return "training_categories", nil
	}
	return "", fmt.Errorf("%w: entity type %q", ErrInvalidInput, entityType)
}

// PgDirectory is the Postgres-backed entity graph.
type PgDirectory struct {
	pool *pgxpool.Pool
}

func NewPgDirectory(pool *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func scanEntity(row pgx.Row, entityType EntityType) (*Entity, error) {
	var e Entity
	var deactivatedAt *time.Time
	err := row.Scan(&e.ID, &e.Name, &e.Active, &deactivatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Type = entityType
	e.DeactivatedAt = deactivatedAt
	return &e, nil
}

func findByNaturalKey(ctx context.Context, db DBTX, entityType EntityType, name string, activeOnly bool) (*Entity, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		`SELECT id, name, active, deactivated_at FROM %s WHERE lower(name) = lower($1)`, table)
	if activeOnly {
		query += ` AND active`
	}
	return scanEntity(db.QueryRow(ctx, query, name), entityType)
}

func (d *PgDirectory) FindActiveByNaturalKey(ctx context.Context, entityType EntityType, name string) (*Entity, error) {
	return findByNaturalKey(ctx, d.pool, entityType, name, true)
}

func (d *PgDirectory) FindAnyByNaturalKey(ctx context.Context, entityType EntityType, name string) (*Entity, error) {
	return findByNaturalKey(ctx, d.pool, entityType, name, false)
}

func (d *PgDirectory) ListActive(ctx context.Context, entityType EntityType) ([]Entity, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}
	rows, err := d.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, name, active, deactivated_at FROM %s WHERE active ORDER BY lower(name)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entity
	for rows.Next() {
		var e Entity
		var deactivatedAt *time.Time
		if err := rows.Scan(&e.ID, &e.Name, &e.Active, &deactivatedAt); err != nil {
			return nil, err
		}
		e.Type = entityType
		e.DeactivatedAt = deactivatedAt
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *PgDirectory) FindCollaborators(ctx context.Context, externalIDs []string) (map[string]Collaborator, error) {
	found := make(map[string]Collaborator, len(externalIDs))
	if len(externalIDs) == 0 {
		return found, nil
	}
	rows, err := d.pool.Query(ctx,
		`SELECT id, external_id, full_name FROM collaborators WHERE external_id = ANY($1)`,
		externalIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c Collaborator
		if err := rows.Scan(&c.ID, &c.ExternalID, &c.FullName); err != nil {
			return nil, err
		}
		found[c.ExternalID] = c
	}
	return found, rows.Err()
}

func (d *PgDirectory) KnownFormationCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	known := make(map[string]struct{}, len(codes))
	if len(codes) == 0 {
		return known, nil
	}
	rows, err := d.pool.Query(ctx,
		`SELECT DISTINCT formation_code FROM formation_sessions WHERE formation_code = ANY($1)`,
		codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		known[code] = struct{}{}
	}
	return known, rows.Err()
}

func (d *PgDirectory) ExistingRecordKeys(ctx context.Context, keys []IdempotencyKey) (map[IdempotencyKey]struct{}, error) {
	existing := make(map[IdempotencyKey]struct{}, len(keys))
	if len(keys) == 0 {
		return existing, nil
	}

	// Split the two key shapes so each probe hits its own unique index.
	var sourceIDs []string
	var composite []IdempotencyKey
	for _, k := range keys {
		if k.SourceID != "" {
			sourceIDs = append(sourceIDs, k.SourceID)
		} else {
			composite = append(composite, k)
		}
	}

	if len(sourceIDs) > 0 {
		rows, err := d.pool.Query(ctx,
			`SELECT source_id FROM formation_sessions WHERE source_id = ANY($1)`,
			sourceIDs)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[IdempotencyKey{SourceID: id}] = struct{}{}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}

	for _, k := range composite {
		var exists bool
		err := d.pool.QueryRow(ctx,
			`SELECT EXISTS (
				SELECT 1 FROM formation_sessions
				WHERE source_id = ''
				  AND external_collaborator_id = $1
				  AND formation_code = $2
				  AND start_date = $3::date
			)`, k.CollaboratorID, k.FormationCode, k.StartDate).Scan(&exists)
		if err != nil {
			return nil, err
		}
		if exists {
			existing[k] = struct{}{}
		}
	}
	return existing, nil
}

func (d *PgDirectory) Begin(ctx context.Context) (ImportTx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &pgImportTx{tx: tx}, nil
}

// pgImportTx wraps a single import transaction. Each session-record write is
// fenced by a savepoint so a bad row rolls back alone.
type pgImportTx struct {
	tx pgx.Tx
	sp int
}

func (t *pgImportTx) FindAnyByNaturalKey(ctx context.Context, entityType EntityType, name string) (*Entity, error) {
	return findByNaturalKey(ctx, t.tx, entityType, name, false)
}

func (t *pgImportTx) FindByID(ctx context.Context, entityType EntityType, id string) (*Entity, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}
	return scanEntity(t.tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, name, active, deactivated_at FROM %s WHERE id = $1`, table), id), entityType)
}

func (t *pgImportTx) Reactivate(ctx context.Context, entityType EntityType, id string) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET active = true, deactivated_at = NULL WHERE id = $1`, table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("reactivate %s %s: no such entity", entityType, id)
	}
	return nil
}

func (t *pgImportTx) EnsureEntity(ctx context.Context, entityType EntityType, name string) (string, error) {
	existing, err := t.FindAnyByNaturalKey(ctx, entityType, name)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	table, err := tableFor(entityType)
	if err != nil {
		return "", err
	}
	id := uuid.New().String()
	_, err = t.tx.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, name, active) VALUES ($1, $2, true)`, table), id, name)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *pgImportTx) UpsertSessionRecord(ctx context.Context, rec SessionRecord) (bool, error) {
	t.sp++
	sp := fmt.Sprintf("sp_%d", t.sp)
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+sp); err != nil {
		return false, fmt.Errorf("create savepoint: %w", err)
	}

	created, err := t.upsert(ctx, rec)
	if err != nil {
		_, _ = t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		return false, err
	}
	_, _ = t.tx.Exec(ctx, "RELEASE SAVEPOINT "+sp)
	return created, nil
}

func (t *pgImportTx) upsert(ctx context.Context, rec SessionRecord) (bool, error) {
	// xmax = 0 distinguishes a fresh insert from a conflict-update.
	var conflictClause string
	if rec.Key.SourceID != "" {
		conflictClause = `ON CONFLICT (source_id) WHERE source_id <> ''`
	} else {
		conflictClause = `ON CONFLICT (external_collaborator_id, formation_code, start_date) WHERE source_id = ''`
	}

	query := fmt.Sprintf(`
		INSERT INTO formation_sessions (
			id, source_id, external_collaborator_id, collaborator_id,
			formation_code, department_id, organization_id, category_id,
			start_date, end_date, duration_hours, price_ht, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		%s DO UPDATE SET
			collaborator_id = EXCLUDED.collaborator_id,
			formation_code  = EXCLUDED.formation_code,
			department_id   = EXCLUDED.department_id,
			organization_id = EXCLUDED.organization_id,
			category_id     = EXCLUDED.category_id,
			start_date      = EXCLUDED.start_date,
			end_date        = EXCLUDED.end_date,
			duration_hours  = EXCLUDED.duration_hours,
			price_ht        = EXCLUDED.price_ht,
			updated_at      = now()
		RETURNING (xmax = 0)`, conflictClause)

	var created bool
	err := t.tx.QueryRow(ctx, query,
		uuid.New().String(),
		rec.SourceID,
		rec.ExternalCollaboratorID,
		rec.CollaboratorID,
		rec.FormationCode,
		rec.DepartmentID,
		rec.OrganizationID,
		rec.CategoryID,
		rec.StartDate,
		rec.EndDate,
		rec.DurationHours,
		rec.PriceHT,
	).Scan(&created)
	if err != nil {
		return false, err
	}
	return created, nil
}

func (t *pgImportTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgImportTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
