package importer

import (
	"context"
	"time"
)

// Entity is a reference-graph entry (department, organization or category).
// Soft-deleted entities keep their row with Active=false and are eligible
// for reactivation.
type Entity struct {
	ID            string     `json:"id"`
	Type          EntityType `json:"entityType"`
	Name          string     `json:"name"`
	Active        bool       `json:"active"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// Ref returns the entity as a conflict reference.
func (e Entity) Ref() *EntityRef {
	return &EntityRef{ID: e.ID, Name: e.Name, DeactivatedAt: e.DeactivatedAt}
}

// Collaborator is a person record matched by the external id carried in
// exports. Collaborators are managed elsewhere; the engine only reads them.
type Collaborator struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	FullName   string `json:"fullName"`
}

// SessionRecord is the persisted training-session row produced by an import.
type SessionRecord struct {
	Key IdempotencyKey

	ExternalCollaboratorID string
	CollaboratorID         string
	FormationCode          string
	DepartmentID           string
	OrganizationID         string
	CategoryID             string
	StartDate              time.Time
	EndDate                time.Time
	DurationHours          float64
	PriceHT                float64
	SourceID               string
}

// EntityDirectory is the read side of the entity graph consumed by preview
// generation. Find methods return (nil, nil) when nothing matches; natural
// keys are compared case-insensitively by the implementation.
type EntityDirectory interface {
	FindActiveByNaturalKey(ctx context.Context, entityType EntityType, name string) (*Entity, error)
	FindAnyByNaturalKey(ctx context.Context, entityType EntityType, name string) (*Entity, error)
	ListActive(ctx context.Context, entityType EntityType) ([]Entity, error)

	// FindCollaborators resolves external collaborator ids in one batch and
	// returns only the ones that exist.
	FindCollaborators(ctx context.Context, externalIDs []string) (map[string]Collaborator, error)

	// KnownFormationCodes returns the subset of codes that already appear in
	// persisted session records.
	KnownFormationCodes(ctx context.Context, codes []string) (map[string]struct{}, error)

	// ExistingRecordKeys returns the subset of idempotency keys that match a
	// persisted session record.
	ExistingRecordKeys(ctx context.Context, keys []IdempotencyKey) (map[IdempotencyKey]struct{}, error)

	// Begin opens the transaction confirm runs in. All entity mutation and
	// record writes for one import happen inside a single ImportTx.
	Begin(ctx context.Context) (ImportTx, error)
}

// ImportTx is the write side used by the import executor. Implementations
// must isolate per-row write failures so one bad row cannot poison the
// surrounding transaction (the Postgres store uses savepoints for this).
type ImportTx interface {
	// FindAnyByNaturalKey mirrors the directory read inside the transaction,
	// seeing writes made earlier in the same import.
	FindAnyByNaturalKey(ctx context.Context, entityType EntityType, name string) (*Entity, error)

	// FindByID fetches an entity by id, (nil, nil) when absent.
	FindByID(ctx context.Context, entityType EntityType, id string) (*Entity, error)

	// Reactivate flips a soft-deleted entity back to active.
	Reactivate(ctx context.Context, entityType EntityType, id string) error

	// EnsureEntity returns the id of the entity with the given natural key,
	// creating an active one when the graph has never seen the name.
	EnsureEntity(ctx context.Context, entityType EntityType, name string) (string, error)

	// UpsertSessionRecord writes one session record keyed by its idempotency
	// key. It reports whether a new record was created (false = updated).
	UpsertSessionRecord(ctx context.Context, rec SessionRecord) (created bool, err error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
