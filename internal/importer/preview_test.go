package importer

import (
	"context"
	"errors"
	"testing"
)

// previewFixture wires a builder against a populated fake graph:
// three active collaborators, an active organization and category, and a
// soft-deleted "Sales" department.
func previewFixture(t *testing.T) (*PreviewBuilder, *fakeDirectory, *RuleEngine) {
	t.Helper()
	dir := newFakeDirectory()
	dir.addCollaborator("C-1", "Ada Martin")
	dir.addCollaborator("C-2", "Lou Bernard")
	dir.addCollaborator("C-3", "Sam Dubois")
	dir.addEntity(EntityOrganization, "Acme Formation", true)
	dir.addEntity(EntityCategory, "Management", true)
	dir.addEntity(EntityDepartment, "Sales", false)

	engine, err := NewRuleEngine(context.Background(), newFakeRuleStore())
	if err != nil {
		t.Fatalf("NewRuleEngine() error = %v", err)
	}
	return NewPreviewBuilder(dir, engine), dir, engine
}

func salesRows() []ImportRow {
	return []ImportRow{
		makeRow("C-1", "F-100", "Acme Formation", "Management", "Sales", "2026-03-02"),
		makeRow("C-2", "F-100", "Acme Formation", "Management", "Sales", "2026-03-02"),
		makeRow("C-3", "F-101", "Acme Formation", "Management", "Sales", "2026-03-09"),
	}
}

func TestPreview_EmptyBatch(t *testing.T) {
	builder, _, _ := previewFixture(t)
	if _, err := builder.Build(context.Background(), "empty.csv", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Build(empty) error = %v, want ErrInvalidInput", err)
	}
}

func TestPreview_DeletedEntitySurfacesOneConflict(t *testing.T) {
	builder, _, _ := previewFixture(t)

	session, err := builder.Build(context.Background(), "export.csv", salesRows())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(session.Conflicts) != 1 {
		t.Fatalf("Conflicts = %d, want 1 (duplicates collapse per key)", len(session.Conflicts))
	}
	c := session.Conflicts[0]
	if c.Type != ConflictEntityDeleted {
		t.Errorf("Type = %q, want ENTITY_DELETED", c.Type)
	}
	if c.EntityType != EntityDepartment || c.RawValue != "Sales" {
		t.Errorf("conflict key = %s/%q, want DEPARTMENT/Sales", c.EntityType, c.RawValue)
	}
	if c.OccurrenceCount != 3 || len(c.RowIndices) != 3 {
		t.Errorf("occurrences = %d (%d indices), want 3", c.OccurrenceCount, len(c.RowIndices))
	}
	if c.Existing == nil || c.Existing.DeactivatedAt == nil {
		t.Error("conflict must reference the soft-deleted entity with its deactivation time")
	}

	stats := session.Stats
	if stats.TotalRows != 3 {
		t.Errorf("TotalRows = %d, want 3", stats.TotalRows)
	}
	if stats.SessionsToCreate != 3 || stats.SessionsToUpdate != 0 {
		t.Errorf("create/update = %d/%d, want 3/0", stats.SessionsToCreate, stats.SessionsToUpdate)
	}
	if stats.CollaboratorsFound != 3 || len(stats.CollaboratorsNotFound) != 0 {
		t.Errorf("collaborators = %d found, %v missing", stats.CollaboratorsFound, stats.CollaboratorsNotFound)
	}
	if stats.FormationsNew != 2 || stats.FormationsExisting != 0 {
		t.Errorf("formations = %d new / %d existing, want 2/0", stats.FormationsNew, stats.FormationsExisting)
	}
}

func TestPreview_MemorizedRuleAppliesSilently(t *testing.T) {
	builder, _, engine := previewFixture(t)
	if _, err := engine.Upsert(context.Background(), EntityDepartment, "Sales", ActionReactivate, ""); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	session, err := builder.Build(context.Background(), "export.csv", salesRows())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(session.Conflicts) != 0 {
		t.Errorf("Conflicts = %d, want 0 when a rule matches", len(session.Conflicts))
	}
	if session.RulesApplied != 1 {
		t.Errorf("RulesApplied = %d, want 1", session.RulesApplied)
	}
	res, ok := session.Resolutions[ConflictKey{EntityDepartment, "Sales"}]
	if !ok || res.Action != ActionReactivate {
		t.Errorf("auto-applied resolution = %+v, want REACTIVATE for Sales", res)
	}
}

func TestPreview_UnknownCollaboratorExcludedFromCounts(t *testing.T) {
	builder, _, _ := previewFixture(t)

	rows := salesRows()
	rows[2].ExternalCollaboratorID = "C-404"

	session, err := builder.Build(context.Background(), "export.csv", rows)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var collabConflict *ConflictItem
	for i := range session.Conflicts {
		if session.Conflicts[i].Type == ConflictCollaboratorNotFound {
			collabConflict = &session.Conflicts[i]
		}
	}
	if collabConflict == nil {
		t.Fatal("missing COLLABORATOR_NOT_FOUND conflict")
	}
	if collabConflict.RawValue != "C-404" || collabConflict.OccurrenceCount != 1 {
		t.Errorf("conflict = %q x%d, want C-404 x1", collabConflict.RawValue, collabConflict.OccurrenceCount)
	}

	// The unmatched row is excluded from the create/update split.
	if session.Stats.SessionsToCreate != 2 {
		t.Errorf("SessionsToCreate = %d, want 2", session.Stats.SessionsToCreate)
	}
	if got := session.Stats.CollaboratorsNotFound; len(got) != 1 || got[0] != "C-404" {
		t.Errorf("CollaboratorsNotFound = %v, want [C-404]", got)
	}
}

func TestPreview_NewEntitiesTracked(t *testing.T) {
	builder, dir, _ := previewFixture(t)
	dir.addEntity(EntityDepartment, "Sales", true) // second Sales row, active this time

	rows := []ImportRow{
		makeRow("C-1", "F-200", "Fresh Org", "Fresh Category", "Sales", "2026-04-01"),
	}
	session, err := builder.Build(context.Background(), "export.csv", rows)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := session.Stats.NewOrganizations; len(got) != 1 || got[0] != "Fresh Org" {
		t.Errorf("NewOrganizations = %v, want [Fresh Org]", got)
	}
	if got := session.Stats.NewCategories; len(got) != 1 || got[0] != "Fresh Category" {
		t.Errorf("NewCategories = %v, want [Fresh Category]", got)
	}
	if len(session.Conflicts) != 0 {
		t.Errorf("Conflicts = %d, want 0 (active entity wins the fast path)", len(session.Conflicts))
	}
}

func TestPreview_ExistingRecordsSplitAsUpdates(t *testing.T) {
	builder, dir, _ := previewFixture(t)
	dir.addEntity(EntityDepartment, "Support", true)
	dir.knownCodes["F-100"] = struct{}{}

	rows := []ImportRow{
		makeRow("C-1", "F-100", "Acme Formation", "Management", "Support", "2026-03-02"),
		makeRow("C-2", "F-100", "Acme Formation", "Management", "Support", "2026-03-02"),
	}
	dir.records[rows[0].Key()] = SessionRecord{Key: rows[0].Key()}

	session, err := builder.Build(context.Background(), "export.csv", rows)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if session.Stats.SessionsToUpdate != 1 || session.Stats.SessionsToCreate != 1 {
		t.Errorf("create/update = %d/%d, want 1/1",
			session.Stats.SessionsToCreate, session.Stats.SessionsToUpdate)
	}
	if session.Stats.FormationsExisting != 1 {
		t.Errorf("FormationsExisting = %d, want 1", session.Stats.FormationsExisting)
	}
}

func TestPreview_SourceIDOverridesIdempotencyKey(t *testing.T) {
	row := makeRow("C-1", "F-100", "Acme Formation", "Management", "Support", "2026-03-02")
	composite := row.Key()
	if composite.SourceID != "" || composite.CollaboratorID != "C-1" {
		t.Errorf("composite key = %+v, want collaborator-based", composite)
	}

	row.SourceID = "EXT-42"
	override := row.Key()
	if override != (IdempotencyKey{SourceID: "EXT-42"}) {
		t.Errorf("source key = %+v, want SourceID only", override)
	}
}
