package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// confirmFixture stores a Sales-conflicted session and wires an executor
// plus a coordinator for resolving it.
func confirmFixture(t *testing.T) (*ImportExecutor, *ResolutionCoordinator, *PreviewSessionStore, *fakeDirectory, *fakeHistoryStore, string) {
	t.Helper()
	builder, dir, engine := previewFixture(t)
	session, err := builder.Build(context.Background(), "export.csv", salesRows())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	store := NewPreviewSessionStore(0, 0)
	id := store.Create(session)
	history := newFakeHistoryStore()
	return NewImportExecutor(store, dir, history, 0),
		NewResolutionCoordinator(store, engine),
		store, dir, history, id
}

func resolve(t *testing.T, coord *ResolutionCoordinator, id string, res Resolution) {
	t.Helper()
	if _, err := coord.SubmitResolutions(context.Background(), id, []Resolution{res}); err != nil {
		t.Fatalf("SubmitResolutions() error = %v", err)
	}
}

func TestConfirm_UnresolvedConflictsBlock(t *testing.T) {
	exec, _, store, dir, history, id := confirmFixture(t)

	_, err := exec.Confirm(context.Background(), id)
	var unresolved *ConflictsUnresolvedError
	if !errors.As(err, &unresolved) {
		t.Fatalf("Confirm() error = %v, want ConflictsUnresolvedError", err)
	}
	if len(unresolved.Remaining) != 1 || unresolved.Remaining[0].RawValue != "Sales" {
		t.Errorf("Remaining = %+v, want the Sales conflict", unresolved.Remaining)
	}

	// Precondition failure: no writes, no history, session still open.
	if len(dir.records) != 0 {
		t.Errorf("records written = %d, want 0", len(dir.records))
	}
	if _, ok := history.last(); ok {
		t.Error("precondition failure produced a history entry")
	}
	session, _ := store.Get(id)
	if session.Status != StatusOpen {
		t.Errorf("Status = %q, want OPEN", session.Status)
	}
}

func TestConfirm_ReactivateCreatesRecords(t *testing.T) {
	exec, coord, store, dir, history, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionReactivate})

	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if result.Created != 3 || result.Updated != 0 || result.Failed != 0 {
		t.Errorf("result = %d created / %d updated / %d failed, want 3/0/0", result.Created, result.Updated, result.Failed)
	}

	sales, _ := dir.FindAnyByNaturalKey(context.Background(), EntityDepartment, "Sales")
	if sales == nil || !sales.Active {
		t.Error("Sales department was not reactivated")
	}
	if sales != nil && sales.DeactivatedAt != nil {
		t.Error("DeactivatedAt not cleared on reactivation")
	}
	for key, rec := range dir.records {
		if rec.DepartmentID != sales.ID {
			t.Errorf("record %v points at department %q, want %q", key, rec.DepartmentID, sales.ID)
		}
	}

	entry, ok := history.last()
	if !ok || entry.Status != HistorySuccess {
		t.Errorf("history entry = %+v, want SUCCESS", entry)
	}
	session, _ := store.Get(id)
	if session.Status != StatusConfirmed {
		t.Errorf("Status = %q, want CONFIRMED", session.Status)
	}
}

func TestConfirm_IgnoreSkipsRows(t *testing.T) {
	exec, coord, _, dir, history, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionIgnore})

	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if result.Created != 0 || result.Failed != 3 {
		t.Errorf("result = %d created / %d failed, want 0/3", result.Created, result.Failed)
	}
	for _, f := range result.Failures {
		if f.Reason == "" {
			t.Errorf("row %d failed without a reason", f.RowIndex)
		}
	}
	if len(dir.records) != 0 {
		t.Errorf("records written = %d, want 0", len(dir.records))
	}

	if entry, _ := history.last(); entry.Status != HistoryPartial {
		t.Errorf("history Status = %q, want PARTIAL", entry.Status)
	}
}

func TestConfirm_MapBindsTarget(t *testing.T) {
	exec, coord, _, dir, _, id := confirmFixture(t)
	target := dir.addEntity(EntityDepartment, "Field Operations", true)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionMap, TargetEntityID: target.ID})

	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if result.Created != 3 {
		t.Fatalf("Created = %d, want 3", result.Created)
	}
	for key, rec := range dir.records {
		if rec.DepartmentID != target.ID {
			t.Errorf("record %v mapped to %q, want %q", key, rec.DepartmentID, target.ID)
		}
	}

	// The soft-deleted original is untouched by a MAP.
	sales, _ := dir.FindAnyByNaturalKey(context.Background(), EntityDepartment, "Sales")
	if sales.Active {
		t.Error("MAP reactivated the original entity")
	}
}

func TestConfirm_MapTargetVanished(t *testing.T) {
	exec, coord, store, dir, history, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionMap, TargetEntityID: "department-404"})

	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm() error = %v (group failures are row-level, not fatal)", err)
	}
	if result.Failed != 3 || result.Created != 0 {
		t.Errorf("result = %d failed / %d created, want 3/0", result.Failed, result.Created)
	}
	if len(dir.records) != 0 {
		t.Errorf("records written = %d, want 0", len(dir.records))
	}
	if entry, _ := history.last(); entry.Status != HistoryPartial {
		t.Errorf("history Status = %q, want PARTIAL", entry.Status)
	}

	// The attempt executed, so the session is spent.
	session, _ := store.Get(id)
	if session.Status != StatusConfirmed {
		t.Errorf("Status = %q, want CONFIRMED", session.Status)
	}
}

func TestConfirm_SecondConfirmRejected(t *testing.T) {
	exec, coord, _, dir, _, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionReactivate})

	if _, err := exec.Confirm(context.Background(), id); err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if _, err := exec.Confirm(context.Background(), id); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("second Confirm() error = %v, want ErrSessionClosed", err)
	}
	if len(dir.records) != 3 {
		t.Errorf("records = %d after double confirm, want 3", len(dir.records))
	}
}

func TestConfirm_ExistingRecordsUpdated(t *testing.T) {
	exec, coord, _, dir, _, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionReactivate})

	// Same collaborator, formation and start date as the first row.
	seeded := salesRows()[0].Key()
	dir.records[seeded] = SessionRecord{Key: seeded, FormationCode: "F-100"}

	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if result.Created != 2 || result.Updated != 1 {
		t.Errorf("result = %d created / %d updated, want 2/1", result.Created, result.Updated)
	}
}

func TestConfirm_RowFailureIsIsolated(t *testing.T) {
	exec, coord, _, dir, history, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionReactivate})

	dir.upsertErr[salesRows()[1].Key()] = fmt.Errorf("duplicate key value violates unique constraint")

	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("Confirm() error = %v", err)
	}
	if result.Created != 2 || result.Failed != 1 {
		t.Errorf("result = %d created / %d failed, want 2/1", result.Created, result.Failed)
	}
	if len(dir.records) != 2 {
		t.Errorf("committed records = %d, want 2 (failed row rolled back alone)", len(dir.records))
	}
	if entry, _ := history.last(); entry.Status != HistoryPartial {
		t.Errorf("history Status = %q, want PARTIAL", entry.Status)
	}
}

func TestConfirm_CommitFailureLeavesSessionOpen(t *testing.T) {
	exec, coord, store, dir, history, id := confirmFixture(t)
	resolve(t, coord, id, Resolution{EntityType: EntityDepartment, RawValue: "Sales", Action: ActionReactivate})

	dir.commitErr = fmt.Errorf("connection reset by peer")

	if _, err := exec.Confirm(context.Background(), id); err == nil {
		t.Fatal("Confirm() succeeded despite commit failure")
	}
	if len(dir.records) != 0 {
		t.Errorf("records visible after rollback = %d, want 0", len(dir.records))
	}
	entry, ok := history.last()
	if !ok || entry.Status != HistoryError {
		t.Errorf("history entry = %+v, want ERROR", entry)
	}

	// The session survives for a retry without regenerating the preview.
	session, _ := store.Get(id)
	if session.Status != StatusOpen {
		t.Errorf("Status = %q, want OPEN", session.Status)
	}

	dir.commitErr = nil
	result, err := exec.Confirm(context.Background(), id)
	if err != nil {
		t.Fatalf("retry Confirm() error = %v", err)
	}
	if result.Created != 3 {
		t.Errorf("retry Created = %d, want 3", result.Created)
	}
}

func TestConfirm_UnknownSession(t *testing.T) {
	exec, _, _, _, _, _ := confirmFixture(t)
	if _, err := exec.Confirm(context.Background(), "nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Confirm(unknown) error = %v, want ErrSessionNotFound", err)
	}
}
