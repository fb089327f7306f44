package importer

// confirm.go executes a resolved preview: it applies the deleted-entity
// decisions (reactivate/map/ignore) and upserts session records, all inside
// one transaction.
//
// The whole confirmation runs under the session's per-session lock, so a
// second confirm for the same previewId waits and then fails with
// ErrSessionClosed instead of writing duplicates. Row-level failures are
// recovered and aggregated into the result; only transaction-level failures
// abort, rolling back entirely and leaving the session OPEN so confirm can
// be retried without regenerating the preview.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultConfirmTimeout bounds one confirm transaction.
const DefaultConfirmTimeout = 10 * time.Minute

// ImportExecutor consumes resolved sessions and performs the transactional
// create/update of session records.
type ImportExecutor struct {
	store   *PreviewSessionStore
	dir     EntityDirectory
	history HistoryStore
	timeout time.Duration
}

// NewImportExecutor wires the executor. A non-positive timeout falls back
// to DefaultConfirmTimeout.
func NewImportExecutor(store *PreviewSessionStore, dir EntityDirectory, history HistoryStore, timeout time.Duration) *ImportExecutor {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	return &ImportExecutor{store: store, dir: dir, history: history, timeout: timeout}
}

// Confirm executes the import for a fully-resolved session.
//
// Precondition failures (unknown session, terminal session, unresolved
// conflicts) abort with zero side effects. Execution failures roll back,
// write an ERROR history entry, and leave the session OPEN for retry. On
// success the session transitions to CONFIRMED and is released to the
// sweeper.
func (e *ImportExecutor) Confirm(ctx context.Context, previewID string) (*ImportResult, error) {
	var result *ImportResult

	err := e.store.Mutate(previewID, func(s *PreviewSession) error {
		if s.Status.Terminal() {
			return ErrSessionClosed
		}
		if remaining := s.remainingKeys(); len(remaining) > 0 {
			return &ConflictsUnresolvedError{Remaining: remaining}
		}

		res, execErr := e.execute(ctx, s)
		e.appendHistory(ctx, s, res, execErr)
		if execErr != nil {
			return execErr
		}

		s.Status = StatusConfirmed
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// execute runs the import transaction for one session.
func (e *ImportExecutor) execute(ctx context.Context, s *PreviewSession) (*ImportResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result := &ImportResult{Total: len(s.Rows)}

	// Row skip bookkeeping. Collaborator-not-found groups are skipped
	// unconditionally; IGNORE groups join them below.
	skipReason := make(map[int]string)
	for _, c := range s.Conflicts {
		if c.Type != ConflictCollaboratorNotFound {
			continue
		}
		for _, i := range c.RowIndices {
			skipReason[i] = fmt.Sprintf("collaborator %q not found", c.RawValue)
		}
	}

	// Collaborator ids for the rows that will be written.
	var collabIDs []string
	seen := make(map[string]struct{})
	for i, row := range s.Rows {
		if _, skip := skipReason[i]; skip {
			continue
		}
		if _, dup := seen[row.ExternalCollaboratorID]; !dup {
			seen[row.ExternalCollaboratorID] = struct{}{}
			collabIDs = append(collabIDs, row.ExternalCollaboratorID)
		}
	}
	collaborators, err := e.dir.FindCollaborators(ctx, collabIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup collaborators: %w", err)
	}

	tx, err := e.dir.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Resolve every distinct dimension value to an entity id, applying the
	// session's decisions. Groups whose target vanished between resolve and
	// confirm fail per row, not per transaction.
	entityIDs := make(map[dimValue]string)
	groupFailure := make(map[dimValue]string)

	for _, dim := range dimensions {
		order, groups := groupByValue(s.Rows, dim.value)
		for _, value := range order {
			dv := dimValue{dim.entityType, value}
			key := ConflictKey{EntityType: dim.entityType, RawValue: value}

			res, resolved := s.Resolutions[key]
			if !resolved {
				id, err := tx.EnsureEntity(ctx, dim.entityType, value)
				if err != nil {
					return nil, fmt.Errorf("ensure %s %q: %w", strings.ToLower(string(dim.entityType)), value, err)
				}
				entityIDs[dv] = id
				continue
			}

			switch res.Action {
			case ActionIgnore:
				for _, i := range groups[value] {
					if _, ok := skipReason[i]; !ok {
						skipReason[i] = fmt.Sprintf("%s %q ignored by resolution", strings.ToLower(string(dim.entityType)), value)
					}
				}

			case ActionMap:
				target, err := tx.FindByID(ctx, dim.entityType, res.TargetEntityID)
				if err != nil {
					return nil, fmt.Errorf("lookup map target %q: %w", res.TargetEntityID, err)
				}
				if target == nil || !target.Active {
					groupFailure[dv] = referentialRace(dim.entityType, value)
					continue
				}
				entityIDs[dv] = target.ID

			case ActionReactivate:
				existing, err := tx.FindAnyByNaturalKey(ctx, dim.entityType, value)
				if err != nil {
					return nil, fmt.Errorf("lookup %s %q: %w", strings.ToLower(string(dim.entityType)), value, err)
				}
				if existing == nil {
					groupFailure[dv] = referentialRace(dim.entityType, value)
					continue
				}
				if !existing.Active {
					if err := tx.Reactivate(ctx, dim.entityType, existing.ID); err != nil {
						return nil, fmt.Errorf("reactivate %s %q: %w", strings.ToLower(string(dim.entityType)), value, err)
					}
				}
				entityIDs[dv] = existing.ID
			}
		}
	}

	fail := func(i int, reason string) {
		result.Failed++
		result.Failures = append(result.Failures, RowFailure{RowIndex: i, Reason: reason})
	}

	for i, row := range s.Rows {
		if reason, ok := skipReason[i]; ok {
			fail(i, reason)
			continue
		}
		if reason, ok := rowGroupFailure(row, groupFailure); ok {
			fail(i, reason)
			continue
		}

		collab, ok := collaborators[row.ExternalCollaboratorID]
		if !ok {
			// Vanished since preview generation.
			fail(i, fmt.Sprintf("collaborator %q not found", row.ExternalCollaboratorID))
			continue
		}

		rec := SessionRecord{
			Key:                    row.Key(),
			ExternalCollaboratorID: row.ExternalCollaboratorID,
			CollaboratorID:         collab.ID,
			FormationCode:          row.FormationCode,
			DepartmentID:           entityIDs[dimValue{EntityDepartment, row.DepartmentName}],
			OrganizationID:         entityIDs[dimValue{EntityOrganization, row.OrganizationName}],
			CategoryID:             entityIDs[dimValue{EntityCategory, row.CategoryName}],
			StartDate:              row.StartDate,
			EndDate:                row.EndDate,
			DurationHours:          row.DurationHours,
			PriceHT:                row.PriceHT,
			SourceID:               row.SourceID,
		}

		created, err := tx.UpsertSessionRecord(ctx, rec)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("import cancelled: %w", ctx.Err())
			}
			fail(i, fmt.Sprintf("write record: %v", err))
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// dimValue identifies one distinct (dimension, natural key) pair during
// confirmation.
type dimValue struct {
	entityType EntityType
	value      string
}

// rowGroupFailure returns the first group-level failure reason matching one
// of the row's dimension values.
func rowGroupFailure(row ImportRow, failures map[dimValue]string) (string, bool) {
	for _, dim := range dimensions {
		v := dim.value(row)
		if v == "" {
			continue
		}
		if reason, ok := failures[dimValue{dim.entityType, v}]; ok {
			return reason, true
		}
	}
	return "", false
}

// appendHistory records the confirm attempt. History failures are logged
// and never fail the import.
func (e *ImportExecutor) appendHistory(ctx context.Context, s *PreviewSession, res *ImportResult, execErr error) {
	entry := HistoryEntry{
		PreviewID:  s.ID,
		FileName:   s.FileName,
		FinishedAt: time.Now(),
	}
	if execErr != nil {
		entry.Status = HistoryError
		entry.Total = len(s.Rows)
		entry.Error = execErr.Error()
	} else {
		entry.Status = HistorySuccess
		if res.Failed > 0 {
			entry.Status = HistoryPartial
		}
		entry.Total = res.Total
		entry.Created = res.Created
		entry.Updated = res.Updated
		entry.Failed = res.Failed
		entry.ProcessingTimeMs = res.ProcessingTimeMs
	}

	// The request context may already be past its deadline here.
	if err := e.history.Append(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("import history append failed", "preview_id", s.ID, "error", err)
	}
}
