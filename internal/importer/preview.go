package importer

// preview.go builds preview sessions: it diffs a normalized row batch
// against the entity graph, collapses duplicate values into single
// conflicts, silently applies memorized rules, and computes the stats
// snapshot the operator sees before confirming.

import (
	"context"
	"fmt"
	"time"
)

// PreviewResponse is what the preview endpoint returns to the operator.
type PreviewResponse struct {
	PreviewID         string         `json:"previewId"`
	FileName          string         `json:"fileName"`
	ExpiresAt         time.Time      `json:"expiresAt"`
	Stats             PreviewStats   `json:"stats"`
	Conflicts         []ConflictItem `json:"conflicts"`
	CanImportDirectly bool           `json:"canImportDirectly"`
	RulesApplied      int            `json:"rulesApplied"`
}

// PreviewBuilder diffs incoming rows against current and soft-deleted
// entities and produces a session ready for the resolution rounds.
type PreviewBuilder struct {
	dir   EntityDirectory
	rules *RuleEngine
}

// NewPreviewBuilder wires the builder to its collaborators.
func NewPreviewBuilder(dir EntityDirectory, rules *RuleEngine) *PreviewBuilder {
	return &PreviewBuilder{dir: dir, rules: rules}
}

// dimension binds an entity type to the row field carrying its natural key.
type dimension struct {
	entityType EntityType
	value      func(ImportRow) string
}

var dimensions = []dimension{
	{EntityDepartment, func(r ImportRow) string { return r.DepartmentName }},
	{EntityOrganization, func(r ImportRow) string { return r.OrganizationName }},
	{EntityCategory, func(r ImportRow) string { return r.CategoryName }},
}

// Build analyzes the row batch and returns an unsaved OPEN session. The rule
// snapshot is taken once at the start: rules changed mid-generation never
// affect rows already processed within this run.
func (b *PreviewBuilder) Build(ctx context.Context, fileName string, rows []ImportRow) (*PreviewSession, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty row batch", ErrInvalidInput)
	}

	snapshot := b.rules.Snapshot()

	session := &PreviewSession{
		FileName:    fileName,
		TotalRows:   len(rows),
		Rows:        rows,
		Resolutions: make(map[ConflictKey]Resolution),
	}
	stats := PreviewStats{TotalRows: len(rows)}

	// Reference dimensions: one lookup per distinct (dimension, value) pair,
	// duplicates collapsed into a single conflict with aggregated indices.
	for _, dim := range dimensions {
		order, groups := groupByValue(rows, dim.value)

		for _, value := range order {
			indices := groups[value]

			active, err := b.dir.FindActiveByNaturalKey(ctx, dim.entityType, value)
			if err != nil {
				return nil, fmt.Errorf("lookup active %s %q: %w", dim.entityType, value, err)
			}
			if active != nil {
				continue // fast path, no conflict
			}

			any, err := b.dir.FindAnyByNaturalKey(ctx, dim.entityType, value)
			if err != nil {
				return nil, fmt.Errorf("lookup %s %q: %w", dim.entityType, value, err)
			}
			if any == nil {
				// Never seen: the import will create it.
				switch dim.entityType {
				case EntityOrganization:
					stats.NewOrganizations = append(stats.NewOrganizations, value)
				case EntityCategory:
					stats.NewCategories = append(stats.NewCategories, value)
				}
				continue
			}

			// Soft-deleted entity reappearing in the file.
			key := ConflictKey{EntityType: dim.entityType, RawValue: value}
			if rule, ok := snapshot[key]; ok {
				session.Resolutions[key] = rule.resolution()
				session.RulesApplied++
				continue
			}

			session.Conflicts = append(session.Conflicts, ConflictItem{
				Type:            ConflictEntityDeleted,
				EntityType:      dim.entityType,
				RawValue:        value,
				Existing:        any.Ref(),
				OccurrenceCount: len(indices),
				RowIndices:      indices,
			})
		}
	}

	// Collaborators: external ids with no match at all have no resolution
	// path; their rows are excluded from create/update counts.
	collabOrder, collabGroups := groupByValue(rows, func(r ImportRow) string { return r.ExternalCollaboratorID })
	found, err := b.dir.FindCollaborators(ctx, collabOrder)
	if err != nil {
		return nil, fmt.Errorf("lookup collaborators: %w", err)
	}
	excluded := make(map[int]struct{})
	for _, id := range collabOrder {
		if _, ok := found[id]; ok {
			continue
		}
		indices := collabGroups[id]
		stats.CollaboratorsNotFound = append(stats.CollaboratorsNotFound, id)
		session.Conflicts = append(session.Conflicts, ConflictItem{
			Type:            ConflictCollaboratorNotFound,
			RawValue:        id,
			OccurrenceCount: len(indices),
			RowIndices:      indices,
		})
		for _, i := range indices {
			excluded[i] = struct{}{}
		}
	}
	stats.CollaboratorsFound = len(found)

	// Formations: distinct codes split into known and new.
	formationOrder, _ := groupByValue(rows, func(r ImportRow) string { return r.FormationCode })
	known, err := b.dir.KnownFormationCodes(ctx, formationOrder)
	if err != nil {
		return nil, fmt.Errorf("lookup formation codes: %w", err)
	}
	stats.FormationsExisting = len(known)
	stats.FormationsNew = len(formationOrder) - len(known)

	// Create/update split against persisted records, by idempotency key.
	var keys []IdempotencyKey
	seen := make(map[IdempotencyKey]struct{})
	for i, row := range rows {
		if _, skip := excluded[i]; skip {
			continue
		}
		k := row.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	existing, err := b.dir.ExistingRecordKeys(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("check record keys: %w", err)
	}
	for i, row := range rows {
		if _, skip := excluded[i]; skip {
			continue
		}
		if _, ok := existing[row.Key()]; ok {
			stats.SessionsToUpdate++
		} else {
			stats.SessionsToCreate++
		}
	}

	session.Stats = stats
	return session, nil
}

// groupByValue groups row indices by a non-empty field value, preserving
// first-seen order.
func groupByValue(rows []ImportRow, value func(ImportRow) string) ([]string, map[string][]int) {
	var order []string
	groups := make(map[string][]int)
	for i, row := range rows {
		v := value(row)
		if v == "" {
			continue
		}
		if _, ok := groups[v]; !ok {
			order = append(order, v)
		}
		groups[v] = append(groups[v], i)
	}
	return order, groups
}
