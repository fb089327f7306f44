// Package importer implements the import preview and conflict resolution
// engine for bulk training-session uploads.
//
// Incoming rows are diffed against the live entity graph (departments,
// training organizations, categories, collaborators). Values that match a
// soft-deleted entity surface as conflicts an operator resolves before the
// import is committed in a single transaction. Resolutions can be memorized
// as rules that auto-apply to future uploads.
package importer

import "time"

// EntityType identifies which reference dimension a natural key belongs to.
type EntityType string

const (
	EntityDepartment   EntityType = "DEPARTMENT"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityCategory     EntityType = "CATEGORY"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityDepartment, EntityOrganization, EntityCategory:
		return true
	}
	return false
}

// ConflictType classifies why a row group needs operator attention.
type ConflictType string

const (
	// ConflictEntityDeleted means the natural key matches a soft-deleted entity.
	ConflictEntityDeleted ConflictType = "ENTITY_DELETED"

	// ConflictCollaboratorNotFound means the external collaborator id has no
	// match at all. Rows in this group are always skipped; there is no
	// resolution path for this conflict type.
	ConflictCollaboratorNotFound ConflictType = "COLLABORATOR_NOT_FOUND"
)

// ResolutionAction is the operator's decision for a deleted-entity conflict.
type ResolutionAction string

const (
	ActionMap        ResolutionAction = "MAP"
	ActionIgnore     ResolutionAction = "IGNORE"
	ActionReactivate ResolutionAction = "REACTIVATE"
)

// Valid reports whether a is a known resolution action.
func (a ResolutionAction) Valid() bool {
	switch a {
	case ActionMap, ActionIgnore, ActionReactivate:
		return true
	}
	return false
}

// ConflictKey identifies a conflict by dimension and natural-key value.
// It is a value type with structural equality so it can key maps directly;
// raw values containing separator characters are never a problem.
type ConflictKey struct {
	EntityType EntityType `json:"entityType"`
	RawValue   string     `json:"rawValue"`
}

// ImportRow is one normalized spreadsheet row. Rows arrive already
// shape-validated from the row source; the engine never re-parses cells.
type ImportRow struct {
	ExternalCollaboratorID string    `json:"externalCollaboratorId"`
	FormationCode          string    `json:"formationCode"`
	OrganizationName       string    `json:"organizationName"`
	CategoryName           string    `json:"categoryName"`
	DepartmentName         string    `json:"departmentName"`
	StartDate              time.Time `json:"startDate"`
	EndDate                time.Time `json:"endDate"`
	DurationHours          float64   `json:"durationHours"`
	PriceHT                float64   `json:"priceHT"`

	// SourceID is an optional stable id carried by the export. When present
	// it overrides the composite idempotency key.
	SourceID string `json:"sourceId,omitempty"`
}

// IdempotencyKey is the field combination that decides whether a row updates
// an existing session record or creates a new one.
type IdempotencyKey struct {
	SourceID       string
	CollaboratorID string
	FormationCode  string
	StartDate      string // YYYY-MM-DD
}

// Key returns the idempotency key for the row: the external source id when
// present, otherwise collaborator + formation + start date.
func (r ImportRow) Key() IdempotencyKey {
	if r.SourceID != "" {
		return IdempotencyKey{SourceID: r.SourceID}
	}
	return IdempotencyKey{
		CollaboratorID: r.ExternalCollaboratorID,
		FormationCode:  r.FormationCode,
		StartDate:      r.StartDate.Format("2006-01-02"),
	}
}

// EntityRef points at an existing directory entity referenced by a conflict.
type EntityRef struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

// ConflictItem is one unresolved question surfaced by preview generation.
// Conflicts are unique by (entityType, rawValue) within a session.
type ConflictItem struct {
	Type            ConflictType `json:"type"`
	EntityType      EntityType   `json:"entityType,omitempty"`
	RawValue        string       `json:"rawValue"`
	Existing        *EntityRef   `json:"existing,omitempty"`
	OccurrenceCount int          `json:"occurrenceCount"`
	RowIndices      []int        `json:"rowIndices"`
}

// Key returns the composite key identifying this conflict.
func (c ConflictItem) Key() ConflictKey {
	return ConflictKey{EntityType: c.EntityType, RawValue: c.RawValue}
}

// Resolution is an operator decision for one deleted-entity conflict.
type Resolution struct {
	EntityType     EntityType       `json:"entityType"`
	RawValue       string           `json:"rawValue"`
	Action         ResolutionAction `json:"action"`
	TargetEntityID string           `json:"targetEntityId,omitempty"`
	Memorize       bool             `json:"memorize"`
}

// Key returns the composite key this resolution applies to.
func (r Resolution) Key() ConflictKey {
	return ConflictKey{EntityType: r.EntityType, RawValue: r.RawValue}
}

// Complete reports whether the resolution fully specifies a terminal action.
// MAP requires a target entity id.
func (r Resolution) Complete() bool {
	if !r.Action.Valid() {
		return false
	}
	if r.Action == ActionMap && r.TargetEntityID == "" {
		return false
	}
	return true
}

// Rule is a persisted resolution decision auto-applied to future previews
// matching the same (entityType, rawValue).
type Rule struct {
	ID             string           `json:"id"`
	EntityType     EntityType       `json:"entityType"`
	RawValue       string           `json:"rawValue"`
	Action         ResolutionAction `json:"action"`
	TargetEntityID string           `json:"targetEntityId,omitempty"`
	Active         bool             `json:"active"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// Key returns the composite key the rule matches.
func (r Rule) Key() ConflictKey {
	return ConflictKey{EntityType: r.EntityType, RawValue: r.RawValue}
}

// resolution converts the rule back into the decision it memorizes.
func (r Rule) resolution() Resolution {
	return Resolution{
		EntityType:     r.EntityType,
		RawValue:       r.RawValue,
		Action:         r.Action,
		TargetEntityID: r.TargetEntityID,
	}
}

// PreviewStats is the immutable summary snapshot computed at generation time.
type PreviewStats struct {
	TotalRows             int      `json:"totalRows"`
	SessionsToCreate      int      `json:"sessionsToCreate"`
	SessionsToUpdate      int      `json:"sessionsToUpdate"`
	NewOrganizations      []string `json:"newOrganizations"`
	NewCategories         []string `json:"newCategories"`
	CollaboratorsFound    int      `json:"collaboratorsFound"`
	CollaboratorsNotFound []string `json:"collaboratorsNotFound"`
	FormationsNew         int      `json:"formationsNew"`
	FormationsExisting    int      `json:"formationsExisting"`
}

// RowFailure is a recovered per-row error. Row failures never abort the
// import; they are aggregated into the result.
type RowFailure struct {
	RowIndex int    `json:"rowIndex"`
	Reason   string `json:"reason"`
}

// ImportResult aggregates the outcome of one confirmed import.
type ImportResult struct {
	Total            int          `json:"total"`
	Created          int          `json:"created"`
	Updated          int          `json:"updated"`
	Failed           int          `json:"failed"`
	Failures         []RowFailure `json:"failures,omitempty"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
}

// HistoryStatus classifies a confirm attempt in the import history.
type HistoryStatus string

const (
	HistorySuccess HistoryStatus = "SUCCESS"
	HistoryPartial HistoryStatus = "PARTIAL"
	HistoryError   HistoryStatus = "ERROR"
)

// HistoryEntry records one confirm attempt, success or failure.
type HistoryEntry struct {
	ID               string        `json:"id"`
	PreviewID        string        `json:"previewId"`
	FileName         string        `json:"fileName"`
	Status           HistoryStatus `json:"status"`
	Total            int           `json:"total"`
	Created          int           `json:"created"`
	Updated          int           `json:"updated"`
	Failed           int           `json:"failed"`
	Error            string        `json:"error,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	FinishedAt       time.Time     `json:"finishedAt"`
}
