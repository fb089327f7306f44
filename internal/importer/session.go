package importer

import "time"

// SessionStatus is the lifecycle state of a preview session.
type SessionStatus string

const (
	StatusOpen      SessionStatus = "OPEN"
	StatusConfirmed SessionStatus = "CONFIRMED"
	StatusCancelled SessionStatus = "CANCELLED"
	StatusExpired   SessionStatus = "EXPIRED"
)

// Terminal reports whether the status admits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s != StatusOpen
}

// PreviewSession is the ephemeral server-side state for one pending import.
//
// Sessions are owned exclusively by the PreviewSessionStore: the store hands
// out copies on reads and serializes all mutation through Mutate, so the
// stats snapshot and conflict list stay immutable after generation while the
// resolution map accumulates operator decisions.
type PreviewSession struct {
	ID        string
	FileName  string
	TotalRows int
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    SessionStatus

	Rows      []ImportRow
	Stats     PreviewStats
	Conflicts []ConflictItem

	// Resolutions holds operator decisions plus rules auto-applied at
	// generation time, keyed by (entityType, rawValue). Last write wins.
	Resolutions map[ConflictKey]Resolution

	// RulesApplied counts distinct keys silently resolved by memorized rules
	// during generation.
	RulesApplied int
}

// clone returns a copy safe to hand outside the store. Row and conflict
// slices are immutable after generation and shared; the resolution map is
// copied because callers may observe it while Mutate writes.
func (s *PreviewSession) clone() *PreviewSession {
	cp := *s
	cp.Resolutions = make(map[ConflictKey]Resolution, len(s.Resolutions))
	for k, v := range s.Resolutions {
		cp.Resolutions[k] = v
	}
	return &cp
}

// remainingConflicts returns the deleted-entity conflicts whose key is
// absent from the resolution map, or present with an incomplete decision
// (MAP without a target).
//
// COLLABORATOR_NOT_FOUND conflicts are excluded: they have no resolution
// path, their rows are skipped unconditionally, and they never block
// confirmation.
func (s *PreviewSession) remainingConflicts() []ConflictItem {
	var remaining []ConflictItem
	for _, c := range s.Conflicts {
		if c.Type != ConflictEntityDeleted {
			continue
		}
		res, ok := s.Resolutions[c.Key()]
		if !ok || !res.Complete() {
			remaining = append(remaining, c)
		}
	}
	return remaining
}

// remainingKeys is remainingConflicts reduced to keys, for error payloads.
func (s *PreviewSession) remainingKeys() []ConflictKey {
	conflicts := s.remainingConflicts()
	keys := make([]ConflictKey, len(conflicts))
	for i, c := range conflicts {
		keys[i] = c.Key()
	}
	return keys
}
