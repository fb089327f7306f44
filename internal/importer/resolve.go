package importer

// resolve.go implements the resolution coordinator: it merges operator
// decisions into an open session and decides when the import may proceed.
//
// Merge policy is explicit last-write-wins by composite key: a later call
// may revise an earlier decision for the same key until the session is
// confirmed. Submissions accumulate; unresolved entries are never reset.

import (
	"context"
	"fmt"
	"log/slog"
)

// ResolveOutcome is the state of the session after a resolution round.
type ResolveOutcome struct {
	RemainingConflicts []ConflictItem `json:"remainingConflicts"`
	CanImport          bool           `json:"canImport"`
}

// ResolutionCoordinator applies operator-submitted resolutions to sessions
// and upserts memorized rules.
type ResolutionCoordinator struct {
	store *PreviewSessionStore
	rules *RuleEngine
}

// NewResolutionCoordinator wires the coordinator to the session store and
// rule engine.
func NewResolutionCoordinator(store *PreviewSessionStore, rules *RuleEngine) *ResolutionCoordinator {
	return &ResolutionCoordinator{store: store, rules: rules}
}

// SubmitResolutions merges the given resolutions into the session under its
// per-session lock and returns the remaining conflicts. It is safe to call
// repeatedly with overlapping or disjoint subsets; repeating an identical
// payload yields the same outcome.
//
// Fails with ErrSessionNotFound or ErrSessionClosed when the session is
// missing or terminal, and ErrInvalidInput on malformed resolutions.
func (c *ResolutionCoordinator) SubmitResolutions(ctx context.Context, previewID string, resolutions []Resolution) (*ResolveOutcome, error) {
	for _, res := range resolutions {
		if !res.EntityType.Valid() || res.RawValue == "" || !res.Action.Valid() {
			return nil, fmt.Errorf("%w: malformed resolution for %q", ErrInvalidInput, res.RawValue)
		}
	}

	var outcome ResolveOutcome
	var memorize []Resolution

	err := c.store.Mutate(previewID, func(s *PreviewSession) error {
		if s.Status.Terminal() {
			return ErrSessionClosed
		}

		for _, res := range resolutions {
			// Last write wins; an incomplete MAP is stored but leaves its
			// conflict in the remaining set until a target arrives.
			s.Resolutions[res.Key()] = res

			if res.Memorize && res.Complete() {
				memorize = append(memorize, res)
			}
		}

		outcome.RemainingConflicts = s.remainingConflicts()
		outcome.CanImport = len(outcome.RemainingConflicts) == 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Rule upserts run after the merge, outside the session lock. A failed
	// upsert does not undo the session-local decision; the rule can be
	// recreated on the next submission.
	for _, res := range memorize {
		if _, err := c.rules.Upsert(ctx, res.EntityType, res.RawValue, res.Action, res.TargetEntityID); err != nil {
			slog.Warn("rule upsert failed",
				"preview_id", previewID,
				"entity_type", res.EntityType,
				"raw_value", res.RawValue,
				"error", err,
			)
		}
	}

	return &outcome, nil
}

// Cancel closes an open session. Non-memorized resolutions are lost.
func (c *ResolutionCoordinator) Cancel(previewID string) error {
	return c.store.Close(previewID, StatusCancelled)
}
