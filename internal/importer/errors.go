package importer

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for session and resolution preconditions. Handlers map
// these to stable HTTP statuses and error codes.
var (
	// ErrInvalidInput means the row batch was malformed or empty. No session
	// is created.
	ErrInvalidInput = errors.New("invalid import input")

	// ErrSessionNotFound means no preview session exists for the given id.
	ErrSessionNotFound = errors.New("preview session not found")

	// ErrSessionClosed means the session is in a terminal state
	// (CONFIRMED, CANCELLED or EXPIRED) and cannot be reused.
	ErrSessionClosed = errors.New("preview session is closed")

	// ErrTargetMissing means a MAP decision was submitted without a target
	// entity id where one is required.
	ErrTargetMissing = errors.New("MAP action requires a target entity id")

	// ErrRuleNotFound means no rule exists for the given id.
	ErrRuleNotFound = errors.New("import rule not found")

	// ErrTooManyPreviews is returned when all preview slots are occupied and
	// the wait timeout expires. Clients should retry after a short delay.
	ErrTooManyPreviews = errors.New("too many concurrent preview generations, please try again later")
)

// ConflictsUnresolvedError is returned by confirm when the session still has
// unresolved deleted-entity conflicts. It lists the remaining keys so the
// operator knows exactly what is blocking the import.
type ConflictsUnresolvedError struct {
	Remaining []ConflictKey
}

func (e *ConflictsUnresolvedError) Error() string {
	keys := make([]string, len(e.Remaining))
	for i, k := range e.Remaining {
		keys[i] = fmt.Sprintf("%s/%s", k.EntityType, k.RawValue)
	}
	return fmt.Sprintf("%d conflicts unresolved: %s", len(e.Remaining), strings.Join(keys, ", "))
}

// referentialRace builds the per-row failure reason used when an entity that
// a resolution points at vanished between resolve and confirm. The race is
// recovered per row, never fatal to the transaction.
func referentialRace(entityType EntityType, value string) string {
	return fmt.Sprintf("referential race: %s %q no longer exists", strings.ToLower(string(entityType)), value)
}
