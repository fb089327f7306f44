package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"invalid input", fmt.Errorf("row 3: %w", ErrInvalidInput), "IMP001"},
		{"session not found", ErrSessionNotFound, "IMP002"},
		{"session closed", ErrSessionClosed, "IMP003"},
		{"target missing", fmt.Errorf("%w: rule for Sales", ErrTargetMissing), "IMP004"},
		{"rule not found", ErrRuleNotFound, "IMP005"},
		{"too many previews", ErrTooManyPreviews, "IMP006"},
		{"unresolved conflicts", &ConflictsUnresolvedError{Remaining: []ConflictKey{{EntityDepartment, "Sales"}}}, "IMP007"},
		{"wrapped unresolved", fmt.Errorf("confirm: %w", &ConflictsUnresolvedError{}), "IMP007"},
		{"timeout", context.DeadlineExceeded, "SYS001"},
		{"cancelled", context.Canceled, "SYS002"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), "SYS003"},
		{"deadlock", errors.New("ERROR: deadlock detected (SQLSTATE 40P01)"), "SYS004"},
		{"foreign key", errors.New("violates foreign key constraint"), "SYS005"},
		{"unknown", errors.New("boom"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := MapError(tt.err)
			if msg.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, msg.Code, tt.wantCode)
			}
			if msg.Message == "" || msg.Action == "" {
				t.Errorf("MapError(%v) returned empty message or action", tt.err)
			}
		})
	}

	if msg := MapError(nil); msg != (UserMessage{}) {
		t.Errorf("MapError(nil) = %+v, want zero value", msg)
	}
}
