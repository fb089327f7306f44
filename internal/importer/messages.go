package importer

// messages.go maps technical errors to user-facing messages with stable
// codes. Operators quote the code to support staff; the web layer logs the
// technical error and returns only the mapped message.
//
// Domain errors match via errors.Is/As first; infrastructure errors fall
// back to case-insensitive pattern matching, first match wins.

import (
	"errors"
	"strings"
)

// UserMessage provides user-friendly error information with actionable
// guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var domainMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrInvalidInput, UserMessage{
		Message: "The uploaded file could not be read as session rows",
		Action:  "Check the file matches the export template and retry",
		Code:    "IMP001",
	}},
	{ErrSessionNotFound, UserMessage{
		Message: "This import preview no longer exists",
		Action:  "The preview may have expired. Upload the file again",
		Code:    "IMP002",
	}},
	{ErrSessionClosed, UserMessage{
		Message: "This import preview has already been completed or cancelled",
		Action:  "Upload the file again to start a new import",
		Code:    "IMP003",
	}},
	{ErrTargetMissing, UserMessage{
		Message: "A mapping decision is missing its target entity",
		Action:  "Pick a target entity for every MAP decision",
		Code:    "IMP004",
	}},
	{ErrRuleNotFound, UserMessage{
		Message: "This import rule does not exist",
		Action:  "Refresh the rule list",
		Code:    "IMP005",
	}},
	{ErrTooManyPreviews, UserMessage{
		Message: "Too many imports are being prepared right now",
		Action:  "Please wait a moment and try again",
		Code:    "IMP006",
	}},
}

var infraPatterns = []struct {
	pattern string
	msg     UserMessage
}{
	{"context deadline exceeded", UserMessage{
		Message: "The operation timed out",
		Action:  "Try a smaller file or try again later",
		Code:    "SYS001",
	}},
	{"context canceled", UserMessage{
		Message: "The request was cancelled",
		Action:  "Please try again",
		Code:    "SYS002",
	}},
	{"connection refused", UserMessage{
		Message: "The database is unreachable",
		Action:  "Please try again in a few moments",
		Code:    "SYS003",
	}},
	{"deadlock", UserMessage{
		Message: "The database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "SYS004",
	}},
	{"foreign key", UserMessage{
		Message: "A referenced record no longer exists",
		Action:  "Regenerate the preview and resolve again",
		Code:    "SYS005",
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts any error into a user-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var unresolved *ConflictsUnresolvedError
	if errors.As(err, &unresolved) {
		return UserMessage{
			Message: unresolved.Error(),
			Action:  "Resolve the remaining conflicts before confirming",
			Code:    "IMP007",
		}
	}

	for _, dm := range domainMessages {
		if errors.Is(err, dm.err) {
			return dm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range infraPatterns {
		if strings.Contains(errStr, p.pattern) {
			return p.msg
		}
	}
	return defaultMessage
}
