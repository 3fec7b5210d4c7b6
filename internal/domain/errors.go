package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without reading messages.
type Kind string

const (
	KindInvalidState       Kind = "invalid_state"
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindConflict           Kind = "conflict"
	KindPreconditionFailed Kind = "precondition_failed"
)

// Error is a recoverable core failure. Two errors match under errors.Is when
// their codes are equal, so detail added with Withf does not break matching.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Withf returns a copy of e with formatted detail appended to the message.
func (e *Error) Withf(format string, args ...any) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: e.Message + ": " + fmt.Sprintf(format, args...)}
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf returns the kind of a core error anywhere in err's chain.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}

// CodeOf returns the code of a core error anywhere in err's chain.
func CodeOf(err error) (string, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

var (
	ErrInvalidState = newError(KindInvalidState, "invalid_state", "invalid project state")
	ErrLedgerSealed = newError(KindInvalidState, "ledger_sealed", "escrow ledger is sealed")

	ErrInvalidSchedule = newError(KindValidation, "invalid_schedule", "invalid milestone schedule")
	ErrEmptySchedule   = newError(KindValidation, "empty_schedule", "milestone schedule is empty")
	ErrInvalidProject  = newError(KindValidation, "invalid_project", "invalid project")
	ErrInvalidTeam     = newError(KindValidation, "invalid_team", "invalid team")
	ErrInvalidInput    = newError(KindValidation, "invalid_input", "invalid input")

	ErrProjectNotFound       = newError(KindNotFound, "project_not_found", "project not found")
	ErrApplicationNotFound   = newError(KindNotFound, "application_not_found", "application not found")
	ErrMilestoneNotFound     = newError(KindNotFound, "milestone_not_found", "milestone not found")
	ErrGateNotFound          = newError(KindNotFound, "gate_not_found", "review gate not found")
	ErrChecklistItemNotFound = newError(KindNotFound, "checklist_item_not_found", "checklist item not found")
	ErrTeamNotFound          = newError(KindNotFound, "team_not_found", "team not found")

	ErrAlreadyReleased      = newError(KindConflict, "already_released", "milestone tranche already released")
	ErrOutOfOrder           = newError(KindConflict, "out_of_order", "previous milestone tranche not released")
	ErrDuplicateApplication = newError(KindConflict, "duplicate_application", "team already applied")
	ErrAlreadySelected      = newError(KindConflict, "already_selected", "another team is already selected")
	ErrGateAlreadyPassed    = newError(KindConflict, "gate_already_passed", "review gate already passed")
	ErrProjectExists        = newError(KindConflict, "project_exists", "project already exists")

	ErrProjectNotLive       = newError(KindInvalidState, "project_not_live", "project is not accepting applications")
	ErrNoCurrentMilestone   = newError(KindInvalidState, "no_current_milestone", "no current milestone")
	ErrChecklistIncomplete  = newError(KindPreconditionFailed, "checklist_incomplete", "checklist incomplete")
	ErrConsentMissing       = newError(KindPreconditionFailed, "consent_missing", "consent not given")
	ErrGateNotPassed        = newError(KindPreconditionFailed, "gate_not_passed", "review gate not passed")
	ErrRevisionWindowClosed = newError(KindPreconditionFailed, "revision_window_closed", "revision window has closed")
)
