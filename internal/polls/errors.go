package polls

import (
	"errors"
	"fmt"
)

// Kind classifies domain errors for callers and the HTTP layer.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindConflict     Kind = "conflict"
	KindPersistence  Kind = "persistence"
	KindValidation   Kind = "validation"
)

// Error is a classified domain error. Reason is safe to show to end users.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrPollNotFound        = &Error{Kind: KindNotFound, Reason: "Poll not found"}
	ErrOptionNotFound      = &Error{Kind: KindNotFound, Reason: "Option not found for this poll"}
	ErrVoteNotFound        = &Error{Kind: KindNotFound, Reason: "Vote not found"}
	ErrCategoryNotFound    = &Error{Kind: KindNotFound, Reason: "Category not found"}
	ErrPollInactive        = &Error{Kind: KindInvalidState, Reason: "This poll is no longer active"}
	ErrPollExpired         = &Error{Kind: KindInvalidState, Reason: "This poll has expired"}
	ErrAnonymousNotAllowed = &Error{Kind: KindInvalidState, Reason: "Sign in to vote on this poll"}
	ErrVoteRetracted       = &Error{Kind: KindInvalidState, Reason: "This vote has already been retracted"}
	ErrInvalidTransition   = &Error{Kind: KindInvalidState, Reason: "Poll cannot change to the requested status"}
	ErrDuplicateVote       = &Error{Kind: KindConflict, Reason: "You have already voted on this poll"}
)

// Validation returns a validation error with a user-facing reason.
func Validation(reason string) error {
	return &Error{Kind: KindValidation, Reason: reason}
}

// Persistence wraps a storage failure. The caller must not assume the write
// happened.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Reason: "storage failure", Err: fmt.Errorf("%s: %w", op, err)}
}

// KindOf returns the Kind of err, or KindPersistence for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// ReasonOf returns the user-facing reason of a classified error.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return "storage failure"
}
