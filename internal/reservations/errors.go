package reservations

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies failures so transports can map them consistently.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindNotFound    Kind = "NOT_FOUND"
	KindConflict    Kind = "CONFLICT"
	KindTransaction Kind = "TRANSACTION_FAILURE"
	KindExternal    Kind = "EXTERNAL_DEGRADED"
	KindInternal    Kind = "INTERNAL"
)

var (
	// ErrValidation marks caller-correctable input problems.
	ErrValidation = &Error{Kind: KindValidation}
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = &Error{Kind: KindNotFound}
	// ErrConflict marks a state that forbids the requested transition.
	ErrConflict = &Error{Kind: KindConflict}
	// ErrTransaction marks a persistence failure; nothing was applied.
	ErrTransaction = &Error{Kind: KindTransaction}
	// ErrExternalDegraded marks a best-effort collaborator failure.
	ErrExternalDegraded = &Error{Kind: KindExternal}
)

// Error is the typed failure returned by every service operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("reservations: %s: %v", msg, e.Err)
	}
	return "reservations: " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf extracts the failure kind, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the short, caller-safe message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}

func validationError(op, msg string) error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

func notFound(op, msg string) error {
	return &Error{Kind: KindNotFound, Op: op, Message: msg}
}

func conflict(op, msg string) error {
	return &Error{Kind: KindConflict, Op: op, Message: msg}
}

// txFailure wraps a persistence error unless it is already classified.
func txFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindTransaction, Op: op, Message: "transaction failed", Err: err}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
