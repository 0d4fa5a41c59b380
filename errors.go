package ilm

import (
	"errors"
	"fmt"
)

// ErrorCode enumerates the error categories a lifecycle operation can return
// to a caller. Anything not in this taxonomy that still reaches a caller is a
// bug: transient closures are resolved internally and broken invariants are
// fatal (they panic instead of returning an error).
type ErrorCode int

const (
	// Unknown is an unspecified error condition.
	Unknown ErrorCode = iota
	// NotFound means the requested name has no binding in the registry.
	NotFound
	// AlreadyExists means a handle cache create was attempted against a slot
	// that was not Missing.
	AlreadyExists
	// StoreErr wraps a failure from the underlying transactional store,
	// propagated verbatim.
	StoreErr
	// IoErr wraps a filesystem error encountered during create or delete.
	IoErr
)

// Error is a lifecycle-manager error carrying a code, the wrapped error, and
// the name or identifier the error pertains to.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Errorf("error code: %d, user data: %v, details: %w", e.Code, e.UserData, e.Err).Error()
}

func (e Error) Unwrap() error {
	return e.Err
}

// NewNotFoundError builds the NotFound error for a given index name.
func NewNotFoundError(name string) error {
	return Error{Code: NotFound, Err: fmt.Errorf("index %q not found", name), UserData: name}
}

// NewAlreadyExistsError builds the AlreadyExists error for a given index name.
func NewAlreadyExistsError(name string) error {
	return Error{Code: AlreadyExists, Err: fmt.Errorf("index %q already exists", name), UserData: name}
}

// NewStoreError wraps an underlying store failure.
func NewStoreError(err error) error {
	return Error{Code: StoreErr, Err: err}
}

// NewIoError wraps a filesystem failure encountered for the given index name.
func NewIoError(name string, err error) error {
	return Error{Code: IoErr, Err: err, UserData: name}
}

// IsNotFound reports whether err is (or wraps) a NotFound error.
func IsNotFound(err error) bool {
	var e Error
	return errors.As(err, &e) && e.Code == NotFound
}

// IsAlreadyExists reports whether err is (or wraps) an AlreadyExists error.
func IsAlreadyExists(err error) bool {
	var e Error
	return errors.As(err, &e) && e.Code == AlreadyExists
}
