package tessera

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Standard sentinel errors for common operations.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("tessera: record not found")

	// ErrPersisted is returned when creating an instance that already exists
	// in the database.
	ErrPersisted = errors.New("tessera: instance is already persisted")

	// ErrNotPersisted is returned when updating or destroying an instance
	// that was never created.
	ErrNotPersisted = errors.New("tessera: instance is not persisted")

	// ErrDestroyed is returned by every write on a destroyed instance.
	ErrDestroyed = errors.New("tessera: instance is destroyed")

	// ErrNoPrimaryKey is returned by operations addressing a single record
	// of a model without primary key.
	ErrNoPrimaryKey = errors.New("tessera: model has no primary key")

	// ErrTxDone is returned by a transaction that was already committed or
	// rolled back.
	ErrTxDone = errors.New("tessera: transaction has already been committed or rolled back")

	// ErrTxNotStarted is returned when committing or rolling back a
	// transaction that was never started.
	ErrTxNotStarted = errors.New("tessera: transaction not started")
)

// NotFoundError represents an error when a record is not found.
type NotFoundError struct {
	label string
	id    any // Optional: the key that was searched for
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	if e.id != nil {
		return fmt.Sprintf("tessera: %s not found (id=%v)", e.label, e.id)
	}
	return fmt.Sprintf("tessera: %s not found", e.label)
}

// Is reports whether the target error matches NotFoundError.
// This allows errors.Is(notFoundErr, ErrNotFound) to return true.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Label returns the model name.
func (e *NotFoundError) Label() string {
	return e.label
}

// ID returns the key that was searched for, if available.
func (e *NotFoundError) ID() any {
	return e.id
}

// NewNotFoundError returns a new NotFoundError for the given model.
func NewNotFoundError(label string) *NotFoundError {
	return &NotFoundError{label: label}
}

// NewNotFoundErrorWithID returns a new NotFoundError with the key that was searched for.
func NewNotFoundErrorWithID(label string, id any) *NotFoundError {
	return &NotFoundError{label: label, id: id}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotLoadedError represents an error when reading an include that was not
// part of the query.
type NotLoadedError struct {
	include string
}

// Error returns the error string.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("tessera: include %q was not loaded", e.include)
}

// NewNotLoadedError returns a new NotLoadedError for the given include alias.
func NewNotLoadedError(include string) *NotLoadedError {
	return &NotLoadedError{include: include}
}

// IsNotLoaded returns true if the error is a NotLoadedError.
func IsNotLoaded(err error) bool {
	if err == nil {
		return false
	}
	var e *NotLoadedError
	return errors.As(err, &e)
}

// ValidationErrors maps field names, unique key names and custom validator
// names to their messages. Only keys with at least one message are present.
type ValidationErrors map[string][]string

// Error returns the error string, with keys in sorted order.
func (e ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("tessera: validation failed:")
	for i, k := range slices.Sorted(maps.Keys(e)) {
		if i > 0 {
			sb.WriteByte(';')
		}
		fmt.Fprintf(&sb, " %s: %s", k, strings.Join(e[k], ", "))
	}
	return sb.String()
}

// add appends msg to the messages of key.
func (e ValidationErrors) add(key string, msg ...string) {
	if len(msg) > 0 {
		e[key] = append(e[key], msg...)
	}
}

// merge copies the messages of other into e.
func (e ValidationErrors) merge(other ValidationErrors) {
	for k, msgs := range other {
		e.add(k, msgs...)
	}
}

// IsValidationError returns true if the error holds ValidationErrors.
func IsValidationError(err error) bool {
	if err == nil {
		return false
	}
	var e ValidationErrors
	return errors.As(err, &e)
}

// HookError wraps the error returned by a hook. It aborts the rest of the
// hook chain and the operation the chain belongs to.
type HookError struct {
	Type HookType
	Err  error
}

// Error returns the error string.
func (e *HookError) Error() string {
	return fmt.Sprintf("tessera: %s hook: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error.
func (e *HookError) Unwrap() error {
	return e.Err
}

// IsHookError returns true if the error is a HookError.
func IsHookError(err error) bool {
	if err == nil {
		return false
	}
	var e *HookError
	return errors.As(err, &e)
}

// RollbackError wraps an error that occurred during a transaction rollback.
type RollbackError struct {
	Err         error // Original error that triggered rollback
	RollbackErr error
}

// Error returns the error string.
func (e *RollbackError) Error() string {
	return fmt.Sprintf("tessera: %v: rolling back transaction: %v", e.Err, e.RollbackErr)
}

// Unwrap returns the underlying errors.
func (e *RollbackError) Unwrap() []error {
	return []error{e.Err, e.RollbackErr}
}

// QueryError wraps a query error with additional context.
type QueryError struct {
	Model string // Model being queried
	Op    string // Operation (e.g., "find", "count")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *QueryError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("tessera: querying %s (%s): %v", e.Model, e.Op, e.Err)
	}
	return fmt.Sprintf("tessera: querying %s: %v", e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *QueryError) Unwrap() error {
	return e.Err
}

// NewQueryError returns a new QueryError.
func NewQueryError(model, op string, err error) *QueryError {
	return &QueryError{Model: model, Op: op, Err: err}
}

// IsQueryError returns true if the error is a QueryError.
func IsQueryError(err error) bool {
	if err == nil {
		return false
	}
	var e *QueryError
	return errors.As(err, &e)
}

// MutationError wraps the error of a bulk mutation with additional context.
// Errors of single instance writes are returned unwrapped.
type MutationError struct {
	Model string // Model being mutated
	Op    string // Operation (e.g., "update", "destroy")
	Err   error  // Underlying error
}

// Error returns the error string.
func (e *MutationError) Error() string {
	return fmt.Sprintf("tessera: %s %s: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error.
func (e *MutationError) Unwrap() error {
	return e.Err
}

// NewMutationError returns a new MutationError.
func NewMutationError(model, op string, err error) *MutationError {
	return &MutationError{Model: model, Op: op, Err: err}
}

// IsMutationError returns true if the error is a MutationError.
func IsMutationError(err error) bool {
	if err == nil {
		return false
	}
	var e *MutationError
	return errors.As(err, &e)
}

// PrivacyError represents a mutation rejected by a privacy policy.
type PrivacyError struct {
	Model string // Model being mutated
	Op    string // Operation (create, update or destroy)
	Err   error  // Decision of the policy
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	return fmt.Sprintf("tessera: privacy denied %s on %s: %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the policy decision.
func (e *PrivacyError) Unwrap() error {
	return e.Err
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(model, op string, err error) *PrivacyError {
	return &PrivacyError{Model: model, Op: op, Err: err}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	if err == nil {
		return false
	}
	var e *PrivacyError
	return errors.As(err, &e)
}
