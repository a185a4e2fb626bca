package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across packages.
var (
	// ErrNotFound is returned when an entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrNoRemoteIdentity is returned when a listing carries no usable
	// marketplace identifier.
	ErrNoRemoteIdentity = errors.New("listing has no remote identity")

	// ErrInvalidStrategy is returned for malformed or unknown strategies.
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrCycleAlreadyRan is returned when the run guard shows a completed
	// cycle for the current business-timezone date.
	ErrCycleAlreadyRan = errors.New("cycle already completed today")
)

// ErrorKind classifies per-item and per-tenant failures so the batch loop can
// decide between skip, stop-tenant, and surface-for-operator without relying
// on control-flow exceptions.
type ErrorKind string

const (
	// KindTransient covers remote 5xx/timeouts; the item is retried next cycle.
	KindTransient ErrorKind = "transient"

	// KindValidation covers missing/invalid minimum prices and malformed
	// strategies; the item is skipped and surfaced for operator attention.
	KindValidation ErrorKind = "validation"

	// KindNeedsReconnect means the tenant's refresh token is invalid, expired
	// or revoked. Processing stops for the tenant and the connection is
	// flagged disconnected; never retried automatically.
	KindNeedsReconnect ErrorKind = "needs_reconnect"

	// KindNotFound means the listing vanished remotely before the update; it
	// is treated as already ended rather than as an error.
	KindNotFound ErrorKind = "not_found"

	// KindInvariant means a computed price was non-finite or non-positive;
	// the single item is hard-skipped and the batch continues.
	KindInvariant ErrorKind = "invariant_violation"
)

// ClassifiedError attaches an ErrorKind to an underlying cause.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with the given kind. A nil err returns nil.
func Classify(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// Classifyf wraps a formatted error with the given kind.
func Classifyf(kind ErrorKind, format string, args ...any) error {
	return &ClassifiedError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to KindTransient for
// unclassified failures so unknown conditions are retried rather than dropped.
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, ErrNotFound) {
		return KindNotFound
	}
	return KindTransient
}

// IsKind reports whether err carries the given classification.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
