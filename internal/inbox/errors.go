package inbox

import (
	"errors"
	"fmt"

	"github.com/wainbox/wainbox/internal/store"
)

// The core's errors are all local and recoverable: the worst case is a
// stale view correctable by reload or resubscribe.

// ValidationError reports bad caller input. It is returned synchronously
// and never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FetchError reports a load/query failure. Local state is left
// unchanged; the caller retries explicitly.
type FetchError struct {
	Relation store.Relation
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Relation, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError reports that an optimistic write could not be committed.
// The optimistic entity has been rolled back by the time the caller
// sees this error.
type PersistError struct {
	Relation store.Relation
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Relation, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// DeliveryError reports a gateway rejection or transport failure. The
// message stays persisted, marked error; there is no rollback, since
// the record of an attempt has value.
type DeliveryError struct {
	GatewayStatus int
	Err           error
}

func (e *DeliveryError) Error() string {
	if e.GatewayStatus > 0 {
		return fmt.Sprintf("gateway delivery failed (status %d): %v", e.GatewayStatus, e.Err)
	}
	return fmt.Sprintf("gateway delivery failed: %v", e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PermissionError reports an assignment-gate denial. The write was
// never attempted.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("not permitted: %s", e.Reason)
}

// ErrDuplicateTag is returned when a (conversation, tag) pair already
// exists. Duplicate application is a no-op error, not a duplicate row.
var ErrDuplicateTag = errors.New("tag already applied to conversation")

// IsValidationError checks if the error is a validation error.
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

// IsFetchError checks if the error is a fetch error.
func IsFetchError(err error) bool {
	var e *FetchError
	return errors.As(err, &e)
}

// IsPersistError checks if the error is a persist error.
func IsPersistError(err error) bool {
	var e *PersistError
	return errors.As(err, &e)
}

// IsDeliveryError checks if the error is a delivery error.
func IsDeliveryError(err error) bool {
	var e *DeliveryError
	return errors.As(err, &e)
}

// IsPermissionError checks if the error is a permission error.
func IsPermissionError(err error) bool {
	var e *PermissionError
	return errors.As(err, &e)
}
