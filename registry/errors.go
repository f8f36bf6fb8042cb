package registry

import (
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	// ErrCapacity indicates the wait slot pool or the pending log is full.
	// It is a sizing problem, not an expected steady-state condition.
	ErrCapacity = errors.New("registry: capacity exhausted")

	// ErrMisuse is the root of every protocol misuse error. Misuse means the
	// producer side is broken; callers should not try to recover from it.
	ErrMisuse = errors.New("registry: protocol misuse")

	// ErrDuplicateCreate indicates a second creation for a key whose first
	// creation has not been published yet.
	ErrDuplicateCreate = fmt.Errorf("%w: creation already in flight", ErrMisuse)

	// ErrAlreadyExists indicates a creation for a key that is already published.
	ErrAlreadyExists = fmt.Errorf("%w: key already published", ErrMisuse)

	// ErrPendingWait indicates Remove was called for a key that lookups are
	// still waiting on.
	ErrPendingWait = fmt.Errorf("%w: remove while lookups are waiting", ErrMisuse)

	// ErrCreationClosed indicates Publish or Abort on a creation that was
	// already published or aborted.
	ErrCreationClosed = fmt.Errorf("%w: creation already finished", ErrMisuse)

	// ErrStuck indicates a lookup waited longer than the configured wait
	// timeout for a creation that never published.
	ErrStuck = errors.New("registry: creation never published")

	// ErrClosed indicates the registry has been torn down.
	ErrClosed = errors.New("registry: closed")
)

// CapacityError reports which bounded resource ran out.
type CapacityError struct {
	Resource string // "wait slots" or "pending log"
	Capacity int
}

// Error implements the error interface.
func (e *CapacityError) Error() string {
	return fmt.Sprintf("registry: %s exhausted (capacity %d)", e.Resource, e.Capacity)
}

// Unwrap returns ErrCapacity.
func (e *CapacityError) Unwrap() error {
	return ErrCapacity
}

// StuckError is returned by Get when the wait for a reserved key timed out.
type StuckError struct {
	Key    string
	Waited time.Duration
}

// Error implements the error interface.
func (e *StuckError) Error() string {
	return fmt.Sprintf("registry: lookup for %s stuck after %s", e.Key, e.Waited)
}

// Unwrap returns ErrStuck.
func (e *StuckError) Unwrap() error {
	return ErrStuck
}

// IsCapacity returns true if err reports an exhausted wait slot pool or pending log.
func IsCapacity(err error) bool {
	return errors.Is(err, ErrCapacity)
}

// IsMisuse returns true if err reports a protocol misuse.
func IsMisuse(err error) bool {
	return errors.Is(err, ErrMisuse)
}
