package ledger

import (
	"errors"
	"fmt"

	"github.com/warp/trade-ledger/generic"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidFilter is returned for malformed analysis or query params.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidDateRange is returned when start date is after end date.
	ErrInvalidDateRange = errors.New("invalid date range: start after end")

	// ErrRebuildAborted is returned when a replay stopped on a write error.
	ErrRebuildAborted = errors.New("stock ledger rebuild aborted")

	// ErrProductNotFound is returned for an unknown product model.
	ErrProductNotFound = errors.New("product not found")

	// ErrUnknownSide is returned for an invoice side other than
	// receivable or payable.
	ErrUnknownSide = errors.New("unknown invoice side")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FilterError names the offending field.
type FilterError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *FilterError) Unwrap() error {
	return ErrInvalidFilter
}

// RebuildAbortedError reports a short replay. Rows written before the
// failure are kept; the caller re-runs the rebuild.
type RebuildAbortedError struct {
	Processed int
	Expected  int
	Err       error
}

func (e *RebuildAbortedError) Error() string {
	return fmt.Sprintf("stock ledger rebuild aborted after %d of %d records: %v",
		e.Processed, e.Expected, e.Err)
}

func (e *RebuildAbortedError) Is(target error) bool {
	return target == ErrRebuildAborted
}

func (e *RebuildAbortedError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidFilter) ||
		errors.Is(err, ErrInvalidDateRange) ||
		errors.Is(err, ErrUnknownSide)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound)
}

// IsNotGenerated re-exports the cache miss check for route handlers.
func IsNotGenerated(err error) bool {
	return generic.IsNotGenerated(err)
}
