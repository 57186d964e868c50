package pipeline

import (
	"context"
	"errors"

	"github.com/withObsrvr/retail-sync/internal/aggregate"
	"github.com/withObsrvr/retail-sync/internal/config"
	"github.com/withObsrvr/retail-sync/internal/records"
	"github.com/withObsrvr/retail-sync/internal/source"
	"github.com/withObsrvr/retail-sync/internal/storage"
)

// Process exit codes.
const (
	ExitUnchanged = 0 // also used when another run holds the lock
	ExitUpdated   = 1
	ExitFetch     = 2
	ExitSchema    = 3
	ExitWrite     = 4
	ExitCancelled = 5
	ExitInternal  = 6
)

// ErrStateSave is returned when the run published but its state could not
// be persisted.
var ErrStateSave = errors.New("save sync state failed")

// ExitCode maps a run outcome and error to the process exit code.
func ExitCode(outcome Outcome, err error) int {
	if err != nil {
		return errorCode(err)
	}
	if outcome == OutcomeUpdated {
		return ExitUpdated
	}
	return ExitUnchanged
}

func errorCode(err error) int {
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return ExitCancelled
	case errors.Is(err, source.ErrInvalidLocator),
		errors.Is(err, source.ErrAuth),
		errors.Is(err, source.ErrNotFound),
		errors.Is(err, source.ErrTooLarge),
		errors.Is(err, source.ErrNetwork):
		return ExitFetch
	case errors.Is(err, records.ErrSchema), errors.Is(err, source.ErrCorruptPayload):
		return ExitSchema
	case errors.Is(err, storage.ErrWrite),
		errors.Is(err, ErrCatalog),
		errors.Is(err, ErrNotify),
		errors.Is(err, ErrStateSave):
		return ExitWrite
	default:
		// configuration, aggregate cross-check and unexpected failures
		return ExitInternal
	}
}

// Reason returns a short label for a failed run, used as the structured
// "reason" log field.
func Reason(err error) string {
	switch errorCode(err) {
	case ExitCancelled:
		return "cancelled"
	case ExitFetch:
		switch {
		case errors.Is(err, source.ErrAuth):
			return "auth"
		case errors.Is(err, source.ErrNotFound):
			return "not_found"
		case errors.Is(err, source.ErrInvalidLocator):
			return "invalid_locator"
		case errors.Is(err, source.ErrTooLarge):
			return "too_large"
		default:
			return "network"
		}
	case ExitSchema:
		return "schema"
	case ExitWrite:
		switch {
		case errors.Is(err, ErrCatalog):
			return "catalog"
		case errors.Is(err, ErrNotify):
			return "notify"
		case errors.Is(err, ErrStateSave):
			return "state"
		default:
			return "write"
		}
	default:
		if errors.Is(err, aggregate.ErrInconsistent) {
			return "inconsistent"
		}
		if errors.Is(err, config.ErrInvalid) {
			return "config"
		}
		return "internal"
	}
}
