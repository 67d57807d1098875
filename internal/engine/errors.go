package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by Submit and View once the engine has stopped
// accepting operations.
var ErrStopped = errors.New("engine stopped")

// LogError reports that the operation log rejected a write. The engine stops
// after a LogError; the in-memory state may be ahead of the log and must be
// rebuilt with Recover.
type LogError struct {
	Seq int64
	Err error
}

// Error implements the error interface.
func (e *LogError) Error() string {
	return fmt.Sprintf("operation log write failed at seq %d: %v", e.Seq, e.Err)
}

// Unwrap returns the underlying store error.
func (e *LogError) Unwrap() error {
	return e.Err
}

// IsLogError reports whether err is, or wraps, a LogError.
func IsLogError(err error) bool {
	var le *LogError
	return errors.As(err, &le)
}
