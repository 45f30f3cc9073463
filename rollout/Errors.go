package rollout

import "errors"

// StorageError implements errors unique to rollout storage.
type StorageError struct {
	Op  string
	Err error
}

// Error satisfies the error interface
func (e *StorageError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrOutOfCapacity reports an Insert past the configured horizon
// without an intervening AfterUpdate. It always indicates a
// scheduler/storage desynchronization bug in the caller.
var ErrOutOfCapacity = errors.New("storage at full horizon")

// IsOutOfCapacity returns whether or not an error reports that the
// rollout window is already full.
func IsOutOfCapacity(err error) bool {
	return errors.Is(err, ErrOutOfCapacity)
}
