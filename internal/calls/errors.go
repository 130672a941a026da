package calls

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("calls: not found")
	ErrDuplicate       = errors.New("calls: duplicate")
	ErrInvalidArgument = errors.New("calls: invalid argument")
	// ErrConflict means the status kept changing underneath an update.
	ErrConflict = errors.New("calls: concurrent update conflict")
)

// StorageError reports a failed repository operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("calls: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}
