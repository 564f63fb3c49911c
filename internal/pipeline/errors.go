package pipeline

import (
	"errors"
	"fmt"
)

// NotFoundError means the content to analyze does not exist (any more)
type NotFoundError struct {
	ContentID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("content %s not found", e.ContentID)
}

// PersistenceError wraps a storage failure; no pointer was moved
type PersistenceError struct {
	ContentID string
	Op        string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s for content %s: %v", e.Op, e.ContentID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
