package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by stores when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned by ReadModelStore.Save when the optimistic
// version check fails because another writer got there first.
var ErrVersionConflict = errors.New("read model version conflict")

// PermanentError marks a failure that no amount of retrying will fix, such as
// a malformed payload or a permanently missing aggregate. The processor moves
// the envelope straight to the dead-letter store instead of burning through
// the retry budget.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("permanent failure: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("permanent failure: %s", e.Reason)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a PermanentError.
func Permanent(err error, reason string) error {
	return &PermanentError{Reason: reason, Err: err}
}

// Permanentf builds a PermanentError from a format string.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Reason: fmt.Sprintf(format, args...)}
}

// IsPermanent reports whether err or anything it wraps is a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
