package queue

import (
	"errors"
	"fmt"

	"github.com/selfhostly/scheduler/internal/storex"
)

// QueueError is a typed error carrying a stable code, following the
// {Code, Message, Cause} wrapping idiom used throughout this codebase.
type QueueError struct {
	Code    string
	Message string
	Cause   error
}

func (e *QueueError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *QueueError) Unwrap() error {
	return e.Cause
}

// Sentinel error codes. Use errors.Is against these, not pointer identity,
// since every call site constructs its own instance with context-specific
// messages.
var (
	ErrJobClaimed = &QueueError{
		Code:    "JOB_CLAIMED",
		Message: "job is already claimed",
	}
	ErrJobAlreadyExists = &QueueError{
		Code:    "JOB_ALREADY_EXISTS",
		Message: "job with this type and remote_id already exists",
	}
	ErrJobNotFound = &QueueError{
		Code:    "JOB_NOT_FOUND",
		Message: "job row does not exist",
	}
	ErrStoreUnavailable = &QueueError{
		Code:    "STORE_UNAVAILABLE",
		Message: "store is unavailable after exhausting reconnect attempts",
	}
)

func (e *QueueError) Is(target error) bool {
	other, ok := target.(*QueueError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// WrapJobClaimed reports a lost claim race on the given job id.
func WrapJobClaimed(jobID string) error {
	return &QueueError{Code: ErrJobClaimed.Code, Message: fmt.Sprintf("job %s is already claimed", jobID)}
}

// WrapJobNotFound reports that a job row disappeared out from under the caller.
func WrapJobNotFound(jobID string, cause error) error {
	return &QueueError{Code: ErrJobNotFound.Code, Message: fmt.Sprintf("job %s not found", jobID), Cause: cause}
}

// WrapStoreUnavailable reports that reconnect attempts were exhausted.
func WrapStoreUnavailable(op string, cause error) error {
	return &QueueError{Code: ErrStoreUnavailable.Code, Message: fmt.Sprintf("store operation failed: %s", op), Cause: cause}
}

// wrapStore converts an exhausted-retries store failure into the
// STORE_UNAVAILABLE taxonomy; any other error passes through unchanged.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, storex.ErrUnavailable) {
		return WrapStoreUnavailable(op, err)
	}
	return err
}

// IsJobClaimed reports whether err is (or wraps) a lost claim race.
func IsJobClaimed(err error) bool {
	return errors.Is(err, ErrJobClaimed)
}

// IsJobNotFound reports whether err is (or wraps) a vanished-row error.
func IsJobNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
