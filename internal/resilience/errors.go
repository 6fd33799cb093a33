package resilience

import (
	"errors"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (e.g. a stale CVMFS
// catalog or an interrupted read).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// transientErrnos are the errno values a FUSE or network filesystem returns
// while a file is being fetched or a mount is reloading.
var transientErrnos = []syscall.Errno{
	syscall.EIO,
	syscall.EAGAIN,
	syscall.EINTR,
	syscall.ESTALE,
	syscall.ETIMEDOUT,
	syscall.ENOTCONN,
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError or a filesystem errno that usually clears on retry. Missing
// files and permission errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	// Messages from errors that were flattened to strings along the way.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"input/output error",
		"stale file handle",
		"transport endpoint is not connected",
		"resource temporarily unavailable",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
