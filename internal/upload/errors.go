package upload

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCancelled settles an outcome whose attempt was cancelled or replaced.
	ErrCancelled = errors.New("upload cancelled")
	// ErrUploadTimeout settles an outcome whose attempt outlived MaxDuration.
	ErrUploadTimeout = errors.New("upload timeout exceeded")
	// ErrNoUpload is returned when there is no attempt to wait for or cancel.
	ErrNoUpload = errors.New("no upload in progress")
	// ErrUploadFailed marks failures restored from a persisted record.
	ErrUploadFailed = errors.New("upload failed")
	// ErrClosed is returned once the coordinator has been closed.
	ErrClosed = errors.New("upload coordinator closed")
)

// persistedError rebuilds an outcome error from a stored failure message.
func persistedError(message string) error {
	message = strings.TrimSpace(message)
	switch message {
	case "":
		return ErrUploadFailed
	case ErrUploadTimeout.Error():
		return ErrUploadTimeout
	default:
		return fmt.Errorf("%w: %s", ErrUploadFailed, message)
	}
}
