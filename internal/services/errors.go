package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrAborted       = errors.New("request aborted")
	ErrConnection    = errors.New("connection failed")
	ErrRejected      = errors.New("server rejected request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTransient     = errors.New("transient failure")
)

// Kind classifies a failure at the transport boundary so callers can decide
// between retrying and failing without inspecting error text.
type Kind string

const (
	KindTimeout          Kind = "timeout"
	KindAborted          Kind = "aborted"
	KindConnectionFailed Kind = "connection_failed"
	KindServerRejected   Kind = "server_rejected"
	KindNotFound         Kind = "not_found"
	KindUnauthorized     Kind = "unauthorized"
	KindValidation       Kind = "validation"
	KindUnknown          Kind = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error chain to its transport classification.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrAborted):
		return KindAborted
	case errors.Is(err, ErrConnection):
		return KindConnectionFailed
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrRejected):
		return KindServerRejected
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether the failure may still let the backend finish the
// work, so the result can be fetched later instead of failing immediately.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindAborted, KindConnectionFailed:
		return true
	default:
		return false
	}
}

// IsNotFound reports whether err carries the not-found marker.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
