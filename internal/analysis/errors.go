package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"crease/internal/services"
)

// ErrJobFailed marks an asynchronous job the backend reported as failed.
var ErrJobFailed = errors.New("analysis job failed")

// RequestError describes a failed backend call. It unwraps to the services
// sentinel matching Kind, so services.KindOf and errors.Is classify it.
type RequestError struct {
	Method     string
	Path       string
	Kind       services.Kind
	StatusCode int
	Message    string
	Err        error
}

func (e *RequestError) Error() string {
	var b strings.Builder
	b.WriteString("analysis ")
	b.WriteString(e.Method)
	b.WriteByte(' ')
	b.WriteString(e.Path)
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " returned %d", e.StatusCode)
	}
	b.WriteString(" (")
	b.WriteString(string(e.Kind))
	b.WriteByte(')')
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the classification sentinel and the underlying cause.
func (e *RequestError) Unwrap() []error {
	out := make([]error, 0, 2)
	if marker := kindMarker(e.Kind); marker != nil {
		out = append(out, marker)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func kindMarker(kind services.Kind) error {
	switch kind {
	case services.KindTimeout:
		return services.ErrTimeout
	case services.KindAborted:
		return services.ErrAborted
	case services.KindConnectionFailed:
		return services.ErrConnection
	case services.KindServerRejected:
		return services.ErrRejected
	case services.KindNotFound:
		return services.ErrNotFound
	case services.KindUnauthorized:
		return services.ErrUnauthorized
	case services.KindValidation:
		return services.ErrValidation
	default:
		return nil
	}
}

// classifyTransport maps an error returned by HTTPDoer.Do to a Kind.
func classifyTransport(err error) services.Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return services.KindTimeout
	case errors.Is(err, context.Canceled):
		return services.KindAborted
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.KindTimeout
	}
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.EOF):
		return services.KindConnectionFailed
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return services.KindConnectionFailed
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return services.KindConnectionFailed
	}
	return services.KindUnknown
}

// classifyStatus maps an HTTP error status to a Kind.
func classifyStatus(code int) services.Kind {
	switch code {
	case http.StatusUnauthorized:
		return services.KindUnauthorized
	case http.StatusNotFound:
		return services.KindNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return services.KindTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable:
		return services.KindConnectionFailed
	default:
		return services.KindServerRejected
	}
}

func transportError(method, path string, err error) *RequestError {
	return &RequestError{Method: method, Path: path, Kind: classifyTransport(err), Err: err}
}

func statusError(method, path string, resp *http.Response) *RequestError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &RequestError{
		Method:     method,
		Path:       path,
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    errorMessage(body),
	}
}

// errorMessage extracts {"error": ...} or {"message": ...} from a response body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
