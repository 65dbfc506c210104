package proxy

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds; every error returned by Forward matches exactly one via errors.Is.
var (
	// ErrNotFound means the service name has no record.
	ErrNotFound = errors.New("service not found")

	// ErrUnavailable means the service exists but is not healthy.
	ErrUnavailable = errors.New("service unavailable")

	// ErrBadGateway means the outbound call failed or timed out.
	ErrBadGateway = errors.New("bad gateway")

	// ErrInternal means the inbound request could not be translated.
	ErrInternal = errors.New("internal proxy error")

	// ErrInvalidTarget means base URL and sub-path do not form an absolute URL.
	ErrInvalidTarget = errors.New("invalid target URL")
)

// Error is the failure type of Forward. Code is the HTTP status the caller
// should answer with.
type Error struct {
	Kind    error
	Code    int
	Service string
	Target  string
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("proxy %s: %s", e.Service, e.Kind)
	if e.Target != "" {
		msg += " target=" + e.Target
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// PublicMessage is the text safe to return to the client. Internal failures
// stay generic; gateway failures carry the transport error for diagnostics.
func (e *Error) PublicMessage() string {
	switch {
	case errors.Is(e.Kind, ErrNotFound):
		return fmt.Sprintf("Service '%s' not found", e.Service)
	case errors.Is(e.Kind, ErrUnavailable):
		return fmt.Sprintf("Service '%s' is unhealthy", e.Service)
	case errors.Is(e.Kind, ErrBadGateway):
		if e.Cause != nil {
			return "Bad Gateway: " + e.Cause.Error()
		}
		return "Bad Gateway"
	default:
		return "Internal Server Error"
	}
}

// Outcome is a short label for metrics and logs.
func (e *Error) Outcome() string {
	switch {
	case errors.Is(e.Kind, ErrNotFound):
		return "not_found"
	case errors.Is(e.Kind, ErrUnavailable):
		return "unavailable"
	case errors.Is(e.Kind, ErrBadGateway):
		return "bad_gateway"
	default:
		return "internal"
	}
}

// StatusCode maps any error to the HTTP status a caller should use.
func StatusCode(err error) int {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code
	}
	return http.StatusInternalServerError
}

func notFound(service string) *Error {
	return &Error{Kind: ErrNotFound, Code: http.StatusNotFound, Service: service}
}

func unavailable(service string) *Error {
	return &Error{Kind: ErrUnavailable, Code: http.StatusServiceUnavailable, Service: service}
}

func badGateway(service, target string, cause error) *Error {
	return &Error{Kind: ErrBadGateway, Code: http.StatusBadGateway, Service: service, Target: target, Cause: cause}
}

func internal(service string, cause error) *Error {
	return &Error{Kind: ErrInternal, Code: http.StatusInternalServerError, Service: service, Cause: cause}
}
