package registry

import (
	"errors"
	"net/http"
	"strconv"
)

// ErrCycleFailed wraps a panic raised while dispatching a health check cycle.
var ErrCycleFailed = errors.New("health check cycle failed")

// StatusError is recorded when a health endpoint answers with anything but 200.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	text := http.StatusText(e.StatusCode)
	if text == "" {
		return "health check returned status " + strconv.Itoa(e.StatusCode)
	}
	return "health check returned status " + strconv.Itoa(e.StatusCode) + " " + text
}
