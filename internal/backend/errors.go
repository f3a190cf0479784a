package backend

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/go-faster/errors"
)

// StatusError is returned for non-2xx backend responses.
type StatusError struct {
	Op     string
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.Op, e.Status, http.StatusText(e.Status))
}

// TransientError marks failures that may succeed when repeated: transport
// errors, timeouts and 5xx or 429 responses.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func classifyStatus(op string, status int) error {
	err := &StatusError{Op: op, Status: status}
	if status >= 500 || status == http.StatusTooManyRequests {
		return &TransientError{Err: err}
	}
	return err
}
