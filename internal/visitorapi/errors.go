package visitorapi

import (
	"errors"
	"fmt"
)

// ErrTransient marks failures where no HTTP response was received
// (connection refused, timeout, DNS). There is no indication the server
// processed the request, so the submission is safe to queue and retry.
var ErrTransient = errors.New("transient network failure")

// RejectionError is an explicit non-2xx response from the server. Rejections
// are reported to the caller and never queued.
type RejectionError struct {
	StatusCode int
	Body       string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("server rejected request: status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is a transient network-class failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsRejection reports whether err is a server rejection, returning the
// rejection details when it is.
func IsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
