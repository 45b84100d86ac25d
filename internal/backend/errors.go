package backend

import (
	"fmt"
	"net/http"
)

// NetworkError reports a transport-level failure: the request never produced
// an HTTP response.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("backend: %s %s: network error: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError reports a response that was received but is not the shape
// the client expects: non-2xx status, malformed JSON, or a missing field.
type ProtocolError struct {
	Op         string
	StatusCode int
	Detail     string
	Err        error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("backend: %s: protocol error", e.Op)
	if e.StatusCode != 0 && e.StatusCode != http.StatusOK {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
