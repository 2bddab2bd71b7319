package valetudo

import (
	"errors"
	"fmt"
)

// ErrorKind tells which stage of an exchange failed.
type ErrorKind int

const (
	// KindConnection means the HTTP exchange never completed.
	KindConnection ErrorKind = iota + 1
	// KindRequest means the robot answered with a status other than 200.
	KindRequest
	// KindParse means the response body was not the expected JSON.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindRequest:
		return "request"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is matching on the kind of an *Error.
var (
	ErrConnection = errors.New("valetudo connection error")
	ErrRequest    = errors.New("valetudo request error")
	ErrParse      = errors.New("valetudo parse error")
)

// ErrMissingField is wrapped by a parse error when a response lacks a field
// the operation extracts.
var ErrMissingField = errors.New("missing field")

// Error is returned by every Client operation that fails.
type Error struct {
	Kind       ErrorKind
	Endpoint   Endpoint
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRequest:
		if e.StatusCode >= 500 {
			return fmt.Sprintf("valetudo internal error, you may re-try (%d)", e.StatusCode)
		}
		return fmt.Sprintf("valetudo request failed (%d)", e.StatusCode)
	case KindConnection:
		return fmt.Sprintf("valetudo connection error: %v", e.Err)
	case KindParse:
		return fmt.Sprintf("valetudo parse error: %v", e.Err)
	default:
		return fmt.Sprintf("valetudo error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConnection:
		return e.Kind == KindConnection
	case ErrRequest:
		return e.Kind == KindRequest
	case ErrParse:
		return e.Kind == KindParse
	}
	return false
}

// Retryable hints whether repeating the call may succeed. The client itself
// never retries.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindConnection:
		return true
	case KindRequest:
		return e.StatusCode >= 500
	default:
		return false
	}
}

// StatusCode returns the HTTP status carried by a request error anywhere in
// err's chain.
func StatusCode(err error) (int, bool) {
	var verr *Error
	if errors.As(err, &verr) && verr.Kind == KindRequest {
		return verr.StatusCode, true
	}
	return 0, false
}

// IsRetryable reports whether err is a *Error with a retry hint.
func IsRetryable(err error) bool {
	var verr *Error
	if errors.As(err, &verr) {
		return verr.Retryable()
	}
	return false
}

func connectionError(endpoint Endpoint, err error) *Error {
	return &Error{Kind: KindConnection, Endpoint: endpoint, Err: err}
}

func requestError(endpoint Endpoint, statusCode int) *Error {
	return &Error{Kind: KindRequest, Endpoint: endpoint, StatusCode: statusCode}
}

func parseError(endpoint Endpoint, err error) *Error {
	return &Error{Kind: KindParse, Endpoint: endpoint, Err: err}
}
