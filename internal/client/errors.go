package client

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidRequest   = errors.New("invalid request")
)

// ErrorKind classifies every failure surfaced by the client.
type ErrorKind string

const (
	// KindNetworkFailure: no response (dial error, timeout, cancelled context).
	KindNetworkFailure ErrorKind = "network_failure"
	// KindUpstreamError: non-2xx status or an API-reported error body.
	KindUpstreamError ErrorKind = "upstream_error"
	// KindMalformedResponse: body could not be decoded into the expected shape.
	KindMalformedResponse ErrorKind = "malformed_response"
	// KindValidationError: the request was rejected before it was sent.
	KindValidationError ErrorKind = "validation_error"
)

// Error is the single error type returned by WeatherAPIClient operations.
// Message is human readable and safe to show to a user.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int // HTTP status, 0 when no response was received
	Code    int // WeatherAPI error code from the body, 0 when absent
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or "" when err is not a client error.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// UserMessage returns the message to display for err. Client errors carry their
// own message; anything else gets fallback.
func UserMessage(err error, fallback string) string {
	var ce *Error
	if errors.As(err, &ce) && ce.Message != "" {
		return ce.Message
	}
	return fallback
}

func networkError(op string, err error) *Error {
	return &Error{Kind: KindNetworkFailure, Op: op, Message: "could not reach the weather service", Err: err}
}

func malformedError(op string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Op: op, Message: "unexpected response from the weather service", Err: err}
}

func validationError(op, message string) *Error {
	return &Error{Kind: KindValidationError, Op: op, Message: message, Err: ErrInvalidRequest}
}
