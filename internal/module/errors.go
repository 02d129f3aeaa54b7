package module

import (
	"context"
	"errors"
	"fmt"
)

var ErrDuplicateModule = errors.New("module already registered")

// RequestError is a failed request against a module's source.
type RequestError struct {
	URL     string
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request error from %s: %s", e.URL, e.Message)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// URLParseError is returned when a url produced or received by a module is malformed.
type URLParseError struct {
	Input string
	Err   error
}

func (e *URLParseError) Error() string {
	return fmt.Sprintf("error parsing %s: %v", e.Input, e.Err)
}

func (e *URLParseError) Unwrap() error {
	return e.Err
}

// UnsupportedURLError means no registered module serves the url.
type UnsupportedURLError struct {
	URL string
}

func (e *UnsupportedURLError) Error() string {
	return fmt.Sprintf("%q are not supported", e.URL)
}

// ExternalError wraps an opaque failure from a module implementation.
type ExternalError struct {
	Err error
}

func (e *ExternalError) Error() string {
	if e.Err == nil {
		return "external error"
	}

	return e.Err.Error()
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must stop retrying right away.
func IsFatal(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}

	var unsupported *UnsupportedURLError

	return errors.As(err, &unsupported)
}
