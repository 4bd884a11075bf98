package model

import (
	"errors"
	"fmt"
)

// ValidationError reports a domain value whose field failed its constraint.
// Recovered locally at construction; never propagates past the boundary that
// built the value.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// ParseError reports a malformed provider frame (bad JSON, missing required
// fields). The frame is logged and dropped; the stream continues.
type ParseError struct {
	Provider string
	Msg      string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: parse: %s: %v", e.Provider, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: parse: %s", e.Provider, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ProviderAuthError reports rejected credentials. Non-retryable: retrying
// with the same token cannot succeed.
type ProviderAuthError struct {
	Provider string
	Msg      string
}

func (e *ProviderAuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Msg)
}

// ProviderConnectError reports a transport-level connection failure.
// Retryable: the operator may try again.
type ProviderConnectError struct {
	Provider string
	URL      string
	Err      error
}

func (e *ProviderConnectError) Error() string {
	return fmt.Sprintf("%s: connect %s: %v", e.Provider, e.URL, e.Err)
}

func (e *ProviderConnectError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a connection failure worth retrying.
// Authentication failures are never retryable.
func IsRetryable(err error) bool {
	var ce *ProviderConnectError
	return errors.As(err, &ce)
}
