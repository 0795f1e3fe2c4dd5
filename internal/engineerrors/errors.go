// Package engineerrors defines the typed error kinds raised by the memory
// engine and a small set of helpers for deciding how callers should react
// to them.
package engineerrors

import (
	"errors"
	"fmt"
)

// ConfigError reports missing credentials or an invalid configuration value
// discovered at startup or on snapshot load (e.g. a mismatched embedding
// dimension).
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Message)
}

// NewConfigError builds a ConfigError for the named field.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// TransportError wraps a network or API failure from an embedder, extraction
// LLM, or reranker LLM collaborator. Attempts records how many tries were
// made before giving up.
type TransportError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps err as a TransportError.
func NewTransportError(provider string, attempts int, err error) *TransportError {
	return &TransportError{Provider: provider, Attempts: attempts, Err: err}
}

// ParseError reports malformed LLM output. Parsing is always tolerant, so a
// ParseError is informational only: it is never returned from the parser
// itself, but callers that want to log a degraded result can construct one.
type ParseError struct {
	Source  string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Source, e.Message)
}

// NotFoundError signals an empty result for a container with no ingests.
// Search code should prefer returning an empty slice over this error; it
// exists for persistence backends where "no rows" and "no container" need
// to be told apart from an actual I/O failure.
type NotFoundError struct {
	ContainerTag string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no data for container %q", e.ContainerTag)
}

// LockError reports a failure acquiring or releasing a per-container lock.
// Per the concurrency contract this should never escape to a caller; it is
// defined so internal code has a typed value to log before recovering.
type LockError struct {
	ContainerTag string
	Message      string
}

func (e *LockError) Error() string {
	return fmt.Sprintf("lock error on container %q: %s", e.ContainerTag, e.Message)
}

// IsRetryable reports whether err is (or wraps) a TransportError, the only
// kind the retry loops in this module act on.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}
