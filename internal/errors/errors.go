// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ConfigurationError aborts a campaign run before any dispatch.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid campaign configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError.
func NewConfigurationError(field, reason string) error {
	return &ConfigurationError{Field: field, Reason: reason}
}

// TransportErrorKind classifies a failed send.
type TransportErrorKind string

const (
	KindTransient   TransportErrorKind = "transient"
	KindPermanent   TransportErrorKind = "permanent"
	KindRateLimited TransportErrorKind = "rate_limited"
)

// Retryable reports whether a failure of this kind drives the retry transition.
func (k TransportErrorKind) Retryable() bool {
	return k != KindPermanent
}

// TransportError is returned by a transport when a send fails.
type TransportError struct {
	Kind TransportErrorKind
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s transport error", e.Kind)
	}
	return fmt.Sprintf("%s transport error: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable failure (timeouts, 5xx, dropped connections).
func Transient(err error) error {
	return &TransportError{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a failure that must not be retried (invalid recipient, hard reject).
func Permanent(err error) error {
	return &TransportError{Kind: KindPermanent, Err: err}
}

// RateLimited wraps err as a retryable failure caused by the provider throttling us.
func RateLimited(err error) error {
	return &TransportError{Kind: KindRateLimited, Err: err}
}

// KindOf classifies any error returned by a transport. Unclassified errors,
// including deadline expiry, are treated as transient.
func KindOf(err error) TransportErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}

// PersistenceError reports a failed checkpoint write or an unreadable snapshot.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("progress %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError builds a PersistenceError for op ("save" or "load").
func NewPersistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// ErrSecondaryChannel marks a webhook delivery failure. It is logged, never returned to alert callers.
var ErrSecondaryChannel = errors.New("secondary alert channel failed")

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
