// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotConnected     = errors.New("account not connected")
	ErrAccountNotFound  = errors.New("account not found")
	ErrOrderNotFound    = errors.New("order not found")
	ErrDuplicateAccount = errors.New("account already exists for this broker")
	ErrUnknownBroker    = errors.New("unknown broker type")
	ErrTerminalState    = errors.New("order is in a terminal state")
)

// CredentialError indicates the vault cannot produce usable credentials.
// It is never retried.
type CredentialError struct {
	AccountID string
	Reason    string
	Err       error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential error [%s]: %s: %v", e.AccountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("credential error [%s]: %s", e.AccountID, e.Reason)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// NewCredentialError creates a new CredentialError.
func NewCredentialError(accountID, reason string, err error) *CredentialError {
	return &CredentialError{AccountID: accountID, Reason: reason, Err: err}
}

// BrokerAPIError wraps any vendor-side failure: auth rejected, timeout,
// malformed response, rate limit. Vendor-specific error types never
// escape the adapter boundary except through this one kind.
type BrokerAPIError struct {
	Broker  string
	Op      string
	Message string // vendor error text, preserved for the caller
	Err     error
}

func (e *BrokerAPIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker error [%s] %s: %s: %v", e.Broker, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("broker error [%s] %s: %s", e.Broker, e.Op, e.Message)
}

func (e *BrokerAPIError) Unwrap() error {
	return e.Err
}

// NewBrokerAPIError creates a new BrokerAPIError.
func NewBrokerAPIError(broker, op, message string, err error) *BrokerAPIError {
	return &BrokerAPIError{Broker: broker, Op: op, Message: message, Err: err}
}

// ValidationError indicates a caller-supplied request failed local
// constraints before any network call. It is never retried.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// ReconciliationError indicates a local persistence invariant would be
// violated while merging broker-reported state.
type ReconciliationError struct {
	Entity  string
	Key     string
	Message string
	Err     error
}

func (e *ReconciliationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("reconciliation error [%s] %s: %s: %v", e.Entity, e.Key, e.Message, e.Err)
	}
	return fmt.Sprintf("reconciliation error [%s] %s: %s", e.Entity, e.Key, e.Message)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// NewReconciliationError creates a new ReconciliationError.
func NewReconciliationError(entity, key, message string, err error) *ReconciliationError {
	return &ReconciliationError{Entity: entity, Key: key, Message: message, Err: err}
}

// IsBrokerAPIError reports whether err wraps a BrokerAPIError.
func IsBrokerAPIError(err error) bool {
	var be *BrokerAPIError
	return errors.As(err, &be)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
