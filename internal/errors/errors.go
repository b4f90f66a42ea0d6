// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInvalidInstrument      = errors.New("invalid instrument")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidOrderPrice      = errors.New("invalid order price")
	ErrInvalidSide            = errors.New("invalid order side")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrInsufficientHoldings   = errors.New("insufficient holdings")
	ErrOrderNotFound          = errors.New("order not found")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidRange           = errors.New("invalid range")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
	ErrExternalService        = errors.New("external service failure")
	ErrDataNotFound           = errors.New("data not found")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrTimeout                = errors.New("operation timed out")
)

// ValidationError represents a rejected user input. It unwraps to one of the
// sentinel errors so callers can branch with errors.Is.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
		Err:     err,
	}
}

// OrderError represents an error related to order operations.
type OrderError struct {
	OrderID    string
	Instrument string
	Action     string
	Reason     string
	Err        error
}

func (e *OrderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order error [%s] %s %s: %s: %v", e.OrderID, e.Action, e.Instrument, e.Reason, e.Err)
	}
	return fmt.Sprintf("order error [%s] %s %s: %s", e.OrderID, e.Action, e.Instrument, e.Reason)
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError creates a new OrderError.
func NewOrderError(orderID, instrument, action, reason string, err error) *OrderError {
	return &OrderError{
		OrderID:    orderID,
		Instrument: instrument,
		Action:     action,
		Reason:     reason,
		Err:        err,
	}
}

// DataError represents a persistence failure.
type DataError struct {
	DataType   string
	Instrument string
	Message    string
	Err        error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Instrument, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Instrument, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// Is makes every DataError match ErrPersistenceUnavailable.
func (e *DataError) Is(target error) bool {
	return target == ErrPersistenceUnavailable
}

// NewDataError creates a new DataError.
func NewDataError(dataType, instrument, message string, err error) *DataError {
	return &DataError{
		DataType:   dataType,
		Instrument: instrument,
		Message:    message,
		Err:        err,
	}
}

// ExternalError represents a failed call to text generation or message delivery.
type ExternalError struct {
	Service   string
	Operation string
	Err       error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("external error [%s] %s: %v", e.Service, e.Operation, e.Err)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}

// Is makes every ExternalError match ErrExternalService.
func (e *ExternalError) Is(target error) bool {
	return target == ErrExternalService
}

// NewExternalError creates a new ExternalError.
func NewExternalError(service, operation string, err error) *ExternalError {
	return &ExternalError{
		Service:   service,
		Operation: operation,
		Err:       err,
	}
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

// WithTimeout marks err as ErrTimeout when it came from an expired deadline.
// Other errors are returned unchanged.
func WithTimeout(err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrTimeout, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// New returns an error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Join returns an error wrapping every non-nil err, or nil if there are none.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsUserError reports whether err is a rejection caused by caller input or
// account state rather than an infrastructure failure.
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrInvalidInstrument,
		ErrInvalidAmount,
		ErrInvalidOrderPrice,
		ErrInvalidSide,
		ErrInsufficientFunds,
		ErrInsufficientHoldings,
		ErrOrderNotFound,
		ErrPermissionDenied,
		ErrInvalidRange,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
