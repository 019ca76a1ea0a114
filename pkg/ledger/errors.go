package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Error categories. Every domain error wraps exactly one of them.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrPartialFailure      = errors.New("partial failure")
)

// Domain-level error values returned by the service and the store adapters.
var (
	ErrInvalidAccountID       = fmt.Errorf("%w: invalid account id", ErrValidation)
	ErrInvalidUsername        = fmt.Errorf("%w: invalid username", ErrValidation)
	ErrInvalidPassword        = fmt.Errorf("%w: invalid password", ErrValidation)
	ErrInvalidBookingID       = fmt.Errorf("%w: invalid booking id", ErrValidation)
	ErrInvalidRecordID        = fmt.Errorf("%w: invalid record id", ErrValidation)
	ErrInvalidGroupID         = fmt.Errorf("%w: invalid group id", ErrValidation)
	ErrInvalidAmount          = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidPaymentMethod   = fmt.Errorf("%w: invalid payment method", ErrValidation)
	ErrInvalidStatus          = fmt.Errorf("%w: invalid status", ErrValidation)
	ErrInvalidRoute           = fmt.Errorf("%w: invalid route", ErrValidation)
	ErrInvalidDates           = fmt.Errorf("%w: invalid dates", ErrValidation)
	ErrInvalidPassengers      = fmt.Errorf("%w: invalid passengers", ErrValidation)
	ErrInvalidBookingType     = fmt.Errorf("%w: invalid booking type", ErrValidation)
	ErrInvalidBookedBy        = fmt.Errorf("%w: invalid booked by", ErrValidation)
	ErrInvalidGroupMembers    = fmt.Errorf("%w: invalid group members", ErrValidation)
	ErrStatusReasonRequired   = fmt.Errorf("%w: status reason required", ErrValidation)
	ErrPaymentRequired        = fmt.Errorf("%w: payment record required", ErrValidation)
	ErrInvalidServiceConfig   = fmt.Errorf("%w: invalid service config", ErrValidation)
	ErrAccountNotFound        = fmt.Errorf("account %w", ErrNotFound)
	ErrBookingNotFound        = fmt.Errorf("booking %w", ErrNotFound)
	ErrRecordNotFound         = fmt.Errorf("booking record %w", ErrNotFound)
	ErrGroupNotFound          = fmt.Errorf("group %w", ErrNotFound)
	ErrDuplicateUsername      = fmt.Errorf("%w: username already exists", ErrConflict)
	ErrDuplicateRecord        = fmt.Errorf("%w: booking already has a record", ErrConflict)
	ErrBookingAlreadyGrouped  = fmt.Errorf("%w: booking already belongs to a group", ErrConflict)
	ErrRefundNotAllowed       = fmt.Errorf("%w: refund not allowed in current status", ErrConflict)
	ErrRefundOutstanding      = fmt.Errorf("%w: booking still carries a refund", ErrConflict)
	ErrBookingNotInGroup      = fmt.Errorf("%w: booking is not a member of the group", ErrConflict)
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// InsufficientBalanceError reports a wallet debit the account cannot cover.
// Available is measured after any reversal of the record being edited.
type InsufficientBalanceError struct {
	Username  Username
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (insufficient *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, required %s",
		insufficient.Username.String(),
		insufficient.Available.StringFixed(amountScale),
		insufficient.Required.StringFixed(amountScale))
}

func (insufficient *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// InvalidTransitionError reports a status change outside the allow-list.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (invalid *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", invalid.From, invalid.To)
}

func (invalid *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// PartialFailureError reports a group operation that stopped midway.
// Succeeded members keep their records; nothing is rolled back.
type PartialFailureError struct {
	Succeeded []BookingID
	Failed    BookingID
	Skipped   []BookingID
	Err       error
}

func (partial *PartialFailureError) Error() string {
	return fmt.Sprintf("partial failure: %d succeeded [%s], failed %s: %v, %d skipped [%s]",
		len(partial.Succeeded), joinBookingIDs(partial.Succeeded),
		partial.Failed.String(), partial.Err,
		len(partial.Skipped), joinBookingIDs(partial.Skipped))
}

// Unwrap exposes both the category and the member failure to errors.Is.
func (partial *PartialFailureError) Unwrap() []error {
	return []error{ErrPartialFailure, partial.Err}
}

// IsValidation reports whether err stems from malformed input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether err indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err indicates a uniqueness or state conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func joinBookingIDs(bookingIDs []BookingID) string {
	values := make([]string, 0, len(bookingIDs))
	for _, bookingID := range bookingIDs {
		values = append(values, bookingID.String())
	}
	return strings.Join(values, ",")
}
