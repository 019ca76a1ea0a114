package ledger

import (
	"context"
	"fmt"
	"time"
)

// RefundInput describes money returned on a failed or cancelled booking.
// A zero Date defaults to the service clock.
type RefundInput struct {
	Amount          Amount
	Date            time.Time
	Method          PaymentMethod
	AccountUsername Username
}

func (input RefundInput) validate() error {
	if input.AccountUsername.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUsername)
	}
	if input.Amount.Decimal().IsNegative() {
		return fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	if _, err := ParsePaymentMethod(input.Method.String()); err != nil {
		return err
	}
	return nil
}

// SetRefund attaches or replaces the booking's refund. A wallet refund
// credits the account; replacing one reverses the earlier credit first.
func (service *Service) SetRefund(ctx context.Context, bookingID BookingID, input RefundInput) (Booking, error) {
	var updated Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := input.validate(); err != nil {
			return WrapError(errorOperationService, errorSubjectRefund, errorCodeInvalidInput, err)
		}
		booking, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !booking.Status.AllowsRefund() {
			return fmt.Errorf("%w: %s", ErrRefundNotAllowed, booking.Status)
		}
		if _, err := transactionStore.GetAccountByUsername(ctx, input.AccountUsername); err != nil {
			return err
		}
		if booking.Refund != nil {
			if err := service.reverseRefund(ctx, transactionStore, *booking.Refund); err != nil {
				return err
			}
		}
		if input.Method.UsesWallet() {
			if _, err := service.applyDelta(ctx, transactionStore, input.AccountUsername, input.Amount.Decimal()); err != nil {
				return err
			}
		}
		refundDate := input.Date
		if refundDate.IsZero() {
			refundDate = service.now()
		}
		patch := BookingPatch{
			Refund: Set(RefundRecord{
				Amount:          input.Amount,
				Date:            NormalizeDate(refundDate),
				Method:          input.Method,
				AccountUsername: input.AccountUsername,
			}),
			UpdatedAt: service.now(),
		}
		if err := transactionStore.UpdateBooking(ctx, bookingID, patch); err != nil {
			return err
		}
		updated = patch.ApplyToBooking(booking)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSetRefund,
		Username:  input.AccountUsername,
		BookingID: bookingID,
		Amount:    input.Amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return updated, nil
}

// ClearRefund removes the booking's refund and reverses a wallet credit.
// Clearing a booking without a refund is a no-op.
func (service *Service) ClearRefund(ctx context.Context, bookingID BookingID) (Booking, error) {
	var (
		updated Booking
		cleared RefundRecord
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if booking.Refund == nil {
			updated = booking
			return nil
		}
		cleared = *booking.Refund
		if err := service.reverseRefund(ctx, transactionStore, cleared); err != nil {
			return err
		}
		patch := BookingPatch{Refund: Clear[RefundRecord](), UpdatedAt: service.now()}
		if err := transactionStore.UpdateBooking(ctx, bookingID, patch); err != nil {
			return err
		}
		updated = patch.ApplyToBooking(booking)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationClearRefund,
		Username:  cleared.AccountUsername,
		BookingID: bookingID,
		Amount:    cleared.Amount.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return updated, nil
}

// reverseRefund takes back a wallet refund credit. It is not balance checked.
func (service *Service) reverseRefund(ctx context.Context, transactionStore Store, refund RefundRecord) error {
	if !refund.Method.UsesWallet() {
		return nil
	}
	_, err := service.applyDelta(ctx, transactionStore, refund.AccountUsername, refund.Amount.Negated())
	return err
}
