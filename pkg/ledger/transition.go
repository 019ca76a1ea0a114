package ledger

import (
	"context"
	"fmt"
	"strings"
)

// TransitionRequest moves a booking to a new status.
// Payment is written in the same transaction when the target needs a record.
// ClearRefund must be set to revert a refunded booking to Requested.
type TransitionRequest struct {
	BookingID   BookingID
	To          Status
	Reason      string
	Handler     string
	Payment     *RecordInput
	ClearRefund bool
}

// TransitionStatus validates and applies a status change with its side effects.
func (service *Service) TransitionStatus(ctx context.Context, request TransitionRequest) (Booking, error) {
	var updated Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		updated, err = service.transition(ctx, transactionStore, request)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTransition,
		BookingID: request.BookingID,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return updated, nil
}

func (service *Service) transition(ctx context.Context, transactionStore Store, request TransitionRequest) (Booking, error) {
	if _, err := ParseStatus(request.To.String()); err != nil {
		return Booking{}, err
	}
	booking, err := transactionStore.GetBooking(ctx, request.BookingID)
	if err != nil {
		return Booking{}, err
	}
	if !CanTransition(booking.Status, request.To) {
		return Booking{}, &InvalidTransitionError{From: booking.Status, To: request.To}
	}

	reason := strings.TrimSpace(request.Reason)
	handler := strings.TrimSpace(request.Handler)
	if len(reason) > maxStatusReasonLength {
		return Booking{}, fmt.Errorf("%w: reason exceeds %d characters", ErrValidation, maxStatusReasonLength)
	}

	patch := BookingPatch{
		Status:    Set(request.To),
		UpdatedAt: service.now(),
	}
	switch {
	case request.To.RequiresPayment():
		if request.Payment != nil {
			payment := *request.Payment
			payment.BookingID = booking.ID
			if _, err := service.upsertRecord(ctx, transactionStore, payment); err != nil {
				return Booking{}, err
			}
		} else {
			_, found, err := transactionStore.FindRecordByBooking(ctx, booking.ID)
			if err != nil {
				return Booking{}, err
			}
			if !found {
				return Booking{}, fmt.Errorf("%w: %s", ErrPaymentRequired, request.To)
			}
		}
		// Booked carries no reason; a paid failure may explain itself.
		if request.To == StatusBookingFailedPaid && reason != "" {
			patch.StatusReason = Set(reason)
			patch.StatusHandler = optionalText(handler)
		} else {
			patch.StatusReason = Clear[string]()
			patch.StatusHandler = Clear[string]()
		}
	case request.To.RequiresReason():
		if reason == "" {
			return Booking{}, fmt.Errorf("%w: %s", ErrStatusReasonRequired, request.To)
		}
		patch.StatusReason = Set(reason)
		patch.StatusHandler = optionalText(handler)
	case request.To == StatusRequested:
		if booking.Refund != nil {
			if !request.ClearRefund {
				return Booking{}, ErrRefundOutstanding
			}
			if err := service.reverseRefund(ctx, transactionStore, *booking.Refund); err != nil {
				return Booking{}, err
			}
			patch.Refund = Clear[RefundRecord]()
		}
		record, found, err := transactionStore.FindRecordByBooking(ctx, booking.ID)
		if err != nil {
			return Booking{}, err
		}
		if found {
			if err := service.deleteRecord(ctx, transactionStore, record); err != nil {
				return Booking{}, err
			}
		}
		patch.StatusReason = Clear[string]()
		patch.StatusHandler = Clear[string]()
	}

	if err := transactionStore.UpdateBooking(ctx, booking.ID, patch); err != nil {
		return Booking{}, err
	}
	return patch.ApplyToBooking(booking), nil
}

func optionalText(value string) Field[string] {
	if value == "" {
		return Clear[string]()
	}
	return Set(value)
}
