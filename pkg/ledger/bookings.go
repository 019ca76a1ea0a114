package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const maxPassengerAge = 125

// BookingInput is the intake form of a new booking request.
type BookingInput struct {
	Source          string
	Destination     string
	JourneyDate     time.Time
	BookingDueDate  time.Time
	Passengers      []Passenger
	BookingType     string
	TrainPreference string
	Remarks         string
}

// BookingDetailsPatch edits intake fields. Lifecycle fields are owned by the
// transition engine, groups and refunds.
type BookingDetailsPatch struct {
	Source          Field[string]
	Destination     Field[string]
	JourneyDate     Field[time.Time]
	BookingDueDate  Field[time.Time]
	Passengers      Field[[]Passenger]
	BookingType     Field[string]
	TrainPreference Field[string]
	Remarks         Field[string]
}

// CreateBooking validates intake data and stores a Requested booking.
func (service *Service) CreateBooking(ctx context.Context, input BookingInput) (Booking, error) {
	var booking Booking
	operationError := func() error {
		normalized, err := normalizeBookingInput(input)
		if err != nil {
			return WrapError(errorOperationService, errorSubjectBooking, errorCodeInvalidInput, err)
		}
		bookingID, err := NewBookingID(service.newID())
		if err != nil {
			return err
		}
		now := service.now()
		booking = Booking{
			ID:              bookingID,
			Source:          normalized.Source,
			Destination:     normalized.Destination,
			JourneyDate:     normalized.JourneyDate,
			BookingDueDate:  normalized.BookingDueDate,
			Passengers:      normalized.Passengers,
			BookingType:     normalized.BookingType,
			TrainPreference: normalized.TrainPreference,
			Remarks:         normalized.Remarks,
			Status:          StatusRequested,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return service.store.CreateBooking(ctx, booking)
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateBooking,
		BookingID: booking.ID,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return booking, nil
}

// UpdateBookingDetails edits intake fields and revalidates the result.
func (service *Service) UpdateBookingDetails(ctx context.Context, bookingID BookingID, details BookingDetailsPatch) (Booking, error) {
	var updated Booking
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		patch := BookingPatch{
			Source:          details.Source,
			Destination:     details.Destination,
			JourneyDate:     details.JourneyDate,
			BookingDueDate:  details.BookingDueDate,
			Passengers:      details.Passengers,
			BookingType:     details.BookingType,
			TrainPreference: details.TrainPreference,
			Remarks:         details.Remarks,
			UpdatedAt:       service.now(),
		}
		candidate := patch.ApplyToBooking(booking)
		normalized, err := normalizeBookingInput(BookingInput{
			Source:          candidate.Source,
			Destination:     candidate.Destination,
			JourneyDate:     candidate.JourneyDate,
			BookingDueDate:  candidate.BookingDueDate,
			Passengers:      candidate.Passengers,
			BookingType:     candidate.BookingType,
			TrainPreference: candidate.TrainPreference,
			Remarks:         candidate.Remarks,
		})
		if err != nil {
			return WrapError(errorOperationService, errorSubjectBooking, errorCodeInvalidInput, err)
		}
		patch = normalized.patchFor(patch)
		if err := transactionStore.UpdateBooking(ctx, bookingID, patch); err != nil {
			return err
		}
		updated = patch.ApplyToBooking(booking)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateBooking,
		BookingID: bookingID,
		Error:     operationError,
	})
	if operationError != nil {
		return Booking{}, operationError
	}
	return updated, nil
}

// GetBooking returns one booking.
func (service *Service) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	return service.store.GetBooking(ctx, bookingID)
}

// ListBookings returns bookings matching filter.
func (service *Service) ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	return service.store.ListBookings(ctx, filter)
}

// DeleteBooking removes a booking with everything hanging off it: the record
// (reversing its wallet charge), the refund (reversing its wallet credit) and
// its group membership.
func (service *Service) DeleteBooking(ctx context.Context, bookingID BookingID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		booking, err := transactionStore.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		record, found, err := transactionStore.FindRecordByBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if found {
			if err := service.deleteRecord(ctx, transactionStore, record); err != nil {
				return err
			}
		}
		if booking.Refund != nil {
			if err := service.reverseRefund(ctx, transactionStore, *booking.Refund); err != nil {
				return err
			}
		}
		if !booking.GroupID.IsZero() {
			group, err := transactionStore.GetGroup(ctx, booking.GroupID)
			switch {
			case err == nil:
				if _, err := service.detachMember(ctx, transactionStore, group, bookingID); err != nil {
					return err
				}
			case !IsNotFound(err):
				return err
			}
		}
		return transactionStore.DeleteBooking(ctx, bookingID)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeleteBooking,
		BookingID: bookingID,
		Error:     operationError,
	})
	return operationError
}

func normalizeBookingInput(input BookingInput) (BookingInput, error) {
	input.Source = strings.TrimSpace(input.Source)
	input.Destination = strings.TrimSpace(input.Destination)
	if input.Source == "" || input.Destination == "" {
		return BookingInput{}, fmt.Errorf("%w: source and destination are required", ErrInvalidRoute)
	}
	if strings.EqualFold(input.Source, input.Destination) {
		return BookingInput{}, fmt.Errorf("%w: source equals destination", ErrInvalidRoute)
	}
	if input.JourneyDate.IsZero() || input.BookingDueDate.IsZero() {
		return BookingInput{}, fmt.Errorf("%w: journey and due dates are required", ErrInvalidDates)
	}
	input.JourneyDate = NormalizeDate(input.JourneyDate)
	input.BookingDueDate = NormalizeDate(input.BookingDueDate)
	if input.BookingDueDate.After(input.JourneyDate) {
		return BookingInput{}, fmt.Errorf("%w: due date after journey date", ErrInvalidDates)
	}
	if len(input.Passengers) == 0 {
		return BookingInput{}, fmt.Errorf("%w: at least one passenger", ErrInvalidPassengers)
	}
	passengers := make([]Passenger, 0, len(input.Passengers))
	for index, passenger := range input.Passengers {
		passenger.Name = strings.TrimSpace(passenger.Name)
		passenger.Gender = strings.TrimSpace(passenger.Gender)
		if passenger.Name == "" {
			return BookingInput{}, fmt.Errorf("%w: passenger %d has no name", ErrInvalidPassengers, index+1)
		}
		if passenger.Age < 0 || passenger.Age > maxPassengerAge {
			return BookingInput{}, fmt.Errorf("%w: passenger %d age %d", ErrInvalidPassengers, index+1, passenger.Age)
		}
		passengers = append(passengers, passenger)
	}
	input.Passengers = passengers
	input.BookingType = strings.TrimSpace(input.BookingType)
	if input.BookingType == "" {
		return BookingInput{}, fmt.Errorf("%w: empty value", ErrInvalidBookingType)
	}
	input.TrainPreference = strings.TrimSpace(input.TrainPreference)
	input.Remarks = strings.TrimSpace(input.Remarks)
	return input, nil
}

// patchFor rewrites the touched fields of patch with their normalized values.
func (input BookingInput) patchFor(patch BookingPatch) BookingPatch {
	if patch.Source.IsSet() {
		patch.Source = Set(input.Source)
	}
	if patch.Destination.IsSet() {
		patch.Destination = Set(input.Destination)
	}
	if patch.JourneyDate.IsSet() {
		patch.JourneyDate = Set(input.JourneyDate)
	}
	if patch.BookingDueDate.IsSet() {
		patch.BookingDueDate = Set(input.BookingDueDate)
	}
	if patch.Passengers.IsSet() {
		patch.Passengers = Set(input.Passengers)
	}
	if patch.BookingType.IsSet() {
		patch.BookingType = Set(input.BookingType)
	}
	if patch.TrainPreference.IsSet() {
		patch.TrainPreference = Set(input.TrainPreference)
	}
	if patch.Remarks.IsSet() {
		patch.Remarks = Set(input.Remarks)
	}
	return patch
}
