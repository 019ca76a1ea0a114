package gormstore

import (
	"time"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

func mapAccount(model Account) (ledger.Account, error) {
	accountID, err := ledger.NewAccountID(model.AccountID)
	if err != nil {
		return ledger.Account{}, err
	}
	username, err := ledger.NewUsername(model.Username)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		ID:                   accountID,
		Username:             username,
		Password:             model.Password,
		Balance:              model.Balance,
		LastUsedDate:         utcDate(model.LastUsedDate),
		PreviousLastUsedDate: utcDate(model.PreviousLastUsedDate),
		CreatedAt:            model.CreatedAt.UTC(),
		UpdatedAt:            model.UpdatedAt.UTC(),
	}, nil
}

func bookingModel(booking ledger.Booking) Booking {
	model := Booking{
		BookingID:        booking.ID.String(),
		Source:           booking.Source,
		Destination:      booking.Destination,
		JourneyDate:      booking.JourneyDate,
		BookingDueDate:   booking.BookingDueDate,
		Passengers:       datatypes.NewJSONSlice(passengerModels(booking.Passengers)),
		BookingType:      booking.BookingType,
		TrainPreference:  booking.TrainPreference,
		Remarks:          booking.Remarks,
		Status:           booking.Status.String(),
		StatusReason:     optionalString(booking.StatusReason),
		StatusHandler:    optionalString(booking.StatusHandler),
		PreparedAccounts: datatypes.NewJSONSlice(append([]string{}, booking.PreparedAccounts...)),
		CreatedAt:        booking.CreatedAt,
		UpdatedAt:        booking.UpdatedAt,
	}
	if !booking.GroupID.IsZero() {
		model.GroupID = optionalString(booking.GroupID.String())
	}
	if booking.Refund != nil {
		model.RefundAmount = decimal.NewNullDecimal(booking.Refund.Amount.Decimal())
		refundDate := booking.Refund.Date
		model.RefundDate = &refundDate
		model.RefundMethod = optionalString(booking.Refund.Method.String())
		model.RefundAccount = optionalString(booking.Refund.AccountUsername.String())
	}
	return model
}

func mapBooking(model Booking) (ledger.Booking, error) {
	bookingID, err := ledger.NewBookingID(model.BookingID)
	if err != nil {
		return ledger.Booking{}, err
	}
	status, err := ledger.ParseStatus(model.Status)
	if err != nil {
		return ledger.Booking{}, err
	}
	booking := ledger.Booking{
		ID:               bookingID,
		Source:           model.Source,
		Destination:      model.Destination,
		JourneyDate:      model.JourneyDate.UTC(),
		BookingDueDate:   model.BookingDueDate.UTC(),
		BookingType:      model.BookingType,
		TrainPreference:  model.TrainPreference,
		Remarks:          model.Remarks,
		Status:           status,
		StatusReason:     stringOrEmpty(model.StatusReason),
		StatusHandler:    stringOrEmpty(model.StatusHandler),
		PreparedAccounts: append([]string(nil), model.PreparedAccounts...),
		CreatedAt:        model.CreatedAt.UTC(),
		UpdatedAt:        model.UpdatedAt.UTC(),
	}
	for _, passenger := range model.Passengers {
		booking.Passengers = append(booking.Passengers, ledger.Passenger{
			Name:          passenger.Name,
			Age:           passenger.Age,
			Gender:        passenger.Gender,
			BerthRequired: passenger.BerthRequired,
		})
	}
	if model.GroupID != nil && *model.GroupID != "" {
		groupID, err := ledger.NewGroupID(*model.GroupID)
		if err != nil {
			return ledger.Booking{}, err
		}
		booking.GroupID = groupID
	}
	if model.RefundAmount.Valid {
		refund, err := mapRefund(model)
		if err != nil {
			return ledger.Booking{}, err
		}
		booking.Refund = &refund
	}
	return booking, nil
}

func mapRefund(model Booking) (ledger.RefundRecord, error) {
	amount, err := ledger.NewAmount(model.RefundAmount.Decimal)
	if err != nil {
		return ledger.RefundRecord{}, err
	}
	method, err := ledger.ParsePaymentMethod(stringOrEmpty(model.RefundMethod))
	if err != nil {
		return ledger.RefundRecord{}, err
	}
	username, err := ledger.NewUsername(stringOrEmpty(model.RefundAccount))
	if err != nil {
		return ledger.RefundRecord{}, err
	}
	refund := ledger.RefundRecord{Amount: amount, Method: method, AccountUsername: username}
	if model.RefundDate != nil {
		refund.Date = model.RefundDate.UTC()
	}
	return refund, nil
}

func recordModel(record ledger.BookingRecord) BookingRecord {
	return BookingRecord{
		RecordID:        record.ID.String(),
		BookingID:       record.BookingID.String(),
		BookedBy:        record.BookedBy,
		AccountUsername: record.AccountUsername.String(),
		AmountCharged:   record.AmountCharged.Decimal(),
		Method:          record.Method.String(),
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func mapRecord(model BookingRecord) (ledger.BookingRecord, error) {
	recordID, err := ledger.NewRecordID(model.RecordID)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	bookingID, err := ledger.NewBookingID(model.BookingID)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	username, err := ledger.NewUsername(model.AccountUsername)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	amount, err := ledger.NewAmount(model.AmountCharged)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	method, err := ledger.ParsePaymentMethod(model.Method)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	return ledger.BookingRecord{
		ID:              recordID,
		BookingID:       bookingID,
		BookedBy:        model.BookedBy,
		AccountUsername: username,
		AmountCharged:   amount,
		Method:          method,
		CreatedAt:       model.CreatedAt.UTC(),
		UpdatedAt:       model.UpdatedAt.UTC(),
	}, nil
}

func mapGroup(model BookingGroup) (ledger.Group, error) {
	groupID, err := ledger.NewGroupID(model.GroupID)
	if err != nil {
		return ledger.Group{}, err
	}
	bookingIDs := make([]ledger.BookingID, 0, len(model.BookingIDs))
	for _, raw := range model.BookingIDs {
		bookingID, err := ledger.NewBookingID(raw)
		if err != nil {
			return ledger.Group{}, err
		}
		bookingIDs = append(bookingIDs, bookingID)
	}
	return ledger.Group{
		ID:         groupID,
		BookingIDs: bookingIDs,
		CreatedAt:  model.CreatedAt.UTC(),
		UpdatedAt:  model.UpdatedAt.UTC(),
	}, nil
}

func passengerModels(passengers []ledger.Passenger) []PassengerJSON {
	models := make([]PassengerJSON, 0, len(passengers))
	for _, passenger := range passengers {
		models = append(models, PassengerJSON{
			Name:          passenger.Name,
			Age:           passenger.Age,
			Gender:        passenger.Gender,
			BerthRequired: passenger.BerthRequired,
		})
	}
	return models
}

func bookingIDStrings(bookingIDs []ledger.BookingID) []string {
	values := make([]string, 0, len(bookingIDs))
	for _, bookingID := range bookingIDs {
		values = append(values, bookingID.String())
	}
	return values
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func utcDate(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	converted := value.UTC()
	return &converted
}
