package pgstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/shopspring/decimal"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

type passengerDocument struct {
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender,omitempty"`
	BerthRequired *bool  `json:"berthRequired,omitempty"`
}

// assignmentList builds the set clause of a partial update with positional parameters.
type assignmentList struct {
	columns []string
	args    []any
}

func (list *assignmentList) add(column string, value any) {
	list.args = append(list.args, value)
	list.columns = append(list.columns, fmt.Sprintf("%s = $%d", column, len(list.args)))
}

func (list *assignmentList) addCast(column string, value any, cast string) {
	list.args = append(list.args, value)
	list.columns = append(list.columns, fmt.Sprintf("%s = $%d%s", column, len(list.args), cast))
}

func (list *assignmentList) addTime(column string, field ledger.Field[time.Time]) {
	switch {
	case field.IsSet():
		value, _ := field.Value()
		list.add(column, value)
	case field.IsClear():
		list.add(column, nil)
	}
}

func (list *assignmentList) addText(column string, field ledger.Field[string]) {
	switch {
	case field.IsSet():
		value, _ := field.Value()
		list.add(column, value)
	case field.IsClear():
		list.add(column, nil)
	}
}

func (list *assignmentList) statement(table string, keyColumn string, key string) (string, []any) {
	args := append(append([]any{}, list.args...), key)
	query := fmt.Sprintf(updateStatementFormat, table, strings.Join(list.columns, assignmentSeparator), keyColumn, len(args))
	return query, args
}

// conditionList builds an equality where clause.
type conditionList struct {
	conditions []string
	args       []any
}

func (list *conditionList) add(column string, value any) {
	list.args = append(list.args, value)
	list.conditions = append(list.conditions, fmt.Sprintf("%s = $%d", column, len(list.args)))
}

func (list *conditionList) clause() string {
	if len(list.conditions) == 0 {
		return ""
	}
	return " where " + strings.Join(list.conditions, conditionSeparator)
}

// bookingAssignments translates a patch into column writes. Clear becomes NULL
// for nullable columns and the empty value for required ones.
func bookingAssignments(patch ledger.BookingPatch) (*assignmentList, error) {
	assignments := &assignmentList{}
	if value, ok := patch.Source.Value(); ok {
		assignments.add("source", value)
	}
	if value, ok := patch.Destination.Value(); ok {
		assignments.add("destination", value)
	}
	if value, ok := patch.JourneyDate.Value(); ok {
		assignments.add("journey_date", value)
	}
	if value, ok := patch.BookingDueDate.Value(); ok {
		assignments.add("booking_due_date", value)
	}
	if value, ok := patch.Passengers.Value(); ok {
		encoded, err := encodePassengers(value)
		if err != nil {
			return nil, err
		}
		assignments.addCast("passengers", encoded, jsonbCast)
	}
	if value, ok := patch.BookingType.Value(); ok {
		assignments.add("booking_type", value)
	}
	if !patch.TrainPreference.IsKeep() {
		value, _ := patch.TrainPreference.Value()
		assignments.add("train_preference", value)
	}
	if !patch.Remarks.IsKeep() {
		value, _ := patch.Remarks.Value()
		assignments.add("remarks", value)
	}
	if value, ok := patch.Status.Value(); ok {
		assignments.add("status", value.String())
	}
	assignments.addText("status_reason", patch.StatusReason)
	assignments.addText("status_handler", patch.StatusHandler)
	switch {
	case patch.GroupID.IsSet():
		value, _ := patch.GroupID.Value()
		assignments.add("group_id", value.String())
	case patch.GroupID.IsClear():
		assignments.add("group_id", nil)
	}
	if !patch.Refund.IsKeep() {
		var refund *ledger.RefundRecord
		if value, ok := patch.Refund.Value(); ok {
			refund = &value
		}
		columns := refundColumns(refund)
		assignments.add("refund_amount", columns.amount)
		assignments.add("refund_date", columns.date)
		assignments.add("refund_method", columns.method)
		assignments.add("refund_account", columns.account)
	}
	if !patch.PreparedAccounts.IsKeep() {
		value, _ := patch.PreparedAccounts.Value()
		encoded, err := encodeStrings(value)
		if err != nil {
			return nil, err
		}
		assignments.addCast("prepared_accounts", encoded, jsonbCast)
	}
	assignments.add(columnUpdatedAt, patch.UpdatedAt)
	return assignments, nil
}

type refundRow struct {
	amount  decimal.NullDecimal
	date    sql.NullTime
	method  sql.NullString
	account sql.NullString
}

func refundColumns(refund *ledger.RefundRecord) refundRow {
	if refund == nil {
		return refundRow{}
	}
	return refundRow{
		amount:  decimal.NewNullDecimal(refund.Amount.Decimal()),
		date:    sql.NullTime{Time: refund.Date, Valid: true},
		method:  sql.NullString{String: refund.Method.String(), Valid: true},
		account: sql.NullString{String: refund.AccountUsername.String(), Valid: true},
	}
}

func scanAccount(row rowScanner) (ledger.Account, error) {
	var (
		accountIDValue string
		usernameValue  string
		account        ledger.Account
		lastUsed       sql.NullTime
		previousUsed   sql.NullTime
	)
	if err := row.Scan(
		&accountIDValue,
		&usernameValue,
		&account.Password,
		&account.Balance,
		&lastUsed,
		&previousUsed,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return ledger.Account{}, err
	}
	accountID, err := ledger.NewAccountID(accountIDValue)
	if err != nil {
		return ledger.Account{}, err
	}
	username, err := ledger.NewUsername(usernameValue)
	if err != nil {
		return ledger.Account{}, err
	}
	account.ID = accountID
	account.Username = username
	account.LastUsedDate = timePointer(lastUsed)
	account.PreviousLastUsedDate = timePointer(previousUsed)
	account.CreatedAt = account.CreatedAt.UTC()
	account.UpdatedAt = account.UpdatedAt.UTC()
	return account, nil
}

func scanBooking(row rowScanner) (ledger.Booking, error) {
	var (
		bookingIDValue  string
		statusValue     string
		passengersValue []byte
		preparedValue   []byte
		statusReason    sql.NullString
		statusHandler   sql.NullString
		groupIDValue    sql.NullString
		refund          refundRow
		booking         ledger.Booking
	)
	if err := row.Scan(
		&bookingIDValue,
		&booking.Source,
		&booking.Destination,
		&booking.JourneyDate,
		&booking.BookingDueDate,
		&passengersValue,
		&booking.BookingType,
		&booking.TrainPreference,
		&booking.Remarks,
		&statusValue,
		&statusReason,
		&statusHandler,
		&groupIDValue,
		&refund.amount,
		&refund.date,
		&refund.method,
		&refund.account,
		&preparedValue,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	); err != nil {
		return ledger.Booking{}, err
	}
	bookingID, err := ledger.NewBookingID(bookingIDValue)
	if err != nil {
		return ledger.Booking{}, err
	}
	status, err := ledger.ParseStatus(statusValue)
	if err != nil {
		return ledger.Booking{}, err
	}
	passengers, err := decodePassengers(passengersValue)
	if err != nil {
		return ledger.Booking{}, err
	}
	if err := json.Unmarshal(preparedValue, &booking.PreparedAccounts); err != nil {
		return ledger.Booking{}, fmt.Errorf("decode prepared accounts: %w", err)
	}
	if groupIDValue.Valid && groupIDValue.String != "" {
		groupID, err := ledger.NewGroupID(groupIDValue.String)
		if err != nil {
			return ledger.Booking{}, err
		}
		booking.GroupID = groupID
	}
	if refund.amount.Valid {
		record, err := refundRecord(refund)
		if err != nil {
			return ledger.Booking{}, err
		}
		booking.Refund = &record
	}
	booking.ID = bookingID
	booking.Status = status
	booking.Passengers = passengers
	booking.StatusReason = statusReason.String
	booking.StatusHandler = statusHandler.String
	booking.JourneyDate = booking.JourneyDate.UTC()
	booking.BookingDueDate = booking.BookingDueDate.UTC()
	booking.CreatedAt = booking.CreatedAt.UTC()
	booking.UpdatedAt = booking.UpdatedAt.UTC()
	return booking, nil
}

func refundRecord(row refundRow) (ledger.RefundRecord, error) {
	amount, err := ledger.NewAmount(row.amount.Decimal)
	if err != nil {
		return ledger.RefundRecord{}, err
	}
	method, err := ledger.ParsePaymentMethod(row.method.String)
	if err != nil {
		return ledger.RefundRecord{}, err
	}
	username, err := ledger.NewUsername(row.account.String)
	if err != nil {
		return ledger.RefundRecord{}, err
	}
	refund := ledger.RefundRecord{Amount: amount, Method: method, AccountUsername: username}
	if row.date.Valid {
		refund.Date = row.date.Time.UTC()
	}
	return refund, nil
}

func scanRecord(row rowScanner) (ledger.BookingRecord, error) {
	var (
		recordIDValue  string
		bookingIDValue string
		usernameValue  string
		amountValue    decimal.Decimal
		methodValue    string
		record         ledger.BookingRecord
	)
	if err := row.Scan(
		&recordIDValue,
		&bookingIDValue,
		&record.BookedBy,
		&usernameValue,
		&amountValue,
		&methodValue,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return ledger.BookingRecord{}, err
	}
	recordID, err := ledger.NewRecordID(recordIDValue)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	bookingID, err := ledger.NewBookingID(bookingIDValue)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	username, err := ledger.NewUsername(usernameValue)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	amount, err := ledger.NewAmount(amountValue)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	method, err := ledger.ParsePaymentMethod(methodValue)
	if err != nil {
		return ledger.BookingRecord{}, err
	}
	record.ID = recordID
	record.BookingID = bookingID
	record.AccountUsername = username
	record.AmountCharged = amount
	record.Method = method
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func scanGroup(row rowScanner) (ledger.Group, error) {
	var (
		groupIDValue string
		membersValue []byte
		group        ledger.Group
	)
	if err := row.Scan(&groupIDValue, &membersValue, &group.CreatedAt, &group.UpdatedAt); err != nil {
		return ledger.Group{}, err
	}
	groupID, err := ledger.NewGroupID(groupIDValue)
	if err != nil {
		return ledger.Group{}, err
	}
	var members []string
	if err := json.Unmarshal(membersValue, &members); err != nil {
		return ledger.Group{}, fmt.Errorf("decode group members: %w", err)
	}
	group.BookingIDs = make([]ledger.BookingID, 0, len(members))
	for _, member := range members {
		bookingID, err := ledger.NewBookingID(member)
		if err != nil {
			return ledger.Group{}, err
		}
		group.BookingIDs = append(group.BookingIDs, bookingID)
	}
	group.ID = groupID
	group.CreatedAt = group.CreatedAt.UTC()
	group.UpdatedAt = group.UpdatedAt.UTC()
	return group, nil
}

func encodePassengers(passengers []ledger.Passenger) (string, error) {
	documents := make([]passengerDocument, 0, len(passengers))
	for _, passenger := range passengers {
		documents = append(documents, passengerDocument{
			Name:          passenger.Name,
			Age:           passenger.Age,
			Gender:        passenger.Gender,
			BerthRequired: passenger.BerthRequired,
		})
	}
	encoded, err := json.Marshal(documents)
	if err != nil {
		return "", fmt.Errorf("encode passengers: %w", err)
	}
	return string(encoded), nil
}

func decodePassengers(raw []byte) ([]ledger.Passenger, error) {
	var documents []passengerDocument
	if err := json.Unmarshal(raw, &documents); err != nil {
		return nil, fmt.Errorf("decode passengers: %w", err)
	}
	passengers := make([]ledger.Passenger, 0, len(documents))
	for _, document := range documents {
		passengers = append(passengers, ledger.Passenger{
			Name:          document.Name,
			Age:           document.Age,
			Gender:        document.Gender,
			BerthRequired: document.BerthRequired,
		})
	}
	return passengers, nil
}

func encodeStrings(values []string) (string, error) {
	encoded, err := json.Marshal(append([]string{}, values...))
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(encoded), nil
}

func bookingIDStrings(bookingIDs []ledger.BookingID) []string {
	values := make([]string, 0, len(bookingIDs))
	for _, bookingID := range bookingIDs {
		values = append(values, bookingID.String())
	}
	return values
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func timePointer(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	converted := value.Time.UTC()
	return &converted
}
