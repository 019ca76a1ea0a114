package httpapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/shopspring/decimal"
)

type createAccountRequest struct {
	Username       string           `json:"username"`
	Password       string           `json:"password"`
	OpeningBalance *decimal.Decimal `json:"opening_balance"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type balanceRequest struct {
	Balance decimal.Decimal `json:"balance"`
}

type adjustmentRequest struct {
	Delta decimal.Decimal `json:"delta"`
}

type passengerPayload struct {
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender"`
	BerthRequired *bool  `json:"berth_required,omitempty"`
}

type bookingRequest struct {
	Source          string             `json:"source"`
	Destination     string             `json:"destination"`
	JourneyDate     string             `json:"journey_date"`
	BookingDueDate  string             `json:"booking_due_date"`
	Passengers      []passengerPayload `json:"passengers"`
	BookingType     string             `json:"booking_type"`
	TrainPreference string             `json:"train_preference"`
	Remarks         string             `json:"remarks"`
}

// bookingPatchRequest leaves absent fields untouched. An empty
// train_preference or remarks clears the stored value.
type bookingPatchRequest struct {
	Source          *string             `json:"source"`
	Destination     *string             `json:"destination"`
	JourneyDate     *string             `json:"journey_date"`
	BookingDueDate  *string             `json:"booking_due_date"`
	Passengers      *[]passengerPayload `json:"passengers"`
	BookingType     *string             `json:"booking_type"`
	TrainPreference *string             `json:"train_preference"`
	Remarks         *string             `json:"remarks"`
}

type recordRequest struct {
	BookedBy        string          `json:"booked_by"`
	AccountUsername string          `json:"account_username"`
	AmountCharged   decimal.Decimal `json:"amount_charged"`
	Method          string          `json:"method"`
}

type transitionRequest struct {
	To          string         `json:"to"`
	Reason      string         `json:"reason"`
	Handler     string         `json:"handler"`
	Payment     *recordRequest `json:"payment"`
	ClearRefund bool           `json:"clear_refund"`
}

type refundRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	Date            string          `json:"date"`
	Method          string          `json:"method"`
	AccountUsername string          `json:"account_username"`
}

type groupRequest struct {
	BookingIDs []string `json:"booking_ids"`
}

type splitRequest struct {
	BookingIDs      []string        `json:"booking_ids"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	BookedBy        string          `json:"booked_by"`
	AccountUsername string          `json:"account_username"`
	Method          string          `json:"method"`
}

type splitPreviewRequest struct {
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type preparedAccountsRequest struct {
	PreparedAccounts []string `json:"prepared_accounts"`
}

type accountResponse struct {
	ID                   string    `json:"id"`
	Username             string    `json:"username"`
	Balance              string    `json:"balance"`
	LastUsedDate         *string   `json:"last_used_date"`
	PreviousLastUsedDate *string   `json:"previous_last_used_date"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

type refundResponse struct {
	Amount          string `json:"amount"`
	Date            string `json:"date"`
	Method          string `json:"method"`
	AccountUsername string `json:"account_username"`
}

type bookingResponse struct {
	ID               string             `json:"id"`
	Source           string             `json:"source"`
	Destination      string             `json:"destination"`
	JourneyDate      string             `json:"journey_date"`
	BookingDueDate   string             `json:"booking_due_date"`
	Passengers       []passengerPayload `json:"passengers"`
	BookingType      string             `json:"booking_type"`
	TrainPreference  string             `json:"train_preference,omitempty"`
	Remarks          string             `json:"remarks,omitempty"`
	Status           string             `json:"status"`
	StatusReason     string             `json:"status_reason,omitempty"`
	StatusHandler    string             `json:"status_handler,omitempty"`
	GroupID          string             `json:"group_id,omitempty"`
	Refund           *refundResponse    `json:"refund,omitempty"`
	PreparedAccounts []string           `json:"prepared_accounts"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type recordResponse struct {
	ID              string    `json:"id"`
	BookingID       string    `json:"booking_id"`
	BookedBy        string    `json:"booked_by"`
	AccountUsername string    `json:"account_username"`
	AmountCharged   string    `json:"amount_charged"`
	Method          string    `json:"method"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type groupResponse struct {
	ID            string            `json:"id"`
	BookingIDs    []string          `json:"booking_ids"`
	Bookings      []bookingResponse `json:"bookings,omitempty"`
	StatusSummary map[string]int    `json:"status_summary,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

type shareResponse struct {
	BookingID  string `json:"booking_id"`
	Passengers int    `json:"passengers"`
	Share      string `json:"share"`
}

func newAccountResponse(account ledger.Account) accountResponse {
	return accountResponse{
		ID:                   account.ID.String(),
		Username:             account.Username.String(),
		Balance:              formatAmount(account.Balance),
		LastUsedDate:         formatOptionalDate(account.LastUsedDate),
		PreviousLastUsedDate: formatOptionalDate(account.PreviousLastUsedDate),
		CreatedAt:            account.CreatedAt,
		UpdatedAt:            account.UpdatedAt,
	}
}

func newBookingResponse(booking ledger.Booking) bookingResponse {
	passengers := make([]passengerPayload, 0, len(booking.Passengers))
	for _, passenger := range booking.Passengers {
		passengers = append(passengers, passengerPayload{
			Name:          passenger.Name,
			Age:           passenger.Age,
			Gender:        passenger.Gender,
			BerthRequired: passenger.BerthRequired,
		})
	}
	response := bookingResponse{
		ID:               booking.ID.String(),
		Source:           booking.Source,
		Destination:      booking.Destination,
		JourneyDate:      formatDate(booking.JourneyDate),
		BookingDueDate:   formatDate(booking.BookingDueDate),
		Passengers:       passengers,
		BookingType:      booking.BookingType,
		TrainPreference:  booking.TrainPreference,
		Remarks:          booking.Remarks,
		Status:           booking.Status.String(),
		StatusReason:     booking.StatusReason,
		StatusHandler:    booking.StatusHandler,
		GroupID:          booking.GroupID.String(),
		PreparedAccounts: append([]string{}, booking.PreparedAccounts...),
		CreatedAt:        booking.CreatedAt,
		UpdatedAt:        booking.UpdatedAt,
	}
	if booking.Refund != nil {
		response.Refund = &refundResponse{
			Amount:          booking.Refund.Amount.String(),
			Date:            formatDate(booking.Refund.Date),
			Method:          booking.Refund.Method.String(),
			AccountUsername: booking.Refund.AccountUsername.String(),
		}
	}
	return response
}

func newBookingResponses(bookings []ledger.Booking) []bookingResponse {
	responses := make([]bookingResponse, 0, len(bookings))
	for _, booking := range bookings {
		responses = append(responses, newBookingResponse(booking))
	}
	return responses
}

func newRecordResponse(record ledger.BookingRecord) recordResponse {
	return recordResponse{
		ID:              record.ID.String(),
		BookingID:       record.BookingID.String(),
		BookedBy:        record.BookedBy,
		AccountUsername: record.AccountUsername.String(),
		AmountCharged:   record.AmountCharged.String(),
		Method:          record.Method.String(),
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
}

func newRecordResponses(records []ledger.BookingRecord) []recordResponse {
	responses := make([]recordResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, newRecordResponse(record))
	}
	return responses
}

func newGroupResponse(group ledger.Group) groupResponse {
	return groupResponse{
		ID:         group.ID.String(),
		BookingIDs: bookingIDStrings(group.BookingIDs),
		CreatedAt:  group.CreatedAt,
		UpdatedAt:  group.UpdatedAt,
	}
}

func newGroupSummaryResponse(summary ledger.GroupSummary) groupResponse {
	response := newGroupResponse(summary.Group)
	response.Bookings = newBookingResponses(summary.Bookings)
	response.StatusSummary = make(map[string]int, len(summary.StatusSummary))
	for status, count := range summary.StatusSummary {
		response.StatusSummary[status.String()] = count
	}
	return response
}

func (request recordRequest) toInput(bookingID ledger.BookingID) (ledger.RecordInput, error) {
	username, err := ledger.NewUsername(request.AccountUsername)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	amount, err := ledger.NewAmount(request.AmountCharged)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	method, err := ledger.ParsePaymentMethod(request.Method)
	if err != nil {
		return ledger.RecordInput{}, err
	}
	return ledger.RecordInput{
		BookingID:       bookingID,
		BookedBy:        request.BookedBy,
		AccountUsername: username,
		AmountCharged:   amount,
		Method:          method,
	}, nil
}

func (request bookingRequest) toInput() (ledger.BookingInput, error) {
	journeyDate, err := parseDate(request.JourneyDate, "journey_date")
	if err != nil {
		return ledger.BookingInput{}, err
	}
	dueDate, err := parseDate(request.BookingDueDate, "booking_due_date")
	if err != nil {
		return ledger.BookingInput{}, err
	}
	return ledger.BookingInput{
		Source:          request.Source,
		Destination:     request.Destination,
		JourneyDate:     journeyDate,
		BookingDueDate:  dueDate,
		Passengers:      toPassengers(request.Passengers),
		BookingType:     request.BookingType,
		TrainPreference: request.TrainPreference,
		Remarks:         request.Remarks,
	}, nil
}

func (request bookingPatchRequest) toPatch() (ledger.BookingDetailsPatch, error) {
	var patch ledger.BookingDetailsPatch
	if request.Source != nil {
		patch.Source = ledger.Set(*request.Source)
	}
	if request.Destination != nil {
		patch.Destination = ledger.Set(*request.Destination)
	}
	if request.JourneyDate != nil {
		journeyDate, err := parseDate(*request.JourneyDate, "journey_date")
		if err != nil {
			return ledger.BookingDetailsPatch{}, err
		}
		patch.JourneyDate = ledger.Set(journeyDate)
	}
	if request.BookingDueDate != nil {
		dueDate, err := parseDate(*request.BookingDueDate, "booking_due_date")
		if err != nil {
			return ledger.BookingDetailsPatch{}, err
		}
		patch.BookingDueDate = ledger.Set(dueDate)
	}
	if request.Passengers != nil {
		patch.Passengers = ledger.Set(toPassengers(*request.Passengers))
	}
	if request.BookingType != nil {
		patch.BookingType = ledger.Set(*request.BookingType)
	}
	patch.TrainPreference = optionalTextField(request.TrainPreference)
	patch.Remarks = optionalTextField(request.Remarks)
	return patch, nil
}

func optionalTextField(value *string) ledger.Field[string] {
	switch {
	case value == nil:
		return ledger.Field[string]{}
	case strings.TrimSpace(*value) == "":
		return ledger.Clear[string]()
	default:
		return ledger.Set(*value)
	}
}

func (request splitRequest) toInput(groupID ledger.GroupID) (ledger.SplitInput, error) {
	bookingIDs, err := parseBookingIDs(request.BookingIDs)
	if err != nil {
		return ledger.SplitInput{}, err
	}
	total, err := ledger.NewAmount(request.TotalAmount)
	if err != nil {
		return ledger.SplitInput{}, err
	}
	username, err := ledger.NewUsername(request.AccountUsername)
	if err != nil {
		return ledger.SplitInput{}, err
	}
	method, err := ledger.ParsePaymentMethod(request.Method)
	if err != nil {
		return ledger.SplitInput{}, err
	}
	return ledger.SplitInput{
		GroupID:         groupID,
		BookingIDs:      bookingIDs,
		TotalAmount:     total,
		BookedBy:        request.BookedBy,
		AccountUsername: username,
		Method:          method,
	}, nil
}

func (request refundRequest) toInput() (ledger.RefundInput, error) {
	amount, err := ledger.NewAmount(request.Amount)
	if err != nil {
		return ledger.RefundInput{}, err
	}
	method, err := ledger.ParsePaymentMethod(request.Method)
	if err != nil {
		return ledger.RefundInput{}, err
	}
	username, err := ledger.NewUsername(request.AccountUsername)
	if err != nil {
		return ledger.RefundInput{}, err
	}
	var date time.Time
	if strings.TrimSpace(request.Date) != "" {
		if date, err = parseDate(request.Date, "date"); err != nil {
			return ledger.RefundInput{}, err
		}
	}
	return ledger.RefundInput{
		Amount:          amount,
		Date:            date,
		Method:          method,
		AccountUsername: username,
	}, nil
}

func toPassengers(payloads []passengerPayload) []ledger.Passenger {
	passengers := make([]ledger.Passenger, 0, len(payloads))
	for _, payload := range payloads {
		passengers = append(passengers, ledger.Passenger{
			Name:          payload.Name,
			Age:           payload.Age,
			Gender:        payload.Gender,
			BerthRequired: payload.BerthRequired,
		})
	}
	return passengers
}

func parseBookingIDs(raw []string) ([]ledger.BookingID, error) {
	bookingIDs := make([]ledger.BookingID, 0, len(raw))
	for _, value := range raw {
		bookingID, err := ledger.NewBookingID(value)
		if err != nil {
			return nil, err
		}
		bookingIDs = append(bookingIDs, bookingID)
	}
	return bookingIDs, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string, field string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if parsed, err := time.Parse(time.DateOnly, trimmed); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ledger.NormalizeDate(parsed), nil
	}
	return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD, got %q", ledger.ErrInvalidDates, field, raw)
}

func formatDate(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.DateOnly)
}

func formatOptionalDate(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := formatDate(*value)
	return &formatted
}

func formatAmount(value decimal.Decimal) string {
	return value.StringFixed(2)
}

func bookingIDStrings(bookingIDs []ledger.BookingID) []string {
	values := make([]string, 0, len(bookingIDs))
	for _, bookingID := range bookingIDs {
		values = append(values, bookingID.String())
	}
	return values
}

func statusStrings(statuses []ledger.Status) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, status.String())
	}
	return values
}
