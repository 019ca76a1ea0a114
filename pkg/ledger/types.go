package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AccountID identifies an account document.
type AccountID struct {
	value string
}

// Username is the unique, exact-match key the wallet ledger resolves accounts by.
type Username struct {
	value string
}

// BookingID identifies a booking request.
type BookingID struct {
	value string
}

// RecordID identifies a booking record.
type RecordID struct {
	value string
}

// GroupID identifies a booking group.
type GroupID struct {
	value string
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewUsername validates and normalizes a username. Matching stays case-sensitive.
func NewUsername(raw string) (Username, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Username{}, fmt.Errorf("%w: empty value", ErrInvalidUsername)
	}
	if strings.ContainsAny(trimmed, " \t\n") {
		return Username{}, fmt.Errorf("%w: must not contain whitespace", ErrInvalidUsername)
	}
	return Username{value: trimmed}, nil
}

// String returns the normalized username.
func (username Username) String() string {
	return username.value
}

// IsZero reports whether the username is unset.
func (username Username) IsZero() bool {
	return username.value == ""
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// NewRecordID validates and normalizes a record id.
func NewRecordID(raw string) (RecordID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return RecordID{}, fmt.Errorf("%w: empty value", ErrInvalidRecordID)
	}
	return RecordID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id RecordID) String() string {
	return id.value
}

// NewGroupID validates and normalizes a group id.
func NewGroupID(raw string) (GroupID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return GroupID{}, fmt.Errorf("%w: empty value", ErrInvalidGroupID)
	}
	return GroupID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id GroupID) String() string {
	return id.value
}

// IsZero reports whether the group id is unset.
func (id GroupID) IsZero() bool {
	return id.value == ""
}

// Amount is a non-negative monetary value.
type Amount struct {
	value decimal.Decimal
}

// NewAmount validates that raw is not negative and has at most two decimal places.
func NewAmount(raw decimal.Decimal) (Amount, error) {
	if raw.IsNegative() {
		return Amount{}, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	if err := checkScale(raw); err != nil {
		return Amount{}, err
	}
	return Amount{value: raw}, nil
}

// checkScale rejects values finer than the cent precision of the money columns.
func checkScale(value decimal.Decimal) error {
	if !value.Equal(value.Round(amountScale)) {
		return fmt.Errorf("%w: %s has more than %d decimal places", ErrInvalidAmount, value.String(), amountScale)
	}
	return nil
}

// ParseAmount parses a decimal string into an Amount.
func ParseAmount(raw string) (Amount, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return NewAmount(parsed)
}

// Decimal returns the underlying value.
func (amount Amount) Decimal() decimal.Decimal {
	return amount.value
}

// Negated returns the signed debit for this amount.
func (amount Amount) Negated() decimal.Decimal {
	return amount.value.Neg()
}

// String renders the amount with two decimal places.
func (amount Amount) String() string {
	return amount.value.StringFixed(amountScale)
}

// PaymentMethod says how a booking or refund was paid.
type PaymentMethod string

const (
	MethodWallet     PaymentMethod = "Wallet"
	MethodUPI        PaymentMethod = "UPI"
	MethodCard       PaymentMethod = "Card"
	MethodNetBanking PaymentMethod = "Net Banking"
	MethodCash       PaymentMethod = "Cash"
)

// ParsePaymentMethod validates a payment method label.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch method := PaymentMethod(strings.TrimSpace(raw)); method {
	case MethodWallet, MethodUPI, MethodCard, MethodNetBanking, MethodCash:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
}

// String returns the method label.
func (method PaymentMethod) String() string {
	return string(method)
}

// UsesWallet reports whether the method moves money on the account balance.
func (method PaymentMethod) UsesWallet() bool {
	return method == MethodWallet
}

// Passenger is one traveller on a booking request.
type Passenger struct {
	Name          string
	Age           int
	Gender        string
	BerthRequired *bool
}

// Account is a shared prepaid account. Balance is written only by the wallet ledger.
type Account struct {
	ID                   AccountID
	Username             Username
	Password             string
	Balance              decimal.Decimal
	LastUsedDate         *time.Time
	PreviousLastUsedDate *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// RefundRecord is embedded in a booking once money came back.
type RefundRecord struct {
	Amount          Amount
	Date            time.Time
	Method          PaymentMethod
	AccountUsername Username
}

// Booking is a train booking request.
type Booking struct {
	ID               BookingID
	Source           string
	Destination      string
	JourneyDate      time.Time
	BookingDueDate   time.Time
	Passengers       []Passenger
	BookingType      string
	TrainPreference  string
	Remarks          string
	Status           Status
	StatusReason     string
	StatusHandler    string
	GroupID          GroupID
	Refund           *RefundRecord
	PreparedAccounts []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// PassengerCount returns the number of travellers used for group splits.
func (booking Booking) PassengerCount() int {
	return len(booking.Passengers)
}

// BookingRecord is the single payment entry of a booking.
type BookingRecord struct {
	ID              RecordID
	BookingID       BookingID
	BookedBy        string
	AccountUsername Username
	AmountCharged   Amount
	Method          PaymentMethod
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Group links bookings that share one payment event.
type Group struct {
	ID         GroupID
	BookingIDs []BookingID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Contains reports whether bookingID is a member.
func (group Group) Contains(bookingID BookingID) bool {
	for _, member := range group.BookingIDs {
		if member == bookingID {
			return true
		}
	}
	return false
}

// GroupSummary is a group plus the per-status count of its members.
type GroupSummary struct {
	Group         Group
	Bookings      []Booking
	StatusSummary map[Status]int
}

// BookingFilter narrows ListBookings by equality. Zero fields match everything.
type BookingFilter struct {
	Status  Status
	GroupID GroupID
}

// RecordFilter narrows ListRecords by equality.
type RecordFilter struct {
	AccountUsername Username
}

// NormalizeDate drops the clock part of t, keeping its calendar date in UTC.
func NormalizeDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
