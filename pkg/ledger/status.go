package ledger

import (
	"fmt"
	"strings"
)

// Status is a booking lifecycle state.
type Status string

const (
	StatusRequested           Status = "Requested"
	StatusBooked              Status = "Booked"
	StatusMissed              Status = "Missed"
	StatusBookingFailedPaid   Status = "Booking Failed (Paid)"
	StatusBookingFailedUnpaid Status = "Booking Failed (Unpaid)"
	StatusUserCancelled       Status = "User Cancelled"
	StatusCNFCancelled        Status = "CNF & Cancelled"
)

var allStatuses = []Status{
	StatusRequested,
	StatusBooked,
	StatusMissed,
	StatusBookingFailedPaid,
	StatusBookingFailedUnpaid,
	StatusUserCancelled,
	StatusCNFCancelled,
}

// transitions is the allow-list keyed by the current status.
var transitions = map[Status][]Status{
	StatusRequested: {
		StatusBooked,
		StatusMissed,
		StatusBookingFailedPaid,
		StatusBookingFailedUnpaid,
		StatusUserCancelled,
	},
	StatusBooked:              {StatusCNFCancelled, StatusRequested},
	StatusMissed:              {StatusRequested},
	StatusBookingFailedPaid:   {StatusRequested},
	StatusBookingFailedUnpaid: {StatusRequested},
	StatusUserCancelled:       {StatusRequested},
	StatusCNFCancelled:        {StatusRequested},
}

// ParseStatus validates a status label.
func ParseStatus(raw string) (Status, error) {
	trimmed := Status(strings.TrimSpace(raw))
	for _, status := range allStatuses {
		if status == trimmed {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

// Statuses lists every lifecycle state in declaration order.
func Statuses() []Status {
	return append([]Status(nil), allStatuses...)
}

// String returns the status label.
func (status Status) String() string {
	return string(status)
}

// AllowedTransitions returns the statuses reachable from status.
func AllowedTransitions(status Status) []Status {
	return append([]Status(nil), transitions[status]...)
}

// CanTransition reports whether from -> to is on the allow-list.
func CanTransition(from Status, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RequiresPayment reports whether entering status needs a booking record.
func (status Status) RequiresPayment() bool {
	return status == StatusBooked || status == StatusBookingFailedPaid
}

// RequiresReason reports whether entering status needs a non-empty reason.
func (status Status) RequiresReason() bool {
	switch status {
	case StatusMissed, StatusBookingFailedUnpaid, StatusCNFCancelled, StatusUserCancelled:
		return true
	default:
		return false
	}
}

// AllowsRefund reports whether a booking in status may carry a refund.
func (status Status) AllowsRefund() bool {
	return status == StatusBookingFailedPaid || status == StatusCNFCancelled
}
