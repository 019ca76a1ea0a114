package ledger

import "time"

type fieldState uint8

const (
	fieldKeep fieldState = iota
	fieldSet
	fieldClear
)

// Field is a tagged partial-update value: keep (zero value), Set(v) or Clear.
// Store adapters translate Clear into their native field deletion.
type Field[T any] struct {
	state fieldState
	value T
}

// Set returns a field that writes value.
func Set[T any](value T) Field[T] {
	return Field[T]{state: fieldSet, value: value}
}

// Clear returns a field that removes the stored value.
func Clear[T any]() Field[T] {
	return Field[T]{state: fieldClear}
}

// IsSet reports whether the field writes a value.
func (field Field[T]) IsSet() bool {
	return field.state == fieldSet
}

// IsClear reports whether the field removes the stored value.
func (field Field[T]) IsClear() bool {
	return field.state == fieldClear
}

// IsKeep reports whether the field leaves the stored value untouched.
func (field Field[T]) IsKeep() bool {
	return field.state == fieldKeep
}

// Value returns the value to write and whether there is one.
func (field Field[T]) Value() (T, bool) {
	return field.value, field.state == fieldSet
}

// Apply resolves the field against the current value.
// The second result is false when the field clears the value.
func (field Field[T]) Apply(current T, present bool) (T, bool) {
	switch field.state {
	case fieldSet:
		return field.value, true
	case fieldClear:
		var zero T
		return zero, false
	default:
		return current, present
	}
}

// AccountPatch updates non-balance account fields.
type AccountPatch struct {
	Password             Field[string]
	LastUsedDate         Field[time.Time]
	PreviousLastUsedDate Field[time.Time]
	UpdatedAt            time.Time
}

// BookingPatch updates booking fields. Status changes go through the transition engine.
type BookingPatch struct {
	Source           Field[string]
	Destination      Field[string]
	JourneyDate      Field[time.Time]
	BookingDueDate   Field[time.Time]
	Passengers       Field[[]Passenger]
	BookingType      Field[string]
	TrainPreference  Field[string]
	Remarks          Field[string]
	Status           Field[Status]
	StatusReason     Field[string]
	StatusHandler    Field[string]
	GroupID          Field[GroupID]
	Refund           Field[RefundRecord]
	PreparedAccounts Field[[]string]
	UpdatedAt        time.Time
}

// ApplyToAccount returns account with the patch applied.
func (patch AccountPatch) ApplyToAccount(account Account) Account {
	if password, ok := patch.Password.Value(); ok {
		account.Password = password
	}
	account.LastUsedDate = applyTimeField(patch.LastUsedDate, account.LastUsedDate)
	account.PreviousLastUsedDate = applyTimeField(patch.PreviousLastUsedDate, account.PreviousLastUsedDate)
	if !patch.UpdatedAt.IsZero() {
		account.UpdatedAt = patch.UpdatedAt
	}
	return account
}

// ApplyToBooking returns booking with the patch applied.
func (patch BookingPatch) ApplyToBooking(booking Booking) Booking {
	booking.Source, _ = patch.Source.Apply(booking.Source, true)
	booking.Destination, _ = patch.Destination.Apply(booking.Destination, true)
	booking.JourneyDate, _ = patch.JourneyDate.Apply(booking.JourneyDate, true)
	booking.BookingDueDate, _ = patch.BookingDueDate.Apply(booking.BookingDueDate, true)
	booking.Passengers, _ = patch.Passengers.Apply(booking.Passengers, true)
	booking.BookingType, _ = patch.BookingType.Apply(booking.BookingType, true)
	booking.TrainPreference, _ = patch.TrainPreference.Apply(booking.TrainPreference, true)
	booking.Remarks, _ = patch.Remarks.Apply(booking.Remarks, true)
	booking.Status, _ = patch.Status.Apply(booking.Status, true)
	booking.StatusReason, _ = patch.StatusReason.Apply(booking.StatusReason, true)
	booking.StatusHandler, _ = patch.StatusHandler.Apply(booking.StatusHandler, true)
	booking.GroupID, _ = patch.GroupID.Apply(booking.GroupID, true)
	booking.PreparedAccounts, _ = patch.PreparedAccounts.Apply(booking.PreparedAccounts, true)
	if booking.Refund != nil || !patch.Refund.IsKeep() {
		var current RefundRecord
		if booking.Refund != nil {
			current = *booking.Refund
		}
		refund, present := patch.Refund.Apply(current, booking.Refund != nil)
		if present {
			booking.Refund = &refund
		} else {
			booking.Refund = nil
		}
	}
	if !patch.UpdatedAt.IsZero() {
		booking.UpdatedAt = patch.UpdatedAt
	}
	return booking
}

func applyTimeField(field Field[time.Time], current *time.Time) *time.Time {
	var currentValue time.Time
	if current != nil {
		currentValue = *current
	}
	value, present := field.Apply(currentValue, current != nil)
	if !present {
		return nil
	}
	return &value
}
