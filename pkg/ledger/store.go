package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the persistence contract used by Service.
// Every logical operation runs inside WithTx; txStore must be used for all
// reads and writes of that operation so they commit or roll back together.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	CreateAccount(ctx context.Context, account Account) error
	// GetAccountByUsername locks the account row for the rest of the transaction.
	GetAccountByUsername(ctx context.Context, username Username) (Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	UpdateAccount(ctx context.Context, accountID AccountID, patch AccountPatch) error
	// UpdateAccountBalance is reserved for the wallet ledger.
	UpdateAccountBalance(ctx context.Context, accountID AccountID, balance decimal.Decimal, updatedAt time.Time) error

	CreateBooking(ctx context.Context, booking Booking) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error)
	UpdateBooking(ctx context.Context, bookingID BookingID, patch BookingPatch) error
	DeleteBooking(ctx context.Context, bookingID BookingID) error

	CreateRecord(ctx context.Context, record BookingRecord) error
	GetRecord(ctx context.Context, recordID RecordID) (BookingRecord, error)
	// FindRecordByBooking returns the booking's record, if any.
	FindRecordByBooking(ctx context.Context, bookingID BookingID) (BookingRecord, bool, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]BookingRecord, error)
	UpdateRecord(ctx context.Context, record BookingRecord) error
	DeleteRecord(ctx context.Context, recordID RecordID) error

	CreateGroup(ctx context.Context, group Group) error
	GetGroup(ctx context.Context, groupID GroupID) (Group, error)
	UpdateGroupMembers(ctx context.Context, groupID GroupID, bookingIDs []BookingID, updatedAt time.Time) error
	DeleteGroup(ctx context.Context, groupID GroupID) error
}
