package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	AccountID            string          `gorm:"size:64;primaryKey"`
	Username             string          `gorm:"size:191;not null;uniqueIndex:idx_accounts_username"`
	Password             string          `gorm:"not null"`
	Balance              decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	LastUsedDate         *time.Time
	PreviousLastUsedDate *time.Time
	CreatedAt            time.Time `gorm:"not null"`
	UpdatedAt            time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// Booking mirrors the bookings table. The refund is flattened into nullable columns.
type Booking struct {
	BookingID        string                             `gorm:"size:64;primaryKey"`
	Source           string                             `gorm:"size:64;not null"`
	Destination      string                             `gorm:"size:64;not null"`
	JourneyDate      time.Time                          `gorm:"not null"`
	BookingDueDate   time.Time                          `gorm:"not null"`
	Passengers       datatypes.JSONSlice[PassengerJSON] `gorm:"not null"`
	BookingType      string                             `gorm:"size:32;not null"`
	TrainPreference  string
	Remarks          string
	Status           string              `gorm:"size:32;not null;index:idx_bookings_status"`
	StatusReason     *string             `gorm:"size:500"`
	StatusHandler    *string             `gorm:"size:128"`
	GroupID          *string             `gorm:"size:64;index:idx_bookings_group"`
	RefundAmount     decimal.NullDecimal `gorm:"type:decimal(14,2)"`
	RefundDate       *time.Time
	RefundMethod     *string                     `gorm:"size:32"`
	RefundAccount    *string                     `gorm:"size:191"`
	PreparedAccounts datatypes.JSONSlice[string] `gorm:"not null"`
	CreatedAt        time.Time                   `gorm:"not null;index:idx_bookings_created"`
	UpdatedAt        time.Time                   `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// PassengerJSON is the stored shape of one passenger.
type PassengerJSON struct {
	Name          string `json:"name"`
	Age           int    `json:"age"`
	Gender        string `json:"gender,omitempty"`
	BerthRequired *bool  `json:"berthRequired,omitempty"`
}

// BookingRecord mirrors the booking_records table. A booking has at most one record.
type BookingRecord struct {
	RecordID        string          `gorm:"size:64;primaryKey"`
	BookingID       string          `gorm:"size:64;not null;uniqueIndex:idx_booking_records_booking"`
	BookedBy        string          `gorm:"size:128;not null"`
	AccountUsername string          `gorm:"size:191;not null;index:idx_booking_records_account"`
	AmountCharged   decimal.Decimal `gorm:"type:decimal(14,2);not null"`
	Method          string          `gorm:"size:32;not null"`
	CreatedAt       time.Time       `gorm:"not null"`
	UpdatedAt       time.Time       `gorm:"not null"`
}

func (BookingRecord) TableName() string { return "booking_records" }

func (record *BookingRecord) BeforeCreate(tx *gorm.DB) error {
	if record.RecordID == "" {
		record.RecordID = uuid.NewString()
	}
	return nil
}

// BookingGroup mirrors the booking_groups table.
type BookingGroup struct {
	GroupID    string                      `gorm:"size:64;primaryKey"`
	BookingIDs datatypes.JSONSlice[string] `gorm:"not null"`
	CreatedAt  time.Time                   `gorm:"not null"`
	UpdatedAt  time.Time                   `gorm:"not null"`
}

func (BookingGroup) TableName() string { return "booking_groups" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&Account{}, &Booking{}, &BookingRecord{}, &BookingGroup{}}
}
