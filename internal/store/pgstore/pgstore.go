// Package pgstore implements ledger.Store with hand-written PostgreSQL over database/sql.
package pgstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
)

const (
	constraintAccountUsername    = "accounts_username_key"
	constraintRecordBooking      = "booking_records_booking_id_key"
	pgUniqueViolationCode        = "23505"
	errorOperationStore          = "store"
	errorSubjectAccount          = "account"
	errorSubjectBooking          = "booking"
	errorSubjectRecord           = "record"
	errorSubjectGroup            = "group"
	errorSubjectSchema           = "schema"
	errorSubjectTransaction      = "transaction"
	errorCodeBegin               = "begin"
	errorCodeCommit              = "commit"
	errorCodeCreate              = "create"
	errorCodeDelete              = "delete"
	errorCodeDuplicate           = "duplicate"
	errorCodeEncode              = "encode"
	errorCodeGet                 = "get"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeMigrate             = "migrate"
	errorCodeUpdate              = "update"
	errorCodeUpdateBalance       = "update_balance"
	columnUpdatedAt              = "updated_at"
	accountColumns               = "account_id, username, password, balance, last_used_date, previous_last_used_date, created_at, updated_at"
	recordColumns                = "record_id, booking_id, booked_by, account_username, amount_charged, method, created_at, updated_at"
	groupColumns                 = "group_id, booking_ids, created_at, updated_at"
	bookingColumns               = "booking_id, source, destination, journey_date, booking_due_date, passengers, booking_type, train_preference, remarks, status, status_reason, status_handler, group_id, refund_amount, refund_date, refund_method, refund_account, prepared_accounts, created_at, updated_at"
	sqlInsertAccount             = "insert into accounts(" + accountColumns + ") values($1, $2, $3, $4, $5, $6, $7, $8)"
	sqlSelectAccountByUsername   = "select " + accountColumns + " from accounts where username = $1 for update"
	sqlListAccounts              = "select " + accountColumns + " from accounts order by username asc"
	sqlUpdateAccountBalance      = "update accounts set balance = $2, updated_at = $3 where account_id = $1"
	sqlInsertBooking             = "insert into bookings(" + bookingColumns + ") values($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18::jsonb, $19, $20)"
	sqlSelectBooking             = "select " + bookingColumns + " from bookings where booking_id = $1"
	sqlListBookings              = "select " + bookingColumns + " from bookings"
	sqlListBookingsOrder         = " order by created_at asc, booking_id asc"
	sqlDeleteBooking             = "delete from bookings where booking_id = $1"
	sqlInsertRecord              = "insert into booking_records(" + recordColumns + ") values($1, $2, $3, $4, $5, $6, $7, $8)"
	sqlSelectRecord              = "select " + recordColumns + " from booking_records where record_id = $1 for update"
	sqlSelectRecordByBooking     = "select " + recordColumns + " from booking_records where booking_id = $1 for update"
	sqlListRecords               = "select " + recordColumns + " from booking_records"
	sqlListRecordsOrder          = " order by created_at asc, record_id asc"
	sqlUpdateRecord              = "update booking_records set booked_by = $2, account_username = $3, amount_charged = $4, method = $5, updated_at = $6 where record_id = $1"
	sqlDeleteRecord              = "delete from booking_records where record_id = $1"
	sqlInsertGroup               = "insert into booking_groups(" + groupColumns + ") values($1, $2::jsonb, $3, $4)"
	sqlSelectGroup               = "select " + groupColumns + " from booking_groups where group_id = $1 for update"
	sqlUpdateGroupMembers        = "update booking_groups set booking_ids = $2::jsonb, updated_at = $3 where group_id = $1"
	sqlDeleteGroup               = "delete from booking_groups where group_id = $1"
	driverName                   = "pgx"
	migrationStatementSeparator  = ";"
	assignmentSeparator          = ", "
	conditionSeparator           = " and "
	updateStatementFormat        = "update %s set %s where %s = $%d"
	tableAccounts                = "accounts"
	tableBookings                = "bookings"
	keyAccountID                 = "account_id"
	keyBookingID                 = "booking_id"
	defaultConnectionMaxLifetime = 30 * time.Minute
	defaultMaxOpenConnections    = 10
	defaultMaxIdleConnections    = 5
	defaultConnectionMaxIdleTime = 5 * time.Minute
	jsonbCast                    = "::jsonb"
)

//go:embed schema.sql
var schemaSQL string

// executor is satisfied by *sql.DB and *sql.Tx.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.Store on a database/sql handle.
// Inside WithTx the same type runs against the open transaction.
type Store struct {
	db       *sql.DB
	executor executor
	inTx     bool
}

// New returns a Store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db, executor: db}
}

// Open connects through the pgx stdlib driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	config, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	db := stdlib.OpenDB(*config)
	db.SetMaxOpenConns(defaultMaxOpenConnections)
	db.SetMaxIdleConns(defaultMaxIdleConnections)
	db.SetConnMaxLifetime(defaultConnectionMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnectionMaxIdleTime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (store *Store) Migrate(ctx context.Context) error {
	for _, statement := range strings.Split(schemaSQL, migrationStatementSeparator) {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if _, err := store.executor.ExecContext(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
		}
	}
	return nil
}

// WithTx runs fn inside one database transaction. Nested calls reuse the open transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	tx, err := store.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{db: store.db, executor: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	_, err := store.executor.ExecContext(ctx, sqlInsertAccount,
		account.ID.String(),
		account.Username.String(),
		account.Password,
		account.Balance,
		nullTime(account.LastUsedDate),
		nullTime(account.PreviousLastUsedDate),
		account.CreatedAt,
		account.UpdatedAt,
	)
	if isConstraintViolation(err, constraintAccountUsername) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrDuplicateUsername)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAccountByUsername(ctx context.Context, username ledger.Username) (ledger.Account, error) {
	account, err := scanAccount(store.executor.QueryRowContext(ctx, sqlSelectAccountByUsername, username.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, username.String()))
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := store.executor.QueryContext(ctx, sqlListAccounts)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	defer rows.Close()
	accounts := make([]ledger.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return accounts, nil
}

func (store *Store) UpdateAccount(ctx context.Context, accountID ledger.AccountID, patch ledger.AccountPatch) error {
	assignments := &assignmentList{}
	if password, ok := patch.Password.Value(); ok {
		assignments.add("password", password)
	}
	assignments.addTime("last_used_date", patch.LastUsedDate)
	assignments.addTime("previous_last_used_date", patch.PreviousLastUsedDate)
	assignments.add(columnUpdatedAt, patch.UpdatedAt)
	query, args := assignments.statement(tableAccounts, keyAccountID, accountID.String())
	if err := store.exec(ctx, query, args...); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
		}
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID ledger.AccountID, balance decimal.Decimal, updatedAt time.Time) error {
	if err := store.exec(ctx, sqlUpdateAccountBalance, accountID.String(), balance, updatedAt); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, ledger.ErrAccountNotFound)
		}
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, err)
	}
	return nil
}

func (store *Store) CreateBooking(ctx context.Context, booking ledger.Booking) error {
	passengers, err := encodePassengers(booking.Passengers)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	preparedAccounts, err := encodeStrings(booking.PreparedAccounts)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	refund := refundColumns(booking.Refund)
	_, err = store.executor.ExecContext(ctx, sqlInsertBooking,
		booking.ID.String(),
		booking.Source,
		booking.Destination,
		booking.JourneyDate,
		booking.BookingDueDate,
		passengers,
		booking.BookingType,
		booking.TrainPreference,
		booking.Remarks,
		booking.Status.String(),
		nullString(booking.StatusReason),
		nullString(booking.StatusHandler),
		nullString(booking.GroupID.String()),
		refund.amount,
		refund.date,
		refund.method,
		refund.account,
		preparedAccounts,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.Booking, error) {
	booking, err := scanBooking(store.executor.QueryRowContext(ctx, sqlSelectBooking, bookingID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrBookingNotFound, bookingID.String()))
		}
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	return booking, nil
}

func (store *Store) ListBookings(ctx context.Context, filter ledger.BookingFilter) ([]ledger.Booking, error) {
	conditions := &conditionList{}
	if filter.Status != "" {
		conditions.add("status", filter.Status.String())
	}
	if !filter.GroupID.IsZero() {
		conditions.add("group_id", filter.GroupID.String())
	}
	query := sqlListBookings + conditions.clause() + sqlListBookingsOrder
	rows, err := store.executor.QueryContext(ctx, query, conditions.args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	defer rows.Close()
	bookings := make([]ledger.Booking, 0)
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, booking)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	return bookings, nil
}

func (store *Store) UpdateBooking(ctx context.Context, bookingID ledger.BookingID, patch ledger.BookingPatch) error {
	assignments, err := bookingAssignments(patch)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeEncode, err)
	}
	query, args := assignments.statement(tableBookings, keyBookingID, bookingID.String())
	if err := store.exec(ctx, query, args...); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectBooking, errorCodeUpdate, ledger.ErrBookingNotFound)
		}
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteBooking(ctx context.Context, bookingID ledger.BookingID) error {
	if err := store.exec(ctx, sqlDeleteBooking, bookingID.String()); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectBooking, errorCodeDelete, ledger.ErrBookingNotFound)
		}
		return wrapStoreError(errorSubjectBooking, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) CreateRecord(ctx context.Context, record ledger.BookingRecord) error {
	_, err := store.executor.ExecContext(ctx, sqlInsertRecord,
		record.ID.String(),
		record.BookingID.String(),
		record.BookedBy,
		record.AccountUsername.String(),
		record.AmountCharged.Decimal(),
		record.Method.String(),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if isConstraintViolation(err, constraintRecordBooking) {
		return wrapStoreError(errorSubjectRecord, errorCodeDuplicate, ledger.ErrDuplicateRecord)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRecord(ctx context.Context, recordID ledger.RecordID) (ledger.BookingRecord, error) {
	record, err := scanRecord(store.executor.QueryRowContext(ctx, sqlSelectRecord, recordID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.BookingRecord{}, wrapStoreError(errorSubjectRecord, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, recordID.String()))
		}
		return ledger.BookingRecord{}, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	return record, nil
}

func (store *Store) FindRecordByBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.BookingRecord, bool, error) {
	record, err := scanRecord(store.executor.QueryRowContext(ctx, sqlSelectRecordByBooking, bookingID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.BookingRecord{}, false, nil
		}
		return ledger.BookingRecord{}, false, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	return record, true, nil
}

func (store *Store) ListRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.BookingRecord, error) {
	conditions := &conditionList{}
	if !filter.AccountUsername.IsZero() {
		conditions.add("account_username", filter.AccountUsername.String())
	}
	rows, err := store.executor.QueryContext(ctx, sqlListRecords+conditions.clause()+sqlListRecordsOrder, conditions.args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, err)
	}
	defer rows.Close()
	records := make([]ledger.BookingRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, err)
	}
	return records, nil
}

func (store *Store) UpdateRecord(ctx context.Context, record ledger.BookingRecord) error {
	err := store.exec(ctx, sqlUpdateRecord,
		record.ID.String(),
		record.BookedBy,
		record.AccountUsername.String(),
		record.AmountCharged.Decimal(),
		record.Method.String(),
		record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectRecord, errorCodeUpdate, ledger.ErrRecordNotFound)
		}
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteRecord(ctx context.Context, recordID ledger.RecordID) error {
	if err := store.exec(ctx, sqlDeleteRecord, recordID.String()); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectRecord, errorCodeDelete, ledger.ErrRecordNotFound)
		}
		return wrapStoreError(errorSubjectRecord, errorCodeDelete, err)
	}
	return nil
}

func (store *Store) CreateGroup(ctx context.Context, group ledger.Group) error {
	members, err := encodeStrings(bookingIDStrings(group.BookingIDs))
	if err != nil {
		return wrapStoreError(errorSubjectGroup, errorCodeEncode, err)
	}
	if _, err := store.executor.ExecContext(ctx, sqlInsertGroup, group.ID.String(), members, group.CreatedAt, group.UpdatedAt); err != nil {
		return wrapStoreError(errorSubjectGroup, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetGroup(ctx context.Context, groupID ledger.GroupID) (ledger.Group, error) {
	group, err := scanGroup(store.executor.QueryRowContext(ctx, sqlSelectGroup, groupID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Group{}, wrapStoreError(errorSubjectGroup, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrGroupNotFound, groupID.String()))
		}
		return ledger.Group{}, wrapStoreError(errorSubjectGroup, errorCodeGet, err)
	}
	return group, nil
}

func (store *Store) UpdateGroupMembers(ctx context.Context, groupID ledger.GroupID, bookingIDs []ledger.BookingID, updatedAt time.Time) error {
	members, err := encodeStrings(bookingIDStrings(bookingIDs))
	if err != nil {
		return wrapStoreError(errorSubjectGroup, errorCodeEncode, err)
	}
	if err := store.exec(ctx, sqlUpdateGroupMembers, groupID.String(), members, updatedAt); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectGroup, errorCodeUpdate, ledger.ErrGroupNotFound)
		}
		return wrapStoreError(errorSubjectGroup, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteGroup(ctx context.Context, groupID ledger.GroupID) error {
	if err := store.exec(ctx, sqlDeleteGroup, groupID.String()); err != nil {
		if errors.Is(err, errNoRowsAffected) {
			return wrapStoreError(errorSubjectGroup, errorCodeDelete, ledger.ErrGroupNotFound)
		}
		return wrapStoreError(errorSubjectGroup, errorCodeDelete, err)
	}
	return nil
}

var errNoRowsAffected = errors.New("no rows affected")

// exec runs a single-row write and reports errNoRowsAffected when nothing matched.
func (store *Store) exec(ctx context.Context, query string, args ...any) error {
	result, err := store.executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errNoRowsAffected
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isConstraintViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
