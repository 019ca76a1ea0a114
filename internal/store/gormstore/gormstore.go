package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode    = "23505"
	sqliteConstraintCode     = 19
	mysqlDuplicateEntryCode  = 1062
	errorOperationStore      = "store"
	errorSubjectAccount      = "account"
	errorSubjectBooking      = "booking"
	errorSubjectRecord       = "record"
	errorSubjectGroup        = "group"
	errorCodeCreate          = "create"
	errorCodeDelete          = "delete"
	errorCodeDuplicate       = "duplicate"
	errorCodeGet             = "get"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeUpdate          = "update"
	errorCodeUpdateBalance   = "update_balance"
	columnUpdatedAt          = "updated_at"
	lockingStrengthForUpdate = "UPDATE"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAccount(ctx context.Context, account ledger.Account) error {
	model := Account{
		AccountID:            account.ID.String(),
		Username:             account.Username.String(),
		Password:             account.Password,
		Balance:              account.Balance,
		LastUsedDate:         account.LastUsedDate,
		PreviousLastUsedDate: account.PreviousLastUsedDate,
		CreatedAt:            account.CreatedAt,
		UpdatedAt:            account.UpdatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrDuplicateUsername)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

// GetAccountByUsername reads the account with a row lock held until the transaction ends.
func (store *Store) GetAccountByUsername(ctx context.Context, username ledger.Username) (ledger.Account, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: lockingStrengthForUpdate}).
		Where("username = ?", username.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, username.String()))
		}
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return ledger.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var rows []Account
	if err := store.db.WithContext(ctx).Order("username ASC").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]ledger.Account, 0, len(rows))
	for _, row := range rows {
		account, err := mapAccount(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *Store) UpdateAccount(ctx context.Context, accountID ledger.AccountID, patch ledger.AccountPatch) error {
	updates := map[string]any{columnUpdatedAt: patch.UpdatedAt}
	if password, ok := patch.Password.Value(); ok {
		updates["password"] = password
	}
	putTimeField(updates, "last_used_date", patch.LastUsedDate)
	putTimeField(updates, "previous_last_used_date", patch.PreviousLastUsedDate)
	err := store.update(ctx, &Account{}, "account_id", accountID.String(), updates)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID ledger.AccountID, balance decimal.Decimal, updatedAt time.Time) error {
	updates := map[string]any{"balance": balance, columnUpdatedAt: updatedAt}
	err := store.update(ctx, &Account{}, "account_id", accountID.String(), updates)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdateBalance, err)
	}
	return nil
}

func (store *Store) CreateBooking(ctx context.Context, booking ledger.Booking) error {
	model := bookingModel(booking)
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrBookingNotFound, bookingID.String()))
		}
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	booking, err := mapBooking(model)
	if err != nil {
		return ledger.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking, nil
}

func (store *Store) ListBookings(ctx context.Context, filter ledger.BookingFilter) ([]ledger.Booking, error) {
	query := store.db.WithContext(ctx).Order("created_at ASC, booking_id ASC")
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status.String())
	}
	if !filter.GroupID.IsZero() {
		query = query.Where("group_id = ?", filter.GroupID.String())
	}
	var rows []Booking
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeList, err)
	}
	bookings := make([]ledger.Booking, 0, len(rows))
	for _, row := range rows {
		booking, err := mapBooking(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func (store *Store) UpdateBooking(ctx context.Context, bookingID ledger.BookingID, patch ledger.BookingPatch) error {
	err := store.update(ctx, &Booking{}, "booking_id", bookingID.String(), bookingUpdates(patch))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, ledger.ErrBookingNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteBooking(ctx context.Context, bookingID ledger.BookingID) error {
	result := store.db.WithContext(ctx).Where("booking_id = ?", bookingID.String()).Delete(&Booking{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBooking, errorCodeDelete, ledger.ErrBookingNotFound)
	}
	return nil
}

func (store *Store) CreateRecord(ctx context.Context, record ledger.BookingRecord) error {
	model := recordModel(record)
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err) {
		return wrapStoreError(errorSubjectRecord, errorCodeDuplicate, ledger.ErrDuplicateRecord)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetRecord(ctx context.Context, recordID ledger.RecordID) (ledger.BookingRecord, error) {
	var model BookingRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: lockingStrengthForUpdate}).
		Where("record_id = ?", recordID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.BookingRecord{}, wrapStoreError(errorSubjectRecord, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, recordID.String()))
		}
		return ledger.BookingRecord{}, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	record, err := mapRecord(model)
	if err != nil {
		return ledger.BookingRecord{}, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	return record, nil
}

func (store *Store) FindRecordByBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.BookingRecord, bool, error) {
	var rows []BookingRecord
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: lockingStrengthForUpdate}).
		Where("booking_id = ?", bookingID.String()).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return ledger.BookingRecord{}, false, wrapStoreError(errorSubjectRecord, errorCodeGet, err)
	}
	if len(rows) == 0 {
		return ledger.BookingRecord{}, false, nil
	}
	record, err := mapRecord(rows[0])
	if err != nil {
		return ledger.BookingRecord{}, false, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
	}
	return record, true, nil
}

func (store *Store) ListRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.BookingRecord, error) {
	query := store.db.WithContext(ctx).Order("created_at ASC, record_id ASC")
	if !filter.AccountUsername.IsZero() {
		query = query.Where("account_username = ?", filter.AccountUsername.String())
	}
	var rows []BookingRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectRecord, errorCodeList, err)
	}
	records := make([]ledger.BookingRecord, 0, len(rows))
	for _, row := range rows {
		record, err := mapRecord(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectRecord, errorCodeInvalid, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (store *Store) UpdateRecord(ctx context.Context, record ledger.BookingRecord) error {
	updates := map[string]any{
		"booked_by":        record.BookedBy,
		"account_username": record.AccountUsername.String(),
		"amount_charged":   record.AmountCharged.Decimal(),
		"method":           record.Method.String(),
		columnUpdatedAt:    record.UpdatedAt,
	}
	err := store.update(ctx, &BookingRecord{}, "record_id", record.ID.String(), updates)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, ledger.ErrRecordNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteRecord(ctx context.Context, recordID ledger.RecordID) error {
	result := store.db.WithContext(ctx).Where("record_id = ?", recordID.String()).Delete(&BookingRecord{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectRecord, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectRecord, errorCodeDelete, ledger.ErrRecordNotFound)
	}
	return nil
}

func (store *Store) CreateGroup(ctx context.Context, group ledger.Group) error {
	model := BookingGroup{
		GroupID:    group.ID.String(),
		BookingIDs: datatypes.NewJSONSlice(bookingIDStrings(group.BookingIDs)),
		CreatedAt:  group.CreatedAt,
		UpdatedAt:  group.UpdatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectGroup, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetGroup(ctx context.Context, groupID ledger.GroupID) (ledger.Group, error) {
	var model BookingGroup
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: lockingStrengthForUpdate}).
		Where("group_id = ?", groupID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Group{}, wrapStoreError(errorSubjectGroup, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrGroupNotFound, groupID.String()))
		}
		return ledger.Group{}, wrapStoreError(errorSubjectGroup, errorCodeGet, err)
	}
	group, err := mapGroup(model)
	if err != nil {
		return ledger.Group{}, wrapStoreError(errorSubjectGroup, errorCodeInvalid, err)
	}
	return group, nil
}

func (store *Store) UpdateGroupMembers(ctx context.Context, groupID ledger.GroupID, bookingIDs []ledger.BookingID, updatedAt time.Time) error {
	updates := map[string]any{
		"booking_ids":   datatypes.NewJSONSlice(bookingIDStrings(bookingIDs)),
		columnUpdatedAt: updatedAt,
	}
	err := store.update(ctx, &BookingGroup{}, "group_id", groupID.String(), updates)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wrapStoreError(errorSubjectGroup, errorCodeUpdate, ledger.ErrGroupNotFound)
	}
	if err != nil {
		return wrapStoreError(errorSubjectGroup, errorCodeUpdate, err)
	}
	return nil
}

func (store *Store) DeleteGroup(ctx context.Context, groupID ledger.GroupID) error {
	result := store.db.WithContext(ctx).Where("group_id = ?", groupID.String()).Delete(&BookingGroup{})
	if result.Error != nil {
		return wrapStoreError(errorSubjectGroup, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectGroup, errorCodeDelete, ledger.ErrGroupNotFound)
	}
	return nil
}

// update applies column updates by primary key and reports gorm.ErrRecordNotFound
// when the row does not exist. MySQL counts unchanged rows as unaffected, so a
// zero count is confirmed with a lookup.
func (store *Store) update(ctx context.Context, model any, keyColumn string, key string, updates map[string]any) error {
	result := store.db.WithContext(ctx).Model(model).Where(keyColumn+" = ?", key).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := store.db.WithContext(ctx).Model(model).Where(keyColumn+" = ?", key).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func putTimeField(updates map[string]any, column string, field ledger.Field[time.Time]) {
	switch {
	case field.IsSet():
		value, _ := field.Value()
		updates[column] = value
	case field.IsClear():
		updates[column] = nil
	}
}

func putTextField(updates map[string]any, column string, field ledger.Field[string]) {
	switch {
	case field.IsSet():
		value, _ := field.Value()
		updates[column] = value
	case field.IsClear():
		updates[column] = nil
	}
}

// bookingUpdates turns a patch into column updates. Clear becomes NULL for
// nullable columns and the empty value for required ones.
func bookingUpdates(patch ledger.BookingPatch) map[string]any {
	updates := map[string]any{columnUpdatedAt: patch.UpdatedAt}
	if value, ok := patch.Source.Value(); ok {
		updates["source"] = value
	}
	if value, ok := patch.Destination.Value(); ok {
		updates["destination"] = value
	}
	if value, ok := patch.JourneyDate.Value(); ok {
		updates["journey_date"] = value
	}
	if value, ok := patch.BookingDueDate.Value(); ok {
		updates["booking_due_date"] = value
	}
	if value, ok := patch.Passengers.Value(); ok {
		updates["passengers"] = datatypes.NewJSONSlice(passengerModels(value))
	}
	if value, ok := patch.BookingType.Value(); ok {
		updates["booking_type"] = value
	}
	if patch.TrainPreference.IsClear() {
		updates["train_preference"] = ""
	} else if value, ok := patch.TrainPreference.Value(); ok {
		updates["train_preference"] = value
	}
	if patch.Remarks.IsClear() {
		updates["remarks"] = ""
	} else if value, ok := patch.Remarks.Value(); ok {
		updates["remarks"] = value
	}
	if value, ok := patch.Status.Value(); ok {
		updates["status"] = value.String()
	}
	putTextField(updates, "status_reason", patch.StatusReason)
	putTextField(updates, "status_handler", patch.StatusHandler)
	switch {
	case patch.GroupID.IsSet():
		value, _ := patch.GroupID.Value()
		updates["group_id"] = value.String()
	case patch.GroupID.IsClear():
		updates["group_id"] = nil
	}
	switch {
	case patch.Refund.IsSet():
		refund, _ := patch.Refund.Value()
		updates["refund_amount"] = decimal.NewNullDecimal(refund.Amount.Decimal())
		updates["refund_date"] = refund.Date
		updates["refund_method"] = refund.Method.String()
		updates["refund_account"] = refund.AccountUsername.String()
	case patch.Refund.IsClear():
		updates["refund_amount"] = nil
		updates["refund_date"] = nil
		updates["refund_method"] = nil
		updates["refund_account"] = nil
	}
	if !patch.PreparedAccounts.IsKeep() {
		value, _ := patch.PreparedAccounts.Value()
		updates["prepared_accounts"] = datatypes.NewJSONSlice(append([]string{}, value...))
	}
	return updates
}

func isUniqueConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntryCode
	}
	return false
}
