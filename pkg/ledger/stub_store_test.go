package ledger

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

// stubStore is an in-memory Store. WithTx snapshots the maps and restores
// them when fn fails, so tests can assert that failed operations leave no trace.
type stubStore struct {
	accounts     map[Username]Account
	bookings     map[BookingID]Booking
	bookingOrder []BookingID
	records      map[RecordID]BookingRecord
	groups       map[GroupID]Group

	balanceWrites int
	transactions  int

	getAccountError    error
	updateBalanceError error
	updateAccountError error
	getBookingError    error
	updateBookingError error
	createRecordError  error
	updateRecordError  error
	deleteRecordError  error
	deleteBookingError error
	getGroupError      error
}

type stubSnapshot struct {
	accounts     map[Username]Account
	bookings     map[BookingID]Booking
	bookingOrder []BookingID
	records      map[RecordID]BookingRecord
	groups       map[GroupID]Group
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		accounts: make(map[Username]Account),
		bookings: make(map[BookingID]Booking),
		records:  make(map[RecordID]BookingRecord),
		groups:   make(map[GroupID]Group),
	}
}

func (store *stubStore) snapshot() stubSnapshot {
	state := stubSnapshot{
		accounts:     make(map[Username]Account, len(store.accounts)),
		bookings:     make(map[BookingID]Booking, len(store.bookings)),
		bookingOrder: append([]BookingID(nil), store.bookingOrder...),
		records:      make(map[RecordID]BookingRecord, len(store.records)),
		groups:       make(map[GroupID]Group, len(store.groups)),
	}
	for key, value := range store.accounts {
		state.accounts[key] = value
	}
	for key, value := range store.bookings {
		state.bookings[key] = value
	}
	for key, value := range store.records {
		state.records[key] = value
	}
	for key, value := range store.groups {
		value.BookingIDs = append([]BookingID(nil), value.BookingIDs...)
		state.groups[key] = value
	}
	return state
}

func (store *stubStore) restore(state stubSnapshot) {
	store.accounts = state.accounts
	store.bookings = state.bookings
	store.bookingOrder = state.bookingOrder
	store.records = state.records
	store.groups = state.groups
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.transactions++
	state := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(state)
		return err
	}
	return nil
}

func (store *stubStore) CreateAccount(ctx context.Context, account Account) error {
	if _, exists := store.accounts[account.Username]; exists {
		return ErrDuplicateUsername
	}
	store.accounts[account.Username] = account
	return nil
}

func (store *stubStore) GetAccountByUsername(ctx context.Context, username Username) (Account, error) {
	if store.getAccountError != nil {
		return Account{}, store.getAccountError
	}
	account, ok := store.accounts[username]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, username.String())
	}
	return account, nil
}

func (store *stubStore) ListAccounts(ctx context.Context) ([]Account, error) {
	accounts := make([]Account, 0, len(store.accounts))
	for _, account := range store.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(left, right int) bool {
		return accounts[left].Username.String() < accounts[right].Username.String()
	})
	return accounts, nil
}

func (store *stubStore) accountByID(accountID AccountID) (Account, bool) {
	for _, account := range store.accounts {
		if account.ID == accountID {
			return account, true
		}
	}
	return Account{}, false
}

func (store *stubStore) UpdateAccount(ctx context.Context, accountID AccountID, patch AccountPatch) error {
	if store.updateAccountError != nil {
		return store.updateAccountError
	}
	account, ok := store.accountByID(accountID)
	if !ok {
		return ErrAccountNotFound
	}
	store.accounts[account.Username] = patch.ApplyToAccount(account)
	return nil
}

func (store *stubStore) UpdateAccountBalance(ctx context.Context, accountID AccountID, balance decimal.Decimal, updatedAt time.Time) error {
	if store.updateBalanceError != nil {
		return store.updateBalanceError
	}
	account, ok := store.accountByID(accountID)
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = balance
	account.UpdatedAt = updatedAt
	store.accounts[account.Username] = account
	store.balanceWrites++
	return nil
}

func (store *stubStore) CreateBooking(ctx context.Context, booking Booking) error {
	store.bookings[booking.ID] = booking
	store.bookingOrder = append(store.bookingOrder, booking.ID)
	return nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	if store.getBookingError != nil {
		return Booking{}, store.getBookingError
	}
	booking, ok := store.bookings[bookingID]
	if !ok {
		return Booking{}, fmt.Errorf("%w: %s", ErrBookingNotFound, bookingID.String())
	}
	return booking, nil
}

func (store *stubStore) ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, error) {
	bookings := make([]Booking, 0, len(store.bookingOrder))
	for _, bookingID := range store.bookingOrder {
		booking := store.bookings[bookingID]
		if filter.Status != "" && booking.Status != filter.Status {
			continue
		}
		if !filter.GroupID.IsZero() && booking.GroupID != filter.GroupID {
			continue
		}
		bookings = append(bookings, booking)
	}
	return bookings, nil
}

func (store *stubStore) UpdateBooking(ctx context.Context, bookingID BookingID, patch BookingPatch) error {
	if store.updateBookingError != nil {
		return store.updateBookingError
	}
	booking, ok := store.bookings[bookingID]
	if !ok {
		return ErrBookingNotFound
	}
	store.bookings[bookingID] = patch.ApplyToBooking(booking)
	return nil
}

func (store *stubStore) DeleteBooking(ctx context.Context, bookingID BookingID) error {
	if store.deleteBookingError != nil {
		return store.deleteBookingError
	}
	if _, ok := store.bookings[bookingID]; !ok {
		return ErrBookingNotFound
	}
	delete(store.bookings, bookingID)
	order := make([]BookingID, 0, len(store.bookingOrder))
	for _, existing := range store.bookingOrder {
		if existing != bookingID {
			order = append(order, existing)
		}
	}
	store.bookingOrder = order
	return nil
}

func (store *stubStore) CreateRecord(ctx context.Context, record BookingRecord) error {
	if store.createRecordError != nil {
		return store.createRecordError
	}
	if _, found, _ := store.FindRecordByBooking(ctx, record.BookingID); found {
		return ErrDuplicateRecord
	}
	store.records[record.ID] = record
	return nil
}

func (store *stubStore) GetRecord(ctx context.Context, recordID RecordID) (BookingRecord, error) {
	record, ok := store.records[recordID]
	if !ok {
		return BookingRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (store *stubStore) FindRecordByBooking(ctx context.Context, bookingID BookingID) (BookingRecord, bool, error) {
	for _, record := range store.records {
		if record.BookingID == bookingID {
			return record, true, nil
		}
	}
	return BookingRecord{}, false, nil
}

func (store *stubStore) ListRecords(ctx context.Context, filter RecordFilter) ([]BookingRecord, error) {
	records := make([]BookingRecord, 0, len(store.records))
	for _, record := range store.records {
		if !filter.AccountUsername.IsZero() && record.AccountUsername != filter.AccountUsername {
			continue
		}
		records = append(records, record)
	}
	sort.Slice(records, func(left, right int) bool {
		return records[left].ID.String() < records[right].ID.String()
	})
	return records, nil
}

func (store *stubStore) UpdateRecord(ctx context.Context, record BookingRecord) error {
	if store.updateRecordError != nil {
		return store.updateRecordError
	}
	if _, ok := store.records[record.ID]; !ok {
		return ErrRecordNotFound
	}
	store.records[record.ID] = record
	return nil
}

func (store *stubStore) DeleteRecord(ctx context.Context, recordID RecordID) error {
	if store.deleteRecordError != nil {
		return store.deleteRecordError
	}
	if _, ok := store.records[recordID]; !ok {
		return ErrRecordNotFound
	}
	delete(store.records, recordID)
	return nil
}

func (store *stubStore) CreateGroup(ctx context.Context, group Group) error {
	store.groups[group.ID] = group
	return nil
}

func (store *stubStore) GetGroup(ctx context.Context, groupID GroupID) (Group, error) {
	if store.getGroupError != nil {
		return Group{}, store.getGroupError
	}
	group, ok := store.groups[groupID]
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, groupID.String())
	}
	return group, nil
}

func (store *stubStore) UpdateGroupMembers(ctx context.Context, groupID GroupID, bookingIDs []BookingID, updatedAt time.Time) error {
	group, ok := store.groups[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	group.BookingIDs = append([]BookingID(nil), bookingIDs...)
	group.UpdatedAt = updatedAt
	store.groups[groupID] = group
	return nil
}

func (store *stubStore) DeleteGroup(ctx context.Context, groupID GroupID) error {
	if _, ok := store.groups[groupID]; !ok {
		return ErrGroupNotFound
	}
	delete(store.groups, groupID)
	return nil
}

func (store *stubStore) seedAccount(test *testing.T, username string, balance string) Account {
	test.Helper()
	account := Account{
		ID:        mustAccountID(test, "acct-"+username),
		Username:  mustUsername(test, username),
		Password:  "secret",
		Balance:   mustDecimal(test, balance),
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	store.accounts[account.Username] = account
	return account
}

func (store *stubStore) seedBooking(test *testing.T, id string, passengers int, dueDate time.Time) Booking {
	test.Helper()
	booking := Booking{
		ID:             mustBookingID(test, id),
		Source:         "NDLS",
		Destination:    "BCT",
		JourneyDate:    dueDate.AddDate(0, 0, 30),
		BookingDueDate: dueDate,
		BookingType:    "Tatkal",
		Status:         StatusRequested,
		CreatedAt:      fixedNow,
		UpdatedAt:      fixedNow,
	}
	for index := 0; index < passengers; index++ {
		booking.Passengers = append(booking.Passengers, Passenger{Name: fmt.Sprintf("Passenger %d", index+1), Age: 30, Gender: "Female"})
	}
	store.bookings[booking.ID] = booking
	store.bookingOrder = append(store.bookingOrder, booking.ID)
	return booking
}

func (store *stubStore) mustAccount(test *testing.T, username string) Account {
	test.Helper()
	account, ok := store.accounts[mustUsername(test, username)]
	if !ok {
		test.Fatalf("account %s not found", username)
	}
	return account
}

func (store *stubStore) mustBooking(test *testing.T, id string) Booking {
	test.Helper()
	booking, ok := store.bookings[mustBookingID(test, id)]
	if !ok {
		test.Fatalf("booking %s not found", id)
	}
	return booking
}

func (store *stubStore) recordCount(bookingID BookingID) int {
	count := 0
	for _, record := range store.records {
		if record.BookingID == bookingID {
			count++
		}
	}
	return count
}

// failingStore runs transactions inline and fails every write with err.
type failingStore struct {
	*stubStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	store := newStubStore(test)
	store.updateBalanceError = err
	store.updateAccountError = err
	store.updateBookingError = err
	store.createRecordError = err
	store.updateRecordError = err
	store.deleteRecordError = err
	store.deleteBookingError = err
	return &failingStore{stubStore: store, err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, store)
}

func (store *failingStore) CreateAccount(ctx context.Context, account Account) error {
	return store.err
}

func (store *failingStore) CreateBooking(ctx context.Context, booking Booking) error {
	return store.err
}

func (store *failingStore) CreateGroup(ctx context.Context, group Group) error {
	return store.err
}

func sequentialIDs(prefix string) func() string {
	next := 0
	return func() string {
		next++
		return fmt.Sprintf("%s-%d", prefix, next)
	}
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	options = append([]ServiceOption{WithIDGenerator(sequentialIDs("id"))}, options...)
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUsername(test *testing.T, raw string) Username {
	test.Helper()
	value, err := NewUsername(raw)
	if err != nil {
		test.Fatalf("username: %v", err)
	}
	return value
}

func mustAccountID(test *testing.T, raw string) AccountID {
	test.Helper()
	value, err := NewAccountID(raw)
	if err != nil {
		test.Fatalf("account id: %v", err)
	}
	return value
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	value, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return value
}

func mustGroupID(test *testing.T, raw string) GroupID {
	test.Helper()
	value, err := NewGroupID(raw)
	if err != nil {
		test.Fatalf("group id: %v", err)
	}
	return value
}

func mustAmount(test *testing.T, raw string) Amount {
	test.Helper()
	value, err := ParseAmount(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustDecimal(test *testing.T, raw string) decimal.Decimal {
	test.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		test.Fatalf("decimal: %v", err)
	}
	return value
}

func mustDate(test *testing.T, raw string) time.Time {
	test.Helper()
	value, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		test.Fatalf("date: %v", err)
	}
	return value
}

func assertBalance(test *testing.T, store *stubStore, username string, want string) {
	test.Helper()
	got := store.mustAccount(test, username).Balance
	if !got.Equal(mustDecimal(test, want)) {
		test.Fatalf("expected %s balance %s, got %s", username, want, got.String())
	}
}

func assertDate(test *testing.T, label string, got *time.Time, want string) {
	test.Helper()
	if want == "" {
		if got != nil {
			test.Fatalf("expected %s cleared, got %s", label, got.Format(time.DateOnly))
		}
		return
	}
	if got == nil {
		test.Fatalf("expected %s %s, got nil", label, want)
	}
	if got.Format(time.DateOnly) != want {
		test.Fatalf("expected %s %s, got %s", label, want, got.Format(time.DateOnly))
	}
}

func walletPayment(test *testing.T, bookingID string, username string, amount string) RecordInput {
	test.Helper()
	return RecordInput{
		BookingID:       mustBookingID(test, bookingID),
		BookedBy:        "operator",
		AccountUsername: mustUsername(test, username),
		AmountCharged:   mustAmount(test, amount),
		Method:          MethodWallet,
	}
}
