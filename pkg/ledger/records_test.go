package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestUpsertRecordAliceScenario(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "500")
	store.seedBooking(test, "B1", 1, mustDate(test, "2026-03-10"))
	service := mustNewService(test, store)
	ctx := context.Background()

	if _, err := service.UpsertRecord(ctx, walletPayment(test, "B1", "alice", "200")); err != nil {
		test.Fatalf("create record: %v", err)
	}
	assertBalance(test, store, "alice", "300")

	if _, err := service.UpsertRecord(ctx, walletPayment(test, "B1", "alice", "350")); err != nil {
		test.Fatalf("edit to 350: %v", err)
	}
	assertBalance(test, store, "alice", "150")

	_, err := service.UpsertRecord(ctx, walletPayment(test, "B1", "alice", "600"))
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) {
		test.Fatalf("expected InsufficientBalanceError, got %v", err)
	}
	if !insufficient.Available.Equal(mustDecimal(test, "500")) || !insufficient.Required.Equal(mustDecimal(test, "600")) {
		test.Fatalf("expected available 500 required 600, got %s/%s", insufficient.Available, insufficient.Required)
	}
	assertBalance(test, store, "alice", "150")
	record, err := service.GetRecordForBooking(ctx, mustBookingID(test, "B1"))
	if err != nil {
		test.Fatalf("get record: %v", err)
	}
	if record.AmountCharged.String() != "350.00" {
		test.Fatalf("expected record untouched at 350.00, got %s", record.AmountCharged.String())
	}
}

func TestUpsertRecordEditChargesOnlyTheDifference(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name   string
		first  string
		second string
		want   string
	}{
		{name: "increase", first: "100", second: "180", want: "820"},
		{name: "decrease", first: "400", second: "250.75", want: "749.25"},
		{name: "same", first: "90", second: "90", want: "910"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.seedAccount(test, "alice", "1000")
			store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
			service := mustNewService(test, store)

			if _, err := service.UpsertRecord(context.Background(), walletPayment(test, "b1", "alice", testCase.first)); err != nil {
				test.Fatalf("create record: %v", err)
			}
			if _, err := service.UpsertRecord(context.Background(), walletPayment(test, "b1", "alice", testCase.second)); err != nil {
				test.Fatalf("edit record: %v", err)
			}
			assertBalance(test, store, "alice", testCase.want)
			if store.recordCount(mustBookingID(test, "b1")) != 1 {
				test.Fatalf("expected a single record")
			}
		})
	}
}

func TestUpsertRecordSwitchingAccountsRestoresOldPayer(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "500")
	store.seedAccount(test, "bob", "300")
	store.seedBooking(test, "b1", 2, mustDate(test, "2026-03-10"))
	service := mustNewService(test, store)
	ctx := context.Background()

	if _, err := service.UpsertRecord(ctx, walletPayment(test, "b1", "alice", "200")); err != nil {
		test.Fatalf("create record: %v", err)
	}
	if _, err := service.UpsertRecord(ctx, walletPayment(test, "b1", "bob", "250")); err != nil {
		test.Fatalf("switch payer: %v", err)
	}
	assertBalance(test, store, "alice", "500")
	assertBalance(test, store, "bob", "50")

	alice := store.mustAccount(test, "alice")
	assertDate(test, "alice last used", alice.LastUsedDate, "")
	assertDate(test, "alice previous", alice.PreviousLastUsedDate, "")
	bob := store.mustAccount(test, "bob")
	assertDate(test, "bob last used", bob.LastUsedDate, "2026-03-10")
}

func TestUpsertRecordSwitchingAccountsChecksNewPayerWithoutReversal(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "500")
	store.seedAccount(test, "bob", "100")
	store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
	service := mustNewService(test, store)
	ctx := context.Background()

	if _, err := service.UpsertRecord(ctx, walletPayment(test, "b1", "alice", "200")); err != nil {
		test.Fatalf("create record: %v", err)
	}
	_, err := service.UpsertRecord(ctx, walletPayment(test, "b1", "bob", "150"))
	var insufficient *InsufficientBalanceError
	if !errors.As(err, &insufficient) || !insufficient.Available.Equal(mustDecimal(test, "100")) {
		test.Fatalf("expected bob short of funds at 100, got %v", err)
	}
	assertBalance(test, store, "alice", "300")
	assertBalance(test, store, "bob", "100")
}

func TestUpsertRecordNonWalletLeavesBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "500")
	store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
	service := mustNewService(test, store)
	ctx := context.Background()

	payment := walletPayment(test, "b1", "alice", "200")
	if _, err := service.UpsertRecord(ctx, payment); err != nil {
		test.Fatalf("create wallet record: %v", err)
	}
	payment.Method = MethodUPI
	payment.AmountCharged = mustAmount(test, "900")
	if _, err := service.UpsertRecord(ctx, payment); err != nil {
		test.Fatalf("switch to UPI: %v", err)
	}
	assertBalance(test, store, "alice", "500")
	payment.Method = MethodWallet
	payment.AmountCharged = mustAmount(test, "50")
	if _, err := service.UpsertRecord(ctx, payment); err != nil {
		test.Fatalf("switch back to wallet: %v", err)
	}
	assertBalance(test, store, "alice", "450")
}

func TestUpsertRecordTracksLastUsedDates(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "1000")
	store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
	store.seedBooking(test, "b2", 1, mustDate(test, "2026-03-20"))
	service := mustNewService(test, store)
	ctx := context.Background()

	first, err := service.UpsertRecord(ctx, walletPayment(test, "b1", "alice", "100"))
	if err != nil {
		test.Fatalf("first record: %v", err)
	}
	alice := store.mustAccount(test, "alice")
	assertDate(test, "last used", alice.LastUsedDate, "2026-03-10")
	assertDate(test, "previous", alice.PreviousLastUsedDate, "")

	second, err := service.UpsertRecord(ctx, walletPayment(test, "b2", "alice", "100"))
	if err != nil {
		test.Fatalf("second record: %v", err)
	}
	alice = store.mustAccount(test, "alice")
	assertDate(test, "last used", alice.LastUsedDate, "2026-03-20")
	assertDate(test, "previous", alice.PreviousLastUsedDate, "2026-03-10")

	if _, err := service.UpsertRecord(ctx, walletPayment(test, "b2", "alice", "120")); err != nil {
		test.Fatalf("edit same payer: %v", err)
	}
	alice = store.mustAccount(test, "alice")
	assertDate(test, "last used after edit", alice.LastUsedDate, "2026-03-20")
	assertDate(test, "previous after edit", alice.PreviousLastUsedDate, "2026-03-10")

	if err := service.DeleteRecord(ctx, second.ID); err != nil {
		test.Fatalf("delete second: %v", err)
	}
	alice = store.mustAccount(test, "alice")
	assertDate(test, "restored last used", alice.LastUsedDate, "2026-03-10")
	assertDate(test, "restored previous", alice.PreviousLastUsedDate, "")

	if err := service.DeleteRecord(ctx, first.ID); err != nil {
		test.Fatalf("delete first: %v", err)
	}
	alice = store.mustAccount(test, "alice")
	assertDate(test, "blank last used", alice.LastUsedDate, "")
	assertBalance(test, store, "alice", "1000")
}

func TestDeleteRecordRestoresBalance(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "500")
	store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
	service := mustNewService(test, store)
	ctx := context.Background()

	record, err := service.UpsertRecord(ctx, walletPayment(test, "b1", "alice", "321.45"))
	if err != nil {
		test.Fatalf("create record: %v", err)
	}
	if err := service.DeleteRecord(ctx, record.ID); err != nil {
		test.Fatalf("delete record: %v", err)
	}
	assertBalance(test, store, "alice", "500")
	if _, err := service.GetRecordForBooking(ctx, mustBookingID(test, "b1")); !errors.Is(err, ErrRecordNotFound) {
		test.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
	if err := service.DeleteRecord(ctx, record.ID); !errors.Is(err, ErrRecordNotFound) {
		test.Fatalf("expected ErrRecordNotFound on second delete, got %v", err)
	}
}

func TestUpsertDeleteSequencesSumToAppliedDeltas(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "1000")
	for _, id := range []string{"b1", "b2", "b3"} {
		store.seedBooking(test, id, 1, mustDate(test, "2026-03-10"))
	}
	service := mustNewService(test, store)
	ctx := context.Background()

	steps := []struct {
		booking string
		amount  string
		method  PaymentMethod
	}{
		{booking: "b1", amount: "100", method: MethodWallet},
		{booking: "b2", amount: "250.50", method: MethodWallet},
		{booking: "b1", amount: "80", method: MethodWallet},
		{booking: "b3", amount: "999", method: MethodCash},
		{booking: "b2", amount: "10", method: MethodCard},
	}
	for _, step := range steps {
		payment := walletPayment(test, step.booking, "alice", step.amount)
		payment.Method = step.method
		if _, err := service.UpsertRecord(ctx, payment); err != nil {
			test.Fatalf("upsert %s: %v", step.booking, err)
		}
	}
	// Only b1 still holds a wallet charge.
	assertBalance(test, store, "alice", "920")

	records, err := service.ListRecords(ctx, RecordFilter{AccountUsername: mustUsername(test, "alice")})
	if err != nil {
		test.Fatalf("list records: %v", err)
	}
	for _, record := range records {
		if err := service.DeleteRecord(ctx, record.ID); err != nil {
			test.Fatalf("delete %s: %v", record.ID, err)
		}
	}
	assertBalance(test, store, "alice", "1000")
}

func TestUpsertRecordValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		mutate  func(input *RecordInput)
		wantErr error
	}{
		{name: "missing booked by", mutate: func(input *RecordInput) { input.BookedBy = "  " }, wantErr: ErrInvalidBookedBy},
		{name: "missing account", mutate: func(input *RecordInput) { input.AccountUsername = Username{} }, wantErr: ErrInvalidUsername},
		{name: "sub-cent amount", mutate: func(input *RecordInput) { input.AmountCharged = Amount{value: decimal.New(10005, -3)} }, wantErr: ErrInvalidAmount},
		{name: "unknown method", mutate: func(input *RecordInput) { input.Method = "Cheque" }, wantErr: ErrInvalidPaymentMethod},
		{name: "missing booking", mutate: func(input *RecordInput) { input.BookingID = BookingID{} }, wantErr: ErrInvalidBookingID},
		{name: "unknown booking", mutate: func(input *RecordInput) { input.BookingID = BookingID{value: "nope"} }, wantErr: ErrBookingNotFound},
		{name: "unknown account", mutate: func(input *RecordInput) { input.AccountUsername = Username{value: "ghost"} }, wantErr: ErrAccountNotFound},
		{name: "unknown account off wallet", mutate: func(input *RecordInput) {
			input.AccountUsername = Username{value: "ghost"}
			input.Method = MethodCash
		}, wantErr: ErrAccountNotFound},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.seedAccount(test, "alice", "500")
			store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
			service := mustNewService(test, store)
			input := walletPayment(test, "b1", "alice", "100")
			testCase.mutate(&input)

			_, err := service.UpsertRecord(context.Background(), input)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			assertBalance(test, store, "alice", "500")
			if len(store.records) != 0 {
				test.Fatalf("expected no records, got %d", len(store.records))
			}
		})
	}
}

func TestUpsertRecordRollsBackWhenRecordWriteFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAccount(test, "alice", "500")
	store.seedBooking(test, "b1", 1, mustDate(test, "2026-03-10"))
	store.createRecordError = errStoreFailure
	service := mustNewService(test, store)

	_, err := service.UpsertRecord(context.Background(), walletPayment(test, "b1", "alice", "100"))
	if !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	assertBalance(test, store, "alice", "500")
	assertDate(test, "last used", store.mustAccount(test, "alice").LastUsedDate, "")
}
