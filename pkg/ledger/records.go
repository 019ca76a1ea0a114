package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RecordInput describes the payment that booked (or failed to book) a request.
type RecordInput struct {
	BookingID       BookingID
	BookedBy        string
	AccountUsername Username
	AmountCharged   Amount
	Method          PaymentMethod
}

func (input RecordInput) validate() error {
	if input.BookingID.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	if strings.TrimSpace(input.BookedBy) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidBookedBy)
	}
	if input.AccountUsername.IsZero() {
		return fmt.Errorf("%w: empty value", ErrInvalidUsername)
	}
	if _, err := NewAmount(input.AmountCharged.Decimal()); err != nil {
		return err
	}
	if _, err := ParsePaymentMethod(input.Method.String()); err != nil {
		return err
	}
	return nil
}

// UpsertRecord creates or edits the booking's record and reconciles the wallet.
// The balance check, the reversal of the prior wallet charge, the new debit,
// the record write and the last-used bookkeeping commit together or not at all.
func (service *Service) UpsertRecord(ctx context.Context, input RecordInput) (BookingRecord, error) {
	var record BookingRecord
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		record, err = service.upsertRecord(ctx, transactionStore, input)
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpsertRecord,
		Username:  input.AccountUsername,
		BookingID: input.BookingID,
		RecordID:  record.ID,
		Amount:    input.AmountCharged.Decimal(),
		Error:     operationError,
	})
	if operationError != nil {
		return BookingRecord{}, operationError
	}
	return record, nil
}

func (service *Service) upsertRecord(ctx context.Context, transactionStore Store, input RecordInput) (BookingRecord, error) {
	if err := input.validate(); err != nil {
		return BookingRecord{}, WrapError(errorOperationService, errorSubjectRecord, errorCodeInvalidInput, err)
	}
	input.BookedBy = strings.TrimSpace(input.BookedBy)

	booking, err := transactionStore.GetBooking(ctx, input.BookingID)
	if err != nil {
		return BookingRecord{}, err
	}
	prior, hasPrior, err := transactionStore.FindRecordByBooking(ctx, input.BookingID)
	if err != nil {
		return BookingRecord{}, err
	}
	payer, err := transactionStore.GetAccountByUsername(ctx, input.AccountUsername)
	if err != nil {
		return BookingRecord{}, err
	}
	payerChanged := hasPrior && prior.AccountUsername != input.AccountUsername
	var priorPayer Account
	if payerChanged {
		priorPayer, err = transactionStore.GetAccountByUsername(ctx, prior.AccountUsername)
		if err != nil {
			return BookingRecord{}, err
		}
	}

	if input.Method.UsesWallet() {
		available := payer.Balance
		if hasPrior && !payerChanged && prior.Method.UsesWallet() {
			available = available.Add(prior.AmountCharged.Decimal())
		}
		if available.LessThan(input.AmountCharged.Decimal()) {
			return BookingRecord{}, &InsufficientBalanceError{
				Username:  input.AccountUsername,
				Available: available,
				Required:  input.AmountCharged.Decimal(),
			}
		}
	}

	if hasPrior && prior.Method.UsesWallet() {
		if _, err := service.applyDelta(ctx, transactionStore, prior.AccountUsername, prior.AmountCharged.Decimal()); err != nil {
			return BookingRecord{}, err
		}
	}
	if input.Method.UsesWallet() {
		if _, err := service.applyDelta(ctx, transactionStore, input.AccountUsername, input.AmountCharged.Negated()); err != nil {
			return BookingRecord{}, err
		}
	}

	now := service.now()
	record := BookingRecord{
		BookingID:       input.BookingID,
		BookedBy:        input.BookedBy,
		AccountUsername: input.AccountUsername,
		AmountCharged:   input.AmountCharged,
		Method:          input.Method,
		UpdatedAt:       now,
	}
	if hasPrior {
		record.ID = prior.ID
		record.CreatedAt = prior.CreatedAt
		if err := transactionStore.UpdateRecord(ctx, record); err != nil {
			return BookingRecord{}, err
		}
	} else {
		recordID, err := NewRecordID(service.newID())
		if err != nil {
			return BookingRecord{}, err
		}
		record.ID = recordID
		record.CreatedAt = now
		if err := transactionStore.CreateRecord(ctx, record); err != nil {
			return BookingRecord{}, err
		}
	}

	switch {
	case !hasPrior:
		err = service.advanceLastUsed(ctx, transactionStore, payer, booking.BookingDueDate)
	case payerChanged:
		if err = service.restoreLastUsed(ctx, transactionStore, priorPayer); err == nil {
			err = service.advanceLastUsed(ctx, transactionStore, payer, booking.BookingDueDate)
		}
	}
	if err != nil {
		return BookingRecord{}, err
	}
	return record, nil
}

// DeleteRecord removes a record, refunding a wallet charge and rolling back
// the account's last-used date.
func (service *Service) DeleteRecord(ctx context.Context, recordID RecordID) error {
	var record BookingRecord
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var err error
		record, err = transactionStore.GetRecord(ctx, recordID)
		if err != nil {
			return err
		}
		return service.deleteRecord(ctx, transactionStore, record)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDeleteRecord,
		Username:  record.AccountUsername,
		BookingID: record.BookingID,
		RecordID:  recordID,
		Amount:    record.AmountCharged.Decimal(),
		Error:     operationError,
	})
	return operationError
}

func (service *Service) deleteRecord(ctx context.Context, transactionStore Store, record BookingRecord) error {
	if record.Method.UsesWallet() {
		if _, err := service.applyDelta(ctx, transactionStore, record.AccountUsername, record.AmountCharged.Decimal()); err != nil {
			return err
		}
	}
	payer, err := transactionStore.GetAccountByUsername(ctx, record.AccountUsername)
	if err != nil {
		return err
	}
	if err := service.restoreLastUsed(ctx, transactionStore, payer); err != nil {
		return err
	}
	return transactionStore.DeleteRecord(ctx, record.ID)
}

// GetRecordForBooking returns the booking's record or ErrRecordNotFound.
func (service *Service) GetRecordForBooking(ctx context.Context, bookingID BookingID) (BookingRecord, error) {
	record, found, err := service.store.FindRecordByBooking(ctx, bookingID)
	if err != nil {
		return BookingRecord{}, err
	}
	if !found {
		return BookingRecord{}, fmt.Errorf("%w: booking %s", ErrRecordNotFound, bookingID.String())
	}
	return record, nil
}

// ListRecords returns records matching filter.
func (service *Service) ListRecords(ctx context.Context, filter RecordFilter) ([]BookingRecord, error) {
	return service.store.ListRecords(ctx, filter)
}

// advanceLastUsed remembers the current last-used date and moves it to dueDate.
func (service *Service) advanceLastUsed(ctx context.Context, transactionStore Store, account Account, dueDate time.Time) error {
	patch := AccountPatch{
		LastUsedDate: Set(NormalizeDate(dueDate)),
		UpdatedAt:    service.now(),
	}
	if account.LastUsedDate != nil {
		patch.PreviousLastUsedDate = Set(*account.LastUsedDate)
	} else {
		patch.PreviousLastUsedDate = Clear[time.Time]()
	}
	return transactionStore.UpdateAccount(ctx, account.ID, patch)
}

// restoreLastUsed puts the remembered date back, or blanks it when nothing was remembered.
func (service *Service) restoreLastUsed(ctx context.Context, transactionStore Store, account Account) error {
	patch := AccountPatch{
		PreviousLastUsedDate: Clear[time.Time](),
		UpdatedAt:            service.now(),
	}
	if account.PreviousLastUsedDate != nil {
		patch.LastUsedDate = Set(*account.PreviousLastUsedDate)
	} else {
		patch.LastUsedDate = Clear[time.Time]()
	}
	return transactionStore.UpdateAccount(ctx, account.ID, patch)
}

func sumRecordAmounts(records []BookingRecord) decimal.Decimal {
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.AmountCharged.Decimal())
	}
	return total
}
