package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// ApplyDelta adds a signed delta to the account's balance and returns the new balance.
// It is the only path that writes a balance.
func (service *Service) ApplyDelta(ctx context.Context, username Username, delta decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	operationError := checkScale(delta)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			var err error
			newBalance, err = service.applyDelta(ctx, transactionStore, username, delta)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationApplyDelta,
		Username:  username,
		Amount:    delta,
		Error:     operationError,
	})
	if operationError != nil {
		return decimal.Zero, operationError
	}
	return newBalance, nil
}

// SetBalance is the direct balance edit. It books the difference to the
// current balance as a single ledger delta.
func (service *Service) SetBalance(ctx context.Context, username Username, balance decimal.Decimal) (decimal.Decimal, error) {
	var delta decimal.Decimal
	operationError := checkScale(balance)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			account, err := transactionStore.GetAccountByUsername(ctx, username)
			if err != nil {
				return err
			}
			delta = balance.Sub(account.Balance)
			_, err = service.applyDelta(ctx, transactionStore, username, delta)
			return err
		})
	}
	service.logOperation(ctx, OperationLog{
		Operation: operationSetBalance,
		Username:  username,
		Amount:    delta,
		Error:     operationError,
	})
	if operationError != nil {
		return decimal.Zero, operationError
	}
	return balance, nil
}

func (service *Service) applyDelta(ctx context.Context, transactionStore Store, username Username, delta decimal.Decimal) (decimal.Decimal, error) {
	account, err := transactionStore.GetAccountByUsername(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	newBalance := account.Balance.Add(delta)
	if err := transactionStore.UpdateAccountBalance(ctx, account.ID, newBalance, service.now()); err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}
