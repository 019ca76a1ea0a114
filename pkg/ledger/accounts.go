package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CreateAccount registers a shared account with a zero balance.
func (service *Service) CreateAccount(ctx context.Context, username Username, password string) (Account, error) {
	var account Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if username.IsZero() {
			return fmt.Errorf("%w: empty value", ErrInvalidUsername)
		}
		if password == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidPassword)
		}
		_, err := transactionStore.GetAccountByUsername(ctx, username)
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", ErrDuplicateUsername, username.String())
		case !errors.Is(err, ErrAccountNotFound):
			return err
		}
		accountID, err := NewAccountID(service.newID())
		if err != nil {
			return err
		}
		now := service.now()
		account = Account{
			ID:        accountID,
			Username:  username,
			Password:  password,
			Balance:   decimal.Zero,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return transactionStore.CreateAccount(ctx, account)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCreateAccount,
		Username:  username,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return account, nil
}

// GetAccount returns the account registered under username.
func (service *Service) GetAccount(ctx context.Context, username Username) (Account, error) {
	return service.store.GetAccountByUsername(ctx, username)
}

// ListAccounts returns every account ordered by username.
func (service *Service) ListAccounts(ctx context.Context) ([]Account, error) {
	return service.store.ListAccounts(ctx)
}

// UpdateAccountPassword replaces the stored operator credential.
func (service *Service) UpdateAccountPassword(ctx context.Context, username Username, password string) (Account, error) {
	var updated Account
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if password == "" {
			return fmt.Errorf("%w: empty value", ErrInvalidPassword)
		}
		account, err := transactionStore.GetAccountByUsername(ctx, username)
		if err != nil {
			return err
		}
		patch := AccountPatch{Password: Set(password), UpdatedAt: service.now()}
		if err := transactionStore.UpdateAccount(ctx, account.ID, patch); err != nil {
			return err
		}
		updated = patch.ApplyToAccount(account)
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateAccount,
		Username:  username,
		Error:     operationError,
	})
	if operationError != nil {
		return Account{}, operationError
	}
	return updated, nil
}
