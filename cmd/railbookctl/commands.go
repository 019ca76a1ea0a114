package main

import (
	"fmt"
	"os"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/internal/statement"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const (
	flagPassword       = "password"
	flagOpeningBalance = "opening-balance"
	flagBalance        = "balance"
	flagDelta          = "delta"
	flagAccount        = "account"
	flagOutput         = "out"
)

type accountView struct {
	Username             string  `json:"username"`
	Balance              string  `json:"balance"`
	LastUsedDate         *string `json:"last_used_date"`
	PreviousLastUsedDate *string `json:"previous_last_used_date"`
}

type recordView struct {
	ID              string `json:"id"`
	BookingID       string `json:"booking_id"`
	BookedBy        string `json:"booked_by"`
	AccountUsername string `json:"account_username"`
	AmountCharged   string `json:"amount_charged"`
	Method          string `json:"method"`
	CreatedAt       string `json:"created_at"`
}

func newAccountView(account ledger.Account) accountView {
	return accountView{
		Username:             account.Username.String(),
		Balance:              account.Balance.StringFixed(2),
		LastUsedDate:         optionalDate(account.LastUsedDate),
		PreviousLastUsedDate: optionalDate(account.PreviousLastUsedDate),
	}
}

func newRecordView(record ledger.BookingRecord) recordView {
	return recordView{
		ID:              record.ID.String(),
		BookingID:       record.BookingID.String(),
		BookedBy:        record.BookedBy,
		AccountUsername: record.AccountUsername.String(),
		AmountCharged:   record.AmountCharged.String(),
		Method:          record.Method.String(),
		CreatedAt:       record.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func optionalDate(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(time.DateOnly)
	return &formatted
}

func parseDecimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, err := cmd.Flags().GetString(name)
	if err != nil {
		return decimal.Decimal{}, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: --%s %q", ledger.ErrInvalidAmount, name, raw)
	}
	return value, nil
}

func newAccountCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage shared booking accounts",
	}
	cmd.AddCommand(
		newAccountCreateCommand(cfg),
		newAccountListCommand(cfg),
		newAccountShowCommand(cfg),
		newAccountSetBalanceCommand(cfg),
		newAccountAdjustCommand(cfg),
		newAccountPasswordCommand(cfg),
		newAccountStatementCommand(cfg),
	)
	return cmd
}

func newAccountCreateCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Register an account, optionally with an opening balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := ledger.NewUsername(args[0])
			if err != nil {
				return err
			}
			password, err := cmd.Flags().GetString(flagPassword)
			if err != nil {
				return err
			}
			opening, err := parseDecimalFlag(cmd, flagOpeningBalance)
			if err != nil {
				return err
			}
			if opening.IsNegative() {
				return fmt.Errorf("%w: opening balance must not be negative", ledger.ErrInvalidAmount)
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				account, err := service.CreateAccount(cmd.Context(), username, password)
				if err != nil {
					return err
				}
				if !opening.IsZero() {
					if account.Balance, err = service.ApplyDelta(cmd.Context(), username, opening); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), newAccountView(account))
			})
		},
	}
	cmd.Flags().String(flagPassword, "", "credential for the external booking site (required)")
	cmd.Flags().String(flagOpeningBalance, "0", "initial wallet balance")
	_ = cmd.MarkFlagRequired(flagPassword)
	return cmd
}

func newAccountListCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List accounts with balances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				accounts, err := service.ListAccounts(cmd.Context())
				if err != nil {
					return err
				}
				views := make([]accountView, 0, len(accounts))
				for _, account := range accounts {
					views = append(views, newAccountView(account))
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
}

func newAccountShowCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "show <username>",
		Short: "Print one account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := ledger.NewUsername(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				account, err := service.GetAccount(cmd.Context(), username)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), newAccountView(account))
			})
		},
	}
}

func newAccountSetBalanceCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-balance <username>",
		Short: "Overwrite the balance through a correcting ledger delta",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := ledger.NewUsername(args[0])
			if err != nil {
				return err
			}
			balance, err := parseDecimalFlag(cmd, flagBalance)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				updated, err := service.SetBalance(cmd.Context(), username, balance)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s balance %s\n", username.String(), updated.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().String(flagBalance, "", "new balance (required)")
	_ = cmd.MarkFlagRequired(flagBalance)
	return cmd
}

func newAccountAdjustCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust <username>",
		Short: "Apply a signed delta to the balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := ledger.NewUsername(args[0])
			if err != nil {
				return err
			}
			delta, err := parseDecimalFlag(cmd, flagDelta)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				updated, err := service.ApplyDelta(cmd.Context(), username, delta)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s balance %s\n", username.String(), updated.StringFixed(2))
				return nil
			})
		},
	}
	cmd.Flags().String(flagDelta, "", "signed amount, e.g. --delta=-250 (required)")
	_ = cmd.MarkFlagRequired(flagDelta)
	return cmd
}

func newAccountPasswordCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password <username>",
		Short: "Replace the stored booking-site credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := ledger.NewUsername(args[0])
			if err != nil {
				return err
			}
			password, err := cmd.Flags().GetString(flagPassword)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				if _, err := service.UpdateAccountPassword(cmd.Context(), username, password); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s password updated\n", username.String())
				return nil
			})
		},
	}
	cmd.Flags().String(flagPassword, "", "new credential (required)")
	_ = cmd.MarkFlagRequired(flagPassword)
	return cmd
}

func newAccountStatementCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement <username>",
		Short: "Write a PDF statement of the records charged to an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username, err := ledger.NewUsername(args[0])
			if err != nil {
				return err
			}
			output, err := cmd.Flags().GetString(flagOutput)
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				accountStatement, err := statement.Build(cmd.Context(), service, username, time.Now())
				if err != nil {
					return err
				}
				document, err := statement.Render(accountStatement)
				if err != nil {
					return err
				}
				if output == "" {
					output = accountStatement.FileName()
				}
				if err := os.WriteFile(output, document, 0o644); err != nil {
					return fmt.Errorf("write statement: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d records)\n", output, len(accountStatement.Lines))
				return nil
			})
		},
	}
	cmd.Flags().String(flagOutput, "", "output path (default statement-<username>-<date>.pdf)")
	return cmd
}

func newRecordCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect and remove booking records",
	}
	cmd.AddCommand(newRecordListCommand(cfg), newRecordDeleteCommand(cfg))
	return cmd
}

func newRecordListCommand(cfg *cliConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List booking records, optionally for one account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter ledger.RecordFilter
			rawAccount, err := cmd.Flags().GetString(flagAccount)
			if err != nil {
				return err
			}
			if rawAccount != "" {
				if filter.AccountUsername, err = ledger.NewUsername(rawAccount); err != nil {
					return err
				}
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				records, err := service.ListRecords(cmd.Context(), filter)
				if err != nil {
					return err
				}
				views := make([]recordView, 0, len(records))
				for _, record := range records {
					views = append(views, newRecordView(record))
				}
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().String(flagAccount, "", "only records charged to this username")
	return cmd
}

func newRecordDeleteCommand(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <record-id>",
		Short: "Delete a record and reverse its wallet charge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordID, err := ledger.NewRecordID(args[0])
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(service *ledger.Service) error {
				if err := service.DeleteRecord(cmd.Context(), recordID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "record %s deleted\n", recordID.String())
				return nil
			})
		},
	}
}
