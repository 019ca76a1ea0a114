// Package statement renders per-account PDF statements of wallet activity.
package statement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/phpdave11/gofpdf"
	"github.com/shopspring/decimal"
)

// ContentType is the MIME type of a rendered statement.
const ContentType = "application/pdf"

const (
	fileNameFormat = "statement-%s-%s.pdf"
	placeholder    = "-"
)

// Source is the read side of the ledger a statement is built from.
// *ledger.Service satisfies it.
type Source interface {
	GetAccount(ctx context.Context, username ledger.Username) (ledger.Account, error)
	ListRecords(ctx context.Context, filter ledger.RecordFilter) ([]ledger.BookingRecord, error)
	GetBooking(ctx context.Context, bookingID ledger.BookingID) (ledger.Booking, error)
}

// Line is one record charged to the account.
type Line struct {
	Record  ledger.BookingRecord
	Route   string
	Journey time.Time
	Status  ledger.Status
}

// Statement is the data printed for one account.
type Statement struct {
	Account     ledger.Account
	Lines       []Line
	WalletTotal decimal.Decimal
	GeneratedAt time.Time
}

// Build collects the account and every record charged to it.
func Build(ctx context.Context, source Source, username ledger.Username, now time.Time) (Statement, error) {
	account, err := source.GetAccount(ctx, username)
	if err != nil {
		return Statement{}, err
	}
	records, err := source.ListRecords(ctx, ledger.RecordFilter{AccountUsername: username})
	if err != nil {
		return Statement{}, err
	}
	statement := Statement{
		Account:     account,
		Lines:       make([]Line, 0, len(records)),
		WalletTotal: decimal.Zero,
		GeneratedAt: now.UTC(),
	}
	for _, record := range records {
		line := Line{Record: record, Route: placeholder}
		booking, err := source.GetBooking(ctx, record.BookingID)
		switch {
		case err == nil:
			line.Route = booking.Source + " - " + booking.Destination
			line.Journey = booking.JourneyDate
			line.Status = booking.Status
		case !errors.Is(err, ledger.ErrBookingNotFound):
			return Statement{}, err
		}
		if record.Method.UsesWallet() {
			statement.WalletTotal = statement.WalletTotal.Add(record.AmountCharged.Decimal())
		}
		statement.Lines = append(statement.Lines, line)
	}
	return statement, nil
}

// FileName is the download name of the rendered statement.
func (statement Statement) FileName() string {
	return fmt.Sprintf(fileNameFormat, safeFileNamePart(statement.Account.Username.String()), statement.GeneratedAt.Format(time.DateOnly))
}

var columns = []struct {
	title string
	width float64
	align string
}{
	{title: "Booked", width: 24, align: "L"},
	{title: "Route", width: 40, align: "L"},
	{title: "Journey", width: 24, align: "L"},
	{title: "Status", width: 38, align: "L"},
	{title: "Method", width: 24, align: "L"},
	{title: "Amount", width: 30, align: "R"},
}

// Render writes the statement as a single A4 PDF.
func Render(statement Statement) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Account statement", false)
	pdf.SetCreationDate(statement.GeneratedAt)
	translate := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "ACCOUNT STATEMENT")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	header := []string{
		"Account      : " + translate(statement.Account.Username.String()),
		"Balance      : INR " + statement.Account.Balance.StringFixed(2),
		"Last used    : " + formatDate(statement.Account.LastUsedDate),
		"Generated on : " + statement.GeneratedAt.Format("2006-01-02 15:04") + " UTC",
	}
	for _, text := range header {
		pdf.Cell(0, 7, text)
		pdf.Ln(7)
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 10)
	for _, column := range columns {
		pdf.CellFormat(column.width, 7, column.title, "B", 0, column.align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	if len(statement.Lines) == 0 {
		pdf.Cell(0, 7, "No booking records are charged to this account.")
		pdf.Ln(7)
	}
	for _, line := range statement.Lines {
		values := []string{
			line.Record.CreatedAt.UTC().Format(time.DateOnly),
			translate(line.Route),
			formatDate(&line.Journey),
			translate(statusLabel(line.Status)),
			line.Record.Method.String(),
			line.Record.AmountCharged.String(),
		}
		for index, column := range columns {
			pdf.CellFormat(column.width, 6, values[index], "", 0, column.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, "Charged to wallet: INR "+statement.WalletTotal.StringFixed(2))
	pdf.Ln(8)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render statement: %w", err)
	}
	return buf.Bytes(), nil
}

func formatDate(value *time.Time) string {
	if value == nil || value.IsZero() {
		return placeholder
	}
	return value.UTC().Format(time.DateOnly)
}

func statusLabel(status ledger.Status) string {
	if status == "" {
		return placeholder
	}
	return status.String()
}

func safeFileNamePart(value string) string {
	var builder strings.Builder
	for _, char := range strings.ToLower(value) {
		switch {
		case char >= 'a' && char <= 'z', char >= '0' && char <= '9', char == '-', char == '_':
			builder.WriteRune(char)
		default:
			builder.WriteRune('_')
		}
	}
	if builder.Len() == 0 {
		return "account"
	}
	return builder.String()
}
