// Package oplog writes ledger operation events to zap.
package oplog

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const operationMessage = "ledger operation"

type requestIDKey struct{}

// ContextWithRequestID tags ctx so every operation logged under it carries the request id.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDKey{}).(string)
	return requestID, ok && requestID != ""
}

// Logger implements ledger.OperationLogger.
type Logger struct {
	logger *zap.Logger
}

// New returns a Logger writing to logger. A nil logger discards everything.
func New(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{logger: logger}
}

// LogOperation writes one line per operation. Failures caused by the caller
// (validation, missing documents, conflicts, balance) are warnings; the rest are errors.
func (logger *Logger) LogOperation(ctx context.Context, entry ledger.OperationLog) {
	fields := make([]zap.Field, 0, 9)
	fields = append(fields, zap.String("operation", entry.Operation), zap.String("status", entry.Status))
	if requestID, ok := RequestIDFromContext(ctx); ok {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if !entry.Username.IsZero() {
		fields = append(fields, zap.String("username", entry.Username.String()))
	}
	if entry.BookingID.String() != "" {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if entry.RecordID.String() != "" {
		fields = append(fields, zap.String("record_id", entry.RecordID.String()))
	}
	if !entry.GroupID.IsZero() {
		fields = append(fields, zap.String("group_id", entry.GroupID.String()))
	}
	if !entry.Amount.IsZero() {
		fields = append(fields, zap.String("amount", entry.Amount.StringFixed(2)))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
	}
	logger.logger.Log(levelFor(entry.Error), operationMessage, fields...)
}

func levelFor(err error) zapcore.Level {
	switch {
	case err == nil:
		return zapcore.InfoLevel
	case ledger.IsValidation(err),
		ledger.IsNotFound(err),
		ledger.IsConflict(err),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInvalidTransition),
		errors.Is(err, ledger.ErrPartialFailure):
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
