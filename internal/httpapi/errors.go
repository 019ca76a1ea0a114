package httpapi

import (
	"errors"
	"net/http"

	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	codeInvalidPayload      = "invalid_payload"
	codeInvalidInput        = "invalid_input"
	codeNotFound            = "not_found"
	codeConflict            = "conflict"
	codeInsufficientBalance = "insufficient_balance"
	codeInvalidTransition   = "invalid_transition"
	codePartialFailure      = "partial_failure"
	codeInternal            = "internal_error"
	messageInternal         = "internal error"
)

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// writeError maps a ledger error onto a status code and a stable error code.
// Structured errors add their details next to the message.
func (handler *httpHandler) writeError(ctx *gin.Context, err error) {
	var (
		insufficient *ledger.InsufficientBalanceError
		transition   *ledger.InvalidTransitionError
		partial      *ledger.PartialFailureError
	)
	switch {
	case errors.As(err, &partial):
		ctx.JSON(http.StatusMultiStatus, partialFailureBody(partial))
	case errors.As(err, &insufficient):
		body := errorResponse(codeInsufficientBalance, err.Error())
		body["error"].(gin.H)["details"] = gin.H{
			"username":  insufficient.Username.String(),
			"available": formatAmount(insufficient.Available),
			"required":  formatAmount(insufficient.Required),
		}
		ctx.JSON(http.StatusUnprocessableEntity, body)
	case errors.As(err, &transition):
		body := errorResponse(codeInvalidTransition, err.Error())
		body["error"].(gin.H)["details"] = gin.H{
			"from":    transition.From.String(),
			"to":      transition.To.String(),
			"allowed": statusStrings(ledger.AllowedTransitions(transition.From)),
		}
		ctx.JSON(http.StatusConflict, body)
	case ledger.IsValidation(err):
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidInput, err.Error()))
	case ledger.IsNotFound(err):
		ctx.JSON(http.StatusNotFound, errorResponse(codeNotFound, err.Error()))
	case ledger.IsConflict(err):
		ctx.JSON(http.StatusConflict, errorResponse(codeConflict, err.Error()))
	default:
		handler.logger.Error("ledger operation failed", zap.Error(err), zap.String("request_id", ctx.GetString(contextRequestID)))
		ctx.JSON(http.StatusInternalServerError, errorResponse(codeInternal, messageInternal))
	}
}

func partialFailureBody(partial *ledger.PartialFailureError) gin.H {
	body := errorResponse(codePartialFailure, partial.Error())
	body["error"].(gin.H)["details"] = gin.H{
		"succeeded": bookingIDStrings(partial.Succeeded),
		"failed":    partial.Failed.String(),
		"skipped":   bookingIDStrings(partial.Skipped),
	}
	return body
}
