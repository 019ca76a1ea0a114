package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/internal/statement"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpHandler struct {
	service *ledger.Service
	logger  *zap.Logger
	timeout time.Duration
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.timeout)
}

func (handler *httpHandler) bindJSON(ctx *gin.Context, target any) bool {
	if err := ctx.ShouldBindJSON(target); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(codeInvalidPayload, "expected JSON body"))
		return false
	}
	return true
}

func (handler *httpHandler) usernameParam(ctx *gin.Context) (ledger.Username, bool) {
	username, err := ledger.NewUsername(ctx.Param("username"))
	if err != nil {
		handler.writeError(ctx, err)
		return ledger.Username{}, false
	}
	return username, true
}

func (handler *httpHandler) bookingIDParam(ctx *gin.Context) (ledger.BookingID, bool) {
	bookingID, err := ledger.NewBookingID(ctx.Param("bookingID"))
	if err != nil {
		handler.writeError(ctx, err)
		return ledger.BookingID{}, false
	}
	return bookingID, true
}

func (handler *httpHandler) groupIDParam(ctx *gin.Context) (ledger.GroupID, bool) {
	groupID, err := ledger.NewGroupID(ctx.Param("groupID"))
	if err != nil {
		handler.writeError(ctx, err)
		return ledger.GroupID{}, false
	}
	return groupID, true
}

func (handler *httpHandler) handleStatuses(ctx *gin.Context) {
	statuses := ledger.Statuses()
	allowed := make(map[string][]string, len(statuses))
	for _, status := range statuses {
		allowed[status.String()] = statusStrings(ledger.AllowedTransitions(status))
	}
	ctx.JSON(http.StatusOK, gin.H{
		"statuses":    statusStrings(statuses),
		"transitions": allowed,
	})
}

func (handler *httpHandler) handleCreateAccount(ctx *gin.Context) {
	var request createAccountRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	username, err := ledger.NewUsername(request.Username)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if request.OpeningBalance != nil {
		if _, err := ledger.NewAmount(*request.OpeningBalance); err != nil {
			handler.writeError(ctx, err)
			return
		}
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	account, err := handler.service.CreateAccount(requestCtx, username, request.Password)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if request.OpeningBalance != nil && !request.OpeningBalance.IsZero() {
		balance, err := handler.service.ApplyDelta(requestCtx, username, *request.OpeningBalance)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		account.Balance = balance
	}
	ctx.JSON(http.StatusCreated, gin.H{"account": newAccountResponse(account)})
}

func (handler *httpHandler) handleListAccounts(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	accounts, err := handler.service.ListAccounts(requestCtx)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	responses := make([]accountResponse, 0, len(accounts))
	for _, account := range accounts {
		responses = append(responses, newAccountResponse(account))
	}
	ctx.JSON(http.StatusOK, gin.H{"accounts": responses})
}

func (handler *httpHandler) handleGetAccount(ctx *gin.Context) {
	username, ok := handler.usernameParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.GetAccount(requestCtx, username)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountResponse(account)})
}

func (handler *httpHandler) handleUpdatePassword(ctx *gin.Context) {
	username, ok := handler.usernameParam(ctx)
	if !ok {
		return
	}
	var request passwordRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	account, err := handler.service.UpdateAccountPassword(requestCtx, username, request.Password)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": newAccountResponse(account)})
}

func (handler *httpHandler) handleSetBalance(ctx *gin.Context) {
	username, ok := handler.usernameParam(ctx)
	if !ok {
		return
	}
	var request balanceRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.SetBalance(requestCtx, username, request.Balance)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"username": username.String(), "balance": formatAmount(balance)})
}

func (handler *httpHandler) handleApplyDelta(ctx *gin.Context) {
	username, ok := handler.usernameParam(ctx)
	if !ok {
		return
	}
	var request adjustmentRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	balance, err := handler.service.ApplyDelta(requestCtx, username, request.Delta)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"username": username.String(), "balance": formatAmount(balance)})
}

func (handler *httpHandler) handleListAccountRecords(ctx *gin.Context) {
	username, ok := handler.usernameParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	records, err := handler.service.ListRecords(requestCtx, ledger.RecordFilter{AccountUsername: username})
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"records": newRecordResponses(records)})
}

func (handler *httpHandler) handleStatement(ctx *gin.Context) {
	username, ok := handler.usernameParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	accountStatement, err := statement.Build(requestCtx, handler.service, username, time.Now())
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	document, err := statement.Render(accountStatement)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", accountStatement.FileName()))
	ctx.Data(http.StatusOK, statement.ContentType, document)
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	var request bookingRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.service.CreateBooking(requestCtx, input)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"booking": newBookingResponse(booking)})
}

func (handler *httpHandler) handleListBookings(ctx *gin.Context) {
	var filter ledger.BookingFilter
	if raw := ctx.Query("status"); raw != "" {
		status, err := ledger.ParseStatus(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		filter.Status = status
	}
	if raw := ctx.Query("group_id"); raw != "" {
		groupID, err := ledger.NewGroupID(raw)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		filter.GroupID = groupID
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookings, err := handler.service.ListBookings(requestCtx, filter)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": newBookingResponses(bookings)})
}

func (handler *httpHandler) handleGetBooking(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.service.GetBooking(requestCtx, bookingID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(booking)})
}

func (handler *httpHandler) handleUpdateBooking(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	var request bookingPatchRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	patch, err := request.toPatch()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.service.UpdateBookingDetails(requestCtx, bookingID, patch)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(booking)})
}

func (handler *httpHandler) handleDeleteBooking(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.DeleteBooking(requestCtx, bookingID); err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleTransition(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	var request transitionRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	target, err := ledger.ParseStatus(request.To)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	transition := ledger.TransitionRequest{
		BookingID:   bookingID,
		To:          target,
		Reason:      request.Reason,
		Handler:     request.Handler,
		ClearRefund: request.ClearRefund,
	}
	if request.Payment != nil {
		payment, err := request.Payment.toInput(bookingID)
		if err != nil {
			handler.writeError(ctx, err)
			return
		}
		transition.Payment = &payment
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.service.TransitionStatus(requestCtx, transition)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(booking)})
}

func (handler *httpHandler) handleGetRecord(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.GetRecordForBooking(requestCtx, bookingID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"record": newRecordResponse(record)})
}

func (handler *httpHandler) handleUpsertRecord(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	var request recordRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	input, err := request.toInput(bookingID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	record, err := handler.service.UpsertRecord(requestCtx, input)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"record": newRecordResponse(record)})
}

func (handler *httpHandler) handleSetRefund(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	var request refundRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	input, err := request.toInput()
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.service.SetRefund(requestCtx, bookingID, input)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(booking)})
}

func (handler *httpHandler) handleClearRefund(ctx *gin.Context) {
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	booking, err := handler.service.ClearRefund(requestCtx, bookingID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"booking": newBookingResponse(booking)})
}

func (handler *httpHandler) handleDeleteRecord(ctx *gin.Context) {
	recordID, err := ledger.NewRecordID(ctx.Param("recordID"))
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.DeleteRecord(requestCtx, recordID); err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleCreateGroup(ctx *gin.Context) {
	var request groupRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	bookingIDs, err := parseBookingIDs(request.BookingIDs)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	group, err := handler.service.CreateGroup(requestCtx, bookingIDs)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"group": newGroupResponse(group)})
}

func (handler *httpHandler) handleGetGroup(ctx *gin.Context) {
	groupID, ok := handler.groupIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.service.GetGroup(requestCtx, groupID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"group": newGroupSummaryResponse(summary)})
}

func (handler *httpHandler) handleDissolveGroup(ctx *gin.Context) {
	groupID, ok := handler.groupIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	if err := handler.service.DissolveGroup(requestCtx, groupID); err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (handler *httpHandler) handleRemoveFromGroup(ctx *gin.Context) {
	groupID, ok := handler.groupIDParam(ctx)
	if !ok {
		return
	}
	bookingID, ok := handler.bookingIDParam(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	group, err := handler.service.RemoveFromGroup(requestCtx, groupID, bookingID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	if group.ID.IsZero() {
		ctx.JSON(http.StatusOK, gin.H{"dissolved": true})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"dissolved": false, "group": newGroupResponse(group)})
}

func (handler *httpHandler) handleSplit(ctx *gin.Context) {
	groupID, ok := handler.groupIDParam(ctx)
	if !ok {
		return
	}
	var request splitRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	input, err := request.toInput(groupID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	records, err := handler.service.SplitAndRecord(requestCtx, input)
	var partial *ledger.PartialFailureError
	if errors.As(err, &partial) {
		body := partialFailureBody(partial)
		body["records"] = newRecordResponses(records)
		ctx.JSON(http.StatusMultiStatus, body)
		return
	}
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"records": newRecordResponses(records)})
}

func (handler *httpHandler) handleSplitPreview(ctx *gin.Context) {
	groupID, ok := handler.groupIDParam(ctx)
	if !ok {
		return
	}
	var request splitPreviewRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	total, err := ledger.NewAmount(request.TotalAmount)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	summary, err := handler.service.GetGroup(requestCtx, groupID)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	counts := make([]int, 0, len(summary.Bookings))
	for _, booking := range summary.Bookings {
		counts = append(counts, booking.PassengerCount())
	}
	shares, err := ledger.SplitShares(total, counts)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	responses := make([]shareResponse, 0, len(shares))
	for index, share := range shares {
		responses = append(responses, shareResponse{
			BookingID:  summary.Bookings[index].ID.String(),
			Passengers: counts[index],
			Share:      formatAmount(share),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"total_amount": total.String(), "shares": responses})
}

func (handler *httpHandler) handleSharedRequirements(ctx *gin.Context) {
	groupID, ok := handler.groupIDParam(ctx)
	if !ok {
		return
	}
	var request preparedAccountsRequest
	if !handler.bindJSON(ctx, &request) {
		return
	}
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()
	bookings, err := handler.service.UpdateSharedRequirements(requestCtx, groupID, request.PreparedAccounts)
	if err != nil {
		handler.writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"bookings": newBookingResponses(bookings)})
}
