package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/railbook/internal/database"
	"github.com/MarkoPoloResearchLab/railbook/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/railbook/pkg/ledger"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

type apiFixture struct {
	router *gin.Engine
}

func newAPIFixture(test *testing.T) apiFixture {
	test.Helper()
	db, closeFn, _, err := database.Open(context.Background(), filepath.Join(test.TempDir(), "api.db"))
	require.NoError(test, err)
	test.Cleanup(func() { _ = closeFn() })
	require.NoError(test, database.Migrate(db))

	service, err := ledger.NewService(gormstore.New(db), func() time.Time { return fixedNow })
	require.NoError(test, err)
	cfg := Config{AllowedOrigins: []string{"http://localhost:5173"}}
	require.NoError(test, cfg.Validate())
	return apiFixture{router: NewRouter(cfg, service, zap.NewNop())}
}

func (fixture apiFixture) do(test *testing.T, method string, path string, body any) (int, map[string]any) {
	test.Helper()
	var reader *bytes.Reader
	switch typed := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(typed))
	default:
		encoded, err := json.Marshal(typed)
		require.NoError(test, err)
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)

	decoded := map[string]any{}
	if recorder.Body.Len() > 0 {
		require.NoError(test, json.Unmarshal(recorder.Body.Bytes(), &decoded), recorder.Body.String())
	}
	return recorder.Code, decoded
}

func (fixture apiFixture) createAccount(test *testing.T, username string, opening string) {
	test.Helper()
	status, body := fixture.do(test, http.MethodPost, "/api/accounts", map[string]any{
		"username":        username,
		"password":        "secret",
		"opening_balance": opening,
	})
	require.Equal(test, http.StatusCreated, status, body)
}

func (fixture apiFixture) createBooking(test *testing.T, passengers int) string {
	test.Helper()
	travellers := make([]map[string]any, 0, passengers)
	for index := 0; index < passengers; index++ {
		travellers = append(travellers, map[string]any{"name": "Traveller", "age": 30 + index, "gender": "F"})
	}
	status, body := fixture.do(test, http.MethodPost, "/api/bookings", map[string]any{
		"source":           "NDLS",
		"destination":      "BCT",
		"journey_date":     "2026-04-10",
		"booking_due_date": "2026-03-10",
		"passengers":       travellers,
		"booking_type":     "Tatkal",
	})
	require.Equal(test, http.StatusCreated, status, body)
	return object(test, body, "booking")["id"].(string)
}

func (fixture apiFixture) balance(test *testing.T, username string) string {
	test.Helper()
	status, body := fixture.do(test, http.MethodGet, "/api/accounts/"+username, nil)
	require.Equal(test, http.StatusOK, status, body)
	return object(test, body, "account")["balance"].(string)
}

func object(test *testing.T, body map[string]any, key string) map[string]any {
	test.Helper()
	value, ok := body[key].(map[string]any)
	require.True(test, ok, "missing %q in %v", key, body)
	return value
}

func walletRecord(amount string) map[string]any {
	return map[string]any{
		"booked_by":        "agent-7",
		"account_username": "alice",
		"amount_charged":   amount,
		"method":           "Wallet",
	}
}

func TestHealthzEchoesRequestID(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set(headerRequestID, "req-1")
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	assert.Equal(test, http.StatusOK, recorder.Code)
	assert.Equal(test, "req-1", recorder.Header().Get(headerRequestID))

	recorder = httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(test, recorder.Header().Get(headerRequestID))
}

func TestAccountEndpoints(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	fixture.createAccount(test, "alice", "500")

	status, body := fixture.do(test, http.MethodGet, "/api/accounts/alice", nil)
	require.Equal(test, http.StatusOK, status)
	account := object(test, body, "account")
	assert.Equal(test, "500.00", account["balance"])
	assert.NotContains(test, account, "password")

	status, body = fixture.do(test, http.MethodPost, "/api/accounts/alice/adjustments", map[string]any{"delta": "-120.5"})
	require.Equal(test, http.StatusOK, status, body)
	assert.Equal(test, "379.50", body["balance"])

	status, body = fixture.do(test, http.MethodPut, "/api/accounts/alice/balance", map[string]any{"balance": "1000"})
	require.Equal(test, http.StatusOK, status, body)
	assert.Equal(test, "1000.00", body["balance"])

	status, body = fixture.do(test, http.MethodPost, "/api/accounts", map[string]any{"username": "alice", "password": "other"})
	assert.Equal(test, http.StatusConflict, status)
	assert.Equal(test, codeConflict, object(test, body, "error")["code"])

	status, body = fixture.do(test, http.MethodGet, "/api/accounts/nobody", nil)
	assert.Equal(test, http.StatusNotFound, status)
	assert.Equal(test, codeNotFound, object(test, body, "error")["code"])

	status, body = fixture.do(test, http.MethodPost, "/api/accounts", `{"username":`)
	assert.Equal(test, http.StatusBadRequest, status)
	assert.Equal(test, codeInvalidPayload, object(test, body, "error")["code"])
}

func TestBookingLifecycleOverHTTP(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	fixture.createAccount(test, "alice", "1000")
	bookingID := fixture.createBooking(test, 2)

	status, body := fixture.do(test, http.MethodPost, "/api/bookings/"+bookingID+"/transitions", map[string]any{
		"to":      "Booked",
		"payment": walletRecord("400"),
	})
	require.Equal(test, http.StatusOK, status, body)
	assert.Equal(test, "Booked", object(test, body, "booking")["status"])
	assert.Equal(test, "600.00", fixture.balance(test, "alice"))

	status, body = fixture.do(test, http.MethodPost, "/api/bookings/"+bookingID+"/transitions", map[string]any{"to": "Missed"})
	require.Equal(test, http.StatusConflict, status)
	transitionError := object(test, body, "error")
	assert.Equal(test, codeInvalidTransition, transitionError["code"])
	details := transitionError["details"].(map[string]any)
	assert.Equal(test, "Booked", details["from"])
	assert.Equal(test, "Missed", details["to"])

	status, body = fixture.do(test, http.MethodPost, "/api/bookings/"+bookingID+"/transitions", map[string]any{
		"to":      "CNF & Cancelled",
		"reason":  "passenger unwell",
		"handler": "desk",
	})
	require.Equal(test, http.StatusOK, status, body)

	status, body = fixture.do(test, http.MethodPut, "/api/bookings/"+bookingID+"/refund", map[string]any{
		"amount":           "380",
		"date":             "2026-03-05",
		"method":           "Wallet",
		"account_username": "alice",
	})
	require.Equal(test, http.StatusOK, status, body)
	refund := object(test, object(test, body, "booking"), "refund")
	assert.Equal(test, "380.00", refund["amount"])
	assert.Equal(test, "2026-03-05", refund["date"])
	assert.Equal(test, "980.00", fixture.balance(test, "alice"))

	status, body = fixture.do(test, http.MethodPost, "/api/bookings/"+bookingID+"/transitions", map[string]any{"to": "Requested"})
	assert.Equal(test, http.StatusConflict, status)
	assert.Equal(test, codeConflict, object(test, body, "error")["code"])

	status, body = fixture.do(test, http.MethodPost, "/api/bookings/"+bookingID+"/transitions", map[string]any{"to": "Requested", "clear_refund": true})
	require.Equal(test, http.StatusOK, status, body)
	booking := object(test, body, "booking")
	assert.Equal(test, "Requested", booking["status"])
	assert.NotContains(test, booking, "refund")
	assert.Equal(test, "1000.00", fixture.balance(test, "alice"))

	status, _ = fixture.do(test, http.MethodGet, "/api/bookings/"+bookingID+"/record", nil)
	assert.Equal(test, http.StatusNotFound, status)
}

func TestRecordEndpointsReportInsufficientBalance(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	fixture.createAccount(test, "alice", "150")
	bookingID := fixture.createBooking(test, 1)

	status, body := fixture.do(test, http.MethodPut, "/api/bookings/"+bookingID+"/record", walletRecord("600"))
	require.Equal(test, http.StatusUnprocessableEntity, status)
	apiError := object(test, body, "error")
	assert.Equal(test, codeInsufficientBalance, apiError["code"])
	details := apiError["details"].(map[string]any)
	assert.Equal(test, "150.00", details["available"])
	assert.Equal(test, "600.00", details["required"])

	status, body = fixture.do(test, http.MethodPut, "/api/bookings/"+bookingID+"/record", walletRecord("10.005"))
	require.Equal(test, http.StatusBadRequest, status, body)
	assert.Equal(test, codeInvalidInput, object(test, body, "error")["code"])
	status, body = fixture.do(test, http.MethodPost, "/api/accounts/alice/adjustments", map[string]any{"delta": "-0.001"})
	require.Equal(test, http.StatusBadRequest, status, body)
	assert.Equal(test, "150.00", fixture.balance(test, "alice"))

	status, body = fixture.do(test, http.MethodPut, "/api/bookings/"+bookingID+"/record", walletRecord("100"))
	require.Equal(test, http.StatusOK, status, body)
	recordID := object(test, body, "record")["id"].(string)
	assert.Equal(test, "50.00", fixture.balance(test, "alice"))

	status, body = fixture.do(test, http.MethodGet, "/api/accounts/alice/records", nil)
	require.Equal(test, http.StatusOK, status)
	assert.Len(test, body["records"], 1)

	request := httptest.NewRequest(http.MethodGet, "/api/accounts/alice/statement", nil)
	recorder := httptest.NewRecorder()
	fixture.router.ServeHTTP(recorder, request)
	require.Equal(test, http.StatusOK, recorder.Code)
	assert.Equal(test, "application/pdf", recorder.Header().Get("Content-Type"))
	assert.Contains(test, recorder.Header().Get("Content-Disposition"), "statement-alice-")
	assert.True(test, bytes.HasPrefix(recorder.Body.Bytes(), []byte("%PDF-")))

	status, _ = fixture.do(test, http.MethodDelete, "/api/records/"+recordID, nil)
	assert.Equal(test, http.StatusNoContent, status)
	assert.Equal(test, "150.00", fixture.balance(test, "alice"))
}

func TestBookingValidationAndPatch(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	bookingID := fixture.createBooking(test, 1)

	status, body := fixture.do(test, http.MethodPost, "/api/bookings", map[string]any{
		"source":           "NDLS",
		"destination":      "BCT",
		"journey_date":     "10/04/2026",
		"booking_due_date": "2026-03-10",
		"passengers":       []map[string]any{{"name": "A", "age": 30}},
		"booking_type":     "General",
	})
	assert.Equal(test, http.StatusBadRequest, status)
	assert.Equal(test, codeInvalidInput, object(test, body, "error")["code"])

	status, body = fixture.do(test, http.MethodPatch, "/api/bookings/"+bookingID, map[string]any{
		"remarks":          "window seats",
		"train_preference": "12952",
	})
	require.Equal(test, http.StatusOK, status, body)
	assert.Equal(test, "window seats", object(test, body, "booking")["remarks"])

	status, body = fixture.do(test, http.MethodPatch, "/api/bookings/"+bookingID, map[string]any{"remarks": ""})
	require.Equal(test, http.StatusOK, status, body)
	booking := object(test, body, "booking")
	assert.NotContains(test, booking, "remarks")
	assert.Equal(test, "12952", booking["train_preference"])

	status, body = fixture.do(test, http.MethodGet, "/api/bookings?status=Requested", nil)
	require.Equal(test, http.StatusOK, status)
	assert.Len(test, body["bookings"], 1)

	status, _ = fixture.do(test, http.MethodGet, "/api/bookings?status=Unknown", nil)
	assert.Equal(test, http.StatusBadRequest, status)

	status, _ = fixture.do(test, http.MethodDelete, "/api/bookings/"+bookingID, nil)
	assert.Equal(test, http.StatusNoContent, status)
	status, _ = fixture.do(test, http.MethodGet, "/api/bookings/"+bookingID, nil)
	assert.Equal(test, http.StatusNotFound, status)
}

func TestGroupEndpoints(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	fixture.createAccount(test, "alice", "2000")
	first := fixture.createBooking(test, 2)
	second := fixture.createBooking(test, 3)
	third := fixture.createBooking(test, 5)

	status, body := fixture.do(test, http.MethodPost, "/api/groups", map[string]any{"booking_ids": []string{first, second, third}})
	require.Equal(test, http.StatusCreated, status, body)
	groupID := object(test, body, "group")["id"].(string)

	status, body = fixture.do(test, http.MethodPost, "/api/groups/"+groupID+"/split-preview", map[string]any{"total_amount": "1000"})
	require.Equal(test, http.StatusOK, status, body)
	shares := body["shares"].([]any)
	require.Len(test, shares, 3)
	assert.Equal(test, "200.00", shares[0].(map[string]any)["share"])
	assert.Equal(test, "300.00", shares[1].(map[string]any)["share"])
	assert.Equal(test, "500.00", shares[2].(map[string]any)["share"])

	status, body = fixture.do(test, http.MethodPost, "/api/groups/"+groupID+"/split", map[string]any{
		"total_amount":     "1000",
		"booked_by":        "agent-7",
		"account_username": "alice",
		"method":           "Wallet",
	})
	require.Equal(test, http.StatusOK, status, body)
	assert.Len(test, body["records"], 3)
	assert.Equal(test, "1000.00", fixture.balance(test, "alice"))

	status, body = fixture.do(test, http.MethodPut, "/api/groups/"+groupID+"/prepared-accounts", map[string]any{"prepared_accounts": []string{"alice", "bob"}})
	require.Equal(test, http.StatusOK, status, body)
	assert.Len(test, body["bookings"], 3)

	status, body = fixture.do(test, http.MethodGet, "/api/groups/"+groupID, nil)
	require.Equal(test, http.StatusOK, status, body)
	summary := object(test, object(test, body, "group"), "status_summary")
	assert.EqualValues(test, 3, summary["Requested"])

	status, body = fixture.do(test, http.MethodDelete, "/api/groups/"+groupID+"/members/"+first, nil)
	require.Equal(test, http.StatusOK, status, body)
	assert.Equal(test, false, body["dissolved"])

	status, body = fixture.do(test, http.MethodDelete, "/api/groups/"+groupID+"/members/"+second, nil)
	require.Equal(test, http.StatusOK, status, body)
	assert.Equal(test, true, body["dissolved"])

	status, _ = fixture.do(test, http.MethodGet, "/api/groups/"+groupID, nil)
	assert.Equal(test, http.StatusNotFound, status)
}

func TestSplitReportsPartialFailure(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	fixture.createAccount(test, "alice", "250")
	first := fixture.createBooking(test, 1)
	second := fixture.createBooking(test, 1)
	third := fixture.createBooking(test, 1)

	status, body := fixture.do(test, http.MethodPost, "/api/groups", map[string]any{"booking_ids": []string{first, second, third}})
	require.Equal(test, http.StatusCreated, status, body)
	groupID := object(test, body, "group")["id"].(string)

	status, body = fixture.do(test, http.MethodPost, "/api/groups/"+groupID+"/split", map[string]any{
		"booking_ids":      []string{first, second, third},
		"total_amount":     "600",
		"booked_by":        "agent-7",
		"account_username": "alice",
		"method":           "Wallet",
	})
	require.Equal(test, http.StatusMultiStatus, status, body)
	assert.Len(test, body["records"], 1)
	details := object(test, body, "error")["details"].(map[string]any)
	assert.Equal(test, []any{first}, details["succeeded"])
	assert.Equal(test, second, details["failed"])
	assert.Equal(test, []any{third}, details["skipped"])
	assert.Equal(test, "50.00", fixture.balance(test, "alice"))
}

func TestStatusesEndpoint(test *testing.T) {
	test.Parallel()
	fixture := newAPIFixture(test)
	status, body := fixture.do(test, http.MethodGet, "/api/statuses", nil)
	require.Equal(test, http.StatusOK, status)
	assert.Len(test, body["statuses"], len(ledger.Statuses()))
	transitions := object(test, body, "transitions")
	assert.Equal(test, []any{"CNF & Cancelled", "Requested"}, transitions["Booked"])
}
