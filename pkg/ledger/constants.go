package ledger

const (
	operationApplyDelta        = "apply_delta"
	operationSetBalance        = "set_balance"
	operationUpsertRecord      = "upsert_record"
	operationDeleteRecord      = "delete_record"
	operationTransition        = "transition"
	operationSetRefund         = "set_refund"
	operationClearRefund       = "clear_refund"
	operationSplitAndRecord    = "split_and_record"
	operationSharedRequirement = "shared_requirements"
	operationCreateBooking     = "create_booking"
	operationDeleteBooking     = "delete_booking"
	operationCreateGroup       = "create_group"
	operationDissolveGroup     = "dissolve_group"
	operationRemoveFromGroup   = "remove_from_group"
	operationCreateAccount     = "create_account"
	operationUpdateAccount     = "update_account"
	operationUpdateBooking     = "update_booking"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	errorOperationService = "service"
	errorSubjectBooking   = "booking"
	errorSubjectRecord    = "record"
	errorSubjectGroup     = "group"
	errorSubjectRefund    = "refund"
	errorCodeInvalidInput = "invalid_input"
	errorCodeMember       = "member"

	amountScale           = 2
	minimumGroupMembers   = 2
	maxStatusReasonLength = 500
)
