package apperr

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Error codes exposed to clients.
const (
	CodeInternal     = "internal_error"
	CodeValidation   = "validation_error"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"

	CodeNoMarketSession            = "no_market_session"
	CodeSessionNotOpenForBids      = "session_not_open_for_bids"
	CodeUnfinishedSessions         = "unfinished_sessions"
	CodeMoreThanOneSessionOpen     = "more_than_one_session_open"
	CodeNoBidsDataFound            = "no_bids_data_found"
	CodeBidAlreadyExists           = "bid_already_exists"
	CodeBidPaymentNotFound         = "bid_payment_not_found"
	CodeDuplicatedTangleMessageID  = "duplicated_tangle_message_id"
	CodeBidAlreadyWithTangleID     = "bid_already_with_tangle_id"
	CodeTransactionAlreadyValid    = "transaction_already_valid"
	CodeDuplicatedTransactionFound = "duplicated_transaction_found"
	CodeTransactionBadOperatorSign = "transaction_bad_operator_signal"
	CodeBalanceLowerThanZero       = "balance_lower_than_zero"
	CodeNoMarketAddress            = "no_market_address"
	CodeNoMarketFee                = "no_market_fee"
	CodeMarketAddressAlreadyExists = "market_address_already_exists"
	CodeDuplicatedMarketAddress    = "duplicated_market_address"
	CodeUserWalletAddressNotFound  = "user_wallet_address_not_found"
	CodeUserResourceNotRegistered  = "user_resource_not_registered"
	CodeUserBidNotRegistered       = "user_bid_not_registered"
	CodeInvalidResourceBid         = "invalid_resource_bid"
	CodeNoForecastResourceBid      = "no_forecast_resource_bid"
	CodeInvalidIotaAddress         = "invalid_iota_address"
	CodeInvalidTangleMessageID     = "invalid_tangle_message_id"
	CodeDuplicatedSession          = "duplicated_session"
	CodeTransferOutNotFound        = "transfer_out_not_found"
	CodeTransferAlreadyConfirmed   = "transfer_already_confirmed"
)

func NoMarketSession(sessionID int64) *Error {
	return New(KindConflict, CodeNoMarketSession,
		fmt.Sprintf("Market session %d does not exist.", sessionID))
}

func SessionNotOpenForBids(sessionID int64) *Error {
	return New(KindConflict, CodeSessionNotOpenForBids,
		fmt.Sprintf("Market session %d is not open for bids.", sessionID))
}

func UnfinishedSessions() *Error {
	return New(KindConflict, CodeUnfinishedSessions,
		"Unable to create new session. There are still unfinished sessions.")
}

// MoreThanOneSessionOpen names the session that is already open.
func MoreThanOneSessionOpen(openSessionID int64) *Error {
	return New(KindConflict, CodeMoreThanOneSessionOpen,
		fmt.Sprintf("Unable to update session. Only one session must be open at each time, "+
			"and session '%d' is still in 'open' state.", openSessionID)).
		WithDetail("open_session_id", openSessionID)
}

func NoBidsDataFound(tangleMsgID string) *Error {
	return New(KindConflict, CodeNoBidsDataFound,
		fmt.Sprintf("There are no bids with tangle message ID: %s.", tangleMsgID))
}

// BidAlreadyExists names both the session and the resource of the duplicate.
func BidAlreadyExists(sessionID int64, resourceID uuid.UUID) *Error {
	return New(KindConflict, CodeBidAlreadyExists,
		fmt.Sprintf("The user already has a placed bid for session ID %d and resource ID %s.",
			sessionID, resourceID)).
		WithDetail("market_session", sessionID).
		WithDetail("resource", resourceID.String())
}

func BidPaymentNotFound(tangleMsgID string) *Error {
	return New(KindConflict, CodeBidPaymentNotFound,
		fmt.Sprintf("No bid payments were found for tangle_msg_id %s.", tangleMsgID))
}

func DuplicatedTangleMessageID(tangleMsgID string) *Error {
	return New(KindConflict, CodeDuplicatedTangleMessageID,
		fmt.Sprintf("Tangle Message ID %s was already used in previous bids.", tangleMsgID))
}

func BidAlreadyWithTangleID(bidID uuid.UUID) *Error {
	return New(KindConflict, CodeBidAlreadyWithTangleID,
		fmt.Sprintf("A Tangle Message ID already exists for bid ID %s.", bidID))
}

func TransactionAlreadyValid(tangleMsgID string) *Error {
	return New(KindConflict, CodeTransactionAlreadyValid,
		fmt.Sprintf("Tangle message ID %s already validated.", tangleMsgID))
}

func DuplicatedTransactionFound(txType string, userID, resourceID uuid.UUID, sessionID int64) *Error {
	return New(KindConflict, CodeDuplicatedTransactionFound,
		fmt.Sprintf("Transaction of type '%s' already exists for user '%s', resource '%s' and market session '%d'.",
			txType, userID, resourceID, sessionID))
}

func TransactionBadOperatorSignal(txType string, amount decimal.Decimal) *Error {
	return New(KindConflict, CodeTransactionBadOperatorSign,
		fmt.Sprintf("Bad operator signal for transaction %s - %s.", txType, amount))
}

// BalanceLowerThanZero reports a rejected debit as (new = init - withdraw).
func BalanceLowerThanZero(initial, withdraw, result decimal.Decimal) *Error {
	return New(KindConflict, CodeBalanceLowerThanZero,
		fmt.Sprintf("Final balance lower than zero. (%s = %s - %s).", result, initial, withdraw))
}

func NoMarketAddress() *Error {
	return New(KindConflict, CodeNoMarketAddress,
		"Market wallet address not found. Register an address first.")
}

func NoMarketFee(sessionID int64) *Error {
	return New(KindConflict, CodeNoMarketFee,
		fmt.Sprintf("There isn't a market fee uploaded for session %d.", sessionID))
}

func MarketAddressAlreadyExists() *Error {
	return New(KindConflict, CodeMarketAddressAlreadyExists,
		"A market address was already registered. Use PUT method to update it.")
}

func DuplicatedMarketAddress(address string) *Error {
	return New(KindConflict, CodeDuplicatedMarketAddress,
		fmt.Sprintf("Market address '%s' already exists.", address))
}

func UserWalletAddressNotFound(userID uuid.UUID) *Error {
	return New(KindConflict, CodeUserWalletAddressNotFound,
		fmt.Sprintf("No wallet address found for user '%s'. Please register your address first.", userID))
}

func UserResourceNotRegistered(userID, resourceID uuid.UUID) *Error {
	return New(KindConflict, CodeUserResourceNotRegistered,
		fmt.Sprintf("Resource ID %s is not registered to user '%s'.", resourceID, userID))
}

func UserBidNotRegistered(userID, bidID uuid.UUID) *Error {
	return New(KindConflict, CodeUserBidNotRegistered,
		fmt.Sprintf("Bid ID %s is not registered to user '%s'.", bidID, userID))
}

func InvalidResourceBid() *Error {
	return New(KindConflict, CodeInvalidResourceBid,
		"It is only possible to place bids for measurements resources.")
}

func NoForecastResourceBid() *Error {
	return New(KindConflict, CodeNoForecastResourceBid,
		"It is only possible to place bids for resources with 'to_forecast' field equal to True.")
}

func InvalidIotaAddress(address string) *Error {
	return New(KindValidation, CodeInvalidIotaAddress,
		fmt.Sprintf("Invalid IOTA address ('%s').", address))
}

func InvalidTangleMessageID(id string) *Error {
	return New(KindValidation, CodeInvalidTangleMessageID,
		fmt.Sprintf("Invalid tangle message ID ('%s').", id))
}

func DuplicatedSession(number int, date string) *Error {
	return New(KindConflict, CodeDuplicatedSession,
		fmt.Sprintf("Market session number %d already exists for date %s.", number, date))
}

func TransferOutNotFound(id int64) *Error {
	return New(KindNotFound, CodeTransferOutNotFound,
		fmt.Sprintf("Transfer out request %d not found.", id))
}

func TransferAlreadyConfirmed(id int64) *Error {
	return New(KindConflict, CodeTransferAlreadyConfirmed,
		fmt.Sprintf("Transfer out request %d was already confirmed.", id))
}

func NotFound(what string) *Error {
	return New(KindNotFound, CodeNotFound, what+" not found.")
}

func Unauthorized() *Error {
	return New(KindUnauthorized, CodeUnauthorized, "Authentication credentials were not provided.")
}

func Forbidden() *Error {
	return New(KindForbidden, CodeForbidden, "You do not have permission to perform this action.")
}
