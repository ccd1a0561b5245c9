// Package errcode enumerates the closed set of error codes persisted on
// brc20_operations rows and returned by the parser/validator/processor.
package errcode

// Code is a stable, wire-persisted error identifier.
type Code string

// Parse errors.
const (
	InvalidJSON        Code = "INVALID_JSON"
	MissingProtocol    Code = "MISSING_PROTOCOL"
	InvalidProtocol    Code = "INVALID_PROTOCOL"
	MissingOperation   Code = "MISSING_OPERATION"
	InvalidOperation   Code = "INVALID_OPERATION"
	MissingTicker      Code = "MISSING_TICKER"
	EmptyTicker        Code = "EMPTY_TICKER"
	InvalidAmount      Code = "INVALID_AMOUNT"
	MultipleOpReturns  Code = "MULTIPLE_OP_RETURNS"
	OpReturnTooLarge   Code = "OP_RETURN_TOO_LARGE"
	OpReturnNotFirst   Code = "OP_RETURN_NOT_FIRST"
)

// Business errors.
const (
	TickerNotDeployed Code = "TICKER_NOT_DEPLOYED"
	TickerAlreadyExists Code = "TICKER_ALREADY_EXISTS"
	InsufficientBalance Code = "INSUFFICIENT_BALANCE"
	ExceedsMaxSupply    Code = "EXCEEDS_MAX_SUPPLY"
	ExceedsMintLimit    Code = "EXCEEDS_MINT_LIMIT"
	NoStandardOutput    Code = "NO_STANDARD_OUTPUT"
	NoValidReceiver     Code = "NO_VALID_RECEIVER"
)

// Transfer-type errors.
const (
	InvalidMarketplaceTransaction Code = "INVALID_MARKETPLACE_TRANSACTION"
	InvalidSighashType            Code = "INVALID_SIGHASH_TYPE"
	MultiTransferMixedTickers     Code = "MULTI_TRANSFER_MIXED_TICKERS"
	InvalidOutputPosition         Code = "INVALID_OUTPUT_POSITION"
	NoReceiverOutput              Code = "NO_RECEIVER_OUTPUT"
)
