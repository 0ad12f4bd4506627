package services

import "errors"

// Integrity failures from the contract/transaction checks. These are hard
// errors: a transaction that trips one will never become valid by waiting.
var (
	ErrInvalidSignature = errors.New("transaction call does not match the bridge entry point")
	ErrWrongContract    = errors.New("transaction was not sent to the configured bridge contract")
	ErrReverted         = errors.New("transaction reverted on chain")
	ErrBeforeDeployment = errors.New("transaction predates the bridge contract deployment")
)

// Not-yet-ready outcomes. Pollers should retry later.
var (
	ErrPendingTransaction = errors.New("transaction has no receipt yet")
	ErrNotConfirmed       = errors.New("transaction has not reached the required confirmation depth")
)

// Policy rejections surfaced as errors on the instant/queued paths.
var (
	ErrAlreadyAllocated      = errors.New("fund allocation already completed for this deposit")
	ErrInsufficientLiquidity = errors.New("hot wallet liquidity is insufficient for this transfer")
	ErrTokenNotSupported     = errors.New("token is not supported by the bridge")
	ErrRefundNotDue          = errors.New("refund is not available until the queue entry expires")
	ErrRefundNotAllowed      = errors.New("queue entry status does not permit a refund")
	ErrInvalidDestination    = errors.New("destination address is not valid for the configured network")
)
