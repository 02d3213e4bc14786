package engine

import "errors"

// TxType enumerates the transaction types the engine applies.
type TxType string

const (
	TxDeposit        TxType = "DEPOSIT"
	TxWithdrawal     TxType = "WITHDRAWAL"
	TxTransfer       TxType = "TRANSFER"
	TxCryptoBuy      TxType = "CRYPTO_BUY"
	TxCryptoSell     TxType = "CRYPTO_SELL"
	TxGiftCardSettle TxType = "GIFTCARD_SETTLE"
	TxBillPayment    TxType = "BILL_PAYMENT"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransfer, TxCryptoBuy, TxCryptoSell, TxGiftCardSettle, TxBillPayment:
		return true
	}
	return false
}

// Priced reports whether t requires an exchange rate before execution.
func (t TxType) Priced() bool {
	return t == TxCryptoBuy || t == TxCryptoSell || t == TxGiftCardSettle
}

// NeedsDestination reports whether t moves value into a second account.
func (t TxType) NeedsDestination() bool {
	return t == TxTransfer || t == TxCryptoBuy || t == TxCryptoSell || t == TxGiftCardSettle
}

// Reversible reports whether an applied t may be compensated within the
// reversal window.
func (t TxType) Reversible() bool {
	return t == TxTransfer || t == TxBillPayment || t == TxGiftCardSettle
}

// Status is the terminal status of a submission.
type Status string

const (
	StatusApplied   Status = "APPLIED"
	StatusRejected  Status = "REJECTED"
	StatusDuplicate Status = "DUPLICATE"
	StatusReversed  Status = "REVERSED"
)

// Reason codes carried on rejected results and journal entries.
const (
	ReasonValidation           = "ValidationError"
	ReasonInsufficientFunds    = "InsufficientFunds"
	ReasonLimitExceeded        = "LimitExceeded"
	ReasonAccountFrozen        = "AccountFrozen"
	ReasonAccountNotFound      = "AccountNotFound"
	ReasonAccountClosed        = "AccountClosed"
	ReasonAssetMismatch        = "AssetMismatch"
	ReasonStaleRate            = "StaleRate"
	ReasonAmountTooSmall       = "AmountTooSmall"
	ReasonSettlementUnverified = "SettlementUnverified"
	ReasonEntryNotFound        = "EntryNotFound"
	ReasonNotReversible        = "NotReversible"
	ReasonReversalWindowClosed = "ReversalWindowClosed"
	ReasonAlreadyReversed      = "AlreadyReversed"
)

var (
	// ErrServiceUnavailable marks transient failures: the request was not
	// journaled, its idempotency key is released, and the caller may retry
	// with the same key.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrConsistency marks a broken internal invariant (a mutation and its
	// journal record diverged). It is never returned on a clean rejection.
	ErrConsistency = errors.New("ledger consistency violation")
)

// TransactionRequest is the caller-submitted intent. Amount is in the minor
// unit of Asset: the fiat spend for CRYPTO_BUY, the asset units disposed of
// for CRYPTO_SELL and GIFTCARD_SETTLE.
type TransactionRequest struct {
	RequestID   string            `json:"request_id"`
	FromAccount string            `json:"from_account"`
	ToAccount   string            `json:"to_account,omitempty"`
	Asset       string            `json:"asset"`
	Amount      int64             `json:"amount"`
	Type        TxType            `json:"type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// TransactionResult is the terminal outcome of a submission or reversal.
type TransactionResult struct {
	Status        Status `json:"status"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
	NewBalance    *int64 `json:"new_balance,omitempty"`
	ReasonCode    string `json:"reason_code,omitempty"`
}
