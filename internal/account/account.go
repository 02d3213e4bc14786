package account

import (
	"errors"
	"time"
)

// Class identifies the product class of an account.
type Class string

const (
	ClassSavings      Class = "SAVINGS"
	ClassCurrent      Class = "CURRENT"
	ClassFixedDeposit Class = "FIXED_DEPOSIT"
	ClassBusiness     Class = "BUSINESS"
	ClassCryptoWallet Class = "CRYPTO_WALLET"
	ClassFee          Class = "FEE"
)

// Status is the lifecycle state of an account. Identity fields are
// immutable after creation; Status is the only mutable attribute.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusFrozen    Status = "FROZEN"
	StatusSuspended Status = "SUSPENDED"
	StatusClosed    Status = "CLOSED"
)

var (
	// ErrNotFound is returned when an account id is unknown.
	ErrNotFound = errors.New("account not found")
	// ErrExists is returned when creating an account whose id or number is taken.
	ErrExists = errors.New("account already exists")
	// ErrVersionConflict signals a stale expected version on a balance mutation.
	ErrVersionConflict = errors.New("balance version conflict")
	// ErrNonZeroBalance blocks closing an account that still holds funds.
	ErrNonZeroBalance = errors.New("account balance is not zero")
	// ErrClosed is returned when mutating a closed account.
	ErrClosed = errors.New("account is closed")
)

// Account is a per-(owner, class, asset) balance holder.
type Account struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Number         string    `json:"number"`
	Class          Class     `json:"class"`
	Asset          string    `json:"asset"`
	Status         Status    `json:"status"`
	OverdraftLimit int64     `json:"overdraft_limit"`
	CreatedAt      time.Time `json:"created_at"`
}

// Balance is the current amount held by one account, in the asset's minor
// unit, with a monotonically increasing version for optimistic concurrency.
type Balance struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`
	Version   int64  `json:"version"`
}

// Mutable reports whether the account may participate in transactions at all.
// Frozen and suspended accounts fail the business-rule check instead.
func (a Account) Mutable() bool {
	return a.Status != StatusClosed
}
