package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInitialCredits is the welcome grant applied the first time the
// ledger sees a user.
const DefaultInitialCredits = 20

// Transaction types recorded in the audit trail. Deductions are stored with
// negative amounts, grants with positive ones.
const (
	TransactionInitialGrant = "initial_grant"
	TransactionUsage        = "usage"
	TransactionAdminGrant   = "admin_grant"
)

// Ledger tracks per-user credit balances.
type Ledger interface {
	// Balance returns the user's current balance, creating the account with
	// the welcome grant if it does not exist yet.
	Balance(ctx context.Context, userID string) (int, error)

	// Deduct atomically subtracts amount from the user's balance and records
	// a usage transaction. It returns the new balance, or an
	// *InsufficientCreditsError when the balance cannot cover amount.
	Deduct(ctx context.Context, userID string, amount int, sessionID, description string) (int, error)
}

// ErrInsufficientCredits matches any *InsufficientCreditsError under
// errors.Is. The runner uses it to gate sessions before the first provider
// call.
var ErrInsufficientCredits = errors.New("insufficient credits")

// InsufficientCreditsError reports a deduction or pre-run gate that failed
// for lack of balance.
type InsufficientCreditsError struct {
	UserID    string
	Requested int
	Available int
}

// Error implements the error interface.
func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for user %s: requested %d, available %d",
		e.UserID, e.Requested, e.Available)
}

// Is reports a match for the ErrInsufficientCredits sentinel.
func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// Transaction is one immutable audit row in a user's credit history.
type Transaction struct {
	ID           string
	UserID       string
	SessionID    string
	Amount       int
	Type         string
	Description  string
	BalanceAfter int
	CreatedAt    time.Time
}
