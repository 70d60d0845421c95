package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryOptions configures the in-memory ledger.
type InMemoryOptions struct {
	// InitialCredits is the welcome grant applied when a user is first seen.
	// Defaults to DefaultInitialCredits.
	InitialCredits int

	// Balances seeds explicit starting balances keyed by user id. Seeded
	// users do not receive the welcome grant.
	Balances map[string]int
}

// InMemory is a volatile Ledger implementation storing balances in a process
// local map. It is safe for concurrent use and best suited for tests and
// single-process runs.
type InMemory struct {
	mu             sync.Mutex
	balances       map[string]int
	transactions   map[string][]Transaction
	initialCredits int
	now            func() time.Time
}

// Compile time check to ensure InMemory satisfies the Ledger interface.
var _ Ledger = (*InMemory)(nil)

// NewInMemory constructs an in-memory ledger.
func NewInMemory(optFns ...func(o *InMemoryOptions)) *InMemory {
	opts := InMemoryOptions{InitialCredits: DefaultInitialCredits}

	for _, fn := range optFns {
		fn(&opts)
	}

	l := &InMemory{
		balances:       make(map[string]int),
		transactions:   make(map[string][]Transaction),
		initialCredits: opts.InitialCredits,
		now:            time.Now,
	}

	for userID, balance := range opts.Balances {
		l.balances[userID] = balance
	}

	return l
}

// Balance returns the user's balance, granting welcome credits on first
// touch.
func (l *InMemory) Balance(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.ensureLocked(userID), nil
}

// Deduct subtracts amount from the user's balance and records a usage
// transaction. The check and update happen under one lock so concurrent
// deductions cannot drive the balance negative.
func (l *InMemory) Deduct(_ context.Context, userID string, amount int, sessionID, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("deduct amount must be positive, got %d", amount)
	}

	if description == "" {
		description = "AI usage"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.ensureLocked(userID)
	if balance < amount {
		return 0, &InsufficientCreditsError{UserID: userID, Requested: amount, Available: balance}
	}

	newBalance := balance - amount
	l.balances[userID] = newBalance

	l.appendLocked(Transaction{
		UserID:       userID,
		SessionID:    sessionID,
		Amount:       -amount,
		Type:         TransactionUsage,
		Description:  description,
		BalanceAfter: newBalance,
	})

	return newBalance, nil
}

// Grant adds credits to the user's balance and records an admin grant
// transaction.
func (l *InMemory) Grant(_ context.Context, userID string, amount int, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newBalance := l.ensureLocked(userID) + amount
	l.balances[userID] = newBalance

	l.appendLocked(Transaction{
		UserID:       userID,
		Amount:       amount,
		Type:         TransactionAdminGrant,
		Description:  description,
		BalanceAfter: newBalance,
	})

	return newBalance, nil
}

// Transactions returns the user's audit trail, newest first.
func (l *InMemory) Transactions(_ context.Context, userID string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.transactions[userID]

	out := make([]Transaction, len(history))
	for i, tx := range history {
		out[len(history)-1-i] = tx
	}

	return out, nil
}

// ensureLocked returns the user's balance, creating the account with the
// welcome grant when missing. Caller must hold the lock.
func (l *InMemory) ensureLocked(userID string) int {
	if balance, ok := l.balances[userID]; ok {
		return balance
	}

	l.balances[userID] = l.initialCredits

	if l.initialCredits > 0 {
		l.appendLocked(Transaction{
			UserID:       userID,
			Amount:       l.initialCredits,
			Type:         TransactionInitialGrant,
			Description:  "Welcome credits for new user",
			BalanceAfter: l.initialCredits,
		})
	}

	return l.initialCredits
}

// appendLocked stamps and stores an audit row. Caller must hold the lock.
func (l *InMemory) appendLocked(tx Transaction) {
	tx.ID = uuid.NewString()
	tx.CreatedAt = l.now()

	l.transactions[tx.UserID] = append(l.transactions[tx.UserID], tx)
}
