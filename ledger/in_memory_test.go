package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceGrantsWelcomeCredits(t *testing.T) {
	l := NewInMemory()

	balance, err := l.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialCredits, balance)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TransactionInitialGrant, history[0].Type)
	assert.Equal(t, DefaultInitialCredits, history[0].Amount)
	assert.Equal(t, DefaultInitialCredits, history[0].BalanceAfter)
	assert.Equal(t, "Welcome credits for new user", history[0].Description)
	assert.NotEmpty(t, history[0].ID)
	assert.False(t, history[0].CreatedAt.IsZero())
}

func TestSeededBalancesSkipWelcomeGrant(t *testing.T) {
	l := NewInMemory(func(o *InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 100}
	})

	balance, err := l.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeductRecordsUsageTransaction(t *testing.T) {
	l := NewInMemory(func(o *InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 100}
	})

	balance, err := l.Deduct(context.Background(), "user-1", 30, "session-1", "Session: Essay on tides")
	require.NoError(t, err)
	assert.Equal(t, 70, balance)

	balance, err = l.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 70, balance)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, TransactionUsage, history[0].Type)
	assert.Equal(t, -30, history[0].Amount)
	assert.Equal(t, 70, history[0].BalanceAfter)
	assert.Equal(t, "session-1", history[0].SessionID)
	assert.Equal(t, "Session: Essay on tides", history[0].Description)
}

func TestDeductInsufficientCredits(t *testing.T) {
	l := NewInMemory(func(o *InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 10}
	})

	_, err := l.Deduct(context.Background(), "user-1", 25, "session-1", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	var icErr *InsufficientCreditsError
	require.ErrorAs(t, err, &icErr)
	assert.Equal(t, "user-1", icErr.UserID)
	assert.Equal(t, 25, icErr.Requested)
	assert.Equal(t, 10, icErr.Available)

	// Failed deductions leave no trace.
	balance, err := l.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeductDefaultsDescription(t *testing.T) {
	l := NewInMemory(func(o *InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 50}
	})

	_, err := l.Deduct(context.Background(), "user-1", 5, "", "")
	require.NoError(t, err)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "AI usage", history[0].Description)
}

func TestDeductRejectsNonPositiveAmount(t *testing.T) {
	l := NewInMemory()

	_, err := l.Deduct(context.Background(), "user-1", 0, "", "")
	assert.Error(t, err)

	_, err = l.Deduct(context.Background(), "user-1", -5, "", "")
	assert.Error(t, err)
}

func TestGrantAddsCredits(t *testing.T) {
	l := NewInMemory()

	balance, err := l.Grant(context.Background(), "user-1", 50, "monthly top-up")
	require.NoError(t, err)
	assert.Equal(t, DefaultInitialCredits+50, balance)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, TransactionAdminGrant, history[0].Type)
	assert.Equal(t, 50, history[0].Amount)
	assert.Equal(t, DefaultInitialCredits+50, history[0].BalanceAfter)
	assert.Equal(t, TransactionInitialGrant, history[1].Type)
}

func TestTransactionsNewestFirst(t *testing.T) {
	l := NewInMemory(func(o *InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 100}
	})

	_, err := l.Deduct(context.Background(), "user-1", 10, "session-1", "first")
	require.NoError(t, err)
	_, err = l.Deduct(context.Background(), "user-1", 10, "session-2", "second")
	require.NoError(t, err)

	history, err := l.Transactions(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "second", history[0].Description)
	assert.Equal(t, "first", history[1].Description)
}

func TestConcurrentDeductsNeverOverdraw(t *testing.T) {
	l := NewInMemory(func(o *InMemoryOptions) {
		o.Balances = map[string]int{"user-1": 100}
	})

	var wg sync.WaitGroup
	results := make([]error, 20)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = l.Deduct(context.Background(), "user-1", 10, "session-1", "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, ErrInsufficientCredits))
		}
	}
	assert.Equal(t, 10, succeeded)

	balance, err := l.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}
