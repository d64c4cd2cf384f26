package memory

import (
	"context"
	"sync"
)

// Wallet is an in-memory coin ledger keyed by player name.
type Wallet struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewWallet() *Wallet {
	return &Wallet{balances: make(map[string]int64)}
}

func (w *Wallet) Credit(_ context.Context, player string, coins int64) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[player] += coins
	return w.balances[player], nil
}

func (w *Wallet) Balance(player string) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[player]
}
