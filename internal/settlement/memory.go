package settlement

import (
	"context"
	"sync"
)

// MemoryLedger is the in-process Ledger used by tests and by servers running
// without Redis. Accounts spring into existence with a starting balance on
// first touch.
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*Stats
	applied  map[string]bool
	initial  int
}

// NewMemoryLedger creates a ledger where unseen accounts start with
// initialCoins.
func NewMemoryLedger(initialCoins int) *MemoryLedger {
	return &MemoryLedger{
		accounts: make(map[string]*Stats),
		applied:  make(map[string]bool),
		initial:  initialCoins,
	}
}

func (l *MemoryLedger) account(id string) *Stats {
	s, ok := l.accounts[id]
	if !ok {
		s = &Stats{Coins: l.initial}
		l.accounts[id] = s
	}
	return s
}

// Deduct removes amount from the account, failing with ErrInsufficientFunds
// when the balance cannot cover it.
func (l *MemoryLedger) Deduct(_ context.Context, accountID string, amount int, txnID string) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.account(accountID)
	if l.applied[txnID] {
		return *s, nil
	}
	if s.Coins < amount {
		return *s, ErrInsufficientFunds
	}
	s.Coins -= amount
	l.applied[txnID] = true
	return *s, nil
}

// Credit adds amount to the account.
func (l *MemoryLedger) Credit(_ context.Context, accountID string, amount int, txnID string) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.account(accountID)
	if l.applied[txnID] {
		return *s, nil
	}
	s.Coins += amount
	l.applied[txnID] = true
	return *s, nil
}

// RecordResult bumps the win or loss tally.
func (l *MemoryLedger) RecordResult(_ context.Context, accountID string, won bool, txnID string) (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.account(accountID)
	if l.applied[txnID] {
		return *s, nil
	}
	if won {
		s.Wins++
	} else {
		s.Losses++
	}
	l.applied[txnID] = true
	return *s, nil
}

// Stats returns the current stats for an account.
func (l *MemoryLedger) Stats(accountID string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.account(accountID)
}

// MemoryHistory collects game records in memory.
type MemoryHistory struct {
	mu      sync.Mutex
	records []GameRecord
}

// NewMemoryHistory creates an empty history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

// Record appends a game record.
func (h *MemoryHistory) Record(_ context.Context, rec GameRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

// RecordsFor returns every record for an account, in insertion order.
func (h *MemoryHistory) RecordsFor(accountID string) []GameRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []GameRecord
	for _, rec := range h.records {
		if rec.AccountID == accountID {
			out = append(out, rec)
		}
	}
	return out
}
