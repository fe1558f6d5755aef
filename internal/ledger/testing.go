package ledger

// SeedBalances is a test helper that overwrites both sub-balances of an
// existing account when using the in-memory ledger. No entries are written.
func SeedBalances(l Ledger, accountID string, regular, escrow int64) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		if acct, exists := mem.accounts[accountID]; exists {
			acct.RegularBalance = regular
			acct.EscrowBalance = escrow
		}
	}
}
