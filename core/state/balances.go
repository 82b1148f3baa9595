package state

import (
	"fmt"
	"math/big"

	"loanchain/crypto"
)

// SetBalance overwrites the holder's balance of a registered asset. A zero
// amount deletes the entry.
func (m *Manager) SetBalance(addr crypto.Address, symbol string, amount *big.Int) error {
	if addr.IsZero() {
		return fmt.Errorf("address must not be empty")
	}
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	symbol = normalizeSymbol(symbol)
	if !m.TokenExists(symbol) {
		return fmt.Errorf("token %q not registered", symbol)
	}
	key := balanceKey(addr.Bytes(), symbol)
	if amount == nil || amount.Sign() == 0 {
		return m.db.Delete(key)
	}
	return m.store(key, amount)
}

// Balance returns the holder's balance; a missing entry reads as zero.
func (m *Manager) Balance(addr crypto.Address, symbol string) (*big.Int, error) {
	amount := new(big.Int)
	if _, err := m.load(balanceKey(addr.Bytes(), normalizeSymbol(symbol)), amount); err != nil {
		return nil, err
	}
	return amount, nil
}
