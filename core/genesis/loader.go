package genesis

import (
	"fmt"
	"math/big"
	"sort"

	"loanchain/config"
	"loanchain/core/state"
	"loanchain/crypto"
	"loanchain/native/loans"
)

// Initialized reports whether the loan module parameters were already written
// to state, which means genesis ran on this database before.
func Initialized(manager *state.Manager) (bool, error) {
	if manager == nil {
		return false, fmt.Errorf("state manager must not be nil")
	}
	params, err := manager.LoanParams()
	if err != nil {
		return false, err
	}
	return params != nil, nil
}

// Apply seeds state from a validated genesis document: assets, balances, role
// members and finally the loan module parameters and price. The engine must
// already be bound to manager.
func Apply(spec *config.Genesis, manager *state.Manager, engine *loans.Engine) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}
	if engine == nil {
		return fmt.Errorf("loan engine must not be nil")
	}

	// 1) Assets (already sorted by symbol)
	for i := range spec.Assets {
		asset := &spec.Assets[i]
		if err := manager.RegisterToken(asset.Symbol, asset.Name, asset.Decimals); err != nil {
			return fmt.Errorf("register asset %q: %w", asset.Symbol, err)
		}
		if authority := asset.Authority(); !authority.IsZero() {
			if err := manager.SetTokenMintAuthority(asset.Symbol, authority); err != nil {
				return fmt.Errorf("asset %q: %w", asset.Symbol, err)
			}
		}
		if asset.MintPaused {
			if err := manager.SetTokenMintPaused(asset.Symbol, true); err != nil {
				return fmt.Errorf("asset %q: %w", asset.Symbol, err)
			}
		}
	}

	// 2) Balances. Repeated (account, asset) entries accumulate.
	type balanceKey struct {
		account string
		asset   string
	}
	totals := make(map[balanceKey]*big.Int)
	keys := make([]balanceKey, 0, len(spec.Balances))
	accounts := make(map[string]config.BalanceSpec)
	for _, entry := range spec.Balances {
		key := balanceKey{account: entry.Account().String(), asset: entry.Asset}
		if existing, ok := totals[key]; ok {
			existing.Add(existing, entry.Value())
			continue
		}
		totals[key] = entry.Value()
		keys = append(keys, key)
		accounts[key.account] = entry
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].asset < keys[j].asset
	})
	for _, key := range keys {
		account := accounts[key.account].Account()
		if err := manager.SetBalance(account, key.asset, totals[key]); err != nil {
			return fmt.Errorf("balance %s/%s: %w", key.account, key.asset, err)
		}
	}

	// 3) Roles
	roles := make([]string, 0, len(spec.Roles))
	for role := range spec.Roles {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		for _, member := range spec.Roles[role] {
			addr, err := decodeMember(member)
			if err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
			if err := manager.SetRole(role, addr); err != nil {
				return fmt.Errorf("role %s: %w", role, err)
			}
		}
	}

	// 4) Loan module
	if err := engine.InitGenesis(spec.Loans.Params(), spec.Loans.Price); err != nil {
		return fmt.Errorf("init loans: %w", err)
	}
	return nil
}

func decodeMember(member string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(member)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("member %q: %w", member, err)
	}
	return addr, nil
}
