package state

import (
	"fmt"
	"slices"
	"strings"

	"golang.org/x/text/unicode/norm"

	"loanchain/crypto"
)

// TokenMetadata describes a registered asset. MintAuthority, when set, is the
// only account the ledger accepts for minting and burning.
type TokenMetadata struct {
	Symbol        string
	Name          string
	Decimals      uint8
	MintAuthority []byte
	MintPaused    bool
}

// normalizeSymbol applies NFKC before upper-casing so full-width and
// ASCII tickers resolve to the same asset.
func normalizeSymbol(symbol string) string {
	return strings.ToUpper(norm.NFKC.String(strings.TrimSpace(symbol)))
}

func (m *Manager) token(symbol string) (*TokenMetadata, error) {
	if symbol == "" {
		return nil, nil
	}
	meta := new(TokenMetadata)
	ok, err := m.load(tokenMetadataKey(symbol), meta)
	if err != nil || !ok {
		return nil, err
	}
	return meta, nil
}

// TokenList returns the registered symbols in ascending order.
func (m *Manager) TokenList() ([]string, error) {
	var list []string
	if _, err := m.load(tokenListKey, &list); err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}

// RegisterToken adds a new asset. Symbols are unique after normalisation.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("token symbol must not be empty")
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", symbol)
	}
	list, err := m.TokenList()
	if err != nil {
		return err
	}
	pos, found := slices.BinarySearch(list, symbol)
	if found {
		return fmt.Errorf("token %s already registered", symbol)
	}
	if err := m.store(tokenMetadataKey(symbol), &TokenMetadata{Symbol: symbol, Name: name, Decimals: decimals}); err != nil {
		return err
	}
	return m.store(tokenListKey, slices.Insert(list, pos, symbol))
}

func (m *Manager) updateToken(symbol string, apply func(*TokenMetadata)) error {
	symbol = normalizeSymbol(symbol)
	meta, err := m.token(symbol)
	if err != nil {
		return err
	}
	if meta == nil {
		return fmt.Errorf("token %s not registered", symbol)
	}
	apply(meta)
	return m.store(tokenMetadataKey(symbol), meta)
}

func (m *Manager) SetTokenMintAuthority(symbol string, authority crypto.Address) error {
	return m.updateToken(symbol, func(meta *TokenMetadata) { meta.MintAuthority = authority.Bytes() })
}

func (m *Manager) SetTokenMintPaused(symbol string, paused bool) error {
	return m.updateToken(symbol, func(meta *TokenMetadata) { meta.MintPaused = paused })
}

// Token returns the asset metadata, or nil for an unknown symbol.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	return m.token(normalizeSymbol(symbol))
}

// TokenExists treats read errors as absence.
func (m *Manager) TokenExists(symbol string) bool {
	meta, err := m.Token(symbol)
	return err == nil && meta != nil
}
