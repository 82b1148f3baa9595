package bank

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	corestate "loanchain/core/state"
	"loanchain/crypto"
	nativecommon "loanchain/native/common"
	"loanchain/observability/metrics"
)

var (
	ErrUnknownAsset        = errors.New("bank: unknown asset")
	ErrInsufficientBalance = nativecommon.ErrInsufficientBalance
	ErrInvalidAmount       = errors.New("bank: amount must not be negative")
	ErrMintPaused          = errors.New("bank: minting paused")
	ErrMintUnauthorized    = errors.New("bank: mint authority mismatch")
	errNilState            = errors.New("bank: state manager required")
)

// Ledger moves token balances held in state. Mint and burn are restricted to
// tokens whose mint authority is unset or equal to the ledger's authority.
type Ledger struct {
	state     *corestate.Manager
	authority crypto.Address
	telemetry *metrics.LedgerMetrics
}

// NewLedger returns a ledger acting with the given mint authority.
func NewLedger(state *corestate.Manager, authority crypto.Address) *Ledger {
	return &Ledger{state: state, authority: authority, telemetry: metrics.Ledger()}
}

func (l *Ledger) token(asset string) (*corestate.TokenMetadata, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	meta, err := l.state.Token(asset)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
	}
	return meta, nil
}

func checkAmount(amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() == 0 {
		return false, nil
	}
	if amount.Sign() < 0 {
		return false, ErrInvalidAmount
	}
	return true, nil
}

// BalanceOf returns the account balance of asset.
func (l *Ledger) BalanceOf(asset string, account crypto.Address) (*big.Int, error) {
	meta, err := l.token(asset)
	if err != nil {
		return nil, err
	}
	return l.state.Balance(account, meta.Symbol)
}

// Transfer moves amount of asset between two accounts. Zero amounts are
// accepted and change nothing.
func (l *Ledger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	meta, err := l.token(asset)
	if err != nil {
		return err
	}
	if ok, err := checkAmount(amount); !ok {
		return err
	}
	if from == to {
		return nil
	}
	fromBalance, err := l.state.Balance(from, meta.Symbol)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from, fromBalance, meta.Symbol, amount)
	}
	toBalance, err := l.state.Balance(to, meta.Symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from, meta.Symbol, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := l.state.SetBalance(to, meta.Symbol, new(big.Int).Add(toBalance, amount)); err != nil {
		if restoreErr := l.state.SetBalance(from, meta.Symbol, fromBalance); restoreErr != nil {
			return errors.Join(err, fmt.Errorf("bank: rollback sender: %w", restoreErr))
		}
		return err
	}
	l.telemetry.RecordMovement("transfer", meta.Symbol)
	return nil
}

func (l *Ledger) checkAuthority(meta *corestate.TokenMetadata) error {
	if meta.MintPaused {
		return fmt.Errorf("%w: %s", ErrMintPaused, meta.Symbol)
	}
	if len(meta.MintAuthority) > 0 && !bytes.Equal(meta.MintAuthority, l.authority.Bytes()) {
		return fmt.Errorf("%w: %s", ErrMintUnauthorized, meta.Symbol)
	}
	return nil
}

// Mint credits newly created units of asset to the account.
func (l *Ledger) Mint(asset string, to crypto.Address, amount *big.Int) error {
	meta, err := l.token(asset)
	if err != nil {
		return err
	}
	if ok, err := checkAmount(amount); !ok {
		return err
	}
	if err := l.checkAuthority(meta); err != nil {
		return err
	}
	balance, err := l.state.Balance(to, meta.Symbol)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(to, meta.Symbol, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	l.telemetry.RecordMovement("mint", meta.Symbol)
	return nil
}

// Burn destroys amount of asset held by the account.
func (l *Ledger) Burn(asset string, from crypto.Address, amount *big.Int) error {
	meta, err := l.token(asset)
	if err != nil {
		return err
	}
	if ok, err := checkAmount(amount); !ok {
		return err
	}
	if err := l.checkAuthority(meta); err != nil {
		return err
	}
	balance, err := l.state.Balance(from, meta.Symbol)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s %s from %s", ErrInsufficientBalance, amount, meta.Symbol, from)
	}
	if err := l.state.SetBalance(from, meta.Symbol, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	l.telemetry.RecordMovement("burn", meta.Symbol)
	return nil
}
