package state

import (
	"fmt"
	"math/big"
	"sort"

	"loanchain/crypto"
	"loanchain/native/loans"
)

type storedAddress struct {
	Prefix string
	Bytes  []byte
}

func newStoredAddress(addr crypto.Address) storedAddress {
	if addr.IsZero() {
		return storedAddress{}
	}
	return storedAddress{Prefix: string(addr.Prefix()), Bytes: addr.Bytes()}
}

func (s storedAddress) toAddress() (crypto.Address, error) {
	if len(s.Bytes) == 0 {
		return crypto.Address{}, nil
	}
	return crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Bytes)
}

type storedLoanParams struct {
	Admin                storedAddress
	CollateralAsset      string
	LoanAsset            string
	ProfitAsset          string
	CollectionAsset      string
	CustodialPool        storedAddress
	ProfitPool           storedAddress
	CollectionAccount    storedAddress
	SettlementAccount    storedAddress
	GlobalLTVLimit       uint64
	WarningThreshold     uint64
	LiquidationThreshold uint64
	PenaltyRate          uint64
	MinimumCollateral    *big.Int
	LoanCap              *big.Int
	InterestPeriod       uint64
}

func newStoredLoanParams(p *loans.Params) *storedLoanParams {
	return &storedLoanParams{
		Admin:                newStoredAddress(p.Admin),
		CollateralAsset:      p.CollateralAsset,
		LoanAsset:            p.LoanAsset,
		ProfitAsset:          p.ProfitAsset,
		CollectionAsset:      p.CollectionAsset,
		CustodialPool:        newStoredAddress(p.CustodialPool),
		ProfitPool:           newStoredAddress(p.ProfitPool),
		CollectionAccount:    newStoredAddress(p.CollectionAccount),
		SettlementAccount:    newStoredAddress(p.SettlementAccount),
		GlobalLTVLimit:       p.GlobalLTVLimit,
		WarningThreshold:     p.WarningThreshold,
		LiquidationThreshold: p.LiquidationThreshold,
		PenaltyRate:          p.PenaltyRate,
		MinimumCollateral:    nonNil(p.MinimumCollateral),
		LoanCap:              nonNil(p.LoanCap),
		InterestPeriod:       uint64(p.InterestPeriod),
	}
}

func (s *storedLoanParams) toParams() (*loans.Params, error) {
	out := &loans.Params{
		CollateralAsset:      s.CollateralAsset,
		LoanAsset:            s.LoanAsset,
		ProfitAsset:          s.ProfitAsset,
		CollectionAsset:      s.CollectionAsset,
		GlobalLTVLimit:       s.GlobalLTVLimit,
		WarningThreshold:     s.WarningThreshold,
		LiquidationThreshold: s.LiquidationThreshold,
		PenaltyRate:          s.PenaltyRate,
		MinimumCollateral:    nonNil(s.MinimumCollateral),
		LoanCap:              nonNil(s.LoanCap),
		InterestPeriod:       int64(s.InterestPeriod),
	}
	targets := []struct {
		dst *crypto.Address
		src storedAddress
	}{
		{&out.Admin, s.Admin},
		{&out.CustodialPool, s.CustodialPool},
		{&out.ProfitPool, s.ProfitPool},
		{&out.CollectionAccount, s.CollectionAccount},
		{&out.SettlementAccount, s.SettlementAccount},
	}
	for _, t := range targets {
		addr, err := t.src.toAddress()
		if err != nil {
			return nil, fmt.Errorf("loans: decode params: %w", err)
		}
		*t.dst = addr
	}
	return out, nil
}

type storedLoan struct {
	ID                  uint64
	Owner               storedAddress
	CollateralOriginal  *big.Int
	CollateralAvailable *big.Int
	LoanBalance         *big.Int
	Health              uint8
	LTV                 uint64
}

func newStoredLoan(l *loans.Loan) *storedLoan {
	kind, ltv := loans.EncodeHealth(l.Status)
	return &storedLoan{
		ID:                  uint64(l.ID),
		Owner:               newStoredAddress(l.Owner),
		CollateralOriginal:  nonNil(l.CollateralOriginal),
		CollateralAvailable: nonNil(l.CollateralAvailable),
		LoanBalance:         nonNil(l.LoanBalance),
		Health:              uint8(kind),
		LTV:                 ltv,
	}
}

func (s *storedLoan) toLoan() (*loans.Loan, error) {
	owner, err := s.Owner.toAddress()
	if err != nil {
		return nil, fmt.Errorf("loans: decode owner of %d: %w", s.ID, err)
	}
	status, err := loans.DecodeHealth(loans.HealthKind(s.Health), s.LTV)
	if err != nil {
		return nil, err
	}
	return &loans.Loan{
		ID:                  loans.LoanID(s.ID),
		Owner:               owner,
		CollateralOriginal:  nonNil(s.CollateralOriginal),
		CollateralAvailable: nonNil(s.CollateralAvailable),
		LoanBalance:         nonNil(s.LoanBalance),
		Status:              status,
	}, nil
}

type storedTotals struct {
	Loan       *big.Int
	Collateral *big.Int
}

type storedInterest struct {
	Rate        *big.Int
	LastAccrual uint64
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func toLoanIDs(raw []uint64) []loans.LoanID {
	out := make([]loans.LoanID, len(raw))
	for i, id := range raw {
		out[i] = loans.LoanID(id)
	}
	return out
}

func fromLoanIDs(ids []loans.LoanID) []uint64 {
	out := make([]uint64, len(ids))
	for i, id := range ids {
		out[i] = uint64(id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) loadIDs(key []byte) ([]loans.LoanID, error) {
	var raw []uint64
	if _, err := m.KVGet(key, &raw); err != nil {
		return nil, err
	}
	return toLoanIDs(raw), nil
}

func (m *Manager) storeIDs(key []byte, ids []loans.LoanID) error {
	if len(ids) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, fromLoanIDs(ids))
}

// LoanParams returns the stored loan parameters, or nil before genesis.
func (m *Manager) LoanParams() (*loans.Params, error) {
	var stored storedLoanParams
	ok, err := m.KVGet(loanParamsKey, &stored)
	if err != nil || !ok {
		return nil, err
	}
	return stored.toParams()
}

func (m *Manager) SetLoanParams(params *loans.Params) error {
	if params == nil {
		return fmt.Errorf("loans: params must not be nil")
	}
	return m.KVPut(loanParamsKey, newStoredLoanParams(params))
}

func (m *Manager) LoanPrice() (uint64, error) {
	var price uint64
	if _, err := m.KVGet(loanPriceKey, &price); err != nil {
		return 0, err
	}
	return price, nil
}

func (m *Manager) SetLoanPrice(price uint64) error {
	return m.KVPut(loanPriceKey, price)
}

func (m *Manager) LoanPaused() (bool, error) {
	var paused bool
	if _, err := m.KVGet(loanPausedKey, &paused); err != nil {
		return false, err
	}
	return paused, nil
}

func (m *Manager) SetLoanPaused(paused bool) error {
	return m.KVPut(loanPausedKey, paused)
}

// NextLoanID allocates the next loan identifier. Identifiers start at one and
// are never reused.
func (m *Manager) NextLoanID() (loans.LoanID, error) {
	var next uint64
	ok, err := m.KVGet(loanNextIDKey, &next)
	if err != nil {
		return 0, err
	}
	if !ok || next == 0 {
		next = 1
	}
	if err := m.KVPut(loanNextIDKey, next+1); err != nil {
		return 0, err
	}
	return loans.LoanID(next), nil
}

func (m *Manager) GetLoan(id loans.LoanID) (*loans.Loan, bool, error) {
	var stored storedLoan
	ok, err := m.KVGet(LoanRecordKey(uint64(id)), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	loan, err := stored.toLoan()
	if err != nil {
		return nil, false, err
	}
	return loan, true, nil
}

// PutLoan writes the loan record and keeps the global id index sorted.
func (m *Manager) PutLoan(loan *loans.Loan) error {
	if loan == nil {
		return fmt.Errorf("loans: loan must not be nil")
	}
	if err := m.KVPut(LoanRecordKey(uint64(loan.ID)), newStoredLoan(loan)); err != nil {
		return err
	}
	ids, err := m.loadIDs(loanIndexKey)
	if err != nil {
		return err
	}
	pos := sort.Search(len(ids), func(i int) bool { return ids[i] >= loan.ID })
	if pos < len(ids) && ids[pos] == loan.ID {
		return nil
	}
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = loan.ID
	return m.storeIDs(loanIndexKey, ids)
}

func (m *Manager) DeleteLoan(id loans.LoanID) error {
	if err := m.KVDelete(LoanRecordKey(uint64(id))); err != nil {
		return err
	}
	ids, err := m.loadIDs(loanIndexKey)
	if err != nil {
		return err
	}
	kept := ids[:0]
	for _, existing := range ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	return m.storeIDs(loanIndexKey, kept)
}

func (m *Manager) LoanIDs() ([]loans.LoanID, error) {
	return m.loadIDs(loanIndexKey)
}

func (m *Manager) OwnerLoanIDs(owner crypto.Address) ([]loans.LoanID, error) {
	return m.loadIDs(LoanOwnerKey(owner.Bytes()))
}

func (m *Manager) SetOwnerLoanIDs(owner crypto.Address, ids []loans.LoanID) error {
	return m.storeIDs(LoanOwnerKey(owner.Bytes()), ids)
}

func (m *Manager) LoanTotals() (loans.Totals, error) {
	var stored storedTotals
	if _, err := m.KVGet(loanTotalsKey, &stored); err != nil {
		return loans.Totals{}, err
	}
	return loans.Totals{Loan: nonNil(stored.Loan), Collateral: nonNil(stored.Collateral)}, nil
}

func (m *Manager) SetLoanTotals(totals loans.Totals) error {
	return m.KVPut(loanTotalsKey, &storedTotals{Loan: nonNil(totals.Loan), Collateral: nonNil(totals.Collateral)})
}

func (m *Manager) LiquidatingLoanIDs() ([]loans.LoanID, error) {
	return m.loadIDs(loanLiquidatingKey)
}

func (m *Manager) SetLiquidatingLoanIDs(ids []loans.LoanID) error {
	return m.storeIDs(loanLiquidatingKey, ids)
}

func (m *Manager) LoanInterestState() (loans.InterestState, error) {
	var stored storedInterest
	if _, err := m.KVGet(loanInterestKey, &stored); err != nil {
		return loans.InterestState{}, err
	}
	return loans.InterestState{CurrentRate: nonNil(stored.Rate), LastAccrual: int64(stored.LastAccrual)}, nil
}

func (m *Manager) SetLoanInterestState(state loans.InterestState) error {
	if state.LastAccrual < 0 {
		return fmt.Errorf("loans: negative accrual timestamp")
	}
	return m.KVPut(loanInterestKey, &storedInterest{Rate: nonNil(state.CurrentRate), LastAccrual: uint64(state.LastAccrual)})
}
