package loans

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"testing"

	"loanchain/core/events"
	"loanchain/crypto"
)

func makeAddress(prefix crypto.AddressPrefix, b byte) crypto.Address {
	return crypto.MustNewAddress(prefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

type mockEngineState struct {
	params      *Params
	price       uint64
	paused      bool
	nextID      LoanID
	loans       map[LoanID]*Loan
	owners      map[crypto.Address][]LoanID
	totals      Totals
	liquidating []LoanID
	interest    InterestState
	tokens      map[string]bool
	// failures maps a write method name to the error it returns.
	failures map[string]error
}

func (m *mockEngineState) failOn(method string, err error) {
	if m.failures == nil {
		m.failures = make(map[string]error)
	}
	if err == nil {
		delete(m.failures, method)
		return
	}
	m.failures[method] = err
}

func (m *mockEngineState) injected(method string) error { return m.failures[method] }

func newMockEngineState() *mockEngineState {
	return &mockEngineState{
		nextID: 1,
		loans:  make(map[LoanID]*Loan),
		owners: make(map[crypto.Address][]LoanID),
		totals: Totals{Loan: big.NewInt(0), Collateral: big.NewInt(0)},
		tokens: make(map[string]bool),
	}
}

func (m *mockEngineState) LoanParams() (*Params, error) {
	if m.params == nil {
		return nil, nil
	}
	clone := m.params.Clone()
	return &clone, nil
}

func (m *mockEngineState) SetLoanParams(params *Params) error {
	clone := params.Clone()
	m.params = &clone
	return nil
}

func (m *mockEngineState) LoanPrice() (uint64, error)      { return m.price, nil }
func (m *mockEngineState) SetLoanPrice(price uint64) error { m.price = price; return nil }
func (m *mockEngineState) LoanPaused() (bool, error)       { return m.paused, nil }
func (m *mockEngineState) SetLoanPaused(paused bool) error { m.paused = paused; return nil }

func (m *mockEngineState) NextLoanID() (LoanID, error) {
	id := m.nextID
	m.nextID++
	return id, nil
}

func (m *mockEngineState) GetLoan(id LoanID) (*Loan, bool, error) {
	loan, ok := m.loans[id]
	if !ok {
		return nil, false, nil
	}
	return loan.Clone(), true, nil
}

func (m *mockEngineState) PutLoan(loan *Loan) error {
	if err := m.injected("PutLoan"); err != nil {
		return err
	}
	m.loans[loan.ID] = loan.Clone()
	return nil
}

func (m *mockEngineState) DeleteLoan(id LoanID) error {
	if err := m.injected("DeleteLoan"); err != nil {
		return err
	}
	delete(m.loans, id)
	return nil
}

func (m *mockEngineState) LoanIDs() ([]LoanID, error) {
	ids := make([]LoanID, 0, len(m.loans))
	for id := range m.loans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *mockEngineState) OwnerLoanIDs(owner crypto.Address) ([]LoanID, error) {
	return append([]LoanID(nil), m.owners[owner]...), nil
}

func (m *mockEngineState) SetOwnerLoanIDs(owner crypto.Address, ids []LoanID) error {
	if err := m.injected("SetOwnerLoanIDs"); err != nil {
		return err
	}
	if len(ids) == 0 {
		delete(m.owners, owner)
		return nil
	}
	m.owners[owner] = append([]LoanID(nil), ids...)
	return nil
}

func (m *mockEngineState) LoanTotals() (Totals, error) { return m.totals.Clone(), nil }

func (m *mockEngineState) SetLoanTotals(totals Totals) error {
	if err := m.injected("SetLoanTotals"); err != nil {
		return err
	}
	m.totals = totals.Clone()
	return nil
}

func (m *mockEngineState) LiquidatingLoanIDs() ([]LoanID, error) {
	return append([]LoanID(nil), m.liquidating...), nil
}

func (m *mockEngineState) SetLiquidatingLoanIDs(ids []LoanID) error {
	if err := m.injected("SetLiquidatingLoanIDs"); err != nil {
		return err
	}
	m.liquidating = append([]LoanID(nil), ids...)
	return nil
}

func (m *mockEngineState) LoanInterestState() (InterestState, error) {
	return InterestState{CurrentRate: cloneAmount(m.interest.CurrentRate), LastAccrual: m.interest.LastAccrual}, nil
}

func (m *mockEngineState) SetLoanInterestState(state InterestState) error {
	m.interest = InterestState{CurrentRate: cloneAmount(state.CurrentRate), LastAccrual: state.LastAccrual}
	return nil
}

func (m *mockEngineState) TokenExists(symbol string) bool { return m.tokens[normalizeAsset(symbol)] }

type mockLedger struct {
	balances map[string]map[crypto.Address]*big.Int
	// failTransfer, when set, is consulted before every transfer.
	failTransfer func(asset string, from, to crypto.Address, amount *big.Int) error
	failMint     error
	failBurn     error
	transfers    int
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[string]map[crypto.Address]*big.Int)}
}

func (l *mockLedger) set(asset string, account crypto.Address, amount int64) {
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[crypto.Address]*big.Int)
	}
	l.balances[asset][account] = big.NewInt(amount)
}

func (l *mockLedger) balance(asset string, account crypto.Address) *big.Int {
	if l.balances[asset] == nil || l.balances[asset][account] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.balances[asset][account])
}

func (l *mockLedger) add(asset string, account crypto.Address, delta *big.Int) {
	if l.balances[asset] == nil {
		l.balances[asset] = make(map[crypto.Address]*big.Int)
	}
	l.balances[asset][account] = new(big.Int).Add(l.balance(asset, account), delta)
}

func (l *mockLedger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if l.failTransfer != nil {
		if err := l.failTransfer(asset, from, to, amount); err != nil {
			return err
		}
	}
	if l.balance(asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("transfer %s: %w", asset, ErrInsufficientBalance)
	}
	l.add(asset, from, new(big.Int).Neg(amount))
	l.add(asset, to, amount)
	l.transfers++
	return nil
}

func (l *mockLedger) Mint(asset string, to crypto.Address, amount *big.Int) error {
	if l.failMint != nil {
		return l.failMint
	}
	l.add(asset, to, amount)
	return nil
}

func (l *mockLedger) Burn(asset string, from crypto.Address, amount *big.Int) error {
	if l.failBurn != nil {
		return l.failBurn
	}
	if l.balance(asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("burn %s: %w", asset, ErrInsufficientBalance)
	}
	l.add(asset, from, new(big.Int).Neg(amount))
	return nil
}

func (l *mockLedger) BalanceOf(asset string, account crypto.Address) (*big.Int, error) {
	return l.balance(asset, account), nil
}

// snapshot copies every non-zero balance for later comparison.
func (l *mockLedger) snapshot() map[string]string {
	out := make(map[string]string)
	for asset, accounts := range l.balances {
		for account, amount := range accounts {
			if amount.Sign() == 0 {
				continue
			}
			out[asset+"/"+account.String()] = amount.String()
		}
	}
	return out
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) { r.events = append(r.events, evt) }

func (r *recordingEmitter) types() []string {
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

func (r *recordingEmitter) count(eventType string) int {
	n := 0
	for _, evt := range r.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

const (
	testCollateralAsset = "BTC"
	testLoanAsset       = "TBD"
	testPrice           = uint64(2_000_000_000_000)
)

type fixture struct {
	engine     *Engine
	state      *mockEngineState
	ledger     *mockLedger
	emitter    *recordingEmitter
	admin      crypto.Address
	settlement crypto.Address
	borrower   crypto.Address
	params     Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	state := newMockEngineState()
	state.tokens[testCollateralAsset] = true
	state.tokens[testLoanAsset] = true
	ledger := newMockLedger()
	emitter := &recordingEmitter{}

	admin := makeAddress(crypto.AccountPrefix, 0x01)
	settlement := makeAddress(crypto.AccountPrefix, 0x02)
	borrower := makeAddress(crypto.AccountPrefix, 0x10)

	params := DefaultParams()
	params.Admin = admin
	params.SettlementAccount = settlement
	params.CollateralAsset = testCollateralAsset
	params.LoanAsset = testLoanAsset
	params.ProfitAsset = testLoanAsset
	params.CollectionAsset = testLoanAsset
	params.GlobalLTVLimit = 6_500
	params.WarningThreshold = 7_500
	params.LiquidationThreshold = 9_000
	params.PenaltyRate = 1_000

	engine := NewEngine()
	engine.SetState(state)
	engine.SetLedger(ledger)
	engine.SetEmitter(emitter)
	if err := engine.InitGenesis(params, testPrice); err != nil {
		t.Fatalf("init genesis: %v", err)
	}
	ledger.set(testCollateralAsset, borrower, 1_000)
	return &fixture{
		engine:     engine,
		state:      state,
		ledger:     ledger,
		emitter:    emitter,
		admin:      admin,
		settlement: settlement,
		borrower:   borrower,
		params:     params,
	}
}

func (f *fixture) apply(t *testing.T, collateral, loan int64) *Loan {
	t.Helper()
	created, err := f.engine.Apply(f.borrower, big.NewInt(collateral), big.NewInt(loan))
	if err != nil {
		t.Fatalf("apply(%d, %d): %v", collateral, loan, err)
	}
	return created
}

// assertInvariants checks the aggregate, collateral and liquidating-set
// invariants against the raw mock state.
func (f *fixture) assertInvariants(t *testing.T) {
	t.Helper()
	sumLoan := big.NewInt(0)
	sumCollateral := big.NewInt(0)
	for id, loan := range f.state.loans {
		sumLoan.Add(sumLoan, loan.LoanBalance)
		sumCollateral.Add(sumCollateral, loan.CollateralAvailable)
		if loan.CollateralAvailable.Cmp(loan.CollateralOriginal) > 0 {
			t.Fatalf("loan %d: available %s exceeds original %s", id, loan.CollateralAvailable, loan.CollateralOriginal)
		}
		if loan.LoanBalance.Sign() <= 0 {
			t.Fatalf("loan %d: non-positive balance %s", id, loan.LoanBalance)
		}
		inSet := containsID(f.state.liquidating, id)
		if inSet != IsLiquidating(loan.Status) {
			t.Fatalf("loan %d: set membership %v but status %s", id, inSet, loan.Status)
		}
	}
	for _, id := range f.state.liquidating {
		if _, ok := f.state.loans[id]; !ok {
			t.Fatalf("liquidating set references missing loan %d", id)
		}
	}
	if f.state.totals.Loan.Cmp(sumLoan) != 0 {
		t.Fatalf("total loan %s != sum %s", f.state.totals.Loan, sumLoan)
	}
	if f.state.totals.Collateral.Cmp(sumCollateral) != 0 {
		t.Fatalf("total collateral %s != sum %s", f.state.totals.Collateral, sumCollateral)
	}
}
