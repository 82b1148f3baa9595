package loans

import (
	"log/slog"
	"math/big"

	"loanchain/core/events"
	"loanchain/core/types"
	"loanchain/crypto"
	nativecommon "loanchain/native/common"
	"loanchain/observability/metrics"
)

const moduleName = "loans"

type engineState interface {
	LoanParams() (*Params, error)
	SetLoanParams(params *Params) error
	LoanPrice() (uint64, error)
	SetLoanPrice(price uint64) error
	LoanPaused() (bool, error)
	SetLoanPaused(paused bool) error
	NextLoanID() (LoanID, error)
	GetLoan(id LoanID) (*Loan, bool, error)
	PutLoan(loan *Loan) error
	DeleteLoan(id LoanID) error
	LoanIDs() ([]LoanID, error)
	OwnerLoanIDs(owner crypto.Address) ([]LoanID, error)
	SetOwnerLoanIDs(owner crypto.Address, ids []LoanID) error
	LoanTotals() (Totals, error)
	SetLoanTotals(totals Totals) error
	LiquidatingLoanIDs() ([]LoanID, error)
	SetLiquidatingLoanIDs(ids []LoanID) error
	LoanInterestState() (InterestState, error)
	SetLoanInterestState(state InterestState) error
	TokenExists(symbol string) bool
}

// Ledger moves, creates and destroys assets on behalf of the engine. Custody
// lives entirely behind this interface.
type Ledger interface {
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
	Mint(asset string, to crypto.Address, amount *big.Int) error
	Burn(asset string, from crypto.Address, amount *big.Int) error
	BalanceOf(asset string, account crypto.Address) (*big.Int, error)
}

// Engine runs the loan lifecycle, the health sweep, liquidation settlement and
// interest accrual. It is not safe for concurrent use; callers serialise
// access.
type Engine struct {
	state       engineState
	ledger      Ledger
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	logger      *slog.Logger
	telemetry   *metrics.LoanMetrics
	blockHeight uint64
}

// NewEngine constructs an engine with no-op event emission. State and ledger
// must be wired before use.
func NewEngine() *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		telemetry: metrics.Loans(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the asset ledger used for every custody movement.
func (e *Engine) SetLedger(ledger Ledger) {
	if e == nil {
		return
	}
	e.ledger = ledger
}

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses adds an external pause source checked alongside the module's own
// pause flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil {
		return
	}
	e.logger = logger
}

// SetBlockHeight records the height reported in pause notifications.
func (e *Engine) SetBlockHeight(height uint64) {
	if e == nil {
		return
	}
	e.blockHeight = height
}

func (e *Engine) log() *slog.Logger {
	if e.logger == nil {
		return slog.Default()
	}
	return e.logger
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(loanEvent{evt: event})
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.ledger == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) registry() registry {
	return registry{state: e.state}
}

type statePauses struct {
	state engineState
}

func (s statePauses) IsPaused(module string) bool {
	if module != moduleName {
		return false
	}
	paused, err := s.state.LoanPaused()
	if err != nil {
		// Unreadable flag is treated as paused.
		return true
	}
	return paused
}

func (e *Engine) guard() error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	return nativecommon.Guard(statePauses{state: e.state}, moduleName)
}

func (e *Engine) params() (Params, error) {
	params, err := e.state.LoanParams()
	if err != nil {
		return Params{}, err
	}
	if params == nil {
		return DefaultParams(), nil
	}
	return params.Clone(), nil
}

func (e *Engine) price() (uint64, error) {
	price, err := e.state.LoanPrice()
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

func (e *Engine) requireBalance(asset string, account crypto.Address, amount *big.Int) error {
	balance, err := e.ledger.BalanceOf(asset, account)
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (e *Engine) publishTotals() {
	totals, err := e.state.LoanTotals()
	if err != nil {
		return
	}
	e.telemetry.SetTotals(totals.Loan, totals.Collateral)
}

// Apply opens a loan for owner. Either amount may be zero, in which case it is
// derived at the global LTV limit. Collateral moves into the custodial pool
// and the loan asset is minted to the owner.
func (e *Engine) Apply(owner crypto.Address, collateralAmount, loanAmount *big.Int) (loan *Loan, err error) {
	defer func() { e.telemetry.ObserveOperation("apply", err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	reg := e.registry()
	if params.HasLoanCap() {
		totals, err := reg.totals()
		if err != nil {
			return nil, err
		}
		if totals.Loan.Cmp(params.LoanCap) >= 0 {
			return nil, ErrReachLoanCap
		}
	}
	price, err := e.price()
	if err != nil {
		return nil, err
	}
	pair, err := GetCollateralLoan(collateralAmount, loanAmount, price, params.GlobalLTVLimit)
	if err != nil {
		return nil, err
	}
	if pair.Collateral.Sign() == 0 || pair.Loan.Sign() == 0 {
		return nil, ErrInvalidAmount
	}
	if params.MinimumCollateral != nil && pair.Collateral.Cmp(params.MinimumCollateral) < 0 {
		return nil, ErrCollateralBelowMinimum
	}
	if err := e.requireBalance(params.CollateralAsset, owner, pair.Collateral); err != nil {
		return nil, err
	}

	pool := params.CustodialPool
	tx := e.begin("apply")
	if err := tx.Step("collateral_in",
		func() error { return e.ledger.Transfer(params.CollateralAsset, owner, pool, pair.Collateral) },
		func() error { return e.ledger.Transfer(params.CollateralAsset, pool, owner, pair.Collateral) },
	); err != nil {
		return nil, err
	}
	if err := tx.Step("mint",
		func() error { return e.ledger.Mint(params.LoanAsset, owner, pair.Loan) },
		func() error { return e.ledger.Burn(params.LoanAsset, owner, pair.Loan) },
	); err != nil {
		return nil, err
	}
	id, err := e.state.NextLoanID()
	if err != nil {
		return nil, tx.Abort(err)
	}
	created := &Loan{
		ID:                  id,
		Owner:               owner,
		CollateralOriginal:  new(big.Int).Set(pair.Collateral),
		CollateralAvailable: new(big.Int).Set(pair.Collateral),
		LoanBalance:         new(big.Int).Set(pair.Loan),
		Status:              Well{},
	}
	if err := reg.insert(created); err != nil {
		return nil, tx.Abort(err)
	}
	e.emit(NewLoanCreatedEvent(created))
	e.publishTotals()
	return created.Clone(), nil
}

// Repay closes a loan that is not being liquidated. The owner returns the full
// loan balance and receives the available collateral back. The repaid loan
// asset is burned at the custodial pool.
func (e *Engine) Repay(owner crypto.Address, id LoanID) (repaid *Loan, err error) {
	defer func() { e.telemetry.ObserveOperation("repay", err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	reg := e.registry()
	loan, err := reg.get(id)
	if err != nil {
		return nil, err
	}
	if loan.Owner != owner {
		return nil, ErrNotOwner
	}
	liquidating, err := reg.isLiquidating(id)
	if err != nil {
		return nil, err
	}
	if liquidating || IsLiquidating(loan.Status) {
		return nil, ErrLoanInLiquidation
	}
	pool := params.CustodialPool
	debt := new(big.Int).Set(loan.LoanBalance)
	collateral := new(big.Int).Set(loan.CollateralAvailable)
	if err := e.requireBalance(params.LoanAsset, owner, debt); err != nil {
		return nil, err
	}
	if err := e.requireBalance(params.CollateralAsset, pool, collateral); err != nil {
		return nil, err
	}

	tx := e.begin("repay")
	if err := tx.Step("remove_loan",
		func() error { _, err := reg.remove(id); return err },
		func() error { return reg.insert(loan) },
	); err != nil {
		return nil, err
	}
	if err := tx.Step("loan_in",
		func() error { return e.ledger.Transfer(params.LoanAsset, owner, pool, debt) },
		func() error { return e.ledger.Transfer(params.LoanAsset, pool, owner, debt) },
	); err != nil {
		return nil, err
	}
	if err := tx.Step("collateral_out",
		func() error { return e.ledger.Transfer(params.CollateralAsset, pool, owner, collateral) },
		func() error { return e.ledger.Transfer(params.CollateralAsset, owner, pool, collateral) },
	); err != nil {
		return nil, err
	}
	if err := tx.Step("burn",
		func() error { return e.ledger.Burn(params.LoanAsset, pool, debt) },
		nil,
	); err != nil {
		return nil, err
	}
	e.emit(NewLoanRepaidEvent(id, debt, collateral))
	e.publishTotals()
	return loan.Clone(), nil
}

// AddCollateral posts more collateral from the loan owner into the custodial
// pool.
func (e *Engine) AddCollateral(caller crypto.Address, id LoanID, amount *big.Int) (updated *Loan, err error) {
	defer func() { e.telemetry.ObserveOperation("add_collateral", err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	reg := e.registry()
	loan, err := reg.get(id)
	if err != nil {
		return nil, err
	}
	if loan.Owner != caller {
		return nil, ErrNotOwner
	}
	if err := e.requireBalance(params.CollateralAsset, caller, amount); err != nil {
		return nil, err
	}

	tx := e.begin("add_collateral")
	if err := tx.Step("collateral_in",
		func() error { return e.ledger.Transfer(params.CollateralAsset, caller, params.CustodialPool, amount) },
		func() error { return e.ledger.Transfer(params.CollateralAsset, params.CustodialPool, caller, amount) },
	); err != nil {
		return nil, err
	}
	updated, err = reg.mutate(id, func(l *Loan) error {
		l.CollateralOriginal = new(big.Int).Add(l.CollateralOriginal, amount)
		l.CollateralAvailable = new(big.Int).Add(l.CollateralAvailable, amount)
		return nil
	})
	if err != nil {
		return nil, tx.Abort(err)
	}
	e.emit(NewCollateralAddedEvent(id, amount))
	e.publishTotals()
	return updated, nil
}

// Draw raises the loan balance by amount, bounded by the credit left at the
// global LTV limit, and mints the drawn amount to the owner.
func (e *Engine) Draw(owner crypto.Address, id LoanID, amount *big.Int) (updated *Loan, err error) {
	defer func() { e.telemetry.ObserveOperation("draw", err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	updated, err = e.drawFromLoan(params, owner, id, amount, "draw")
	if err != nil {
		return nil, err
	}
	e.publishTotals()
	return updated, nil
}

func (e *Engine) drawFromLoan(params Params, owner crypto.Address, id LoanID, amount *big.Int, operation string) (*Loan, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	reg := e.registry()
	loan, err := reg.get(id)
	if err != nil {
		return nil, err
	}
	if loan.Owner != owner {
		return nil, ErrNotOwner
	}
	price, err := e.price()
	if err != nil {
		return nil, err
	}
	available, err := AvailableCredit(loan.CollateralAvailable, loan.LoanBalance, price, params.GlobalLTVLimit)
	if err != nil {
		return nil, err
	}
	if amount.Cmp(available) > 0 {
		return nil, ErrInsufficientCredit
	}

	tx := e.begin(operation)
	if err := tx.Step("mint",
		func() error { return e.ledger.Mint(params.LoanAsset, owner, amount) },
		func() error { return e.ledger.Burn(params.LoanAsset, owner, amount) },
	); err != nil {
		return nil, err
	}
	updated, err := reg.mutate(id, func(l *Loan) error {
		l.LoanBalance = new(big.Int).Add(l.LoanBalance, amount)
		return nil
	})
	if err != nil {
		return nil, tx.Abort(err)
	}
	e.emit(NewLoanDrawnEvent(id, amount))
	return updated, nil
}

// Loan returns a copy of the loan record.
func (e *Engine) Loan(id LoanID) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.registry().get(id)
}

// LoansByOwner returns the owner's loans in ascending id order.
func (e *Engine) LoansByOwner(owner crypto.Address) ([]*Loan, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.registry().ownerLoans(owner)
}

func (e *Engine) Totals() (Totals, error) {
	if e == nil || e.state == nil {
		return Totals{}, errNilState
	}
	return e.registry().totals()
}

func (e *Engine) LiquidatingLoans() ([]LoanID, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.registry().liquidating()
}
