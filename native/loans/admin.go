package loans

import (
	"fmt"
	"math/big"
	"strconv"

	"loanchain/crypto"
)

// InitGenesis writes the initial parameters and price without an
// authorisation check. It is only meant for chain bootstrap.
func (e *Engine) InitGenesis(params Params, price uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := params.Validate(); err != nil {
		return err
	}
	for _, asset := range []string{params.CollateralAsset, params.LoanAsset, params.ProfitAsset} {
		if !e.state.TokenExists(asset) {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
		}
	}
	if params.CollectionAsset != "" && !e.state.TokenExists(params.CollectionAsset) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, params.CollectionAsset)
	}
	stored := params.Clone()
	if err := e.state.SetLoanParams(&stored); err != nil {
		return err
	}
	if price > 0 {
		if err := e.state.SetLoanPrice(price); err != nil {
			return err
		}
		e.telemetry.SetPrice(price)
	}
	return nil
}

// Params returns the current risk configuration.
func (e *Engine) Params() (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	return e.params()
}

// Price returns the latest collateral price, zero when none was pushed yet.
func (e *Engine) Price() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.LoanPrice()
}

func (e *Engine) Paused() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.LoanPaused()
}

func (e *Engine) InterestState() (InterestState, error) {
	if e == nil || e.state == nil {
		return InterestState{}, errNilState
	}
	return e.state.LoanInterestState()
}

// OnPriceChange stores a price pushed by the oracle.
func (e *Engine) OnPriceChange(price uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if price == 0 {
		return ErrPriceUnavailable
	}
	if err := e.state.SetLoanPrice(price); err != nil {
		return err
	}
	e.telemetry.SetPrice(price)
	return nil
}

func (e *Engine) authorize(caller crypto.Address) (Params, error) {
	if e == nil || e.state == nil {
		return Params{}, errNilState
	}
	params, err := e.params()
	if err != nil {
		return Params{}, err
	}
	if params.Admin.IsZero() || caller != params.Admin {
		return Params{}, ErrUnauthorized
	}
	return params, nil
}

// Pause blocks every user operation and the health sweep.
func (e *Engine) Pause(caller crypto.Address) error {
	return e.setPaused(caller, true)
}

// Resume lifts a previous Pause.
func (e *Engine) Resume(caller crypto.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller crypto.Address, paused bool) (err error) {
	op := "resume"
	if paused {
		op = "pause"
	}
	defer func() { e.telemetry.ObserveOperation(op, err) }()
	if _, err := e.authorize(caller); err != nil {
		return err
	}
	if err := e.state.SetLoanPaused(paused); err != nil {
		return err
	}
	if paused {
		e.emit(NewPausedEvent(e.blockHeight, caller))
	} else {
		e.emit(NewResumedEvent(e.blockHeight, caller))
	}
	return nil
}

func (e *Engine) updateParams(caller crypto.Address, name, value string, apply func(*Params) error) (err error) {
	defer func() { e.telemetry.ObserveOperation("set_"+name, err) }()
	params, err := e.authorize(caller)
	if err != nil {
		return err
	}
	if err := apply(&params); err != nil {
		return err
	}
	if err := e.state.SetLoanParams(&params); err != nil {
		return err
	}
	e.emit(NewParamUpdatedEvent(name, value))
	return nil
}

func (e *Engine) setAsset(caller crypto.Address, name, asset string, assign func(*Params, string)) error {
	normalized := normalizeAsset(asset)
	return e.updateParams(caller, name, normalized, func(p *Params) error {
		if normalized == "" || !e.state.TokenExists(normalized) {
			return fmt.Errorf("%w: %q", ErrUnknownAsset, asset)
		}
		assign(p, normalized)
		return nil
	})
}

func (e *Engine) SetCollateralAsset(caller crypto.Address, asset string) error {
	return e.setAsset(caller, "collateral_asset", asset, func(p *Params, v string) { p.CollateralAsset = v })
}

func (e *Engine) SetLoanAsset(caller crypto.Address, asset string) error {
	return e.setAsset(caller, "loan_asset", asset, func(p *Params, v string) { p.LoanAsset = v })
}

func (e *Engine) SetProfitAsset(caller crypto.Address, asset string) error {
	return e.setAsset(caller, "profit_asset", asset, func(p *Params, v string) { p.ProfitAsset = v })
}

func (e *Engine) SetCollectionAsset(caller crypto.Address, asset string) error {
	return e.setAsset(caller, "collection_asset", asset, func(p *Params, v string) { p.CollectionAsset = v })
}

func (e *Engine) setAccount(caller crypto.Address, name string, account crypto.Address, assign func(*Params)) error {
	return e.updateParams(caller, name, account.String(), func(p *Params) error {
		if account.IsZero() {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidParameter, name)
		}
		assign(p)
		return nil
	})
}

func (e *Engine) SetCustodialPool(caller, account crypto.Address) error {
	return e.setAccount(caller, "custodial_pool", account, func(p *Params) { p.CustodialPool = account })
}

func (e *Engine) SetProfitPool(caller, account crypto.Address) error {
	return e.setAccount(caller, "profit_pool", account, func(p *Params) { p.ProfitPool = account })
}

func (e *Engine) SetCollectionAccount(caller, account crypto.Address) error {
	return e.setAccount(caller, "collection_account", account, func(p *Params) { p.CollectionAccount = account })
}

// SetSettlementAccount designates the only account allowed to call
// MarkLiquidated.
func (e *Engine) SetSettlementAccount(caller, account crypto.Address) error {
	return e.setAccount(caller, "settlement_account", account, func(p *Params) { p.SettlementAccount = account })
}

func (e *Engine) SetGlobalLTVLimit(caller crypto.Address, limit uint64) error {
	return e.updateParams(caller, "global_ltv_limit", strconv.FormatUint(limit, 10), func(p *Params) error {
		if limit == 0 {
			return fmt.Errorf("%w: global ltv limit must be positive", ErrInvalidParameter)
		}
		p.GlobalLTVLimit = limit
		return nil
	})
}

func (e *Engine) SetWarningThreshold(caller crypto.Address, threshold uint64) error {
	return e.updateParams(caller, "warning_threshold", strconv.FormatUint(threshold, 10), func(p *Params) error {
		p.WarningThreshold = threshold
		return nil
	})
}

func (e *Engine) SetLiquidationThreshold(caller crypto.Address, threshold uint64) error {
	return e.updateParams(caller, "liquidation_threshold", strconv.FormatUint(threshold, 10), func(p *Params) error {
		p.LiquidationThreshold = threshold
		return nil
	})
}

func (e *Engine) SetPenaltyRate(caller crypto.Address, rate uint64) error {
	return e.updateParams(caller, "penalty_rate", strconv.FormatUint(rate, 10), func(p *Params) error {
		if rate > LTVPrecision {
			return fmt.Errorf("%w: penalty rate %d exceeds %d", ErrInvalidParameter, rate, LTVPrecision)
		}
		p.PenaltyRate = rate
		return nil
	})
}

func (e *Engine) SetMinimumCollateral(caller crypto.Address, amount *big.Int) error {
	return e.updateParams(caller, "minimum_collateral", formatAmount(amount), func(p *Params) error {
		if amount == nil || amount.Sign() < 0 {
			return fmt.Errorf("%w: minimum collateral must not be negative", ErrInvalidParameter)
		}
		p.MinimumCollateral = new(big.Int).Set(amount)
		return nil
	})
}

// SetLoanCap bounds the aggregate loan balance. A zero cap removes the bound.
func (e *Engine) SetLoanCap(caller crypto.Address, limit *big.Int) error {
	return e.updateParams(caller, "loan_cap", formatAmount(limit), func(p *Params) error {
		if limit == nil || limit.Sign() < 0 {
			return fmt.Errorf("%w: loan cap must not be negative", ErrInvalidParameter)
		}
		p.LoanCap = new(big.Int).Set(limit)
		return nil
	})
}

func (e *Engine) SetInterestPeriod(caller crypto.Address, seconds int64) error {
	return e.updateParams(caller, "interest_period", strconv.FormatInt(seconds, 10), func(p *Params) error {
		if seconds < 0 {
			return fmt.Errorf("%w: interest period must not be negative", ErrInvalidParameter)
		}
		p.InterestPeriod = seconds
		return nil
	})
}

// SetPrice lets the admin override the oracle price.
func (e *Engine) SetPrice(caller crypto.Address, price uint64) (err error) {
	defer func() { e.telemetry.ObserveOperation("set_price", err) }()
	if _, err := e.authorize(caller); err != nil {
		return err
	}
	if err := e.OnPriceChange(price); err != nil {
		return err
	}
	e.emit(NewParamUpdatedEvent("price", strconv.FormatUint(price, 10)))
	return nil
}
