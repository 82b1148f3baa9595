package node

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"loanchain/crypto"
	"loanchain/native/loans"
)

type paramSetter func(e *loans.Engine, caller crypto.Address, value string) error

func accountParam(set func(*loans.Engine, crypto.Address, crypto.Address) error) paramSetter {
	return func(e *loans.Engine, caller crypto.Address, value string) error {
		addr, err := crypto.DecodeAddress(value)
		if err != nil {
			return fmt.Errorf("%w: %v", loans.ErrInvalidParameter, err)
		}
		return set(e, caller, addr)
	}
}

func ratioParam(set func(*loans.Engine, crypto.Address, uint64) error) paramSetter {
	return func(e *loans.Engine, caller crypto.Address, value string) error {
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", loans.ErrInvalidParameter, err)
		}
		return set(e, caller, parsed)
	}
}

func amountParam(set func(*loans.Engine, crypto.Address, *big.Int) error) paramSetter {
	return func(e *loans.Engine, caller crypto.Address, value string) error {
		amount, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return fmt.Errorf("%w: invalid amount %q", loans.ErrInvalidParameter, value)
		}
		return set(e, caller, amount)
	}
}

var paramSetters = map[string]paramSetter{
	"collateral_asset":      (*loans.Engine).SetCollateralAsset,
	"loan_asset":            (*loans.Engine).SetLoanAsset,
	"profit_asset":          (*loans.Engine).SetProfitAsset,
	"collection_asset":      (*loans.Engine).SetCollectionAsset,
	"custodial_pool":        accountParam((*loans.Engine).SetCustodialPool),
	"profit_pool":           accountParam((*loans.Engine).SetProfitPool),
	"collection_account":    accountParam((*loans.Engine).SetCollectionAccount),
	"settlement_account":    accountParam((*loans.Engine).SetSettlementAccount),
	"global_ltv_limit":      ratioParam((*loans.Engine).SetGlobalLTVLimit),
	"warning_threshold":     ratioParam((*loans.Engine).SetWarningThreshold),
	"liquidation_threshold": ratioParam((*loans.Engine).SetLiquidationThreshold),
	"penalty_rate":          ratioParam((*loans.Engine).SetPenaltyRate),
	"price":                 ratioParam((*loans.Engine).SetPrice),
	"minimum_collateral":    amountParam((*loans.Engine).SetMinimumCollateral),
	"loan_cap":              amountParam((*loans.Engine).SetLoanCap),
	"interest_period": func(e *loans.Engine, caller crypto.Address, value string) error {
		seconds, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %v", loans.ErrInvalidParameter, err)
		}
		return e.SetInterestPeriod(caller, seconds)
	},
}

// ParamNames lists the parameters accepted by SetParam.
func ParamNames() []string {
	names := make([]string, 0, len(paramSetters))
	for name := range paramSetters {
		names = append(names, name)
	}
	return names
}

// SetParam applies one admin parameter change given in its textual form.
func (n *Node) SetParam(caller crypto.Address, name, value string) error {
	setter, ok := paramSetters[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownParam, name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return setter(n.engine, caller, strings.TrimSpace(value))
}
