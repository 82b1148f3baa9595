package loans

import (
	"errors"

	nativecommon "loanchain/native/common"
)

var (
	ErrReachLoanCap                 = errors.New("loans: loan cap reached")
	ErrInvalidCollateralLoanAmounts = errors.New("loans: collateral and loan amounts are both zero")
	ErrOverLTVLimit                 = errors.New("loans: requested pair exceeds global ltv limit")
	ErrInsufficientBalance          = nativecommon.ErrInsufficientBalance
	ErrLoanNotFound                 = errors.New("loans: loan not found")
	ErrNotOwner                     = errors.New("loans: caller does not own loan")
	ErrLoanInLiquidation            = errors.New("loans: loan is being liquidated")
	ErrLoanNotInLiquidation         = errors.New("loans: loan is not being liquidated")
	ErrUnauthorized                 = errors.New("loans: caller not authorised")

	ErrCollateralBelowMinimum = errors.New("loans: collateral below minimum")
	ErrInsufficientCredit     = errors.New("loans: amount exceeds available credit")
	ErrInvalidAmount          = errors.New("loans: amount must be positive")
	ErrUnknownAsset           = errors.New("loans: asset not registered")
	ErrPriceUnavailable       = errors.New("loans: collateral price not set")
	ErrZeroCollateralValue    = errors.New("loans: collateral value is zero")
	ErrArithmeticOverflow     = errors.New("loans: arithmetic overflow")
	ErrAggregateUnderflow     = errors.New("loans: aggregate underflow")
	ErrInvalidParameter       = errors.New("loans: invalid parameter")

	errNilState  = errors.New("loans: state not configured")
	errNilLedger = errors.New("loans: ledger not configured")
)
