package loans

import (
	"math"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	ltvPrecisionU256   = uint256.NewInt(LTVPrecision)
	pricePrecisionU256 = uint256.NewInt(PricePrecision)
)

func toU256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if v.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func mulChecked(factors ...*uint256.Int) (*uint256.Int, error) {
	product := uint256.NewInt(1)
	for _, f := range factors {
		next, overflow := new(uint256.Int).MulOverflow(product, f)
		if overflow {
			return nil, ErrArithmeticOverflow
		}
		product = next
	}
	return product, nil
}

// GetLTV returns loan * PricePrecision * LTVPrecision / (collateral * price)
// rounded down. Results that do not fit in a uint64 saturate, which places the
// loan beyond any configurable threshold.
func GetLTV(collateral, loan *big.Int, price uint64) (uint64, error) {
	c, err := toU256(collateral)
	if err != nil {
		return 0, err
	}
	l, err := toU256(loan)
	if err != nil {
		return 0, err
	}
	num, err := mulChecked(l, pricePrecisionU256, ltvPrecisionU256)
	if err != nil {
		return 0, err
	}
	den, err := mulChecked(c, uint256.NewInt(price))
	if err != nil {
		return 0, err
	}
	if den.IsZero() {
		return 0, ErrZeroCollateralValue
	}
	ltv := new(uint256.Int).Div(num, den)
	if !ltv.IsUint64() {
		return math.MaxUint64, nil
	}
	return ltv.Uint64(), nil
}

// GetCollateralLoan completes a collateral/loan request against the global LTV
// limit. A zero side is derived from the other; when both are set the pair is
// accepted unchanged provided its LTV does not exceed the limit.
func GetCollateralLoan(collateral, loan *big.Int, price, ltvLimit uint64) (CollateralLoan, error) {
	c, err := toU256(collateral)
	if err != nil {
		return CollateralLoan{}, err
	}
	l, err := toU256(loan)
	if err != nil {
		return CollateralLoan{}, err
	}
	switch {
	case c.IsZero() && l.IsZero():
		return CollateralLoan{}, ErrInvalidCollateralLoanAmounts
	case price == 0:
		return CollateralLoan{}, ErrPriceUnavailable
	case ltvLimit == 0:
		return CollateralLoan{}, ErrInvalidParameter
	}

	if c.IsZero() {
		num, err := mulChecked(l, ltvPrecisionU256, pricePrecisionU256)
		if err != nil {
			return CollateralLoan{}, err
		}
		den, err := mulChecked(uint256.NewInt(price), uint256.NewInt(ltvLimit))
		if err != nil {
			return CollateralLoan{}, err
		}
		derived := new(uint256.Int).Div(num, den)
		return CollateralLoan{Collateral: derived.ToBig(), Loan: l.ToBig()}, nil
	}

	if l.IsZero() {
		num, err := mulChecked(c, uint256.NewInt(price), uint256.NewInt(ltvLimit))
		if err != nil {
			return CollateralLoan{}, err
		}
		den, err := mulChecked(ltvPrecisionU256, pricePrecisionU256)
		if err != nil {
			return CollateralLoan{}, err
		}
		derived := new(uint256.Int).Div(num, den)
		return CollateralLoan{Collateral: c.ToBig(), Loan: derived.ToBig()}, nil
	}

	ltv, err := GetLTV(collateral, loan, price)
	if err != nil {
		return CollateralLoan{}, err
	}
	if ltv > ltvLimit {
		return CollateralLoan{}, ErrOverLTVLimit
	}
	return CollateralLoan{Collateral: c.ToBig(), Loan: l.ToBig()}, nil
}

// AvailableCredit returns how much more can be drawn against the loan at the
// global LTV limit. Loans already above the limit have no credit left.
func AvailableCredit(collateral, debt *big.Int, price, ltvLimit uint64) (*big.Int, error) {
	c, err := toU256(collateral)
	if err != nil {
		return nil, err
	}
	d, err := toU256(debt)
	if err != nil {
		return nil, err
	}
	num, err := mulChecked(c, uint256.NewInt(price), uint256.NewInt(ltvLimit))
	if err != nil {
		return nil, err
	}
	ceiling := new(uint256.Int).Div(num, ltvPrecisionU256)
	ceiling.Div(ceiling, pricePrecisionU256)
	if ceiling.Cmp(d) <= 0 {
		return big.NewInt(0), nil
	}
	return new(uint256.Int).Sub(ceiling, d).ToBig(), nil
}
