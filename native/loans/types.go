package loans

import (
	"fmt"
	"math/big"

	"loanchain/crypto"
)

// LoanID identifies a loan. Identifiers are allocated sequentially and never
// reused.
type LoanID uint64

// LoanHealth is the closed set of loan statuses: Well, Warning or
// Liquidating. Warning and Liquidating carry the LTV observed when the status
// was assigned. Values are comparable with ==.
type LoanHealth interface {
	isLoanHealth()
	String() string
}

// Well marks a loan whose LTV is below the warning threshold.
type Well struct{}

// Warning marks a loan whose LTV reached the warning threshold.
type Warning struct {
	LTV uint64
}

// Liquidating marks a loan whose LTV reached the liquidation threshold.
type Liquidating struct {
	LTV uint64
}

func (Well) isLoanHealth()        {}
func (Warning) isLoanHealth()     {}
func (Liquidating) isLoanHealth() {}

func (Well) String() string          { return "well" }
func (w Warning) String() string     { return fmt.Sprintf("warning(%d)", w.LTV) }
func (l Liquidating) String() string { return fmt.Sprintf("liquidating(%d)", l.LTV) }

// HealthKind is the storage discriminator for LoanHealth.
type HealthKind uint8

const (
	HealthWell HealthKind = iota
	HealthWarning
	HealthLiquidating
)

// EncodeHealth flattens a status into its discriminator and LTV payload.
func EncodeHealth(h LoanHealth) (HealthKind, uint64) {
	switch v := h.(type) {
	case Warning:
		return HealthWarning, v.LTV
	case Liquidating:
		return HealthLiquidating, v.LTV
	default:
		return HealthWell, 0
	}
}

// DecodeHealth rebuilds a status from its stored form.
func DecodeHealth(kind HealthKind, ltv uint64) (LoanHealth, error) {
	switch kind {
	case HealthWell:
		return Well{}, nil
	case HealthWarning:
		return Warning{LTV: ltv}, nil
	case HealthLiquidating:
		return Liquidating{LTV: ltv}, nil
	default:
		return nil, fmt.Errorf("loans: unknown health kind %d", kind)
	}
}

// IsLiquidating reports whether the status is Liquidating(_).
func IsLiquidating(h LoanHealth) bool {
	_, ok := h.(Liquidating)
	return ok
}

// Loan is a single collateralised position.
type Loan struct {
	ID    LoanID
	Owner crypto.Address
	// CollateralOriginal is the cumulative collateral ever posted.
	CollateralOriginal *big.Int
	// CollateralAvailable is the collateral currently backing the loan.
	CollateralAvailable *big.Int
	LoanBalance         *big.Int
	Status              LoanHealth
}

// Clone returns a deep copy of the loan.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := &Loan{
		ID:                  l.ID,
		Owner:               l.Owner,
		CollateralOriginal:  cloneAmount(l.CollateralOriginal),
		CollateralAvailable: cloneAmount(l.CollateralAvailable),
		LoanBalance:         cloneAmount(l.LoanBalance),
		Status:              l.Status,
	}
	if clone.Status == nil {
		clone.Status = Well{}
	}
	return clone
}

// CollateralLoan is the collateral/loan pair derived by the ratio calculator.
type CollateralLoan struct {
	Collateral *big.Int
	Loan       *big.Int
}

// Totals are the running aggregates over every loan in the registry.
type Totals struct {
	Loan       *big.Int
	Collateral *big.Int
}

func (t Totals) Clone() Totals {
	return Totals{Loan: cloneAmount(t.Loan), Collateral: cloneAmount(t.Collateral)}
}

// InterestState is the bookkeeping kept by the interest accrual engine.
type InterestState struct {
	// CurrentRate is the rate produced by the last accrual.
	CurrentRate *big.Int
	// LastAccrual is the unix timestamp (seconds) of the last accrual.
	LastAccrual int64
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
