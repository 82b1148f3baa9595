package loans

import (
	"errors"
	"fmt"
	"log/slog"
	"math/big"
)

var (
	utilizationScale = new(big.Int).SetUint64(UtilizationPrecision)

	// Curve breakpoints and coefficients.
	lowSegmentBound  = big.NewInt(4000_00000)
	highSegmentBound = big.NewInt(8000_0000)
	highDivisor      = new(big.Int).Exp(big.NewInt(10), big.NewInt(42), nil)
)

// UtilizationRate returns totalLoan * 1e8 / (totalDeposit + totalLoan). The
// boolean is false when the denominator is zero.
func UtilizationRate(totalLoan, totalDeposit *big.Int) (*big.Int, bool) {
	loan := cloneAmount(totalLoan)
	deposit := cloneAmount(totalDeposit)
	denominator := new(big.Int).Add(loan, deposit)
	if denominator.Sign() == 0 {
		return big.NewInt(0), false
	}
	utilization := new(big.Int).Mul(loan, utilizationScale)
	return utilization.Quo(utilization, denominator), true
}

// InterestRate maps utilization onto the per-second rate curve:
//
//	u < 4000_00000:  (u + 4) / 10
//	u >= 8000_0000:  (30u^6 + 10u^3 + 6) / 10^42
//	otherwise:       20u + 1
//
// Utilization never exceeds 1e8, so the first segment always applies.
func InterestRate(utilization *big.Int) *big.Int {
	u := cloneAmount(utilization)
	switch {
	case u.Cmp(lowSegmentBound) < 0:
		rate := new(big.Int).Add(u, big.NewInt(4))
		return rate.Quo(rate, big.NewInt(10))
	case u.Cmp(highSegmentBound) >= 0:
		u3 := new(big.Int).Exp(u, big.NewInt(3), nil)
		u6 := new(big.Int).Mul(u3, u3)
		rate := new(big.Int).Mul(u6, big.NewInt(30))
		rate.Add(rate, new(big.Int).Mul(u3, big.NewInt(10)))
		rate.Add(rate, big.NewInt(6))
		return rate.Quo(rate, highDivisor)
	default:
		rate := new(big.Int).Mul(u, big.NewInt(20))
		return rate.Add(rate, big.NewInt(1))
	}
}

// AccrualReport summarises one interest accrual.
type AccrualReport struct {
	Skipped     bool
	Seeded      bool
	Utilization *big.Int
	Rate        *big.Int
	Elapsed     int64
	Interest    *big.Int
	Charged     int
	Failed      int
}

// AccrueInterest charges interest for the time elapsed since the previous
// accrual. Each loan's share is drawn onto its balance and the same amount of
// the profit asset moves from the borrower to the profit pool. Both legs are
// best effort per loan and a failed leg is counted in Failed. The first call
// only records the accrual time.
func (e *Engine) AccrueInterest(now int64) (AccrualReport, error) {
	report := AccrualReport{Utilization: big.NewInt(0), Rate: big.NewInt(0), Interest: big.NewInt(0)}
	if err := e.ready(); err != nil {
		return report, err
	}
	params, err := e.params()
	if err != nil {
		return report, err
	}
	reg := e.registry()
	totals, err := reg.totals()
	if err != nil {
		return report, err
	}
	deposit := big.NewInt(0)
	if params.CollectionAsset != "" && !params.CollectionAccount.IsZero() {
		deposit, err = e.ledger.BalanceOf(params.CollectionAsset, params.CollectionAccount)
		if err != nil {
			return report, err
		}
	}
	utilization, ok := UtilizationRate(totals.Loan, deposit)
	if !ok {
		report.Skipped = true
		return report, nil
	}
	rate := InterestRate(utilization)
	report.Utilization = utilization
	report.Rate = rate

	interestState, err := e.state.LoanInterestState()
	if err != nil {
		return report, err
	}
	if interestState.LastAccrual == 0 {
		report.Seeded = true
		if err := e.state.SetLoanInterestState(InterestState{CurrentRate: rate, LastAccrual: now}); err != nil {
			return report, err
		}
		e.telemetry.SetInterestRate(rate)
		return report, nil
	}
	elapsed := now - interestState.LastAccrual
	if elapsed <= 0 {
		report.Skipped = true
		return report, nil
	}
	report.Elapsed = elapsed

	interest := new(big.Int).Mul(big.NewInt(elapsed), totals.Loan)
	interest.Mul(interest, rate)
	report.Interest = interest

	if totals.Loan.Sign() > 0 && interest.Sign() > 0 {
		ids, err := reg.ids()
		if err != nil {
			return report, err
		}
		liquidating, err := reg.liquidating()
		if err != nil {
			return report, err
		}
		for _, id := range ids {
			if containsID(liquidating, id) {
				continue
			}
			if err := e.chargeInterest(params, reg, id, interest, totals.Loan); err != nil {
				report.Failed++
				e.telemetry.ObserveInterestFailure()
				e.log().Warn("loans: interest charge skipped",
					slog.Uint64("loan_id", uint64(id)),
					slog.Any("error", err))
				continue
			}
			report.Charged++
		}
	}

	if err := e.state.SetLoanInterestState(InterestState{CurrentRate: rate, LastAccrual: now}); err != nil {
		return report, err
	}
	e.telemetry.SetInterestRate(rate)
	e.publishTotals()
	e.emit(NewInterestAccruedEvent(rate, utilization, interest, elapsed))
	return report, nil
}

func (e *Engine) chargeInterest(params Params, reg registry, id LoanID, interest, totalLoan *big.Int) error {
	loan, err := reg.get(id)
	if err != nil {
		return err
	}
	share := new(big.Int).Mul(interest, loan.LoanBalance)
	share.Quo(share, totalLoan)
	if share.Sign() == 0 {
		return nil
	}
	// The draw and the profit transfer are attempted independently; a
	// failure of one does not undo or skip the other.
	_, drawErr := e.drawFromLoan(params, loan.Owner, id, share, "interest")
	if drawErr != nil {
		drawErr = fmt.Errorf("interest draw: %w", drawErr)
	}
	transferErr := e.ledger.Transfer(params.ProfitAsset, loan.Owner, params.ProfitPool, share)
	if transferErr != nil {
		transferErr = fmt.Errorf("interest transfer: %w", transferErr)
	}
	return errors.Join(drawErr, transferErr)
}
