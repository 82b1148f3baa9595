package loans

import (
	"log/slog"
	"math/big"
	"time"

	"loanchain/crypto"
)

// CheckLoanHealth classifies a loan at the given price. A loan exactly at a
// threshold takes the more severe status.
func CheckLoanHealth(loan *Loan, price, liquidationThreshold, warningThreshold uint64) (LoanHealth, error) {
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	ltv, err := GetLTV(loan.CollateralAvailable, loan.LoanBalance, price)
	if err != nil {
		return nil, err
	}
	if ltv >= liquidationThreshold {
		return Liquidating{LTV: ltv}, nil
	}
	if ltv >= warningThreshold {
		return Warning{LTV: ltv}, nil
	}
	return Well{}, nil
}

// SweepReport summarises one pass of the health sweep.
type SweepReport struct {
	Checked      int
	Warnings     int
	Liquidations int
	Faults       int
}

// Sweep classifies every loan that is not already liquidating. Warning status
// is written and announced only when it changes. Loans reaching the
// liquidation threshold join the liquidating set and are not revisited until
// settled. A loan that cannot be classified or updated is skipped.
func (e *Engine) Sweep() (SweepReport, error) {
	var report SweepReport
	if e == nil || e.state == nil {
		return report, errNilState
	}
	if err := e.guard(); err != nil {
		return report, err
	}
	started := time.Now()
	params, err := e.params()
	if err != nil {
		return report, err
	}
	price, err := e.price()
	if err != nil {
		return report, err
	}
	reg := e.registry()
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
		report.Checked++
		if err := e.sweepLoan(reg, id, price, params, &report); err != nil {
			report.Faults++
			e.telemetry.ObserveSweepFault()
			e.log().Warn("loans: health check skipped",
				slog.Uint64("loan_id", uint64(id)),
				slog.Any("error", err))
		}
	}
	remaining, err := reg.liquidating()
	if err == nil {
		e.telemetry.ObserveSweep(time.Since(started), len(remaining))
	}
	return report, nil
}

func (e *Engine) sweepLoan(reg registry, id LoanID, price uint64, params Params, report *SweepReport) error {
	loan, err := reg.get(id)
	if err != nil {
		return err
	}
	health, err := CheckLoanHealth(loan, price, params.LiquidationThreshold, params.WarningThreshold)
	if err != nil {
		return err
	}
	switch status := health.(type) {
	case Warning:
		if loan.Status == health {
			return nil
		}
		if _, err := reg.mutate(id, func(l *Loan) error {
			l.Status = status
			return nil
		}); err != nil {
			return err
		}
		report.Warnings++
		e.emit(NewLoanWarningEvent(id, status.LTV))
	case Liquidating:
		updated, err := reg.markLiquidating(id, status.LTV)
		if err != nil {
			return err
		}
		report.Liquidations++
		e.telemetry.ObserveLiquidationEntered()
		e.emit(NewLiquidationEnteredEvent(updated, status.LTV))
	}
	return nil
}

// SettlementSplit divides auction proceeds above the debt into the penalty
// kept by the profit pool and the residual returned to the borrower.
func SettlementSplit(debt, auction *big.Int, penaltyRate uint64) (leftover, penalty, residual *big.Int) {
	leftover = big.NewInt(0)
	penalty = big.NewInt(0)
	residual = big.NewInt(0)
	if auction == nil || debt == nil || auction.Cmp(debt) <= 0 {
		return leftover, penalty, residual
	}
	leftover.Sub(auction, debt)
	penalty.Mul(leftover, new(big.Int).SetUint64(penaltyRate))
	penalty.Quo(penalty, new(big.Int).SetUint64(LTVPrecision))
	residual.Sub(leftover, penalty)
	return leftover, penalty, residual
}

// MarkLiquidated reconciles a liquidating loan after its collateral was
// auctioned off. The settlement account pays the loan balance into the
// custodial pool; any surplus is split between the profit pool and the
// borrower. The loan is then removed.
func (e *Engine) MarkLiquidated(caller crypto.Address, id LoanID, auctionBalance *big.Int) (settled *Loan, err error) {
	defer func() { e.telemetry.ObserveOperation("mark_liquidated", err) }()
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if auctionBalance == nil || auctionBalance.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	params, err := e.params()
	if err != nil {
		return nil, err
	}
	if params.SettlementAccount.IsZero() || caller != params.SettlementAccount {
		return nil, ErrUnauthorized
	}
	reg := e.registry()
	loan, err := reg.get(id)
	if err != nil {
		return nil, err
	}
	liquidating, err := reg.isLiquidating(id)
	if err != nil {
		return nil, err
	}
	if !liquidating {
		return nil, ErrLoanNotInLiquidation
	}
	// Only the auction proceeds are checked here; the debt transfer below
	// fails on its own when the agent holds less than the loan balance.
	if err := e.requireBalance(params.LoanAsset, caller, auctionBalance); err != nil {
		return nil, err
	}

	debt := new(big.Int).Set(loan.LoanBalance)
	pool := params.CustodialPool
	tx := e.begin("mark_liquidated")
	if err := tx.Step("discharge",
		func() error { return e.ledger.Transfer(params.LoanAsset, caller, pool, debt) },
		func() error { return e.ledger.Transfer(params.LoanAsset, pool, caller, debt) },
	); err != nil {
		return nil, err
	}
	if auctionBalance.Cmp(debt) > 0 {
		_, penalty, residual := SettlementSplit(debt, auctionBalance, params.PenaltyRate)
		if err := tx.Step("penalty",
			func() error { return e.ledger.Transfer(params.LoanAsset, caller, params.ProfitPool, penalty) },
			func() error { return e.ledger.Transfer(params.LoanAsset, params.ProfitPool, caller, penalty) },
		); err != nil {
			return nil, err
		}
		if err := tx.Step("residual",
			func() error { return e.ledger.Transfer(params.LoanAsset, caller, loan.Owner, residual) },
			func() error { return e.ledger.Transfer(params.LoanAsset, loan.Owner, caller, residual) },
		); err != nil {
			return nil, err
		}
	}
	removed, err := reg.remove(id)
	if err != nil {
		return nil, tx.Abort(err)
	}
	e.telemetry.ObserveSettlement()
	e.emit(NewLiquidationSettledEvent(removed, auctionBalance))
	e.publishTotals()
	return removed, nil
}
