package loans

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"loanchain/crypto"
)

var errDiskFull = errors.New("disk full")

func TestApplyTotalsWriteFailureLeavesNoLoan(t *testing.T) {
	for _, method := range []string{"SetOwnerLoanIDs", "SetLoanTotals"} {
		t.Run(method, func(t *testing.T) {
			f := newFixture(t)
			before := f.ledger.snapshot()
			f.state.failOn(method, errDiskFull)

			if _, err := f.engine.Apply(f.borrower, big.NewInt(10), big.NewInt(0)); !errors.Is(err, errDiskFull) {
				t.Fatalf("expected injected failure, got %v", err)
			}
			if len(f.state.loans) != 0 {
				t.Fatalf("loan left behind: %v", f.state.loans)
			}
			if len(f.state.owners) != 0 {
				t.Fatalf("owner index left behind: %v", f.state.owners)
			}
			if f.state.totals.Loan.Sign() != 0 || f.state.totals.Collateral.Sign() != 0 {
				t.Fatalf("totals changed: %s/%s", f.state.totals.Loan, f.state.totals.Collateral)
			}
			if after := f.ledger.snapshot(); !reflect.DeepEqual(before, after) {
				t.Fatalf("ledger not restored:\nbefore %v\nafter  %v", before, after)
			}
			if f.emitter.count(EventTypeLoanCreated) != 0 {
				t.Fatalf("created event emitted for failed apply")
			}
			f.assertInvariants(t)
		})
	}
}

func TestRepayTotalsWriteFailureKeepsLoan(t *testing.T) {
	f := newFixture(t)
	loan := f.apply(t, 10, 0)
	ledgerBefore := f.ledger.snapshot()
	totalsBefore := f.state.totals.Clone()

	f.state.failOn("SetLoanTotals", errDiskFull)
	if _, err := f.engine.Repay(f.borrower, loan.ID); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if after := f.ledger.snapshot(); !reflect.DeepEqual(ledgerBefore, after) {
		t.Fatalf("ledger changed:\nbefore %v\nafter  %v", ledgerBefore, after)
	}
	assertLoanState(t, f, loan, totalsBefore, map[crypto.Address][]LoanID{f.borrower: {loan.ID}})
	f.assertInvariants(t)
}

func TestMarkLiquidatedTotalsWriteFailureRollsBack(t *testing.T) {
	f, loan := liquidatingFixture(t)
	ledgerBefore := f.ledger.snapshot()
	totalsBefore := f.state.totals.Clone()

	f.state.failOn("SetLoanTotals", errDiskFull)
	if _, err := f.engine.MarkLiquidated(f.settlement, loan.ID, big.NewInt(150)); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if after := f.ledger.snapshot(); !reflect.DeepEqual(ledgerBefore, after) {
		t.Fatalf("ledger not restored:\nbefore %v\nafter  %v", ledgerBefore, after)
	}
	if !reflect.DeepEqual(f.state.liquidating, []LoanID{loan.ID}) {
		t.Fatalf("liquidating set changed: %v", f.state.liquidating)
	}
	stored := f.state.loans[loan.ID]
	assertLoanState(t, f, stored, totalsBefore, map[crypto.Address][]LoanID{f.borrower: {loan.ID}})
	if f.emitter.count(EventTypeLiquidationSettled) != 0 {
		t.Fatalf("settlement event emitted for failed settlement")
	}
	f.assertInvariants(t)
}

func TestSweepLiquidatingSetWriteFailureRestoresStatus(t *testing.T) {
	f := newFixture(t)
	loan := f.apply(t, 10, 0)
	setPrice(t, f, 1_000_000_000_000)

	f.state.failOn("SetLiquidatingLoanIDs", errDiskFull)
	report := sweep(t, f)
	if report.Checked != 1 || report.Faults != 1 || report.Liquidations != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := f.state.loans[loan.ID].Status; got != (Well{}) {
		t.Fatalf("status not restored: %s", got)
	}
	if len(f.state.liquidating) != 0 {
		t.Fatalf("liquidating set changed: %v", f.state.liquidating)
	}
	if f.emitter.count(EventTypeLiquidationEntered) != 0 {
		t.Fatalf("liquidation announced for failed write")
	}
	f.assertInvariants(t)

	// The loan is picked up again once the store recovers.
	f.state.failOn("SetLiquidatingLoanIDs", nil)
	if report := sweep(t, f); report.Liquidations != 1 {
		t.Fatalf("expected liquidation on retry, got %+v", report)
	}
	if !reflect.DeepEqual(f.state.liquidating, []LoanID{loan.ID}) {
		t.Fatalf("unexpected liquidating set %v", f.state.liquidating)
	}
	f.assertInvariants(t)
}

func TestAddCollateralTotalsWriteFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	loan := f.apply(t, 10, 0)
	ledgerBefore := f.ledger.snapshot()
	totalsBefore := f.state.totals.Clone()

	f.state.failOn("SetLoanTotals", errDiskFull)
	if _, err := f.engine.AddCollateral(f.borrower, loan.ID, big.NewInt(5)); !errors.Is(err, errDiskFull) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	if after := f.ledger.snapshot(); !reflect.DeepEqual(ledgerBefore, after) {
		t.Fatalf("ledger not restored:\nbefore %v\nafter  %v", ledgerBefore, after)
	}
	assertLoanState(t, f, loan, totalsBefore, map[crypto.Address][]LoanID{f.borrower: {loan.ID}})
	f.assertInvariants(t)
}

func TestRegistryRollbackFailureIsReported(t *testing.T) {
	f := newFixture(t)
	reg := f.engine.registry()
	loan := &Loan{
		ID:                  7,
		Owner:               f.borrower,
		CollateralOriginal:  big.NewInt(10),
		CollateralAvailable: big.NewInt(10),
		LoanBalance:         big.NewInt(100),
		Status:              Well{},
	}
	restoreErr := errors.New("delete refused")
	f.state.failOn("SetLoanTotals", errDiskFull)
	f.state.failOn("DeleteLoan", restoreErr)

	err := reg.insert(loan)
	if !errors.Is(err, errDiskFull) || !errors.Is(err, restoreErr) {
		t.Fatalf("expected both the write and rollback failures, got %v", err)
	}
}
