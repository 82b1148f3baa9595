package loans

import (
	"errors"
	"math/big"
	"testing"

	"loanchain/crypto"
)

func TestUtilizationRate(t *testing.T) {
	u, ok := UtilizationRate(big.NewInt(100), big.NewInt(300))
	if !ok || u.Cmp(big.NewInt(25_000_000)) != 0 {
		t.Fatalf("expected 25000000, got %s (%v)", u, ok)
	}
	if _, ok := UtilizationRate(big.NewInt(0), big.NewInt(0)); ok {
		t.Fatalf("zero denominator should be reported")
	}
	u, ok = UtilizationRate(big.NewInt(10), big.NewInt(0))
	if !ok || u.Cmp(new(big.Int).SetUint64(UtilizationPrecision)) != 0 {
		t.Fatalf("full utilization expected, got %s", u)
	}
}

func TestInterestRateCurve(t *testing.T) {
	cases := []struct {
		utilization int64
		want        string
	}{
		{0, "0"},
		{6, "1"},
		{25_000_000, "2500000"},
		{100_000_000, "10000000"},
		{500_000_000, "468750000000"},
	}
	for _, tc := range cases {
		got := InterestRate(big.NewInt(tc.utilization))
		if got.String() != tc.want {
			t.Fatalf("rate(%d): expected %s, got %s", tc.utilization, tc.want, got)
		}
	}
}

// accrualFixture opens a 100/130000 loan and funds the collection account so
// utilization is 10 and the per-second rate is 1.
func accrualFixture(t *testing.T) (*fixture, *Loan) {
	t.Helper()
	f := newFixture(t)
	loan := f.apply(t, 100, 130_000)
	f.ledger.set(testLoanAsset, f.params.CollectionAccount, 1_299_999_870_000)
	report, err := f.engine.AccrueInterest(1_000)
	if err != nil {
		t.Fatalf("seed accrual: %v", err)
	}
	if !report.Seeded {
		t.Fatalf("first accrual should only seed: %+v", report)
	}
	if report.Rate.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected rate 1, got %s", report.Rate)
	}
	return f, loan
}

func TestAccrueInterestChargesLoans(t *testing.T) {
	f, loan := accrualFixture(t)

	report, err := f.engine.AccrueInterest(1_009)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if report.Elapsed != 9 || report.Interest.Cmp(big.NewInt(1_170_000)) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Charged != 1 || report.Failed != 0 {
		t.Fatalf("expected one charge, got %+v", report)
	}
	if got := f.state.loans[loan.ID].LoanBalance; got.Cmp(big.NewInt(1_300_000)) != 0 {
		t.Fatalf("expected balance 1300000, got %s", got)
	}
	if got := f.ledger.balance(testLoanAsset, f.params.ProfitPool); got.Cmp(big.NewInt(1_170_000)) != 0 {
		t.Fatalf("profit pool expected 1170000, got %s", got)
	}
	if got := f.ledger.balance(testLoanAsset, f.borrower); got.Cmp(big.NewInt(130_000)) != 0 {
		t.Fatalf("borrower expected 130000, got %s", got)
	}
	state, err := f.engine.InterestState()
	if err != nil {
		t.Fatalf("interest state: %v", err)
	}
	if state.LastAccrual != 1_009 || state.CurrentRate.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("unexpected interest state %+v", state)
	}
	if f.emitter.count(EventTypeInterestAccrued) != 1 {
		t.Fatalf("missing accrual event")
	}
	f.assertInvariants(t)
}

func TestAccrueInterestKeepsDrawWhenTransferFails(t *testing.T) {
	f, loan := accrualFixture(t)
	transferErr := errors.New("profit pool closed")
	f.ledger.failTransfer = func(asset string, from, to crypto.Address, amount *big.Int) error {
		if to == f.params.ProfitPool {
			return transferErr
		}
		return nil
	}

	report, err := f.engine.AccrueInterest(1_009)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if report.Failed != 1 || report.Charged != 0 {
		t.Fatalf("expected a failed charge, got %+v", report)
	}
	if got := f.state.loans[loan.ID].LoanBalance; got.Cmp(big.NewInt(1_300_000)) != 0 {
		t.Fatalf("draw should stand, balance %s", got)
	}
	if got := f.ledger.balance(testLoanAsset, f.borrower); got.Cmp(big.NewInt(1_300_000)) != 0 {
		t.Fatalf("minted interest should stay with the borrower, got %s", got)
	}
	if got := f.ledger.balance(testLoanAsset, f.params.ProfitPool); got.Sign() != 0 {
		t.Fatalf("profit pool credited despite failure: %s", got)
	}
	f.assertInvariants(t)
}

func TestAccrueInterestRespectsCredit(t *testing.T) {
	f, loan := accrualFixture(t)
	report, err := f.engine.AccrueInterest(1_010)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("interest above available credit should be skipped: %+v", report)
	}
	if got := f.state.loans[loan.ID].LoanBalance; got.Cmp(big.NewInt(130_000)) != 0 {
		t.Fatalf("balance changed: %s", got)
	}
	// The borrower holds only the original 130000, so the transfer fails too.
	if got := f.ledger.balance(testLoanAsset, f.params.ProfitPool); got.Sign() != 0 {
		t.Fatalf("profit pool credited: %s", got)
	}
}

func TestAccrueInterestTransfersWhenDrawIsRejected(t *testing.T) {
	f, loan := accrualFixture(t)
	f.ledger.set(testLoanAsset, f.borrower, 2_000_000)

	report, err := f.engine.AccrueInterest(1_010)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if report.Failed != 1 || report.Interest.Cmp(big.NewInt(1_300_000)) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if got := f.state.loans[loan.ID].LoanBalance; got.Cmp(big.NewInt(130_000)) != 0 {
		t.Fatalf("draw above credit applied, balance %s", got)
	}
	if got := f.ledger.balance(testLoanAsset, f.params.ProfitPool); got.Cmp(big.NewInt(1_300_000)) != 0 {
		t.Fatalf("profit pool expected 1300000, got %s", got)
	}
	if got := f.ledger.balance(testLoanAsset, f.borrower); got.Cmp(big.NewInt(700_000)) != 0 {
		t.Fatalf("borrower expected 700000, got %s", got)
	}
	f.assertInvariants(t)
}

func TestAccrueInterestSkipsLiquidatingLoans(t *testing.T) {
	f := newFixture(t)
	loan := f.apply(t, 10, 0)
	setPrice(t, f, 1_000_000_000_000)
	sweep(t, f)

	if _, err := f.engine.AccrueInterest(100); err != nil {
		t.Fatalf("seed: %v", err)
	}
	report, err := f.engine.AccrueInterest(101)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if report.Interest.Sign() == 0 {
		t.Fatalf("expected non-zero interest: %+v", report)
	}
	if report.Charged != 0 || report.Failed != 0 {
		t.Fatalf("liquidating loan charged: %+v", report)
	}
	if got := f.state.loans[loan.ID].LoanBalance; got.Cmp(big.NewInt(130_000)) != 0 {
		t.Fatalf("balance changed: %s", got)
	}
}

func TestAccrueInterestSkipsEmptyPool(t *testing.T) {
	f := newFixture(t)
	report, err := f.engine.AccrueInterest(100)
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if !report.Skipped || report.Seeded {
		t.Fatalf("expected skipped accrual, got %+v", report)
	}
	if f.state.interest.LastAccrual != 0 {
		t.Fatalf("accrual time recorded for skipped accrual")
	}
}
