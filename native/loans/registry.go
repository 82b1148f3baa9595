package loans

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"loanchain/crypto"
)

// registry owns the loan records, the owner index, the liquidating set and the
// running aggregates. Every write that changes a loan's debt or available
// collateral updates the matching aggregate before returning.
type registry struct {
	state engineState
}

func (r registry) get(id LoanID) (*Loan, error) {
	loan, ok, err := r.state.GetLoan(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return loan, nil
}

func (r registry) exists(id LoanID) (bool, error) {
	_, ok, err := r.state.GetLoan(id)
	return ok, err
}

func (r registry) insert(loan *Loan) error {
	if loan == nil {
		return ErrLoanNotFound
	}
	if ok, err := r.exists(loan.ID); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("loans: loan %d already exists", loan.ID)
	}
	totals, err := r.state.LoanTotals()
	if err != nil {
		return err
	}
	if err := r.state.PutLoan(loan.Clone()); err != nil {
		return err
	}
	var rollback undoLog
	rollback.push(func() error { return r.state.DeleteLoan(loan.ID) })
	restore, err := r.addOwnerLoan(loan.Owner, loan.ID)
	if err != nil {
		return rollback.revert(err)
	}
	rollback.push(restore)
	totals.Loan = new(big.Int).Add(totals.Loan, loan.LoanBalance)
	totals.Collateral = new(big.Int).Add(totals.Collateral, loan.CollateralAvailable)
	if err := r.state.SetLoanTotals(totals); err != nil {
		return rollback.revert(err)
	}
	return nil
}

// remove deletes the loan together with its owner index entry, its
// liquidating set entry and its share of the aggregates. The removed record
// is returned so callers can restore it.
func (r registry) remove(id LoanID) (*Loan, error) {
	loan, err := r.get(id)
	if err != nil {
		return nil, err
	}
	totals, err := r.state.LoanTotals()
	if err != nil {
		return nil, err
	}
	if totals.Loan.Cmp(loan.LoanBalance) < 0 || totals.Collateral.Cmp(loan.CollateralAvailable) < 0 {
		return nil, ErrAggregateUnderflow
	}
	if err := r.state.DeleteLoan(id); err != nil {
		return nil, err
	}
	var rollback undoLog
	rollback.push(func() error { return r.state.PutLoan(loan) })
	restore, err := r.removeOwnerLoan(loan.Owner, id)
	if err != nil {
		return nil, rollback.revert(err)
	}
	rollback.push(restore)
	if restore, err = r.removeLiquidating(id); err != nil {
		return nil, rollback.revert(err)
	}
	rollback.push(restore)
	totals.Loan = new(big.Int).Sub(totals.Loan, loan.LoanBalance)
	totals.Collateral = new(big.Int).Sub(totals.Collateral, loan.CollateralAvailable)
	if err := r.state.SetLoanTotals(totals); err != nil {
		return nil, rollback.revert(err)
	}
	return loan.Clone(), nil
}

// mutate applies fn to a copy of the loan and persists the result along with
// the aggregate deltas it implies.
func (r registry) mutate(id LoanID, fn func(*Loan) error) (*Loan, error) {
	current, err := r.get(id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID || next.Owner != current.Owner {
		return nil, fmt.Errorf("loans: mutate must not change loan identity")
	}
	if next.CollateralAvailable.Sign() < 0 || next.LoanBalance.Sign() < 0 {
		return nil, ErrAggregateUnderflow
	}
	if next.CollateralAvailable.Cmp(next.CollateralOriginal) > 0 {
		return nil, fmt.Errorf("loans: available collateral exceeds original collateral")
	}
	totals, err := r.state.LoanTotals()
	if err != nil {
		return nil, err
	}
	loanDelta := new(big.Int).Sub(next.LoanBalance, current.LoanBalance)
	collateralDelta := new(big.Int).Sub(next.CollateralAvailable, current.CollateralAvailable)
	totals.Loan = new(big.Int).Add(totals.Loan, loanDelta)
	totals.Collateral = new(big.Int).Add(totals.Collateral, collateralDelta)
	if totals.Loan.Sign() < 0 || totals.Collateral.Sign() < 0 {
		return nil, ErrAggregateUnderflow
	}
	if err := r.state.PutLoan(next); err != nil {
		return nil, err
	}
	if loanDelta.Sign() != 0 || collateralDelta.Sign() != 0 {
		if err := r.state.SetLoanTotals(totals); err != nil {
			return nil, undoLog{func() error { return r.state.PutLoan(current) }}.revert(err)
		}
	}
	return next.Clone(), nil
}

func (r registry) totals() (Totals, error) {
	return r.state.LoanTotals()
}

// ids returns every loan id in ascending order.
func (r registry) ids() ([]LoanID, error) {
	ids, err := r.state.LoanIDs()
	if err != nil {
		return nil, err
	}
	sortIDs(ids)
	return ids, nil
}

func (r registry) ownerLoans(owner crypto.Address) ([]*Loan, error) {
	ids, err := r.state.OwnerLoanIDs(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*Loan, 0, len(ids))
	for _, id := range ids {
		loan, err := r.get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, loan)
	}
	return out, nil
}

// addOwnerLoan and removeOwnerLoan return a function that writes the owner
// index back to what it was before the call.
func (r registry) addOwnerLoan(owner crypto.Address, id LoanID) (func() error, error) {
	ids, err := r.state.OwnerLoanIDs(owner)
	if err != nil {
		return nil, err
	}
	if err := r.state.SetOwnerLoanIDs(owner, insertID(ids, id)); err != nil {
		return nil, err
	}
	return func() error { return r.state.SetOwnerLoanIDs(owner, ids) }, nil
}

func (r registry) removeOwnerLoan(owner crypto.Address, id LoanID) (func() error, error) {
	ids, err := r.state.OwnerLoanIDs(owner)
	if err != nil {
		return nil, err
	}
	if err := r.state.SetOwnerLoanIDs(owner, removeID(ids, id)); err != nil {
		return nil, err
	}
	return func() error { return r.state.SetOwnerLoanIDs(owner, ids) }, nil
}

func (r registry) liquidating() ([]LoanID, error) {
	ids, err := r.state.LiquidatingLoanIDs()
	if err != nil {
		return nil, err
	}
	sortIDs(ids)
	return ids, nil
}

func (r registry) isLiquidating(id LoanID) (bool, error) {
	ids, err := r.liquidating()
	if err != nil {
		return false, err
	}
	return containsID(ids, id), nil
}

// markLiquidating sets the loan's status and adds it to the liquidating set
// in one step. If the set cannot be written the previous status is put back.
func (r registry) markLiquidating(id LoanID, ltv uint64) (*Loan, error) {
	previous, err := r.get(id)
	if err != nil {
		return nil, err
	}
	loan, err := r.mutate(id, func(l *Loan) error {
		l.Status = Liquidating{LTV: ltv}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rollback := undoLog{func() error { return r.state.PutLoan(previous) }}
	ids, err := r.liquidating()
	if err != nil {
		return nil, rollback.revert(err)
	}
	if err := r.state.SetLiquidatingLoanIDs(insertID(ids, id)); err != nil {
		return nil, rollback.revert(err)
	}
	return loan, nil
}

func (r registry) removeLiquidating(id LoanID) (func() error, error) {
	ids, err := r.liquidating()
	if err != nil {
		return nil, err
	}
	if !containsID(ids, id) {
		return func() error { return nil }, nil
	}
	if err := r.state.SetLiquidatingLoanIDs(removeID(ids, id)); err != nil {
		return nil, err
	}
	return func() error { return r.state.SetLiquidatingLoanIDs(ids) }, nil
}

// undoLog holds the restoring writes for a registry update that touches
// several keys. revert replays them newest first.
type undoLog []func() error

func (u *undoLog) push(fn func() error) { *u = append(*u, fn) }

func (u undoLog) revert(cause error) error {
	for i := len(u) - 1; i >= 0; i-- {
		if err := u[i](); err != nil {
			return errors.Join(cause, fmt.Errorf("loans: registry rollback: %w", err))
		}
	}
	return cause
}

func sortIDs(ids []LoanID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func containsID(ids []LoanID, id LoanID) bool {
	idx := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	return idx < len(ids) && ids[idx] == id
}

// insertID adds id to a sorted slice, keeping it sorted and free of
// duplicates.
func insertID(ids []LoanID, id LoanID) []LoanID {
	idx := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if idx < len(ids) && ids[idx] == id {
		return ids
	}
	out := make([]LoanID, 0, len(ids)+1)
	out = append(out, ids[:idx]...)
	out = append(out, id)
	return append(out, ids[idx:]...)
}

func removeID(ids []LoanID, id LoanID) []LoanID {
	out := make([]LoanID, 0, len(ids))
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}
