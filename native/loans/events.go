package loans

import (
	"math/big"
	"strconv"

	"loanchain/core/types"
	"loanchain/crypto"
)

const (
	EventTypeLoanCreated        = "loans.created"
	EventTypeLoanDrawn          = "loans.drawn"
	EventTypeLoanRepaid         = "loans.repaid"
	EventTypeCollateralAdded    = "loans.collateral_added"
	EventTypeLoanWarning        = "loans.warning"
	EventTypeLiquidationEntered = "loans.liquidating"
	EventTypeLiquidationSettled = "loans.liquidated"
	EventTypeModulePaused       = "loans.paused"
	EventTypeModuleResumed      = "loans.resumed"
	EventTypeInterestAccrued    = "loans.interest_accrued"
	EventTypeParamUpdated       = "loans.param_updated"
)

type loanEvent struct {
	evt *types.Event
}

func (e loanEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e loanEvent) Event() *types.Event { return e.evt }

// NewLoanCreatedEvent describes a freshly opened loan.
func NewLoanCreatedEvent(loan *Loan) *types.Event {
	attrs := loanAttributes(loan)
	return &types.Event{Type: EventTypeLoanCreated, Attributes: attrs}
}

// NewLoanDrawnEvent reports additional debt drawn against a loan.
func NewLoanDrawnEvent(id LoanID, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLoanDrawn, Attributes: map[string]string{
		"loanId": formatID(id),
		"amount": formatAmount(amount),
	}}
}

// NewLoanRepaidEvent reports the debt discharged and the collateral returned.
func NewLoanRepaidEvent(id LoanID, repaid, collateralReturned *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: map[string]string{
		"loanId":     formatID(id),
		"repaid":     formatAmount(repaid),
		"collateral": formatAmount(collateralReturned),
	}}
}

func NewCollateralAddedEvent(id LoanID, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeCollateralAdded, Attributes: map[string]string{
		"loanId": formatID(id),
		"amount": formatAmount(amount),
	}}
}

func NewLoanWarningEvent(id LoanID, ltv uint64) *types.Event {
	return &types.Event{Type: EventTypeLoanWarning, Attributes: map[string]string{
		"loanId": formatID(id),
		"ltv":    strconv.FormatUint(ltv, 10),
	}}
}

// NewLiquidationEnteredEvent reports a loan crossing the liquidation
// threshold.
func NewLiquidationEnteredEvent(loan *Loan, ltv uint64) *types.Event {
	return &types.Event{Type: EventTypeLiquidationEntered, Attributes: map[string]string{
		"loanId":              formatID(loan.ID),
		"owner":               loan.Owner.String(),
		"collateralAvailable": formatAmount(loan.CollateralAvailable),
		"loanBalance":         formatAmount(loan.LoanBalance),
		"ltv":                 strconv.FormatUint(ltv, 10),
	}}
}

// NewLiquidationSettledEvent reports the reconciliation of an auctioned loan.
func NewLiquidationSettledEvent(loan *Loan, auction *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLiquidationSettled, Attributes: map[string]string{
		"loanId":              formatID(loan.ID),
		"collateralOriginal":  formatAmount(loan.CollateralOriginal),
		"collateralAvailable": formatAmount(loan.CollateralAvailable),
		"auctionBalance":      formatAmount(auction),
		"loanBalance":         formatAmount(loan.LoanBalance),
	}}
}

func NewPausedEvent(height uint64, caller crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeModulePaused, Attributes: map[string]string{
		"height": strconv.FormatUint(height, 10),
		"caller": caller.String(),
	}}
}

func NewResumedEvent(height uint64, caller crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeModuleResumed, Attributes: map[string]string{
		"height": strconv.FormatUint(height, 10),
		"caller": caller.String(),
	}}
}

func NewInterestAccruedEvent(rate, utilization, interest *big.Int, elapsed int64) *types.Event {
	return &types.Event{Type: EventTypeInterestAccrued, Attributes: map[string]string{
		"rate":        formatAmount(rate),
		"utilization": formatAmount(utilization),
		"interest":    formatAmount(interest),
		"elapsed":     strconv.FormatInt(elapsed, 10),
	}}
}

func NewParamUpdatedEvent(name, value string) *types.Event {
	return &types.Event{Type: EventTypeParamUpdated, Attributes: map[string]string{
		"name":  name,
		"value": value,
	}}
}

func loanAttributes(loan *Loan) map[string]string {
	if loan == nil {
		return map[string]string{}
	}
	status := "well"
	if loan.Status != nil {
		status = loan.Status.String()
	}
	return map[string]string{
		"loanId":              formatID(loan.ID),
		"owner":               loan.Owner.String(),
		"collateralOriginal":  formatAmount(loan.CollateralOriginal),
		"collateralAvailable": formatAmount(loan.CollateralAvailable),
		"loanBalance":         formatAmount(loan.LoanBalance),
		"status":              status,
	}
}

func formatID(id LoanID) string {
	return strconv.FormatUint(uint64(id), 10)
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
