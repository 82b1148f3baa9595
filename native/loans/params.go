package loans

import (
	"fmt"
	"math/big"
	"strings"

	"loanchain/crypto"
)

const (
	// LTVPrecision is the fixed-point scale of every LTV, threshold and rate
	// (10,000 = 100%).
	LTVPrecision uint64 = 10_000
	// PricePrecision is the fixed-point scale of oracle prices.
	PricePrecision uint64 = 100_000_000
	// UtilizationPrecision scales the utilization ratio fed to the interest
	// curve.
	UtilizationPrecision uint64 = 100_000_000
	// TermsUnit is the default interest period in seconds (one day).
	TermsUnit int64 = 86_400
)

// MintAuthority is the module account the ledger mints and burns loan
// assets as.
var MintAuthority = crypto.ModuleAddress("loans")

// Params is the global risk configuration. It is persisted in state and only
// changes through the authorised setters in admin.go.
type Params struct {
	// Admin is the privileged account allowed to pause the module and change
	// parameters.
	Admin crypto.Address

	CollateralAsset string
	LoanAsset       string
	ProfitAsset     string
	CollectionAsset string

	// CustodialPool holds posted collateral and receives repaid loan assets.
	CustodialPool     crypto.Address
	ProfitPool        crypto.Address
	CollectionAccount crypto.Address
	SettlementAccount crypto.Address

	GlobalLTVLimit       uint64
	WarningThreshold     uint64
	LiquidationThreshold uint64
	PenaltyRate          uint64

	MinimumCollateral *big.Int
	// LoanCap bounds the aggregate loan balance. Zero disables the cap.
	LoanCap *big.Int

	// InterestPeriod is the minimum number of seconds between accruals.
	InterestPeriod int64
}

// DefaultParams returns conservative parameters with the module-derived pool
// accounts. Asset identifiers and the admin must be supplied by genesis.
func DefaultParams() Params {
	return Params{
		CustodialPool:        crypto.ModuleAddress("loans/pool"),
		ProfitPool:           crypto.ModuleAddress("loans/profit"),
		CollectionAccount:    crypto.ModuleAddress("loans/collection"),
		GlobalLTVLimit:       6_500,
		WarningThreshold:     7_500,
		LiquidationThreshold: 9_000,
		PenaltyRate:          1_000,
		MinimumCollateral:    big.NewInt(0),
		LoanCap:              big.NewInt(0),
		InterestPeriod:       TermsUnit,
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.MinimumCollateral = cloneAmount(p.MinimumCollateral)
	clone.LoanCap = cloneAmount(p.LoanCap)
	return clone
}

// HasLoanCap reports whether an aggregate loan cap is configured.
func (p Params) HasLoanCap() bool {
	return p.LoanCap != nil && p.LoanCap.Sign() > 0
}

// Validate performs basic sanity checks.
func (p Params) Validate() error {
	if p.Admin.IsZero() {
		return fmt.Errorf("loans: admin account must be set")
	}
	assets := []struct {
		name  string
		value string
	}{
		{"collateral asset", p.CollateralAsset},
		{"loan asset", p.LoanAsset},
		{"profit asset", p.ProfitAsset},
	}
	for _, asset := range assets {
		if strings.TrimSpace(asset.value) == "" {
			return fmt.Errorf("loans: %s must be set", asset.name)
		}
	}
	if p.CustodialPool.IsZero() || p.ProfitPool.IsZero() {
		return fmt.Errorf("loans: custodial and profit pools must be set")
	}
	if p.GlobalLTVLimit == 0 {
		return fmt.Errorf("loans: global ltv limit must be positive")
	}
	if p.PenaltyRate > LTVPrecision {
		return fmt.Errorf("loans: penalty rate %d exceeds %d", p.PenaltyRate, LTVPrecision)
	}
	if p.MinimumCollateral != nil && p.MinimumCollateral.Sign() < 0 {
		return fmt.Errorf("loans: minimum collateral must not be negative")
	}
	if p.LoanCap != nil && p.LoanCap.Sign() < 0 {
		return fmt.Errorf("loans: loan cap must not be negative")
	}
	if p.InterestPeriod < 0 {
		return fmt.Errorf("loans: interest period must not be negative")
	}
	return nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
