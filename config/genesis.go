package config

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"loanchain/crypto"
	"loanchain/native/loans"
)

// ModuleMintAuthority marks an asset as minted by the loans module account.
const ModuleMintAuthority = "module"

// Genesis is the YAML document that seeds a fresh chain: registered assets,
// initial balances, role members and the loan module configuration.
type Genesis struct {
	Assets   []AssetSpec         `yaml:"assets"`
	Balances []BalanceSpec       `yaml:"balances"`
	Roles    map[string][]string `yaml:"roles"`
	Loans    LoansSpec           `yaml:"loans"`
}

type AssetSpec struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
	// MintAuthority is empty, "module" or a bech32 account.
	MintAuthority string `yaml:"mint_authority"`
	MintPaused    bool   `yaml:"mint_paused"`

	authority crypto.Address
}

type BalanceSpec struct {
	Address string `yaml:"address"`
	Asset   string `yaml:"asset"`
	Amount  string `yaml:"amount"`

	account crypto.Address
	amount  *big.Int
}

// LoansSpec carries the initial risk parameters. Pool accounts default to the
// module-derived addresses when left empty.
type LoansSpec struct {
	Admin             string `yaml:"admin"`
	SettlementAccount string `yaml:"settlement_account"`
	CustodialPool     string `yaml:"custodial_pool"`
	ProfitPool        string `yaml:"profit_pool"`
	CollectionAccount string `yaml:"collection_account"`

	CollateralAsset string `yaml:"collateral_asset"`
	LoanAsset       string `yaml:"loan_asset"`
	ProfitAsset     string `yaml:"profit_asset"`
	CollectionAsset string `yaml:"collection_asset"`

	GlobalLTVLimit       uint64 `yaml:"global_ltv_limit"`
	WarningThreshold     uint64 `yaml:"warning_threshold"`
	LiquidationThreshold uint64 `yaml:"liquidation_threshold"`
	PenaltyRate          uint64 `yaml:"penalty_rate"`
	MinimumCollateral    string `yaml:"minimum_collateral"`
	LoanCap              string `yaml:"loan_cap"`
	InterestPeriod       int64  `yaml:"interest_period"`

	Price uint64 `yaml:"price"`

	params loans.Params
}

// LoadGenesis reads, normalizes and validates a genesis document.
func LoadGenesis(path string) (*Genesis, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis %q: %w", path, err)
	}
	genesis, err := ParseGenesis(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis %q: %w", path, err)
	}
	return genesis, nil
}

// ParseGenesis decodes a YAML genesis document. Unknown fields are rejected.
func ParseGenesis(raw []byte) (*Genesis, error) {
	var genesis Genesis
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&genesis); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	genesis.normalize()
	if err := genesis.validate(); err != nil {
		return nil, err
	}
	return &genesis, nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (g *Genesis) normalize() {
	for i := range g.Assets {
		g.Assets[i].Symbol = normalizeSymbol(g.Assets[i].Symbol)
		g.Assets[i].Name = strings.TrimSpace(g.Assets[i].Name)
		g.Assets[i].MintAuthority = strings.TrimSpace(g.Assets[i].MintAuthority)
	}
	sort.SliceStable(g.Assets, func(i, j int) bool { return g.Assets[i].Symbol < g.Assets[j].Symbol })
	for i := range g.Balances {
		g.Balances[i].Address = strings.TrimSpace(g.Balances[i].Address)
		g.Balances[i].Asset = normalizeSymbol(g.Balances[i].Asset)
	}
	roles := make(map[string][]string, len(g.Roles))
	for role, members := range g.Roles {
		trimmed := make([]string, 0, len(members))
		for _, member := range members {
			trimmed = append(trimmed, strings.TrimSpace(member))
		}
		roles[strings.TrimSpace(role)] = trimmed
	}
	g.Roles = roles
	l := &g.Loans
	l.CollateralAsset = normalizeSymbol(l.CollateralAsset)
	l.LoanAsset = normalizeSymbol(l.LoanAsset)
	l.ProfitAsset = normalizeSymbol(l.ProfitAsset)
	l.CollectionAsset = normalizeSymbol(l.CollectionAsset)
}

func (g *Genesis) validate() error {
	if len(g.Assets) == 0 {
		return fmt.Errorf("at least one asset must be declared")
	}
	symbols := make(map[string]struct{}, len(g.Assets))
	for i := range g.Assets {
		asset := &g.Assets[i]
		if err := asset.validate(); err != nil {
			return fmt.Errorf("assets[%d]: %w", i, err)
		}
		if _, dup := symbols[asset.Symbol]; dup {
			return fmt.Errorf("assets[%d]: duplicate symbol %q", i, asset.Symbol)
		}
		symbols[asset.Symbol] = struct{}{}
	}
	for i := range g.Balances {
		if err := g.Balances[i].validate(symbols); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	for role, members := range g.Roles {
		if role == "" {
			return fmt.Errorf("roles: empty role name")
		}
		for _, member := range members {
			if _, err := crypto.DecodeAddress(member); err != nil {
				return fmt.Errorf("roles[%s]: %q: %w", role, member, err)
			}
		}
	}
	if err := g.Loans.validate(symbols); err != nil {
		return fmt.Errorf("loans: %w", err)
	}
	return nil
}

func (a *AssetSpec) validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol must be provided")
	}
	if a.Name == "" {
		return fmt.Errorf("name must be provided")
	}
	if a.Decimals > 18 {
		return fmt.Errorf("decimals must be 18 or fewer")
	}
	switch a.MintAuthority {
	case "":
	case ModuleMintAuthority:
		a.authority = loans.MintAuthority
	default:
		addr, err := crypto.DecodeAddress(a.MintAuthority)
		if err != nil {
			return fmt.Errorf("mint_authority: %w", err)
		}
		a.authority = addr
	}
	return nil
}

// Authority returns the resolved mint authority; zero when unrestricted.
func (a AssetSpec) Authority() crypto.Address { return a.authority }

func (b *BalanceSpec) validate(symbols map[string]struct{}) error {
	addr, err := crypto.DecodeAddress(b.Address)
	if err != nil {
		return fmt.Errorf("address %q: %w", b.Address, err)
	}
	if _, ok := symbols[b.Asset]; !ok {
		return fmt.Errorf("unknown asset %q", b.Asset)
	}
	amount, err := parseAmountString(b.Amount)
	if err != nil {
		return err
	}
	b.account = addr
	b.amount = amount
	return nil
}

func (b BalanceSpec) Account() crypto.Address { return b.account }

func (b BalanceSpec) Value() *big.Int { return new(big.Int).Set(b.amount) }

func (l *LoansSpec) validate(symbols map[string]struct{}) error {
	params := loans.DefaultParams()

	admin, err := decodeRequired("admin", l.Admin)
	if err != nil {
		return err
	}
	params.Admin = admin
	if l.SettlementAccount != "" {
		if params.SettlementAccount, err = crypto.DecodeAddress(strings.TrimSpace(l.SettlementAccount)); err != nil {
			return fmt.Errorf("settlement_account: %w", err)
		}
	}
	overrides := []struct {
		name  string
		value string
		dst   *crypto.Address
	}{
		{"custodial_pool", l.CustodialPool, &params.CustodialPool},
		{"profit_pool", l.ProfitPool, &params.ProfitPool},
		{"collection_account", l.CollectionAccount, &params.CollectionAccount},
	}
	for _, o := range overrides {
		if strings.TrimSpace(o.value) == "" {
			continue
		}
		addr, err := crypto.DecodeAddress(strings.TrimSpace(o.value))
		if err != nil {
			return fmt.Errorf("%s: %w", o.name, err)
		}
		*o.dst = addr
	}

	assets := []struct {
		name  string
		value string
		dst   *string
	}{
		{"collateral_asset", l.CollateralAsset, &params.CollateralAsset},
		{"loan_asset", l.LoanAsset, &params.LoanAsset},
		{"profit_asset", l.ProfitAsset, &params.ProfitAsset},
		{"collection_asset", l.CollectionAsset, &params.CollectionAsset},
	}
	for _, a := range assets {
		if a.value == "" {
			continue
		}
		if _, ok := symbols[a.value]; !ok {
			return fmt.Errorf("%s: unknown asset %q", a.name, a.value)
		}
		*a.dst = a.value
	}

	if l.GlobalLTVLimit != 0 {
		params.GlobalLTVLimit = l.GlobalLTVLimit
	}
	if l.WarningThreshold != 0 {
		params.WarningThreshold = l.WarningThreshold
	}
	if l.LiquidationThreshold != 0 {
		params.LiquidationThreshold = l.LiquidationThreshold
	}
	if l.PenaltyRate != 0 {
		params.PenaltyRate = l.PenaltyRate
	}
	if l.InterestPeriod != 0 {
		params.InterestPeriod = l.InterestPeriod
	}
	if params.MinimumCollateral, err = parseAmountString(l.MinimumCollateral); err != nil {
		return fmt.Errorf("minimum_collateral: %w", err)
	}
	if params.LoanCap, err = parseAmountString(l.LoanCap); err != nil {
		return fmt.Errorf("loan_cap: %w", err)
	}
	if l.Price == 0 {
		return fmt.Errorf("price must be positive")
	}
	if err := params.Validate(); err != nil {
		return err
	}
	l.params = params
	return nil
}

// Params returns the resolved loan module parameters.
func (l LoansSpec) Params() loans.Params { return l.params.Clone() }

func decodeRequired(name, value string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s must be provided", name)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", name, err)
	}
	return addr, nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
