package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loanchain/crypto"
	"loanchain/native/loans"
)

func testAddr(b byte) string {
	raw := make([]byte, 20)
	raw[0] = b
	raw[19] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw).String()
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, defaultListenAddress, cfg.ListenAddress)
	require.Equal(t, "leveldb", cfg.StorageBackend)
	require.Equal(t, 6*time.Second, cfg.Heartbeat())

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadParsesSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `ListenAddress = "127.0.0.1:9100"
DataDir = "/var/lib/loand"
StorageBackend = "BOLT"
HeartbeatInterval = "2s"

[logging]
Level = "debug"
File = "/var/log/loand.log"
MaxSizeMB = 10

[telemetry]
Endpoint = "collector:4318"
SampleRatio = 0.25

[auth]
HMACSecret = "0123456789abcdef0123456789abcdef"
Issuer = "loan-issuer"

[ratelimit]
RequestsPerSecond = 5
Burst = 10
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9100", cfg.ListenAddress)
	require.Equal(t, "bolt", cfg.StorageBackend)
	require.Equal(t, 2*time.Second, cfg.Heartbeat())
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 10, cfg.Logging.MaxSizeMB)
	require.Equal(t, "collector:4318", cfg.Telemetry.Endpoint)
	require.Equal(t, defaultServiceName, cfg.Telemetry.ServiceName)
	require.InDelta(t, 0.25, cfg.Telemetry.SampleRatio, 1e-9)
	require.Equal(t, "loan-issuer", cfg.Auth.Issuer)
	require.Equal(t, 10, cfg.RateLimit.Burst)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "Bogus = 1\n",
		"backend":       "StorageBackend = \"postgres\"\n",
		"heartbeat":     "HeartbeatInterval = \"soon\"\n",
		"short secret":  "[auth]\nHMACSecret = \"short\"\n",
		"sample ratio":  "[telemetry]\nSampleRatio = 2.0\n",
		"missing burst": "[ratelimit]\nRequestsPerSecond = 3\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func genesisYAML(admin, operator, holder string) string {
	return fmt.Sprintf(`assets:
  - symbol: usd
    name: Dollar
    decimals: 6
    mint_authority: module
  - symbol: BTC
    name: Bitcoin
    decimals: 8
balances:
  - address: %[3]s
    asset: btc
    amount: "1000"
roles:
  oracle.operator:
    - %[2]s
loans:
  admin: %[1]s
  settlement_account: %[1]s
  collateral_asset: BTC
  loan_asset: USD
  profit_asset: USD
  collection_asset: USD
  global_ltv_limit: 6500
  warning_threshold: 7500
  liquidation_threshold: 9000
  penalty_rate: 500
  loan_cap: "5000000"
  price: 2000000000000
`, admin, operator, holder)
}

func TestParseGenesisResolvesValues(t *testing.T) {
	admin, operator, holder := testAddr(1), testAddr(2), testAddr(3)

	genesis, err := ParseGenesis([]byte(genesisYAML(admin, operator, holder)))
	require.NoError(t, err)

	require.Len(t, genesis.Assets, 2)
	require.Equal(t, "BTC", genesis.Assets[0].Symbol)
	require.True(t, genesis.Assets[0].Authority().IsZero())
	require.Equal(t, "USD", genesis.Assets[1].Symbol)
	require.Equal(t, loans.MintAuthority, genesis.Assets[1].Authority())

	require.Len(t, genesis.Balances, 1)
	require.Equal(t, holder, genesis.Balances[0].Account().String())
	require.Equal(t, "BTC", genesis.Balances[0].Asset)
	require.Equal(t, "1000", genesis.Balances[0].Value().String())

	require.Equal(t, []string{operator}, genesis.Roles["oracle.operator"])

	params := genesis.Loans.Params()
	require.Equal(t, admin, params.Admin.String())
	require.Equal(t, admin, params.SettlementAccount.String())
	require.Equal(t, "BTC", params.CollateralAsset)
	require.Equal(t, "USD", params.LoanAsset)
	require.Equal(t, uint64(500), params.PenaltyRate)
	require.Equal(t, "5000000", params.LoanCap.String())
	require.Equal(t, loans.DefaultParams().CustodialPool, params.CustodialPool)
	require.Equal(t, loans.TermsUnit, params.InterestPeriod)
	require.Equal(t, uint64(2_000_000_000_000), genesis.Loans.Price)
}

func TestParseGenesisRejectsInvalid(t *testing.T) {
	admin, operator, holder := testAddr(1), testAddr(2), testAddr(3)
	valid := genesisYAML(admin, operator, holder)

	cases := map[string]string{
		"unknown field":   valid + "extra: true\n",
		"bad balance":     genesisYAML(admin, operator, "not-an-address"),
		"bad operator":    genesisYAML(admin, "loan1bogus", holder),
		"missing admin":   genesisYAML("", operator, holder),
		"no assets":       "loans:\n  admin: " + admin + "\n  price: 1\n",
		"unknown balance": strings.Replace(valid, "asset: btc", "asset: eth", 1),
		"unknown asset":   strings.Replace(valid, "loan_asset: USD", "loan_asset: EUR", 1),
		"zero price":      strings.Replace(valid, "price: 2000000000000", "price: 0", 1),
		"negative amount": strings.Replace(valid, `amount: "1000"`, `amount: "-1"`, 1),
		"penalty too big": strings.Replace(valid, "penalty_rate: 500", "penalty_rate: 20000", 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGenesis([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadGenesisFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(genesisYAML(testAddr(1), testAddr(2), testAddr(3))), 0o644))

	genesis, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Len(t, genesis.Assets, 2)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
