package node

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loanchain/config"
	"loanchain/crypto"
	nativecommon "loanchain/native/common"
	"loanchain/native/loans"
	"loanchain/native/oracle"
	"loanchain/storage"
)

func account(b byte) crypto.Address {
	raw := make([]byte, 20)
	raw[0] = b
	raw[19] = b
	return crypto.MustNewAddress(crypto.AccountPrefix, raw)
}

var (
	admin      = account(1)
	settlement = account(2)
	operator   = account(3)
	borrower   = account(4)
)

func testGenesis(t *testing.T) *config.Genesis {
	t.Helper()
	doc := fmt.Sprintf(`assets:
  - symbol: BTC
    name: Bitcoin
    decimals: 8
  - symbol: USD
    name: Dollar
    decimals: 6
    mint_authority: module
balances:
  - address: %[4]s
    asset: BTC
    amount: "100"
  - address: %[2]s
    asset: USD
    amount: "200000"
  - address: %[6]s
    asset: USD
    amount: "1000000"
roles:
  %[5]s:
    - %[3]s
loans:
  admin: %[1]s
  settlement_account: %[2]s
  collateral_asset: BTC
  loan_asset: USD
  profit_asset: USD
  collection_asset: USD
  price: 2000000000000
`, admin, settlement, operator, borrower, oracle.OperatorRole, loans.DefaultParams().CollectionAccount)
	spec, err := config.ParseGenesis([]byte(doc))
	require.NoError(t, err)
	return spec
}

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0) }

func newTestNode(t *testing.T, db storage.Database, pauses nativecommon.PauseView) *Node {
	t.Helper()
	n, err := New(Options{DB: db, Genesis: testGenesis(t), Pauses: pauses, Clock: fixedClock})
	require.NoError(t, err)
	return n
}

func requireBalance(t *testing.T, n *Node, addr crypto.Address, asset, want string) {
	t.Helper()
	got, err := n.Balance(addr, asset)
	require.NoError(t, err)
	require.Equal(t, want, got.String(), "%s balance of %s", asset, addr)
}

func TestNewRequiresGenesisOnEmptyState(t *testing.T) {
	_, err := New(Options{DB: storage.NewMemDB()})
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = New(Options{})
	require.Error(t, err)
}

func TestLoanLifecycleThroughLiquidation(t *testing.T) {
	n := newTestNode(t, storage.NewMemDB(), nil)
	ctx := context.Background()

	loan, err := n.Apply(borrower, big.NewInt(10), big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, loans.LoanID(1), loan.ID)
	require.Equal(t, "130000", loan.LoanBalance.String())
	requireBalance(t, n, borrower, "BTC", "90")
	requireBalance(t, n, borrower, "USD", "130000")

	require.ErrorIs(t, n.SubmitPrice(borrower, 1), oracle.ErrUnauthorized)
	require.NoError(t, n.SubmitPrice(operator, 1_300_000_000_000))
	quote, err := n.LatestQuote()
	require.NoError(t, err)
	require.Equal(t, operator, quote.Operator)

	report, err := n.Heartbeat(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), report.Height)
	require.Equal(t, 1, report.Sweep.Liquidations)
	require.NotNil(t, report.Accrual)
	require.True(t, report.Accrual.Seeded)

	stats, err := n.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(1), stats.Height)
	require.Equal(t, uint64(1_300_000_000_000), stats.Price)
	require.Equal(t, []loans.LoanID{1}, stats.Liquidating)
	require.Equal(t, int64(1_700_000_000), stats.Interest.LastAccrual)

	_, err = n.Repay(borrower, 1)
	require.ErrorIs(t, err, loans.ErrLoanInLiquidation)
	_, err = n.MarkLiquidated(borrower, 1, big.NewInt(150_000))
	require.ErrorIs(t, err, loans.ErrUnauthorized)

	settled, err := n.MarkLiquidated(settlement, 1, big.NewInt(150_000))
	require.NoError(t, err)
	require.Equal(t, loans.LoanID(1), settled.ID)

	params := stats.Params
	requireBalance(t, n, params.CustodialPool, "USD", "130000")
	requireBalance(t, n, params.ProfitPool, "USD", "2000")
	requireBalance(t, n, borrower, "USD", "148000")
	requireBalance(t, n, settlement, "USD", "50000")

	_, err = n.Loan(1)
	require.ErrorIs(t, err, loans.ErrLoanNotFound)
	stats, err = n.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.Totals.Loan.Sign())
	require.Empty(t, stats.Liquidating)

	recorded := n.Events(0)
	require.NotEmpty(t, recorded)
	require.Equal(t, loans.EventTypeLoanCreated, recorded[0].Type)
	require.Equal(t, loans.EventTypeLiquidationSettled, recorded[len(recorded)-1].Type)
}

func TestRepayRoundTrip(t *testing.T) {
	n := newTestNode(t, storage.NewMemDB(), nil)

	_, err := n.Apply(borrower, big.NewInt(10), big.NewInt(0))
	require.NoError(t, err)
	owned, err := n.LoansByOwner(borrower)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	_, err = n.Repay(borrower, owned[0].ID)
	require.NoError(t, err)
	requireBalance(t, n, borrower, "BTC", "100")
	requireBalance(t, n, borrower, "USD", "0")

	owned, err = n.LoansByOwner(borrower)
	require.NoError(t, err)
	require.Empty(t, owned)
}

func TestAdminControls(t *testing.T) {
	n := newTestNode(t, storage.NewMemDB(), nil)
	ctx := context.Background()

	require.ErrorIs(t, n.Pause(borrower), loans.ErrUnauthorized)
	require.NoError(t, n.Pause(admin))
	_, err := n.Apply(borrower, big.NewInt(10), big.NewInt(0))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	report, err := n.Heartbeat(ctx)
	require.NoError(t, err)
	require.True(t, report.Paused)
	require.NoError(t, n.Resume(admin))

	require.ErrorIs(t, n.SetParam(admin, "bogus", "1"), ErrUnknownParam)
	require.ErrorIs(t, n.SetParam(borrower, "penalty_rate", "1"), loans.ErrUnauthorized)
	require.ErrorIs(t, n.SetParam(admin, "penalty_rate", "abc"), loans.ErrInvalidParameter)
	require.NoError(t, n.SetParam(admin, " Penalty_Rate ", "250"))
	require.NoError(t, n.SetParam(admin, "settlement_account", borrower.String()))
	require.NoError(t, n.SetParam(admin, "loan_cap", "1000000"))

	stats, err := n.Stats()
	require.NoError(t, err)
	require.Equal(t, uint64(250), stats.Params.PenaltyRate)
	require.Equal(t, borrower, stats.Params.SettlementAccount)
	require.Equal(t, "1000000", stats.Params.LoanCap.String())
	require.Len(t, ParamNames(), 16)
}

func TestOperatorPause(t *testing.T) {
	pauses := nativecommon.NewPauseSet("loans")
	n := newTestNode(t, storage.NewMemDB(), pauses)

	_, err := n.Apply(borrower, big.NewInt(10), big.NewInt(0))
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)

	pauses.Set("loans", false)
	_, err = n.Apply(borrower, big.NewInt(10), big.NewInt(0))
	require.NoError(t, err)
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	n := newTestNode(t, db, nil)

	_, err = n.Apply(borrower, big.NewInt(10), big.NewInt(0))
	require.NoError(t, err)
	_, err = n.Heartbeat(context.Background())
	require.NoError(t, err)
	n.Close()

	reopened, err := storage.NewLevelDB(path)
	require.NoError(t, err)
	restarted, err := New(Options{DB: reopened, Clock: fixedClock})
	require.NoError(t, err)
	defer restarted.Close()

	require.Equal(t, uint64(1), restarted.Height())
	loan, err := restarted.Loan(1)
	require.NoError(t, err)
	require.Equal(t, borrower, loan.Owner)
	requireBalance(t, restarted, borrower, "USD", "130000")
}
