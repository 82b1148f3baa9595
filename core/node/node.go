package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"loanchain/config"
	"loanchain/core/events"
	"loanchain/core/genesis"
	corestate "loanchain/core/state"
	"loanchain/crypto"
	"loanchain/native/bank"
	nativecommon "loanchain/native/common"
	"loanchain/native/loans"
	"loanchain/native/oracle"
	"loanchain/observability/otel"
	"loanchain/storage"
)

var (
	ErrNotInitialized = errors.New("node: state has no genesis and none was supplied")
	ErrUnknownParam   = errors.New("node: unknown parameter")
)

var heightKey = []byte("node/height")

// Options configures a Node.
type Options struct {
	DB storage.Database
	// Genesis is applied when the database carries no loan parameters yet.
	Genesis *config.Genesis
	// Pauses adds an operator pause on top of the on-chain pause flag.
	Pauses nativecommon.PauseView
	Logger *slog.Logger
	// Clock supplies heartbeat timestamps. Defaults to time.Now.
	Clock       func() time.Time
	EventBuffer int
}

// Node is the central controller, wiring state, ledger, oracle and the loan
// engine together. Every state-touching call runs under one mutex so the
// engine observes a single-threaded world.
type Node struct {
	mu     sync.Mutex
	db     storage.Database
	state  *corestate.Manager
	ledger *bank.Ledger
	engine *loans.Engine
	feed   *oracle.Feed
	events *events.Recorder
	logger *slog.Logger
	clock  func() time.Time
	height uint64
}

func New(opts Options) (*Node, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("node: database must not be nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	manager := corestate.NewManager(opts.DB)
	ledger := bank.NewLedger(manager, loans.MintAuthority)
	recorder := events.NewRecorder(opts.EventBuffer, logger)

	engine := loans.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetEmitter(recorder)
	engine.SetLogger(logger.With("module", "loans"))
	if opts.Pauses != nil {
		engine.SetPauses(opts.Pauses)
	}

	feed := oracle.NewFeed(manager)
	feed.SetLogger(logger.With("module", "oracle"))
	feed.SetClock(clock)
	feed.Subscribe(engine.OnPriceChange)

	n := &Node{
		db:     opts.DB,
		state:  manager,
		ledger: ledger,
		engine: engine,
		feed:   feed,
		events: recorder,
		logger: logger,
		clock:  clock,
	}

	initialized, err := genesis.Initialized(manager)
	if err != nil {
		return nil, err
	}
	if !initialized {
		if opts.Genesis == nil {
			return nil, ErrNotInitialized
		}
		if err := genesis.Apply(opts.Genesis, manager, engine); err != nil {
			return nil, fmt.Errorf("apply genesis: %w", err)
		}
		logger.Info("genesis applied", "assets", len(opts.Genesis.Assets))
	}
	if _, err := manager.KVGet(heightKey, &n.height); err != nil {
		return nil, fmt.Errorf("load height: %w", err)
	}
	engine.SetBlockHeight(n.height)
	return n, nil
}

// Close releases the underlying database.
func (n *Node) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.db.Close()
}

func (n *Node) Height() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// Heartbeat advances the height and runs the engine's periodic work.
func (n *Node) Heartbeat(ctx context.Context) (loans.HeartbeatReport, error) {
	_, span := otel.Tracer().Start(ctx, "node.heartbeat")
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()

	height := n.height + 1
	now := n.clock().Unix()
	report, err := n.engine.OnHeartbeat(height, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	if err := n.state.KVPut(heightKey, height); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("persist height: %w", err)
	}
	n.height = height

	span.SetAttributes(
		attribute.Int64("loans.height", int64(height)),
		attribute.Bool("loans.paused", report.Paused),
		attribute.Int("loans.checked", report.Sweep.Checked),
		attribute.Int("loans.liquidations", report.Sweep.Liquidations),
	)
	if report.Accrual != nil {
		span.SetAttributes(
			attribute.Int("loans.interest_charged", report.Accrual.Charged),
			attribute.Int("loans.interest_failed", report.Accrual.Failed),
		)
	}
	return report, nil
}

// Run drives Heartbeat on every tick until ctx is cancelled.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := n.Heartbeat(ctx)
			if err != nil {
				n.logger.Error("heartbeat failed", "height", report.Height, "error", err)
				continue
			}
			if report.Sweep.Liquidations > 0 || report.Sweep.Faults > 0 {
				n.logger.Info("heartbeat",
					"height", report.Height,
					"liquidations", report.Sweep.Liquidations,
					"faults", report.Sweep.Faults)
			}
		}
	}
}

func (n *Node) Apply(owner crypto.Address, collateral, loan *big.Int) (*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Apply(owner, collateral, loan)
}

func (n *Node) Repay(owner crypto.Address, id loans.LoanID) (*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Repay(owner, id)
}

func (n *Node) AddCollateral(caller crypto.Address, id loans.LoanID, amount *big.Int) (*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.AddCollateral(caller, id, amount)
}

func (n *Node) Draw(owner crypto.Address, id loans.LoanID, amount *big.Int) (*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Draw(owner, id, amount)
}

func (n *Node) MarkLiquidated(caller crypto.Address, id loans.LoanID, auction *big.Int) (*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.MarkLiquidated(caller, id, auction)
}

func (n *Node) Loan(id loans.LoanID) (*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Loan(id)
}

func (n *Node) LoansByOwner(owner crypto.Address) ([]*loans.Loan, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.LoansByOwner(owner)
}

func (n *Node) Balance(account crypto.Address, asset string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(asset, account)
}

// Stats is a point-in-time view of the module.
type Stats struct {
	Height      uint64
	Paused      bool
	Price       uint64
	Totals      loans.Totals
	Liquidating []loans.LoanID
	Interest    loans.InterestState
	Params      loans.Params
	Assets      []string
}

func (n *Node) Stats() (Stats, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	stats := Stats{Height: n.height}
	var err error
	if stats.Paused, err = n.engine.Paused(); err != nil {
		return Stats{}, err
	}
	if stats.Price, err = n.engine.Price(); err != nil {
		return Stats{}, err
	}
	if stats.Totals, err = n.engine.Totals(); err != nil {
		return Stats{}, err
	}
	if stats.Liquidating, err = n.engine.LiquidatingLoans(); err != nil {
		return Stats{}, err
	}
	if stats.Interest, err = n.engine.InterestState(); err != nil {
		return Stats{}, err
	}
	if stats.Params, err = n.engine.Params(); err != nil {
		return Stats{}, err
	}
	if stats.Assets, err = n.state.TokenList(); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

func (n *Node) Pause(caller crypto.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Pause(caller)
}

func (n *Node) Resume(caller crypto.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.engine.Resume(caller)
}

// SubmitPrice forwards an operator price to the oracle feed, which pushes it
// into the engine.
func (n *Node) SubmitPrice(caller crypto.Address, price uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.feed.Submit(caller, price)
}

// LatestQuote returns the last price accepted by the oracle feed.
func (n *Node) LatestQuote() (oracle.Quote, error) {
	return n.feed.Latest()
}

// Events returns up to limit recently emitted events, oldest first.
func (n *Node) Events(limit int) []events.Record {
	return n.events.Recent(limit)
}
