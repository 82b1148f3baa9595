package oracle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"loanchain/crypto"
)

// OperatorRole is the state role whose members may submit prices.
const OperatorRole = "oracle.operator"

var (
	ErrUnauthorized = errors.New("oracle: caller is not an operator")
	ErrInvalidPrice = errors.New("oracle: price must be positive")
	ErrNoPrice      = errors.New("oracle: no price submitted")
)

// RoleChecker resolves operator membership.
type RoleChecker interface {
	HasRole(role string, addr crypto.Address) bool
}

// PriceListener receives every accepted price.
type PriceListener func(price uint64) error

// Quote is the latest accepted price with its submission metadata.
type Quote struct {
	Price     uint64
	Operator  crypto.Address
	Timestamp time.Time
}

// Feed accepts collateral prices from allow-listed operators and pushes them
// to subscribers in registration order.
type Feed struct {
	mu          sync.RWMutex
	roles       RoleChecker
	latest      *Quote
	subscribers []PriceListener
	nowFn       func() time.Time
	logger      *slog.Logger
}

// NewFeed constructs a feed that authorises operators through roles.
func NewFeed(roles RoleChecker) *Feed {
	return &Feed{roles: roles, nowFn: time.Now}
}

func (f *Feed) SetLogger(logger *slog.Logger) {
	if f == nil {
		return
	}
	f.logger = logger
}

// SetClock overrides the time source used to stamp quotes.
func (f *Feed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.mu.Lock()
	f.nowFn = now
	f.mu.Unlock()
}

// Subscribe registers a listener for accepted prices.
func (f *Feed) Subscribe(listener PriceListener) {
	if f == nil || listener == nil {
		return
	}
	f.mu.Lock()
	f.subscribers = append(f.subscribers, listener)
	f.mu.Unlock()
}

// Submit records a price from caller and forwards it to every subscriber.
// Listener failures are joined into the returned error; the price stays
// accepted.
func (f *Feed) Submit(caller crypto.Address, price uint64) error {
	if f == nil {
		return fmt.Errorf("oracle: feed not configured")
	}
	if f.roles == nil || !f.roles.HasRole(OperatorRole, caller) {
		return ErrUnauthorized
	}
	if price == 0 {
		return ErrInvalidPrice
	}
	f.mu.Lock()
	f.latest = &Quote{Price: price, Operator: caller, Timestamp: f.nowFn().UTC()}
	listeners := append([]PriceListener(nil), f.subscribers...)
	f.mu.Unlock()

	var errs []error
	for i, listener := range listeners {
		if err := listener(price); err != nil {
			f.log().Warn("oracle: price listener failed",
				slog.Int("listener", i),
				slog.Uint64("price", price),
				slog.Any("error", err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Latest returns the most recent accepted quote.
func (f *Feed) Latest() (Quote, error) {
	if f == nil {
		return Quote{}, ErrNoPrice
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.latest == nil {
		return Quote{}, ErrNoPrice
	}
	return *f.latest, nil
}

func (f *Feed) log() *slog.Logger {
	if f.logger == nil {
		return slog.Default()
	}
	return f.logger
}
