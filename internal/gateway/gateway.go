// Package gateway defines the contract the session core needs from each
// provider family and the adapters that implement it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
)

// Gateway is implemented once per provider family.
type Gateway interface {
	LaunchURL(ctx context.Context, userID int64, gameCode string) (Launch, error)
	Deposit(ctx context.Context, userID int64, family string, amount int64) error
	Withdraw(ctx context.Context, userID int64, family string) (Withdrawal, error)
	ActiveSession(ctx context.Context, userID int64) (ActiveSession, error)
}

type Launch struct {
	URL       string
	SessionID string
}

// Withdrawal is what came back from the provider wallet. Bet and Win are the
// deltas the provider reports for the session, zero when it reports none.
type Withdrawal struct {
	Amount int64
	Bet    int64
	Win    int64
}

func (w Withdrawal) HasPlay() bool {
	return w.Bet != 0 || w.Win != 0
}

type ActiveSession struct {
	IsActive  bool
	Family    string
	GameCode  string
	Status    string
	LaunchURL string
	SessionID string
}

var (
	ErrUnknownFamily     = errors.New("unknown provider family")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)

// Error is returned for every failed or timed out Gateway call.
type Error struct {
	Op     string
	Family string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s %s: %v", e.Family, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

// Unconfirmed reports whether a failed call may still have been applied by the
// provider: it expired, was cancelled, or never got an answer. A provider
// that answered with an error refused the call.
func Unconfirmed(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) || errors.Is(err, context.Canceled) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

func (r *Registry) Register(family string, g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[family] = g
}

func (r *Registry) Get(family string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gateways[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFamily, family)
	}
	return g, nil
}

func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.gateways))
	for family := range r.gateways {
		out = append(out, family)
	}
	sort.Strings(out)
	return out
}
