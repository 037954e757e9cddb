// internal/registry/registry.go
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
	"github.com/solsnipe/meteora-bot/internal/store"
)

// Registry is an in-memory cache of pending snipe orders keyed by target
// token, refreshed from durable storage on an interval.
//
// One mutex guards the whole snapshot. Refresh replaces the snapshot
// wholesale; Remove mutates the current one in place. Both hold the same
// lock, so a removal can never be lost to a concurrent rebuild mid-flight,
// and readers between swaps only pay for a map lookup plus a slice copy.
type Registry struct {
	storage  store.Storage
	logger   *zap.Logger
	interval time.Duration

	mu      sync.Mutex
	byToken map[solana.PublicKey][]*domain.SnipeOrder
	// removed is the set of claimed order ids. An order stays claimed for
	// the process lifetime so a permanently-failed order is never retried
	// even though its persisted status remains pending.
	removed map[string]struct{}
}

func New(storage store.Storage, interval time.Duration, logger *zap.Logger) *Registry {
	return &Registry{
		storage:  storage,
		logger:   logger.Named("registry"),
		interval: interval,
		byToken:  make(map[solana.PublicKey][]*domain.SnipeOrder),
		removed:  make(map[string]struct{}),
	}
}

// Run refreshes the snapshot on the configured interval until ctx ends.
func (r *Registry) Run(ctx context.Context) error {
	r.Refresh(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh rebuilds the token index from the store and swaps it in
// atomically. A failed read keeps the previous snapshot: stale orders are
// better than no orders while the store recovers.
func (r *Registry) Refresh(ctx context.Context) {
	orders, err := r.storage.ListActive(ctx)
	if err != nil {
		r.logger.Warn("order refresh failed, keeping stale snapshot", zap.Error(err))
		return
	}

	fresh := make(map[solana.PublicKey][]*domain.SnipeOrder)
	count := 0
	r.mu.Lock()
	for _, order := range orders {
		// Orders dispatched this cycle may still read as pending until the
		// store catches up; skip them so a pool is never re-matched.
		if _, claimed := r.removed[order.ID]; claimed {
			continue
		}
		fresh[order.TargetToken] = append(fresh[order.TargetToken], order)
		count++
	}
	r.byToken = fresh
	r.mu.Unlock()

	r.logger.Debug("order snapshot refreshed", zap.Int("pending", count))
}

// MatchesFor returns the pending orders targeting token, in insertion
// order. The returned slice is the caller's to keep.
func (r *Registry) MatchesFor(token solana.PublicKey) []*domain.SnipeOrder {
	r.mu.Lock()
	defer r.mu.Unlock()

	orders := r.byToken[token]
	if len(orders) == 0 {
		return nil
	}
	out := make([]*domain.SnipeOrder, len(orders))
	copy(out, orders)
	return out
}

// Remove drops an order from the current snapshot so it cannot match again
// before the store reflects its new status. Called the moment a swap
// attempt is handed to the executor, and again is harmless.
func (r *Registry) Remove(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removed[orderID] = struct{}{}
	for token, orders := range r.byToken {
		kept := orders[:0]
		for _, o := range orders {
			if o.ID != orderID {
				kept = append(kept, o)
			}
		}
		if len(kept) == 0 {
			delete(r.byToken, token)
		} else {
			r.byToken[token] = kept
		}
	}
}

// PendingCount reports the number of orders in the current snapshot.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, orders := range r.byToken {
		n += len(orders)
	}
	return n
}
