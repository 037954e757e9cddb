// internal/dispatch/engine.go
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// maxConcurrentSwaps bounds the fan-out of one tick so a burst of pool
// creations cannot exhaust RPC connections.
const maxConcurrentSwaps = 8

// matcher is the slice of the order registry the engine uses.
type matcher interface {
	MatchesFor(mint solana.PublicKey) []*domain.SnipeOrder
	Remove(orderID string)
}

// swapRunner executes one claimed order against one pool event.
type swapRunner interface {
	Execute(ctx context.Context, event *domain.PoolCreatedEvent, order *domain.SnipeOrder) (string, error)
}

// Engine connects detected pool events to matching snipe orders. Each
// (pool, order) pair is dispatched at most once per process: pools are
// deduplicated on intake and orders are claimed out of the registry before
// the swap starts.
type Engine struct {
	registry matcher
	runner   swapRunner
	tick     time.Duration
	logger   *zap.Logger

	events chan *domain.PoolCreatedEvent

	mu sync.Mutex
	// seenPools holds every pool ever accepted, for the process lifetime.
	// One entry per created pool is cheap relative to pool creation rate;
	// an eviction policy would reopen the duplicate-dispatch window.
	seenPools map[solana.PublicKey]struct{}
}

func New(registry matcher, runner swapRunner, buffer int, tick time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		registry:  registry,
		runner:    runner,
		tick:      tick,
		logger:    logger.Named("dispatch"),
		events:    make(chan *domain.PoolCreatedEvent, buffer),
		seenPools: make(map[solana.PublicKey]struct{}),
	}
}

// OnEvent queues an event for the next tick. Returns false when the event
// was dropped, either as a duplicate pool or because the queue is full.
func (e *Engine) OnEvent(event *domain.PoolCreatedEvent) bool {
	e.mu.Lock()
	if _, dup := e.seenPools[event.PoolID]; dup {
		e.mu.Unlock()
		e.logger.Debug("duplicate pool event dropped",
			zap.String("pool", event.PoolID.String()),
			zap.String("signature", event.Signature))
		return false
	}
	e.seenPools[event.PoolID] = struct{}{}
	e.mu.Unlock()

	select {
	case e.events <- event:
		return true
	default:
		// The event never entered the queue, so the pool must stay
		// eligible for a later delivery of the same creation.
		e.mu.Lock()
		delete(e.seenPools, event.PoolID)
		e.mu.Unlock()
		e.logger.Warn("event queue full, dropping pool event",
			zap.String("pool", event.PoolID.String()))
		return false
	}
}

// Run drains queued events on each tick until ctx ends. Remaining queued
// events are processed before shutdown so accepted events are not lost.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain(context.WithoutCancel(ctx))
			return ctx.Err()
		case <-ticker.C:
			e.drain(ctx)
		}
	}
}

func (e *Engine) drain(ctx context.Context) {
	for {
		select {
		case event := <-e.events:
			e.dispatch(ctx, event)
		default:
			return
		}
	}
}

// dispatch claims every order matching either side of the pool and runs
// the swaps concurrently. A failing order does not affect its siblings.
func (e *Engine) dispatch(ctx context.Context, event *domain.PoolCreatedEvent) {
	orders := e.collectMatches(event)
	if len(orders) == 0 {
		e.logger.Debug("no orders for pool",
			zap.String("pool", event.PoolID.String()),
			zap.String("token_x", event.TokenX.String()),
			zap.String("token_y", event.TokenY.String()))
		return
	}

	e.logger.Info("dispatching pool event",
		zap.String("pool", event.PoolID.String()),
		zap.Int("orders", len(orders)),
		zap.Bool("fallback", event.Fallback))

	var g errgroup.Group
	g.SetLimit(maxConcurrentSwaps)
	for _, order := range orders {
		// Claim before the swap starts so a concurrent refresh cannot hand
		// the same order to another pool event.
		e.registry.Remove(order.ID)

		g.Go(func() error {
			if _, err := e.runner.Execute(ctx, event, order); err != nil {
				e.logger.Error("order failed",
					zap.String("order_id", order.ID),
					zap.String("pool", event.PoolID.String()),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// collectMatches unions matches for both pool sides, deduplicating orders
// whose target appears on both.
func (e *Engine) collectMatches(event *domain.PoolCreatedEvent) []*domain.SnipeOrder {
	var orders []*domain.SnipeOrder
	seen := make(map[string]struct{})
	for _, mint := range []solana.PublicKey{event.TokenX, event.TokenY} {
		for _, order := range e.registry.MatchesFor(mint) {
			if _, dup := seen[order.ID]; dup {
				continue
			}
			seen[order.ID] = struct{}{}
			orders = append(orders, order)
		}
	}
	return orders
}
