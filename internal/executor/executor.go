// internal/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/dexclient"
	"github.com/solsnipe/meteora-bot/internal/domain"
	"github.com/solsnipe/meteora-bot/internal/logger"
	"github.com/solsnipe/meteora-bot/internal/store"
	"github.com/solsnipe/meteora-bot/internal/txsubmit"
)

// Options bound the retry loop and size the swap.
type Options struct {
	MaxAttempts      uint
	RetryDelay       time.Duration
	SlippageBps      uint16
	ComputeUnitLimit uint32
}

// Executor runs one snipe order against one freshly created pool: price the
// route, submit the transaction, persist completion.
type Executor struct {
	dex       dexclient.Client
	submitter txsubmit.Submitter
	storage   store.Storage
	signer    solana.PrivateKey
	opts      Options
	logger    *logger.Logger
}

func New(dex dexclient.Client, submitter txsubmit.Submitter, storage store.Storage, signer solana.PrivateKey, opts Options, log *logger.Logger) *Executor {
	return &Executor{
		dex:       dex,
		submitter: submitter,
		storage:   storage,
		signer:    signer,
		opts:      opts,
		logger:    log.Named("executor"),
	}
}

// Execute attempts the swap until it lands, a permanent condition is hit,
// or the attempt budget runs out, and returns the landed transaction
// reference. The whole attempt is retried as a unit because a failure at
// any stage usually means the pool state moved.
func (e *Executor) Execute(ctx context.Context, event *domain.PoolCreatedEvent, order *domain.SnipeOrder) (string, error) {
	// Every execution gets its own correlation id so the attempts of one
	// order can be pulled out of interleaved logs.
	log := e.logger.WithOperation("snipe").With(
		zap.String("order_id", order.ID),
		zap.String("pool", event.PoolID.String()),
		zap.String("token", order.TargetToken.String()))

	inputMint, err := order.QuoteAsset.Mint()
	if err != nil {
		return "", fmt.Errorf("order %s: %w", order.ID, err)
	}

	attempt := 0
	operation := func() (string, error) {
		attempt++
		sig, err := e.attempt(ctx, event, order, inputMint)
		if err != nil {
			if domain.IsPermanent(err) {
				log.Warn("swap failed permanently",
					zap.Int("attempt", attempt),
					zap.String("kind", domain.KindOf(err).String()),
					zap.Error(err))
				return "", backoff.Permanent(err)
			}
			log.Debug("swap attempt failed",
				zap.Int("attempt", attempt),
				zap.String("kind", domain.KindOf(err).String()),
				zap.Error(err))
			return "", err
		}
		return sig, nil
	}

	sig, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(e.opts.RetryDelay)),
		backoff.WithMaxTries(e.opts.MaxAttempts),
	)
	if err != nil {
		return "", fmt.Errorf("order %s on pool %s: %w", order.ID, event.PoolID, err)
	}

	log.Info("swap completed", zap.String("signature", sig), zap.Int("attempts", attempt))

	if err := e.storage.MarkCompleted(ctx, order.ID, sig, time.Now().UTC()); err != nil {
		// The swap landed; losing the status update must not fail the order.
		log.Error("failed to persist completion", zap.Error(err))
	}
	return sig, nil
}

func (e *Executor) attempt(ctx context.Context, event *domain.PoolCreatedEvent, order *domain.SnipeOrder, inputMint solana.PublicKey) (string, error) {
	handle, err := e.dex.OpenPool(ctx, event.PoolID)
	if err != nil {
		return "", err
	}
	if !handle.TokenX.Equals(order.TargetToken) && !handle.TokenY.Equals(order.TargetToken) {
		return "", domain.NewSwapError(domain.KindNoLiquidity,
			fmt.Errorf("pool %s does not trade %s", event.PoolID, order.TargetToken))
	}

	quote, err := e.dex.Quote(ctx, handle, inputMint, order.TargetToken, order.SpendAmount, e.opts.SlippageBps)
	if err != nil {
		return "", err
	}

	return e.submitter.Submit(ctx, quote.Instructions, e.signer, txsubmit.Budget{
		ComputeUnitLimit: e.opts.ComputeUnitLimit,
		TipLamports:      order.TipLamports,
	})
}
