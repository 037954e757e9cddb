// internal/txsubmit/fees.go
package txsubmit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const (
	// feeRefreshInterval is how often the cached estimate is rebuilt.
	feeRefreshInterval = 15 * time.Second

	// maxPriorityFeeMicroLamports caps the per-CU price no matter what the
	// network reports (0.05 SOL on a 400k CU transaction is already absurd).
	maxPriorityFeeMicroLamports = 5_000_000
)

type feeFetcher interface {
	GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
}

// FeeEstimator keeps a cached p75 of recent prioritization fees so that
// every submission does not pay an extra RPC round trip.
type FeeEstimator struct {
	rpc    feeFetcher
	floor  uint64
	logger *zap.Logger

	mu        sync.RWMutex
	feeP75    uint64
	lastFetch time.Time
}

func NewFeeEstimator(client feeFetcher, floor uint64, logger *zap.Logger) *FeeEstimator {
	return &FeeEstimator{
		rpc:    client,
		floor:  floor,
		logger: logger.Named("fees"),
	}
}

// Run refreshes the cached estimate until ctx ends.
func (e *FeeEstimator) Run(ctx context.Context) error {
	e.refresh(ctx)

	ticker := time.NewTicker(feeRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.refresh(ctx)
		}
	}
}

// Estimate returns the per-CU price in micro-lamports:
// max(configured floor, cached p75), capped at the hard ceiling.
func (e *FeeEstimator) Estimate() uint64 {
	e.mu.RLock()
	p75 := e.feeP75
	e.mu.RUnlock()

	fee := e.floor
	if p75 > fee {
		fee = p75
	}
	if fee > maxPriorityFeeMicroLamports {
		fee = maxPriorityFeeMicroLamports
	}
	return fee
}

func (e *FeeEstimator) refresh(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fees, err := e.rpc.GetRecentPrioritizationFees(fetchCtx, nil)
	if err != nil {
		e.logger.Debug("priority fee refresh failed", zap.Error(err))
		return
	}

	values := make([]uint64, 0, len(fees))
	for _, f := range fees {
		if f.PrioritizationFee > 0 {
			values = append(values, f.PrioritizationFee)
		}
	}
	if len(values) == 0 {
		return
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	e.mu.Lock()
	e.feeP75 = percentile(values, 75)
	e.lastFetch = time.Now()
	e.mu.Unlock()

	e.logger.Debug("priority fee estimate updated",
		zap.Uint64("p75", percentile(values, 75)),
		zap.Int("samples", len(values)))
}

// percentile returns the p-th percentile of sorted values.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
