// internal/domain/domain.go
package domain

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// PoolCreatedEvent represents a single detected pool-initialization
// instruction. Created once per qualifying transaction, immutable,
// consumed by the dispatch engine and then discarded.
type PoolCreatedEvent struct {
	PoolID solana.PublicKey
	TokenX solana.PublicKey
	TokenY solana.PublicKey
	// Signature of the transaction that produced the event, kept for
	// idempotency checks and logging.
	Signature string
	// Fallback is set when the pool was discovered through the
	// zero-balance account probe rather than instruction data.
	Fallback bool
}

// Mentions reports whether the event's pool trades the given mint.
func (e *PoolCreatedEvent) Mentions(mint solana.PublicKey) bool {
	return e.TokenX.Equals(mint) || e.TokenY.Equals(mint)
}

// QuoteAsset is the asset a snipe order spends.
type QuoteAsset string

const (
	QuoteSOL  QuoteAsset = "SOL"
	QuoteUSDC QuoteAsset = "USDC"
)

// Mint returns the mint address of the quote asset.
func (q QuoteAsset) Mint() (solana.PublicKey, error) {
	switch q {
	case QuoteSOL:
		return solana.WrappedSol, nil
	case QuoteUSDC:
		return solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"), nil
	default:
		return solana.PublicKey{}, fmt.Errorf("unknown quote asset %q", string(q))
	}
}

// OrderStatus is the persisted lifecycle state of a snipe order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
)

// SnipeOrder is a user's standing instruction to buy a token once a
// qualifying pool appears.
//
// Invariant: either Status == OrderPending with empty TxRef/CompletedAt,
// or Status == OrderCompleted with both populated. Orders are never
// deleted; the history is append-only.
type SnipeOrder struct {
	// ID is the dedicated one-time wallet address bound to the order.
	ID          string
	OwnerWallet string
	TargetToken solana.PublicKey
	// SpendAmount is in the quote asset's smallest unit.
	SpendAmount uint64
	QuoteAsset  QuoteAsset
	TipLamports uint64
	Status      OrderStatus
	TxRef       string
	CompletedAt *time.Time
	CreatedAt   time.Time
}
