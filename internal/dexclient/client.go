// internal/dexclient/client.go
package dexclient

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrPoolNotFound is returned when an address does not resolve to a pool
// of a supported protocol.
var ErrPoolNotFound = errors.New("dexclient: pool not found")

// PoolKind tags the protocol variant a pool belongs to. Dispatch on the
// tag, not on an interface hierarchy; today only two variants exist.
type PoolKind int

const (
	PoolDLMM PoolKind = iota
	PoolDynamicAMM
)

func (k PoolKind) String() string {
	switch k {
	case PoolDLMM:
		return "dlmm"
	case PoolDynamicAMM:
		return "dynamic_amm"
	default:
		return "unknown"
	}
}

// PoolHandle is a validated reference to a live on-chain pool.
type PoolHandle struct {
	Kind    PoolKind
	Address solana.PublicKey
	TokenX  solana.PublicKey
	TokenY  solana.PublicKey
}

// Quote is a priced swap estimate plus the instructions to execute it.
// The pricing math lives in the quote backend, not here.
type Quote struct {
	OutAmount    uint64
	MinOut       uint64
	Instructions []solana.Instruction
}

// Client is the DEX collaborator contract used by the decoder's fallback
// probe and by the swap executor.
type Client interface {
	// OpenPool fetches and validates the pool account. ErrPoolNotFound
	// means the address is not a supported pool; a transient SwapError
	// means the account is not visible yet.
	OpenPool(ctx context.Context, pool solana.PublicKey) (*PoolHandle, error)
	// Quote prices a swap of amount (smallest units of inputMint) into
	// outputMint, honoring the slippage tolerance. outputMint must be one of
	// the pool's mints; inputMint may be an outside asset the route spends.
	Quote(ctx context.Context, handle *PoolHandle, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (*Quote, error)
}
