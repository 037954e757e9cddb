// internal/decoder/decoder.go
package decoder

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// initializeLbPair is the Meteora DLMM pool-creation instruction. Its
// anchor discriminator is the first 8 bytes of sha256("global:<name>").
const initializeLbPairInstruction = "initializeLbPair"

// Positional account schema of initializeLbPair. Only the pool account and
// the two mints matter to the pipeline; the rest (bitmap extension, oracle,
// funder, programs) ride along and are ignored.
const (
	accountIdxPool   = 0
	accountIdxTokenX = 2
	accountIdxTokenY = 3
	minAccounts      = 4
)

var (
	// ErrNotMatched means the transaction carries no pool-creation
	// instruction for the configured program.
	ErrNotMatched = errors.New("decoder: no matching instruction")
	// ErrMalformed means a matching instruction was found but its account
	// list is shorter than the positional schema requires.
	ErrMalformed = errors.New("decoder: malformed pool-creation instruction")
)

// PoolProber validates a candidate pool address during fallback discovery.
// Implemented by the DEX client; a probe must only succeed for a real pool.
type PoolProber interface {
	ProbePool(ctx context.Context, pool solana.PublicKey) (tokenX, tokenY solana.PublicKey, err error)
}

// Decoder turns raw transactions into typed PoolCreatedEvents.
type Decoder struct {
	programID     solana.PublicKey
	discriminator [8]byte
	prober        PoolProber
	logger        *zap.Logger
}

// New builds a decoder for the given DLMM program. prober may be nil, which
// disables the zero-balance fallback path.
func New(programID solana.PublicKey, prober PoolProber, logger *zap.Logger) *Decoder {
	return &Decoder{
		programID:     programID,
		discriminator: anchorDiscriminator(initializeLbPairInstruction),
		prober:        prober,
		logger:        logger.Named("decoder"),
	}
}

// anchorDiscriminator computes the fixed 8-byte instruction tag. Pure
// function of a string constant, evaluated once at construction.
func anchorDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var disc [8]byte
	copy(disc[:], sum[:8])
	return disc
}

// Decode scans tx for an initializeLbPair instruction of the configured
// program and returns the typed event. Top-level instructions are checked
// first, then inner (CPI) instructions. When neither carries the
// discriminator, the zero-balance fallback is attempted.
//
// The only side effect is the optional network probe on the fallback path.
func (d *Decoder) Decode(ctx context.Context, tx *RawTransaction) (*domain.PoolCreatedEvent, error) {
	if tx == nil || tx.Failed {
		return nil, ErrNotMatched
	}

	for _, ix := range tx.Instructions {
		if ev, err := d.decodeInstruction(tx.Signature, ix); err == nil {
			return ev, nil
		} else if errors.Is(err, ErrMalformed) {
			return nil, err
		}
	}
	for _, inner := range tx.Inner {
		for _, ix := range inner {
			if ev, err := d.decodeInstruction(tx.Signature, ix); err == nil {
				return ev, nil
			} else if errors.Is(err, ErrMalformed) {
				return nil, err
			}
		}
	}

	return d.decodeFromBalances(ctx, tx)
}

func (d *Decoder) decodeInstruction(signature string, ix Instruction) (*domain.PoolCreatedEvent, error) {
	if !ix.ProgramID.Equals(d.programID) {
		return nil, ErrNotMatched
	}
	if len(ix.Data) < 8 || !bytes.Equal(ix.Data[:8], d.discriminator[:]) {
		return nil, ErrNotMatched
	}
	if len(ix.Accounts) < minAccounts {
		return nil, fmt.Errorf("%w: %d accounts, need %d", ErrMalformed, len(ix.Accounts), minAccounts)
	}
	return &domain.PoolCreatedEvent{
		PoolID:    ix.Accounts[accountIdxPool],
		TokenX:    ix.Accounts[accountIdxTokenX],
		TokenY:    ix.Accounts[accountIdxTokenY],
		Signature: signature,
	}, nil
}

// decodeFromBalances handles feeds that omit full instruction data: a
// brand-new account shows up with a zero pre-balance, and probing it
// against the DEX client tells us whether it is a pool. Best-effort by
// design; a transaction creating several fresh accounts can shadow the
// real pool, so the first account that resolves wins and the rest are
// logged at debug level.
func (d *Decoder) decodeFromBalances(ctx context.Context, tx *RawTransaction) (*domain.PoolCreatedEvent, error) {
	if d.prober == nil || len(tx.AccountKeys) == 0 {
		return nil, ErrNotMatched
	}
	if len(tx.PreBalances) != len(tx.AccountKeys) {
		return nil, ErrNotMatched
	}

	for i, key := range tx.AccountKeys {
		// Index 0 is the fee payer; a zero balance there is a different story.
		if i == 0 || tx.PreBalances[i] != 0 {
			continue
		}
		tokenX, tokenY, err := d.prober.ProbePool(ctx, key)
		if err != nil {
			d.logger.Debug("fallback probe rejected candidate",
				zap.String("account", key.String()),
				zap.String("signature", tx.Signature),
				zap.Error(err))
			continue
		}
		d.logger.Info("pool recovered via balance fallback",
			zap.String("pool", key.String()),
			zap.String("signature", tx.Signature))
		return &domain.PoolCreatedEvent{
			PoolID:    key,
			TokenX:    tokenX,
			TokenY:    tokenY,
			Signature: tx.Signature,
			Fallback:  true,
		}, nil
	}
	return nil, ErrNotMatched
}
