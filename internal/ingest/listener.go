// internal/ingest/listener.go
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/decoder"
)

// txFetcher is the slice of rpc.Client the listener needs.
type txFetcher interface {
	GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
}

// Listener subscribes to log mentions of the pool program and converts
// every referenced transaction into the decoder's raw form. The websocket
// is reconnected with backoff; events missed during an outage are gone,
// which is acceptable for a pipeline that only cares about fresh pools.
type Listener struct {
	wsURL   string
	rpc     txFetcher
	program solana.PublicKey
	out     chan<- *decoder.RawTransaction
	logger  *zap.Logger
}

func NewListener(wsURL string, rpcClient txFetcher, program solana.PublicKey, out chan<- *decoder.RawTransaction, logger *zap.Logger) *Listener {
	return &Listener{
		wsURL:   wsURL,
		rpc:     rpcClient,
		program: program,
		out:     out,
		logger:  logger.Named("ingest"),
	}
}

// Run maintains the subscription until ctx ends.
func (l *Listener) Run(ctx context.Context) error {
	reconnect := backoff.NewExponentialBackOff()
	reconnect.MaxInterval = 30 * time.Second

	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := reconnect.NextBackOff()
			l.logger.Warn("subscription lost, reconnecting",
				zap.Error(err),
				zap.Duration("backoff", wait))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		reconnect.Reset()
	}
}

func (l *Listener) listen(ctx context.Context) error {
	client, err := ws.Connect(ctx, l.wsURL)
	if err != nil {
		return fmt.Errorf("connect websocket: %w", err)
	}
	defer client.Close()

	sub, err := client.LogsSubscribeMentions(l.program, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	l.logger.Info("subscribed to program logs", zap.String("program", l.program.String()))

	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			return fmt.Errorf("recv: %w", err)
		}
		if got.Value.Err != nil {
			// Failed transactions cannot have created a pool.
			continue
		}
		l.handleSignature(ctx, got.Value.Signature)
	}
}

func (l *Listener) handleSignature(ctx context.Context, sig solana.Signature) {
	raw, err := l.fetch(ctx, sig)
	if err != nil {
		l.logger.Debug("transaction fetch failed",
			zap.String("signature", sig.String()),
			zap.Error(err))
		return
	}

	select {
	case l.out <- raw:
	default:
		l.logger.Warn("ingest queue full, dropping transaction",
			zap.String("signature", sig.String()))
	}
}

func (l *Listener) fetch(ctx context.Context, sig solana.Signature) (*decoder.RawTransaction, error) {
	maxVersion := uint64(0)
	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := l.rpc.GetTransaction(fetchCtx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, err
	}
	if out == nil || out.Transaction == nil || out.Meta == nil {
		return nil, fmt.Errorf("transaction %s incomplete", sig)
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s: %w", sig, err)
	}
	return convert(sig, tx, out.Meta)
}

// convert flattens an RPC transaction into the decoder's raw form,
// resolving account indices against the full key list (static keys plus
// any addresses loaded from lookup tables).
func convert(sig solana.Signature, tx *solana.Transaction, meta *rpc.TransactionMeta) (*decoder.RawTransaction, error) {
	keys := make([]solana.PublicKey, 0,
		len(tx.Message.AccountKeys)+len(meta.LoadedAddresses.Writable)+len(meta.LoadedAddresses.ReadOnly))
	keys = append(keys, tx.Message.AccountKeys...)
	keys = append(keys, meta.LoadedAddresses.Writable...)
	keys = append(keys, meta.LoadedAddresses.ReadOnly...)

	resolve := func(ci solana.CompiledInstruction) (decoder.Instruction, error) {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return decoder.Instruction{}, fmt.Errorf("program index %d out of range", ci.ProgramIDIndex)
		}
		accounts := make([]solana.PublicKey, 0, len(ci.Accounts))
		for _, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return decoder.Instruction{}, fmt.Errorf("account index %d out of range", idx)
			}
			accounts = append(accounts, keys[idx])
		}
		return decoder.Instruction{
			ProgramID: keys[ci.ProgramIDIndex],
			Accounts:  accounts,
			Data:      []byte(ci.Data),
		}, nil
	}

	raw := &decoder.RawTransaction{
		Signature:   sig.String(),
		AccountKeys: keys,
		PreBalances: meta.PreBalances,
		Failed:      meta.Err != nil,
	}

	for _, ci := range tx.Message.Instructions {
		ix, err := resolve(ci)
		if err != nil {
			return nil, fmt.Errorf("transaction %s: %w", sig, err)
		}
		raw.Instructions = append(raw.Instructions, ix)
	}

	for _, inner := range meta.InnerInstructions {
		for _, ci := range inner.Instructions {
			ix, err := resolve(ci)
			if err != nil {
				return nil, fmt.Errorf("transaction %s: %w", sig, err)
			}
			if raw.Inner == nil {
				raw.Inner = make(map[int][]decoder.Instruction)
			}
			idx := int(inner.Index)
			raw.Inner[idx] = append(raw.Inner[idx], ix)
		}
	}
	return raw, nil
}
