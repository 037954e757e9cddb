// internal/txsubmit/submitter.go
package txsubmit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// Budget carries the per-submission resource knobs the caller controls.
type Budget struct {
	ComputeUnitLimit uint32
	TipLamports      uint64
}

// Submitter turns a set of instructions into a landed transaction.
// Submit blocks until the transaction is confirmed or classified as failed.
type Submitter interface {
	Submit(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey, budget Budget) (string, error)
}

// rpcSender is the slice of rpc.Client the direct submitter needs.
type rpcSender interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// RPCSubmitter sends transactions straight to an RPC node and polls for
// confirmation.
type RPCSubmitter struct {
	rpc            rpcSender
	fees           *FeeEstimator
	maxRetries     uint
	confirmTimeout time.Duration
	logger         *zap.Logger
}

func NewRPCSubmitter(client rpcSender, fees *FeeEstimator, maxRetries uint, confirmTimeout time.Duration, logger *zap.Logger) *RPCSubmitter {
	return &RPCSubmitter{
		rpc:            client,
		fees:           fees,
		maxRetries:     maxRetries,
		confirmTimeout: confirmTimeout,
		logger:         logger.Named("txsubmit"),
	}
}

func (s *RPCSubmitter) Submit(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey, budget Budget) (string, error) {
	tx, err := s.buildSigned(ctx, instructions, signer, budget)
	if err != nil {
		return "", err
	}

	sig, err := s.send(ctx, tx)
	if err != nil {
		return "", err
	}

	s.logger.Info("transaction sent", zap.String("signature", sig.String()))

	if err := s.awaitConfirmation(ctx, sig); err != nil {
		return sig.String(), err
	}
	return sig.String(), nil
}

// buildSigned assembles compute budget + caller instructions into a signed
// transaction against a fresh blockhash.
func (s *RPCSubmitter) buildSigned(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey, budget Budget) (*solana.Transaction, error) {
	blockhash, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("get blockhash: %w", err))
	}

	all := make([]solana.Instruction, 0, len(instructions)+2)
	all = append(all,
		computebudget.NewSetComputeUnitLimitInstruction(budget.ComputeUnitLimit).Build(),
		computebudget.NewSetComputeUnitPriceInstruction(s.fees.Estimate()).Build(),
	)
	all = append(all, instructions...)

	tx, err := solana.NewTransaction(all, blockhash.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// send pushes the signed transaction, retrying transient RPC failures.
// Blockhash expiry is final for this transaction object, so it stops the
// retry loop immediately.
func (s *RPCSubmitter) send(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	operation := func() (solana.Signature, error) {
		sig, err := s.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			if classified := classifySendError(err); domain.IsPermanent(classified) || domain.KindOf(classified) == domain.KindExpired {
				return solana.Signature{}, backoff.Permanent(classified)
			}
			s.logger.Debug("send failed, will retry", zap.Error(err))
			return solana.Signature{}, classifySendError(err)
		}
		return sig, nil
	}

	sig, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(s.maxRetries),
	)
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

// awaitConfirmation polls signature status until the transaction is
// confirmed, failed on-chain, or the confirmation window closes.
func (s *RPCSubmitter) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(s.confirmTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.NewSwapError(domain.KindUnconfirmed, ctx.Err())
		case <-ticker.C:
			out, err := s.rpc.GetSignatureStatuses(ctx, true, sig)
			if err != nil {
				s.logger.Debug("status poll failed", zap.Error(err))
			} else if len(out.Value) > 0 && out.Value[0] != nil {
				status := out.Value[0]
				if status.Err != nil {
					return domain.NewSwapError(domain.KindTransient,
						fmt.Errorf("transaction %s failed on-chain: %v", sig, status.Err))
				}
				switch status.ConfirmationStatus {
				case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
					s.logger.Info("transaction confirmed",
						zap.String("signature", sig.String()),
						zap.Uint64("slot", status.Slot))
					return nil
				}
			}
			if time.Now().After(deadline) {
				return domain.NewSwapError(domain.KindUnconfirmed,
					fmt.Errorf("transaction %s not confirmed within %s", sig, s.confirmTimeout))
			}
		}
	}
}

// classifySendError maps RPC send failures onto error kinds at the
// boundary. Everything not recognized stays transient.
func classifySendError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "blockhash not found"):
		return domain.NewSwapError(domain.KindExpired, err)
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient lamports"):
		return domain.NewSwapError(domain.KindInsufficientFunds, err)
	case strings.Contains(msg, "slippage"):
		return domain.NewSwapError(domain.KindSlippage, err)
	default:
		return domain.NewSwapError(domain.KindTransient, err)
	}
}
