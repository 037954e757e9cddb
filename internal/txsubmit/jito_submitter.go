// internal/txsubmit/jito_submitter.go
package txsubmit

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// blockhashClient is the slice of rpc.Client the bundle submitter needs.
type blockhashClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// JitoSubmitter lands transactions through a Jito bundle relay. The swap
// transaction carries the tip transfer so a single signed transaction forms
// the whole bundle.
type JitoSubmitter struct {
	client         *JitoClient
	rpc            blockhashClient
	fees           *FeeEstimator
	confirmTimeout time.Duration
	logger         *zap.Logger
}

func NewJitoSubmitter(client *JitoClient, rpcClient blockhashClient, fees *FeeEstimator, confirmTimeout time.Duration, logger *zap.Logger) *JitoSubmitter {
	return &JitoSubmitter{
		client:         client,
		rpc:            rpcClient,
		fees:           fees,
		confirmTimeout: confirmTimeout,
		logger:         logger.Named("txsubmit"),
	}
}

func (s *JitoSubmitter) Submit(ctx context.Context, instructions []solana.Instruction, signer solana.PrivateKey, budget Budget) (string, error) {
	if budget.TipLamports == 0 {
		return "", domain.NewSwapError(domain.KindTransient,
			fmt.Errorf("bundle submission requires a non-zero tip"))
	}

	blockhash, err := s.rpc.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", domain.NewSwapError(domain.KindTransient, fmt.Errorf("get blockhash: %w", err))
	}

	tipAccount := s.client.NextTipAccount()
	all := make([]solana.Instruction, 0, len(instructions)+1)
	all = append(all, instructions...)
	all = append(all, system.NewTransferInstruction(
		budget.TipLamports, signer.PublicKey(), tipAccount).Build())

	tx, err := solana.NewTransaction(all, blockhash.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return "", fmt.Errorf("build bundle transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("sign bundle transaction: %w", err)
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return "", fmt.Errorf("encode bundle transaction: %w", err)
	}

	status, err := s.client.SendBundle(ctx, []string{encoded}, budget.TipLamports)
	if err != nil {
		return "", domain.NewSwapError(domain.KindTransient, err)
	}

	s.logger.Info("bundle in flight",
		zap.String("bundle_id", status.BundleID),
		zap.String("tip_account", tipAccount.String()),
		zap.Uint64("tip_lamports", budget.TipLamports))

	sig := tx.Signatures[0].String()
	waitErr := s.awaitBundle(ctx, status.BundleID)

	stats := s.client.Stats()
	s.logger.Info("relay totals",
		zap.Int64("bundles_sent", stats.BundlesSent),
		zap.Int64("bundles_landed", stats.BundlesLanded),
		zap.Int64("bundles_failed", stats.BundlesFailed),
		zap.String("total_tip_sol", stats.TotalTipSOL))

	if waitErr != nil {
		return sig, waitErr
	}
	return sig, nil
}

// awaitBundle polls the relay until the bundle lands or the window closes.
// A bundle still unlanded at the deadline is unconfirmed, not failed: the
// relay may include it in a later slot.
func (s *JitoSubmitter) awaitBundle(ctx context.Context, bundleID string) error {
	deadline := time.Now().Add(s.confirmTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return domain.NewSwapError(domain.KindUnconfirmed, ctx.Err())
		case <-ticker.C:
			status, err := s.client.GetBundleStatus(ctx, bundleID)
			if err != nil {
				s.logger.Debug("bundle status poll failed", zap.Error(err))
			} else {
				switch status.Status {
				case "landed":
					s.logger.Info("bundle landed",
						zap.String("bundle_id", bundleID),
						zap.Uint64("slot", status.Slot))
					return nil
				case "failed":
					return domain.NewSwapError(domain.KindTransient,
						fmt.Errorf("bundle %s rejected by relay", bundleID))
				}
			}
			if time.Now().After(deadline) {
				return domain.NewSwapError(domain.KindUnconfirmed,
					fmt.Errorf("bundle %s not landed within %s", bundleID, s.confirmTimeout))
			}
		}
	}
}
