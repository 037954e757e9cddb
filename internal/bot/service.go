// internal/bot/service.go
package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/solsnipe/meteora-bot/internal/config"
	"github.com/solsnipe/meteora-bot/internal/decoder"
	"github.com/solsnipe/meteora-bot/internal/dexclient"
	"github.com/solsnipe/meteora-bot/internal/dispatch"
	"github.com/solsnipe/meteora-bot/internal/executor"
	"github.com/solsnipe/meteora-bot/internal/ingest"
	"github.com/solsnipe/meteora-bot/internal/logger"
	"github.com/solsnipe/meteora-bot/internal/registry"
	"github.com/solsnipe/meteora-bot/internal/store"
	"github.com/solsnipe/meteora-bot/internal/store/postgres"
	"github.com/solsnipe/meteora-bot/internal/txsubmit"
	"github.com/solsnipe/meteora-bot/internal/wallet"
)

// Service wires the pipeline together: websocket ingestion, transaction
// decoding, order matching, and swap execution.
type Service struct {
	cfg    *config.Config
	log    *logger.Logger
	wallet *wallet.Wallet

	storage  store.Storage
	registry *registry.Registry
	decoder  *decoder.Decoder
	engine   *dispatch.Engine
	listener *ingest.Listener
	fees     *txsubmit.FeeEstimator

	rawTxs chan *decoder.RawTransaction
}

func NewService(cfg *config.Config, log *logger.Logger) (*Service, error) {
	w, err := wallet.New(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	dlmmProgram, err := solana.PublicKeyFromBase58(cfg.DLMMProgramID)
	if err != nil {
		return nil, fmt.Errorf("parse dlmm program id: %w", err)
	}

	storage, err := postgres.NewStorage(cfg.PostgresURL, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	rpcClient := rpc.New(cfg.RPCURL)

	dex := dexclient.NewMeteoraClient(rpcClient, cfg.QuoteAPIURL, w.PublicKey, dlmmProgram, log.Logger)
	dec := decoder.New(dlmmProgram, dex, log.Logger)
	reg := registry.New(storage, cfg.RefreshInterval(), log.Logger)
	fees := txsubmit.NewFeeEstimator(rpcClient, cfg.MinPriorityFee, log.Logger)

	var submitter txsubmit.Submitter
	switch cfg.SubmitBackend {
	case "jito":
		relay := txsubmit.NewJitoClient(cfg.JitoBlockEngineURL, log.Logger)
		submitter = txsubmit.NewJitoSubmitter(relay, rpcClient, fees, cfg.ConfirmTimeout(), log.Logger)
	default:
		submitter = txsubmit.NewRPCSubmitter(rpcClient, fees, uint(cfg.SubmitRetries), cfg.ConfirmTimeout(), log.Logger)
	}

	exec := executor.New(dex, submitter, storage, w.PrivateKey, executor.Options{
		MaxAttempts:      uint(cfg.SwapRetries),
		RetryDelay:       cfg.SwapRetryDelay(),
		SlippageBps:      cfg.SlippageBps,
		ComputeUnitLimit: cfg.ComputeUnitLimit,
	}, log)

	engine := dispatch.New(reg, exec, cfg.EventBuffer, cfg.TickInterval(), log.Logger)

	rawTxs := make(chan *decoder.RawTransaction, cfg.EventBuffer)
	listener := ingest.NewListener(cfg.WebSocketURL, rpcClient, dlmmProgram, rawTxs, log.Logger)

	return &Service{
		cfg:      cfg,
		log:      log,
		wallet:   w,
		storage:  storage,
		registry: reg,
		decoder:  dec,
		engine:   engine,
		listener: listener,
		fees:     fees,
		rawTxs:   rawTxs,
	}, nil
}

// Run starts every pipeline stage and blocks until ctx ends or a stage
// fails. Context cancellation is the normal shutdown path and is not
// reported as an error.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("starting sniper pipeline",
		zap.String("wallet", s.wallet.String()),
		zap.String("program", s.cfg.DLMMProgramID),
		zap.String("backend", s.cfg.SubmitBackend))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.registry.Run(ctx) })
	g.Go(func() error { return s.fees.Run(ctx) })
	g.Go(func() error { return s.engine.Run(ctx) })
	g.Go(func() error { return s.listener.Run(ctx) })
	g.Go(func() error { return s.decodeLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.log.Info("pipeline stopped")
		return nil
	}
	return err
}

// decodeLoop turns raw transactions into pool events and feeds them to the
// dispatch engine.
func (s *Service) decodeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-s.rawTxs:
			event, err := s.decoder.Decode(ctx, raw)
			if err != nil {
				if !errors.Is(err, decoder.ErrNotMatched) {
					s.log.Warn("transaction rejected by decoder",
						zap.String("signature", raw.Signature),
						zap.Error(err))
				}
				continue
			}
			s.log.WithPool(event.PoolID.String()).Info("pool event decoded",
				zap.String("signature", event.Signature),
				zap.Bool("fallback", event.Fallback))
			s.engine.OnEvent(event)
		}
	}
}

// Close releases the storage connection. Call after Run returns.
func (s *Service) Close() error {
	return s.storage.Close()
}
