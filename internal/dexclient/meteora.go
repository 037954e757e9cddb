// internal/dexclient/meteora.go
package dexclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// Byte offsets of the token mints inside the two supported pool account
// layouts (8-byte anchor discriminator included). For the DLMM LbPair the
// mints sit behind the static/variable parameter blocks and the pair
// metadata; for the Dynamic AMM pool they follow the LP mint.
const (
	lbPairTokenXOffset = 88
	lbPairTokenYOffset = 120

	dynPoolTokenAOffset = 40
	dynPoolTokenBOffset = 72
)

// accountFetcher is the slice of rpc.Client the Meteora client needs.
type accountFetcher interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// MeteoraClient resolves pool handles on-chain and delegates pricing to a
// Jupiter-style quote API.
type MeteoraClient struct {
	rpc           accountFetcher
	httpClient    *http.Client
	quoteAPIURL   string
	wallet        solana.PublicKey
	dlmmProgram   solana.PublicKey
	dynAmmProgram solana.PublicKey
	logger        *zap.Logger
}

// DynamicAMMProgramID is the Meteora Dynamic AMM program on mainnet.
var DynamicAMMProgramID = solana.MustPublicKeyFromBase58("Eo7WjKreULPvvfRJseUpaydiBbowSn6AF2tF8SrAE6vb")

func NewMeteoraClient(rpcClient *rpc.Client, quoteAPIURL string, wallet solana.PublicKey, dlmmProgram solana.PublicKey, logger *zap.Logger) *MeteoraClient {
	return &MeteoraClient{
		rpc:           rpcClient,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		quoteAPIURL:   quoteAPIURL,
		wallet:        wallet,
		dlmmProgram:   dlmmProgram,
		dynAmmProgram: DynamicAMMProgramID,
		logger:        logger.Named("dexclient"),
	}
}

// OpenPool fetches the account and classifies it by owner program. A
// missing account is transient (the pool may simply not be visible at the
// queried commitment yet); an account owned by an unrelated program is
// ErrPoolNotFound.
func (c *MeteoraClient) OpenPool(ctx context.Context, pool solana.PublicKey) (*PoolHandle, error) {
	out, err := c.rpc.GetAccountInfo(ctx, pool)
	if err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("fetch pool account %s: %w", pool, err))
	}
	if out == nil || out.Value == nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("pool account %s not visible yet", pool))
	}

	data := out.Value.Data.GetBinary()
	switch {
	case out.Value.Owner.Equals(c.dlmmProgram):
		tokenX, tokenY, err := mintsAt(data, lbPairTokenXOffset, lbPairTokenYOffset)
		if err != nil {
			return nil, fmt.Errorf("decode lb pair %s: %w", pool, err)
		}
		return &PoolHandle{Kind: PoolDLMM, Address: pool, TokenX: tokenX, TokenY: tokenY}, nil
	case out.Value.Owner.Equals(c.dynAmmProgram):
		tokenX, tokenY, err := mintsAt(data, dynPoolTokenAOffset, dynPoolTokenBOffset)
		if err != nil {
			return nil, fmt.Errorf("decode dynamic amm pool %s: %w", pool, err)
		}
		return &PoolHandle{Kind: PoolDynamicAMM, Address: pool, TokenX: tokenX, TokenY: tokenY}, nil
	default:
		return nil, fmt.Errorf("%w: %s owned by %s", ErrPoolNotFound, pool, out.Value.Owner)
	}
}

// ProbePool implements the decoder's fallback contract: it succeeds only
// when the address resolves to a real pool handle.
func (c *MeteoraClient) ProbePool(ctx context.Context, pool solana.PublicKey) (solana.PublicKey, solana.PublicKey, error) {
	handle, err := c.OpenPool(ctx, pool)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return handle.TokenX, handle.TokenY, nil
}

func mintsAt(data []byte, offX, offY int) (solana.PublicKey, solana.PublicKey, error) {
	if len(data) < offY+32 {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	dec := bin.NewBorshDecoder(data)
	if err := dec.SkipBytes(uint(offX)); err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	rawX, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	if err := dec.SkipBytes(uint(offY - offX - 32)); err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	rawY, err := dec.ReadNBytes(32)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(rawX), solana.PublicKeyFromBytes(rawY), nil
}
