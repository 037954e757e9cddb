// internal/txsubmit/jito.go
package txsubmit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Jito tip accounts (mainnet). The bundle must pay one of them or the
// block engine rejects it.
var jitoTipAccounts = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4bVqkfRtQ7NmXwkiY8X9W5E",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSLuiv3Jhqzsg1dbE7B",
	"DfXygSm4jCyNCzbzYYR18MFJkvDVwVS7s3d7rZmLhRDd",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

// JitoClient sends ordered transaction bundles through a Jito block engine.
type JitoClient struct {
	blockEngineURL string
	httpClient     *http.Client
	logger         *zap.Logger
	tipAcctIdx     atomic.Uint32

	bundlesSent   atomic.Int64
	bundlesLanded atomic.Int64
	bundlesFailed atomic.Int64
	totalTip      atomic.Int64 // lamports
}

func NewJitoClient(blockEngineURL string, logger *zap.Logger) *JitoClient {
	return &JitoClient{
		blockEngineURL: blockEngineURL,
		httpClient:     &http.Client{Timeout: 5 * time.Second},
		logger:         logger.Named("jito"),
	}
}

type bundleRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type bundleResponse struct {
	Result string `json:"result,omitempty"` // bundle id
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// BundleStatus tracks the state of a submitted bundle.
type BundleStatus struct {
	BundleID string
	Status   string // pending|landed|failed
	Slot     uint64
}

// SendBundle submits base64-encoded signed transactions as one atomic,
// priority-ordered unit. tipLamports is recorded for stats only; the tip
// transfer itself must already be part of the bundle.
func (c *JitoClient) SendBundle(ctx context.Context, transactions []string, tipLamports uint64) (*BundleStatus, error) {
	if len(transactions) == 0 {
		return nil, fmt.Errorf("jito: empty bundle")
	}

	resp, err := c.call(ctx, bundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "sendBundle",
		Params:  []any{transactions, map[string]string{"encoding": "base64"}},
	})
	if err != nil {
		c.bundlesFailed.Add(1)
		return nil, err
	}
	if resp.Error != nil {
		c.bundlesFailed.Add(1)
		return nil, fmt.Errorf("jito: error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	c.bundlesSent.Add(1)
	c.totalTip.Add(int64(tipLamports))

	c.logger.Info("bundle submitted",
		zap.String("bundle_id", resp.Result),
		zap.Uint64("tip_lamports", tipLamports),
		zap.Int("tx_count", len(transactions)))

	return &BundleStatus{BundleID: resp.Result, Status: "pending"}, nil
}

// GetBundleStatus checks whether a submitted bundle landed.
func (c *JitoClient) GetBundleStatus(ctx context.Context, bundleID string) (*BundleStatus, error) {
	body, err := c.callRaw(ctx, bundleRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBundleStatuses",
		Params:  []any{[]string{bundleID}},
	})
	if err != nil {
		return nil, err
	}

	var statusResp struct {
		Result struct {
			Value []struct {
				BundleID           string `json:"bundle_id"`
				ConfirmationStatus string `json:"confirmation_status"`
				Slot               uint64 `json:"slot"`
				Err                any    `json:"err"`
			} `json:"value"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("jito: parse status: %w", err)
	}
	if len(statusResp.Result.Value) == 0 {
		return &BundleStatus{BundleID: bundleID, Status: "pending"}, nil
	}

	entry := statusResp.Result.Value[0]
	status := "pending"
	if entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized" {
		status = "landed"
		c.bundlesLanded.Add(1)
	}
	if entry.Err != nil {
		if m, ok := entry.Err.(map[string]any); !ok || len(m) > 0 {
			status = "failed"
			c.bundlesFailed.Add(1)
		}
	}
	return &BundleStatus{BundleID: bundleID, Status: status, Slot: entry.Slot}, nil
}

// NextTipAccount rotates through the known tip accounts.
func (c *JitoClient) NextTipAccount() solana.PublicKey {
	idx := c.tipAcctIdx.Add(1) - 1
	return solana.MustPublicKeyFromBase58(jitoTipAccounts[idx%uint32(len(jitoTipAccounts))])
}

// Stats summarizes bundle outcomes since startup.
type Stats struct {
	BundlesSent   int64
	BundlesLanded int64
	BundlesFailed int64
	TotalTipSOL   string
}

func (c *JitoClient) Stats() Stats {
	tip := decimal.NewFromInt(c.totalTip.Load()).Div(decimal.NewFromInt(1_000_000_000))
	return Stats{
		BundlesSent:   c.bundlesSent.Load(),
		BundlesLanded: c.bundlesLanded.Load(),
		BundlesFailed: c.bundlesFailed.Load(),
		TotalTipSOL:   tip.String(),
	}
}

func (c *JitoClient) call(ctx context.Context, req bundleRequest) (*bundleResponse, error) {
	body, err := c.callRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	var resp bundleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("jito: parse response: %w", err)
	}
	return &resp, nil
}

func (c *JitoClient) callRaw(ctx context.Context, req bundleRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("jito: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.blockEngineURL+"/bundles", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("jito: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("jito: HTTP error: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("jito: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jito: HTTP %d: %s", httpResp.StatusCode, string(body))
	}
	return body, nil
}
