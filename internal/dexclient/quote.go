// internal/dexclient/quote.go
package dexclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// quoteResponse is the subset of the aggregator /quote payload we consume.
type quoteResponse struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
}

type quoteAPIError struct {
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// apiInstruction is the wire shape of one instruction in the
// /swap-instructions response.
type apiInstruction struct {
	ProgramID string `json:"programId"`
	Accounts  []struct {
		Pubkey     string `json:"pubkey"`
		IsSigner   bool   `json:"isSigner"`
		IsWritable bool   `json:"isWritable"`
	} `json:"accounts"`
	Data string `json:"data"` // base64
}

type swapInstructionsResponse struct {
	SetupInstructions  []apiInstruction `json:"setupInstructions"`
	SwapInstruction    *apiInstruction  `json:"swapInstruction"`
	CleanupInstruction *apiInstruction  `json:"cleanupInstruction"`
}

// Quote asks the aggregator for a priced route into outputMint and
// converts the returned route into executable instructions. The output is
// always the caller's explicit buy target; deriving it from the pool sides
// would pick the wrong asset when the spent asset is not a pool mint.
// Compute-budget instructions are intentionally not requested; the
// submission layer owns fee pricing.
func (c *MeteoraClient) Quote(ctx context.Context, handle *PoolHandle, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (*Quote, error) {
	if !outputMint.Equals(handle.TokenX) && !outputMint.Equals(handle.TokenY) {
		return nil, domain.NewSwapError(domain.KindNoLiquidity,
			fmt.Errorf("pool %s does not trade %s", handle.Address, outputMint))
	}

	quote, raw, err := c.fetchQuote(ctx, inputMint, outputMint, amount, slippageBps)
	if err != nil {
		return nil, err
	}

	instructions, err := c.fetchSwapInstructions(ctx, raw)
	if err != nil {
		return nil, err
	}

	outAmount, err := strconv.ParseUint(quote.OutAmount, 10, 64)
	if err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("malformed outAmount %q: %w", quote.OutAmount, err))
	}
	minOut, err := strconv.ParseUint(quote.OtherAmountThreshold, 10, 64)
	if err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("malformed otherAmountThreshold %q: %w", quote.OtherAmountThreshold, err))
	}

	c.logger.Debug("quote obtained",
		zap.String("pool", handle.Address.String()),
		zap.String("kind", handle.Kind.String()),
		zap.Uint64("in", amount),
		zap.Uint64("out", outAmount),
		zap.Uint64("min_out", minOut))

	return &Quote{OutAmount: outAmount, MinOut: minOut, Instructions: instructions}, nil
}

func (c *MeteoraClient) fetchQuote(ctx context.Context, inputMint, outputMint solana.PublicKey, amount uint64, slippageBps uint16) (*quoteResponse, json.RawMessage, error) {
	queryURL, err := url.Parse(c.quoteAPIURL + "/quote")
	if err != nil {
		return nil, nil, fmt.Errorf("parse quote url: %w", err)
	}
	q := queryURL.Query()
	q.Set("inputMint", inputMint.String())
	q.Set("outputMint", outputMint.String())
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", strconv.Itoa(int(slippageBps)))
	q.Set("onlyDirectRoutes", "true")
	queryURL.RawQuery = q.Encode()

	body, err := c.doRequest(ctx, http.MethodGet, queryURL.String(), nil)
	if err != nil {
		return nil, nil, err
	}

	var quote quoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("parse quote response: %w", err))
	}
	return &quote, body, nil
}

func (c *MeteoraClient) fetchSwapInstructions(ctx context.Context, quote json.RawMessage) ([]solana.Instruction, error) {
	payload, err := json.Marshal(map[string]any{
		"quoteResponse":    json.RawMessage(quote),
		"userPublicKey":    c.wallet.String(),
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap request: %w", err)
	}

	body, err := c.doRequest(ctx, http.MethodPost, c.quoteAPIURL+"/swap-instructions", payload)
	if err != nil {
		return nil, err
	}

	var resp swapInstructionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("parse swap instructions: %w", err))
	}
	if resp.SwapInstruction == nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("swap instruction missing from response"))
	}

	var instructions []solana.Instruction
	for _, raw := range resp.SetupInstructions {
		ix, err := buildInstruction(raw)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ix)
	}
	swapIx, err := buildInstruction(*resp.SwapInstruction)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, swapIx)
	if resp.CleanupInstruction != nil {
		cleanupIx, err := buildInstruction(*resp.CleanupInstruction)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, cleanupIx)
	}
	return instructions, nil
}

func (c *MeteoraClient) doRequest(ctx context.Context, method, reqURL string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("quote api: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewSwapError(domain.KindTransient, fmt.Errorf("read quote response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyQuoteError(resp.StatusCode, body)
	}
	return body, nil
}

// classifyQuoteError decides the error kind once, from the structured
// errorCode, so nothing downstream matches on message strings.
func classifyQuoteError(status int, body []byte) error {
	var apiErr quoteAPIError
	_ = json.Unmarshal(body, &apiErr)

	base := fmt.Errorf("quote api HTTP %d: %s", status, apiErr.ErrorCode)
	switch apiErr.ErrorCode {
	case "NOT_ENOUGH_LIQUIDITY", "NO_LIQUIDITY":
		return domain.NewSwapError(domain.KindNoLiquidity, base)
	case "INSUFFICIENT_FUNDS":
		return domain.NewSwapError(domain.KindInsufficientFunds, base)
	case "SLIPPAGE_TOLERANCE_EXCEEDED":
		return domain.NewSwapError(domain.KindSlippage, base)
	default:
		// Includes COULD_NOT_FIND_ANY_ROUTE: a pool this fresh is often not
		// indexed yet, so the route can appear on a later attempt.
		return domain.NewSwapError(domain.KindTransient, base)
	}
}

func buildInstruction(raw apiInstruction) (solana.Instruction, error) {
	programID, err := solana.PublicKeyFromBase58(raw.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("malformed program id %q: %w", raw.ProgramID, err)
	}
	data, err := base64.StdEncoding.DecodeString(raw.Data)
	if err != nil {
		return nil, fmt.Errorf("malformed instruction data: %w", err)
	}
	accounts := make(solana.AccountMetaSlice, 0, len(raw.Accounts))
	for _, acc := range raw.Accounts {
		key, err := solana.PublicKeyFromBase58(acc.Pubkey)
		if err != nil {
			return nil, fmt.Errorf("malformed account %q: %w", acc.Pubkey, err)
		}
		accounts = append(accounts, &solana.AccountMeta{
			PublicKey:  key,
			IsSigner:   acc.IsSigner,
			IsWritable: acc.IsWritable,
		})
	}
	return solana.NewInstruction(programID, accounts, data), nil
}
