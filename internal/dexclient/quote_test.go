package dexclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

func testClient(t *testing.T, apiURL string) *MeteoraClient {
	t.Helper()
	c := NewMeteoraClient(nil, apiURL, solana.NewWallet().PublicKey(),
		solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo"),
		zap.NewNop())
	return c
}

func testHandle() *PoolHandle {
	return &PoolHandle{
		Kind:    PoolDLMM,
		Address: solana.NewWallet().PublicKey(),
		TokenX:  solana.WrappedSol,
		TokenY:  solana.NewWallet().PublicKey(),
	}
}

func TestQuote_BuildsInstructionsAndMinOut(t *testing.T) {
	swapProgram := solana.NewWallet().PublicKey()
	account := solana.NewWallet().PublicKey()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/quote":
			assert.Equal(t, "true", r.URL.Query().Get("onlyDirectRoutes"))
			assert.Equal(t, "1000", r.URL.Query().Get("amount"))
			json.NewEncoder(w).Encode(map[string]string{
				"inputMint":            r.URL.Query().Get("inputMint"),
				"outputMint":           r.URL.Query().Get("outputMint"),
				"outAmount":            "5000",
				"otherAmountThreshold": "4750",
			})
		case "/swap-instructions":
			var req map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.NotEmpty(t, req["userPublicKey"])
			json.NewEncoder(w).Encode(map[string]any{
				"setupInstructions": []map[string]any{},
				"swapInstruction": map[string]any{
					"programId": swapProgram.String(),
					"accounts": []map[string]any{
						{"pubkey": account.String(), "isSigner": false, "isWritable": true},
					},
					"data": base64.StdEncoding.EncodeToString([]byte{9, 9, 9}),
				},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)
	handle := testHandle()
	quote, err := c.Quote(context.Background(), handle, solana.WrappedSol, handle.TokenY, 1000, 500)

	require.NoError(t, err)
	assert.Equal(t, uint64(5000), quote.OutAmount)
	assert.Equal(t, uint64(4750), quote.MinOut)
	require.Len(t, quote.Instructions, 1)
	assert.Equal(t, swapProgram, quote.Instructions[0].ProgramID())
}

func TestQuote_ClassifiesErrorsByCode(t *testing.T) {
	cases := []struct {
		name      string
		errorCode string
		wantKind  domain.ErrorKind
	}{
		{"no liquidity is permanent", "NOT_ENOUGH_LIQUIDITY", domain.KindNoLiquidity},
		{"insufficient funds is permanent", "INSUFFICIENT_FUNDS", domain.KindInsufficientFunds},
		{"slippage is permanent", "SLIPPAGE_TOLERANCE_EXCEEDED", domain.KindSlippage},
		{"unindexed route is transient", "COULD_NOT_FIND_ANY_ROUTE", domain.KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]string{"errorCode": tc.errorCode})
			}))
			defer server.Close()

			c := testClient(t, server.URL)
			handle := testHandle()
			_, err := c.Quote(context.Background(), handle, solana.WrappedSol, handle.TokenY, 1000, 500)

			require.Error(t, err)
			assert.Equal(t, tc.wantKind, domain.KindOf(err))
		})
	}
}

func TestQuote_RequestsExplicitOutputMint(t *testing.T) {
	handle := testHandle()
	usdc, err := domain.QuoteUSDC.Mint()
	require.NoError(t, err)

	var gotInput, gotOutput string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/quote" {
			gotInput = r.URL.Query().Get("inputMint")
			gotOutput = r.URL.Query().Get("outputMint")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"errorCode": "COULD_NOT_FIND_ANY_ROUTE"})
		}
	}))
	defer server.Close()

	c := testClient(t, server.URL)

	_, _ = c.Quote(context.Background(), handle, handle.TokenX, handle.TokenY, 1, 100)
	assert.Equal(t, handle.TokenY.String(), gotOutput)

	_, _ = c.Quote(context.Background(), handle, handle.TokenY, handle.TokenX, 1, 100)
	assert.Equal(t, handle.TokenX.String(), gotOutput)

	// Spending an asset outside the pool must still buy the requested pool
	// mint, not default to a pool side.
	_, _ = c.Quote(context.Background(), handle, usdc, handle.TokenY, 1, 100)
	assert.Equal(t, usdc.String(), gotInput)
	assert.Equal(t, handle.TokenY.String(), gotOutput)
	assert.NotEqual(t, solana.WrappedSol.String(), gotOutput)
}

func TestQuote_RejectsOutputOutsidePool(t *testing.T) {
	handle := testHandle()
	c := testClient(t, "http://unused")

	_, err := c.Quote(context.Background(), handle, solana.WrappedSol, solana.NewWallet().PublicKey(), 1, 100)

	require.Error(t, err)
	assert.Equal(t, domain.KindNoLiquidity, domain.KindOf(err))
}
