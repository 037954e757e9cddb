package decoder

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testProgram = solana.MustPublicKeyFromBase58("LBUZKhRxPF3XUpBCjp4YzTKgLccjZhTSDM9YuVaPwxo")

func testDiscriminator() []byte {
	sum := sha256.Sum256([]byte("global:initializeLbPair"))
	return sum[:8]
}

func poolCreationInstruction(accounts ...solana.PublicKey) Instruction {
	return Instruction{
		ProgramID: testProgram,
		Accounts:  accounts,
		Data:      append(testDiscriminator(), 0xde, 0xad),
	}
}

func randomKeys(n int) []solana.PublicKey {
	keys := make([]solana.PublicKey, n)
	for i := range keys {
		keys[i] = solana.NewWallet().PublicKey()
	}
	return keys
}

func TestDecode_MatchingInstruction(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())
	accounts := randomKeys(6)

	ev, err := d.Decode(context.Background(), &RawTransaction{
		Signature:    "sig-1",
		Instructions: []Instruction{poolCreationInstruction(accounts...)},
	})

	require.NoError(t, err)
	assert.Equal(t, accounts[0], ev.PoolID)
	assert.Equal(t, accounts[2], ev.TokenX)
	assert.Equal(t, accounts[3], ev.TokenY)
	assert.Equal(t, "sig-1", ev.Signature)
	assert.False(t, ev.Fallback)
}

func TestDecode_WrongProgram(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())
	ix := poolCreationInstruction(randomKeys(6)...)
	ix.ProgramID = solana.NewWallet().PublicKey()

	_, err := d.Decode(context.Background(), &RawTransaction{Instructions: []Instruction{ix}})
	assert.ErrorIs(t, err, ErrNotMatched)
}

func TestDecode_WrongDiscriminator(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())
	ix := poolCreationInstruction(randomKeys(6)...)
	ix.Data = []byte{1, 2, 3, 4, 5, 6, 7, 8}

	_, err := d.Decode(context.Background(), &RawTransaction{Instructions: []Instruction{ix}})
	assert.ErrorIs(t, err, ErrNotMatched)
}

func TestDecode_ShortAccountList(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())
	ix := poolCreationInstruction(randomKeys(3)...)

	_, err := d.Decode(context.Background(), &RawTransaction{Instructions: []Instruction{ix}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecode_InnerInstruction(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())
	accounts := randomKeys(5)
	unrelated := Instruction{
		ProgramID: solana.SystemProgramID,
		Data:      []byte{2, 0, 0, 0},
	}

	ev, err := d.Decode(context.Background(), &RawTransaction{
		Signature:    "sig-cpi",
		Instructions: []Instruction{unrelated},
		Inner: map[int][]Instruction{
			0: {poolCreationInstruction(accounts...)},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, accounts[0], ev.PoolID)
}

func TestDecode_FailedTransactionDropped(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())
	tx := &RawTransaction{
		Instructions: []Instruction{poolCreationInstruction(randomKeys(6)...)},
		Failed:       true,
	}

	_, err := d.Decode(context.Background(), tx)
	assert.ErrorIs(t, err, ErrNotMatched)
}

type fakeProber struct {
	valid  map[solana.PublicKey][2]solana.PublicKey
	probed []solana.PublicKey
}

func (p *fakeProber) ProbePool(_ context.Context, pool solana.PublicKey) (solana.PublicKey, solana.PublicKey, error) {
	p.probed = append(p.probed, pool)
	if mints, ok := p.valid[pool]; ok {
		return mints[0], mints[1], nil
	}
	return solana.PublicKey{}, solana.PublicKey{}, errors.New("not a pool")
}

func TestDecode_FallbackProbesZeroBalanceAccounts(t *testing.T) {
	feePayer := solana.NewWallet().PublicKey()
	junk := solana.NewWallet().PublicKey()
	pool := solana.NewWallet().PublicKey()
	tokenX := solana.NewWallet().PublicKey()
	tokenY := solana.NewWallet().PublicKey()

	prober := &fakeProber{valid: map[solana.PublicKey][2]solana.PublicKey{
		pool: {tokenX, tokenY},
	}}
	d := New(testProgram, prober, zap.NewNop())

	ev, err := d.Decode(context.Background(), &RawTransaction{
		Signature:   "sig-fallback",
		AccountKeys: []solana.PublicKey{feePayer, junk, pool},
		PreBalances: []uint64{1_000_000, 0, 0},
	})

	require.NoError(t, err)
	assert.Equal(t, pool, ev.PoolID)
	assert.Equal(t, tokenX, ev.TokenX)
	assert.Equal(t, tokenY, ev.TokenY)
	assert.True(t, ev.Fallback)
	// The funded fee payer is never probed; the junk account is probed and
	// rejected before the real pool resolves.
	assert.Equal(t, []solana.PublicKey{junk, pool}, prober.probed)
}

func TestDecode_FallbackNeverFabricatesPool(t *testing.T) {
	prober := &fakeProber{}
	d := New(testProgram, prober, zap.NewNop())

	_, err := d.Decode(context.Background(), &RawTransaction{
		AccountKeys: randomKeys(3),
		PreBalances: []uint64{5, 0, 0},
	})
	assert.ErrorIs(t, err, ErrNotMatched)
	assert.Len(t, prober.probed, 2)
}

func TestDecode_FallbackDisabledWithoutProber(t *testing.T) {
	d := New(testProgram, nil, zap.NewNop())

	_, err := d.Decode(context.Background(), &RawTransaction{
		AccountKeys: randomKeys(2),
		PreBalances: []uint64{5, 0},
	})
	assert.ErrorIs(t, err, ErrNotMatched)
}
