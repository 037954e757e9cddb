package postgres

// These tests exercise a real Postgres instance. Point
// SNIPER_TEST_POSTGRES_URL at a scratch database to run them; they are
// skipped otherwise. Rows are never deleted (the table is append-only), so
// every test works with freshly generated order ids.

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
	"github.com/solsnipe/meteora-bot/internal/store"
)

func testStorage(t *testing.T) store.Storage {
	t.Helper()
	dsn := os.Getenv("SNIPER_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("SNIPER_TEST_POSTGRES_URL not set")
	}
	s, err := NewStorage(dsn, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPendingOrder(owner string, createdAt time.Time) *domain.SnipeOrder {
	return &domain.SnipeOrder{
		ID:          uuid.NewString(),
		OwnerWallet: owner,
		TargetToken: solana.NewWallet().PublicKey(),
		SpendAmount: 1_000_000,
		QuoteAsset:  domain.QuoteSOL,
		TipLamports: 5_000,
		Status:      domain.OrderPending,
		CreatedAt:   createdAt,
	}
}

func findByID(orders []*domain.SnipeOrder, id string) *domain.SnipeOrder {
	for _, o := range orders {
		if o.ID == id {
			return o
		}
	}
	return nil
}

func TestMarkCompleted_IsIdempotent(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()

	order := newPendingOrder(owner, time.Now().UTC())
	_, err := s.Insert(ctx, order)
	require.NoError(t, err)

	first := time.Now().UTC()
	require.NoError(t, s.MarkCompleted(ctx, order.ID, "tx-first", first))

	// The second call must be a no-op, not an overwrite.
	require.NoError(t, s.MarkCompleted(ctx, order.ID, "tx-second", first.Add(time.Hour)))

	orders, err := s.ListByOwner(ctx, owner)
	require.NoError(t, err)
	got := findByID(orders, order.ID)
	require.NotNil(t, got)
	assert.Equal(t, domain.OrderCompleted, got.Status)
	assert.Equal(t, "tx-first", got.TxRef)
	require.NotNil(t, got.CompletedAt)
	assert.WithinDuration(t, first, *got.CompletedAt, time.Second)
}

func TestMarkCompleted_UnknownOrder(t *testing.T) {
	s := testStorage(t)

	err := s.MarkCompleted(context.Background(), uuid.NewString(), "tx", time.Now().UTC())

	assert.ErrorIs(t, err, store.ErrOrderNotFound)
}

func TestListActive_ReturnsPendingInCreationOrder(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()

	base := time.Now().UTC()
	first := newPendingOrder(owner, base)
	second := newPendingOrder(owner, base.Add(time.Second))
	third := newPendingOrder(owner, base.Add(2*time.Second))
	for _, o := range []*domain.SnipeOrder{third, first, second} {
		_, err := s.Insert(ctx, o)
		require.NoError(t, err)
	}

	orders, err := s.ListActive(ctx)
	require.NoError(t, err)

	// The shared table may hold rows from other runs; only the relative
	// order of this test's rows matters.
	var positions []int
	for i, o := range orders {
		if o.OwnerWallet == owner {
			positions = append(positions, i)
		}
	}
	require.Len(t, positions, 3)
	assert.Equal(t, first.ID, orders[positions[0]].ID)
	assert.Equal(t, second.ID, orders[positions[1]].ID)
	assert.Equal(t, third.ID, orders[positions[2]].ID)
}

func TestListActive_ExcludesCompletedOrders(t *testing.T) {
	s := testStorage(t)
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()

	order := newPendingOrder(owner, time.Now().UTC())
	_, err := s.Insert(ctx, order)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, order.ID, "tx", time.Now().UTC()))

	orders, err := s.ListActive(ctx)
	require.NoError(t, err)
	assert.Nil(t, findByID(orders, order.ID))
}

func TestInsert_RejectsUnknownQuoteAsset(t *testing.T) {
	s := testStorage(t)

	order := newPendingOrder("owner-"+uuid.NewString(), time.Now().UTC())
	order.QuoteAsset = domain.QuoteAsset("DOGE")

	_, err := s.Insert(context.Background(), order)
	assert.Error(t, err)
}
