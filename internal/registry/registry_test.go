package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

type fakeStorage struct {
	mu     sync.Mutex
	orders []*domain.SnipeOrder
	err    error
}

func (f *fakeStorage) ListActive(context.Context) ([]*domain.SnipeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*domain.SnipeOrder, len(f.orders))
	copy(out, f.orders)
	return out, nil
}

func (f *fakeStorage) ListByOwner(context.Context, string) ([]*domain.SnipeOrder, error) {
	return nil, nil
}

func (f *fakeStorage) Insert(_ context.Context, o *domain.SnipeOrder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return o.ID, nil
}

func (f *fakeStorage) MarkCompleted(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStorage) Close() error                                                   { return nil }

func (f *fakeStorage) setOrders(orders []*domain.SnipeOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = orders
}

func (f *fakeStorage) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func pendingOrder(id string, token solana.PublicKey) *domain.SnipeOrder {
	return &domain.SnipeOrder{
		ID:          id,
		OwnerWallet: "owner",
		TargetToken: token,
		SpendAmount: 100,
		QuoteAsset:  domain.QuoteSOL,
		Status:      domain.OrderPending,
	}
}

func TestRefresh_BuildsSnapshotInInsertionOrder(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	storage := &fakeStorage{orders: []*domain.SnipeOrder{
		pendingOrder("a", token),
		pendingOrder("b", token),
		pendingOrder("c", solana.NewWallet().PublicKey()),
	}}
	r := New(storage, time.Second, zap.NewNop())

	r.Refresh(context.Background())

	matches := r.MatchesFor(token)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
	assert.Equal(t, 3, r.PendingCount())
}

func TestRefresh_FailureKeepsStaleSnapshot(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	storage := &fakeStorage{orders: []*domain.SnipeOrder{pendingOrder("a", token)}}
	r := New(storage, time.Second, zap.NewNop())
	r.Refresh(context.Background())

	storage.setErr(errors.New("store down"))
	r.Refresh(context.Background())

	assert.Len(t, r.MatchesFor(token), 1, "stale snapshot must survive a failed refresh")
}

func TestRemove_DropsOrderFromCurrentSnapshot(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	storage := &fakeStorage{orders: []*domain.SnipeOrder{
		pendingOrder("a", token),
		pendingOrder("b", token),
	}}
	r := New(storage, time.Second, zap.NewNop())
	r.Refresh(context.Background())

	r.Remove("a")

	matches := r.MatchesFor(token)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestRemove_ClaimSurvivesRefreshWhileStoreIsStale(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	storage := &fakeStorage{orders: []*domain.SnipeOrder{pendingOrder("a", token)}}
	r := New(storage, time.Second, zap.NewNop())
	r.Refresh(context.Background())

	r.Remove("a")
	// The store still reports the order as pending.
	r.Refresh(context.Background())

	assert.Empty(t, r.MatchesFor(token), "claimed order must not re-match after refresh")
}

func TestRefresh_ReflectsServerSideRemoval(t *testing.T) {
	token := solana.NewWallet().PublicKey()
	a, b := pendingOrder("a", token), pendingOrder("b", token)
	storage := &fakeStorage{orders: []*domain.SnipeOrder{a, b}}
	r := New(storage, time.Second, zap.NewNop())
	r.Refresh(context.Background())
	require.Len(t, r.MatchesFor(token), 2)

	storage.setOrders([]*domain.SnipeOrder{b})
	r.Refresh(context.Background())

	matches := r.MatchesFor(token)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestConcurrentRefreshAndRemove(t *testing.T) {
	const total = 200
	const toRemove = 50

	token := solana.NewWallet().PublicKey()
	orders := make([]*domain.SnipeOrder, total)
	for i := range orders {
		orders[i] = pendingOrder(fmt.Sprintf("order-%03d", i), token)
	}
	storage := &fakeStorage{orders: orders}
	r := New(storage, time.Second, zap.NewNop())
	r.Refresh(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < toRemove; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			r.Remove(id)
		}(fmt.Sprintf("order-%03d", i))
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Refresh(context.Background())
		}()
	}
	wg.Wait()
	r.Refresh(context.Background())

	// Whatever the interleaving, the final snapshot holds exactly the
	// orders that were never removed.
	assert.Equal(t, total-toRemove, r.PendingCount())
}
