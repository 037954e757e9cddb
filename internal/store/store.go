// internal/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/solsnipe/meteora-bot/internal/domain"
)

// ErrOrderNotFound is returned when an order id has no persisted row.
var ErrOrderNotFound = errors.New("store: order not found")

// Storage is the durable home of snipe orders. Orders are append-only:
// they move from pending to completed exactly once and are never deleted.
type Storage interface {
	// ListActive returns pending orders in creation order.
	ListActive(ctx context.Context) ([]*domain.SnipeOrder, error)
	// ListByOwner returns every order, completed or not, for one wallet.
	ListByOwner(ctx context.Context, owner string) ([]*domain.SnipeOrder, error)
	// Insert persists a new pending order and returns its id.
	Insert(ctx context.Context, order *domain.SnipeOrder) (string, error)
	// MarkCompleted flips a pending order to completed with its transaction
	// reference. Idempotent: a second call for an already-completed order is
	// a no-op and leaves the first txRef and timestamp in place.
	MarkCompleted(ctx context.Context, orderID, txRef string, at time.Time) error
	Close() error
}
