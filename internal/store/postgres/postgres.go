// internal/store/postgres/postgres.go
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/solsnipe/meteora-bot/internal/domain"
	"github.com/solsnipe/meteora-bot/internal/store"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schema = `
CREATE TABLE IF NOT EXISTS snipe_orders (
	id            TEXT PRIMARY KEY,
	owner_wallet  TEXT NOT NULL,
	target_token  TEXT NOT NULL,
	spend_amount  BIGINT NOT NULL,
	quote_asset   TEXT NOT NULL,
	tip_lamports  BIGINT NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	tx_ref        TEXT,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_snipe_orders_status ON snipe_orders (status);
CREATE INDEX IF NOT EXISTS idx_snipe_orders_owner  ON snipe_orders (owner_wallet);
`

type postgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStorage opens a connection pool against dsn and ensures the schema.
func NewStorage(dsn string, logger *zap.Logger) (store.Storage, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetConnMaxIdleTime(30 * time.Second)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(pingCtx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate snipe_orders: %w", err)
	}

	return &postgresStorage{db: db, logger: logger.Named("store")}, nil
}

func (s *postgresStorage) ListActive(ctx context.Context) ([]*domain.SnipeOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_wallet, target_token, spend_amount, quote_asset,
		       tip_lamports, status, tx_ref, completed_at, created_at
		FROM snipe_orders
		WHERE status = 'pending'
		ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *postgresStorage) ListByOwner(ctx context.Context, owner string) ([]*domain.SnipeOrder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_wallet, target_token, spend_amount, quote_asset,
		       tip_lamports, status, tx_ref, completed_at, created_at
		FROM snipe_orders
		WHERE owner_wallet = $1
		ORDER BY created_at, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list orders by owner: %w", err)
	}
	defer rows.Close()
	return scanOrders(rows)
}

func (s *postgresStorage) Insert(ctx context.Context, order *domain.SnipeOrder) (string, error) {
	if _, err := order.QuoteAsset.Mint(); err != nil {
		return "", err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snipe_orders
			(id, owner_wallet, target_token, spend_amount, quote_asset, tip_lamports, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7)`,
		order.ID, order.OwnerWallet, order.TargetToken.String(),
		int64(order.SpendAmount), string(order.QuoteAsset),
		int64(order.TipLamports), order.CreatedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}
	return order.ID, nil
}

// MarkCompleted only touches pending rows, which makes repeated calls for
// the same order harmless: the first one wins, later ones match zero rows.
func (s *postgresStorage) MarkCompleted(ctx context.Context, orderID, txRef string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE snipe_orders
		SET status = 'completed', tx_ref = $2, completed_at = $3
		WHERE id = $1 AND status = 'pending'`,
		orderID, txRef, at.UTC())
	if err != nil {
		return fmt.Errorf("mark order completed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark order completed: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM snipe_orders WHERE id = $1)`, orderID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("mark order completed: %w", err)
		}
		if !exists {
			return store.ErrOrderNotFound
		}
		s.logger.Debug("order already completed, ignoring duplicate update",
			zap.String("order_id", orderID))
	}
	return nil
}

func (s *postgresStorage) Close() error {
	return s.db.Close()
}

func scanOrders(rows *sql.Rows) ([]*domain.SnipeOrder, error) {
	var orders []*domain.SnipeOrder
	for rows.Next() {
		var (
			o           domain.SnipeOrder
			token       string
			spend, tip  int64
			status      string
			txRef       sql.NullString
			completedAt sql.NullTime
		)
		if err := rows.Scan(&o.ID, &o.OwnerWallet, &token, &spend, (*string)(&o.QuoteAsset),
			&tip, &status, &txRef, &completedAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		mint, err := solana.PublicKeyFromBase58(token)
		if err != nil {
			return nil, fmt.Errorf("order %s has malformed target token %q: %w", o.ID, token, err)
		}
		o.TargetToken = mint
		o.SpendAmount = uint64(spend)
		o.TipLamports = uint64(tip)
		o.Status = domain.OrderStatus(status)
		if txRef.Valid {
			o.TxRef = txRef.String
		}
		if completedAt.Valid {
			t := completedAt.Time
			o.CompletedAt = &t
		}
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
