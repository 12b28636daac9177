package bookkeeping

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Querier is the subset of *pgxpool.Pool the recorder uses.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder rewrites the latest pool_balances row of the old pool to
// point at the new pool.
type PostgresRecorder struct {
	db     Querier
	logger *zap.Logger
}

func NewPostgresRecorder(db Querier, logger *zap.Logger) *PostgresRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresRecorder{db: db, logger: logger.Named("bookkeeping")}
}

// OpenPostgresRecorder connects a pool to dsn. The returned func closes it.
func OpenPostgresRecorder(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresRecorder, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgresRecorder(pool, logger), pool.Close, nil
}

const (
	latestPoolBalanceSQL = `SELECT id FROM pool_balances WHERE pool_id = $1 ORDER BY timestamp DESC LIMIT 1`
	updatePoolBalanceSQL = `UPDATE pool_balances SET pool_id = $1, position_balance = $2::numeric WHERE id = $3`
)

func (r *PostgresRecorder) UpdatePosition(ctx context.Context, update PositionUpdate) error {
	if err := update.validate(); err != nil {
		return err
	}
	var id int64
	if err := r.db.QueryRow(ctx, latestPoolBalanceSQL, update.OldPoolID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("no pool_balances record for %s", update.OldPoolID)
		}
		return fmt.Errorf("read pool balance %s: %w", update.OldPoolID, err)
	}
	tag, err := r.db.Exec(ctx, updatePoolBalanceSQL, update.NewPoolID, update.Amount, id)
	if err != nil {
		return fmt.Errorf("update pool balance %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pool balance %d disappeared before update", id)
	}
	r.logger.Info("pool balance updated",
		zap.Int64("id", id),
		zap.String("old_pool_id", update.OldPoolID),
		zap.String("new_pool_id", update.NewPoolID),
		zap.String("tx", update.TxHash))
	return nil
}
