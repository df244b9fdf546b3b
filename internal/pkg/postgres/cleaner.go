package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serviohub/partner-agent/internal/pkg/persistence"
)

// Cleaner drops old delivered notification rows
// the known-jobs set itself is never pruned, only this log is
type Cleaner struct {
	pool         *pgxpool.Pool
	expiresAfter time.Duration
}

// NewCleaner creates Cleaner instance
func NewCleaner(pool *pgxpool.Pool, expiresAfter time.Duration) (*Cleaner, error) {
	if expiresAfter <= 0 {
		return nil, fmt.Errorf("wrong expiresAfter %v", expiresAfter)
	}
	res := &Cleaner{pool: pool, expiresAfter: expiresAfter}
	return res, nil
}

// Clean deletes expired delivered rows, returns the dropped count
func (db *Cleaner) Clean(ctx context.Context) (int64, error) {
	exp := time.Now().Add(-db.expiresAfter)
	goapp.Log.Info().Time("older than", exp).Msg("dropping old notification records...")
	cmd, err := db.pool.Exec(ctx, `DELETE FROM notifications WHERE status = $1 AND updated < $2`,
		persistence.NotificationDelivered, exp)
	if err != nil {
		return 0, fmt.Errorf("can't delete notifications: %w", err)
	}
	goapp.Log.Info().Int64("rows", cmd.RowsAffected()).Msg("deleted")
	return cmd.RowsAffected(), nil
}
