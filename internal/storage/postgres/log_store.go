package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

// LogStore is a progress.Sink that persists every flushed batch.
type LogStore struct {
	pool  Pool
	table string
}

// NewLogStore validates the table name. An empty table selects
// DefaultLogsTable.
func NewLogStore(pool Pool, table string) (*LogStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table, DefaultLogsTable)
	if err != nil {
		return nil, err
	}
	return &LogStore{pool: pool, table: table}, nil
}

// Consume writes batch in a single transaction.
func (s *LogStore) Consume(ctx context.Context, batch []progress.Event) error {
	if len(batch) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s (request_id, level, message, logged_at) VALUES ($1, $2, $3, $4)`, s.table)
	return inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, evt := range batch {
			if _, err := tx.Exec(ctx, query, evt.RequestID, string(evt.Level), evt.Message, evt.Timestamp.UTC()); err != nil {
				return fmt.Errorf("insert log for %s: %w", evt.RequestID, err)
			}
		}
		return nil
	})
}

// Close is a no-op; the pool is shared and closed by its owner.
func (s *LogStore) Close(context.Context) error {
	return nil
}

var _ progress.Sink = (*LogStore)(nil)
