package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

// OfferStore keeps every published offer, one row per record, tagged with its
// request ID.
type OfferStore struct {
	pool  Pool
	table string
}

// NewOfferStore validates the table name. An empty table selects
// DefaultOffersTable.
func NewOfferStore(pool Pool, table string) (*OfferStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	table, err := tableName(table, DefaultOffersTable)
	if err != nil {
		return nil, err
	}
	return &OfferStore{pool: pool, table: table}, nil
}

// Archive inserts a batch atomically. Empty batches are a no-op.
func (s *OfferStore) Archive(ctx context.Context, requestID string, records []scraper.Record) error {
	if len(records) == 0 {
		return nil
	}
	query := fmt.Sprintf(`INSERT INTO %s
	(request_id, title, price, url, store, category, discount, old_price, found_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, s.table)

	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for i, rec := range records {
			var oldPrice *string
			if rec.OldPrice != nil {
				v := rec.OldPrice.StringFixed(2)
				oldPrice = &v
			}
			var discount *string
			if rec.Discount != "" {
				discount = &rec.Discount
			}
			if _, err := tx.Exec(ctx, query,
				requestID,
				rec.Title,
				rec.Price.StringFixed(2),
				rec.URL,
				rec.Store,
				rec.Category,
				discount,
				oldPrice,
				rec.FoundAt.UTC(),
			); err != nil {
				return fmt.Errorf("insert offer %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive offers for %s: %w", requestID, err)
	}
	return nil
}
