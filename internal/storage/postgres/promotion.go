package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/preorder/internal/domain/promotion"
)

const (
	getPromotionSQL = `SELECT free_shipping_enabled, free_shipping_threshold, base_shipping_fee, promotion_text
		FROM promotion_settings WHERE id = 1`

	listGiftTiersSQL = `SELECT threshold_units, gift_quantity FROM gift_tiers ORDER BY threshold_units`

	upsertPromotionSQL = `INSERT INTO promotion_settings
			(id, free_shipping_enabled, free_shipping_threshold, base_shipping_fee, promotion_text, updated_at)
		VALUES (1, $1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			free_shipping_enabled = EXCLUDED.free_shipping_enabled,
			free_shipping_threshold = EXCLUDED.free_shipping_threshold,
			base_shipping_fee = EXCLUDED.base_shipping_fee,
			promotion_text = EXCLUDED.promotion_text,
			updated_at = EXCLUDED.updated_at`

	deleteGiftTiersSQL = `DELETE FROM gift_tiers`

	insertGiftTierSQL = `INSERT INTO gift_tiers (threshold_units, gift_quantity) VALUES ($1, $2)`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository stores the single active promotion configuration.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

// Get returns the active configuration. Before anything was stored it is the
// zero configuration. Settings and tiers are read from one snapshot so a
// concurrent Put is seen whole or not at all.
func (r *PromotionRepository) Get(ctx context.Context) (*promotion.Config, error) {
	var cfg promotion.Config
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, getPromotionSQL).Scan(
			&cfg.FreeShipping.Enabled, &cfg.FreeShipping.ThresholdUnits,
			&cfg.BaseShippingFee, &cfg.PromotionText,
		)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrap(err, "get settings")
		}

		rows, err := tx.Query(ctx, listGiftTiersSQL)
		if err != nil {
			return errors.Wrap(err, "list gift tiers")
		}
		cfg.GiftTiers, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (promotion.GiftTier, error) {
			var t promotion.GiftTier
			err := row.Scan(&t.ThresholdUnits, &t.GiftQuantity)
			return t, err
		})
		if err != nil {
			return errors.Wrap(err, "list gift tiers")
		}
		return nil
	})
	if err != nil {
		return nil, classify(err, "get promotion")
	}
	return &cfg, nil
}

// Put replaces the active configuration in one transaction.
func (r *PromotionRepository) Put(ctx context.Context, cfg *promotion.Config) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertPromotionSQL,
			cfg.FreeShipping.Enabled, cfg.FreeShipping.ThresholdUnits,
			cfg.BaseShippingFee, cfg.PromotionText,
		); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, deleteGiftTiersSQL); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, t := range cfg.GiftTiers {
			batch.Queue(insertGiftTierSQL, t.ThresholdUnits, t.GiftQuantity)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return classify(err, "put promotion")
	}
	return nil
}
