package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// GetTxOutset fetches a UTXO set snapshot for (block, node), nil when absent.
func (r *Repository) GetTxOutset(ctx context.Context, blockHash string, nodeID int64) (outset *model.TxOutset, err error) {
	started := time.Now()
	defer func() { r.observe("get_tx_outset", err, started) }()

	var o model.TxOutset
	err = r.pool.QueryRow(ctx, `
SELECT block_hash, node_id, txouts, total_amount, inflated, created_at, updated_at
FROM tx_outsets WHERE block_hash = $1 AND node_id = $2`, blockHash, nodeID).
		Scan(&o.BlockHash, &o.NodeID, &o.TxOuts, &o.TotalAmount, &o.Inflated, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpsertTxOutset stores a UTXO set snapshot.
func (r *Repository) UpsertTxOutset(ctx context.Context, o model.TxOutset) (err error) {
	started := time.Now()
	defer func() { r.observe("upsert_tx_outset", err, started) }()

	_, err = r.pool.Exec(ctx, `
INSERT INTO tx_outsets (block_hash, node_id, txouts, total_amount, inflated)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (block_hash, node_id) DO UPDATE
SET txouts = EXCLUDED.txouts, total_amount = EXCLUDED.total_amount,
    inflated = EXCLUDED.inflated, updated_at = now()`,
		o.BlockHash, o.NodeID, o.TxOuts, o.TotalAmount, o.Inflated)
	return err
}

// InsertInflatedBlock records an inflation anomaly. Idempotent.
func (r *Repository) InsertInflatedBlock(ctx context.Context, b model.InflatedBlock) (err error) {
	started := time.Now()
	defer func() { r.observe("insert_inflated_block", err, started) }()

	_, err = r.pool.Exec(ctx, `
INSERT INTO inflated_blocks (block_hash, node_id, max_inflation, actual_inflation)
VALUES ($1, $2, $3, $4)
ON CONFLICT (block_hash, node_id) DO NOTHING`,
		b.BlockHash, b.NodeID, b.MaxInflation, b.ActualInflation)
	return err
}

// UpsertBlockTemplate stores a template snapshot and its fee rates.
func (r *Repository) UpsertBlockTemplate(ctx context.Context, t model.BlockTemplate, rates []model.FeeRate) (err error) {
	started := time.Now()
	defer func() { r.observe("upsert_block_template", err, started) }()

	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, txErr := tx.Exec(ctx, `
INSERT INTO block_templates (parent_block_hash, node_id, fee_total, ts, height, n_transactions, tx_ids, lowest_fee_rate)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (parent_block_hash, node_id) DO NOTHING`,
			t.ParentBlockHash, t.NodeID, t.FeeTotal, t.Timestamp, t.Height,
			t.NTransactions, []byte(strings.Join(t.TxIDs, ",")), t.LowestFeeRate); txErr != nil {
			return txErr
		}
		for _, rate := range rates {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO fee_rates (parent_block_hash, node_id, fee_rate, omitted)
VALUES ($1, $2, $3, $4)
ON CONFLICT (parent_block_hash, node_id, fee_rate) DO NOTHING`,
				rate.ParentBlockHash, rate.NodeID, rate.FeeRate, rate.Omitted); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// BlockTemplate fetches the template stored for (parent, node), nil when absent.
func (r *Repository) BlockTemplate(ctx context.Context, parentHash string, nodeID int64) (tpl *model.BlockTemplate, err error) {
	started := time.Now()
	defer func() { r.observe("block_template", err, started) }()

	var (
		t     model.BlockTemplate
		txids []byte
	)
	err = r.pool.QueryRow(ctx, `
SELECT parent_block_hash, node_id, fee_total, ts, height, n_transactions, tx_ids, lowest_fee_rate
FROM block_templates WHERE parent_block_hash = $1 AND node_id = $2`, parentHash, nodeID).
		Scan(&t.ParentBlockHash, &t.NodeID, &t.FeeTotal, &t.Timestamp, &t.Height,
			&t.NTransactions, &txids, &t.LowestFeeRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(txids) > 0 {
		t.TxIDs = strings.Split(string(txids), ",")
	}
	return &t, nil
}

// UpsertSoftforks refreshes the softfork deployments reported by a node.
func (r *Repository) UpsertSoftforks(ctx context.Context, forks []model.Softfork) (err error) {
	started := time.Now()
	defer func() { r.observe("upsert_softforks", err, started) }()

	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, f := range forks {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO softforks (node_id, fork_type, name, bit, active, since)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (node_id, fork_type, name) DO UPDATE
SET bit = EXCLUDED.bit, active = EXCLUDED.active, since = EXCLUDED.since, notified_at = now()`,
				f.NodeID, f.ForkType, f.Name, f.Bit, f.Active, f.Since); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// ListPoolTags returns the known coinbase tag to pool mappings.
func (r *Repository) ListPoolTags(ctx context.Context) (tags []model.PoolTag, err error) {
	started := time.Now()
	defer func() { r.observe("list_pool_tags", err, started) }()

	rows, err := r.pool.Query(ctx, `SELECT tag, name, url FROM pool`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t model.PoolTag
		if err = rows.Scan(&t.Tag, &t.Name, &t.URL); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// UpsertPoolTags refreshes the coinbase tag table.
func (r *Repository) UpsertPoolTags(ctx context.Context, tags []model.PoolTag) (err error) {
	started := time.Now()
	defer func() { r.observe("upsert_pool_tags", err, started) }()

	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range tags {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO pool (tag, name, url) VALUES ($1, $2, $3)
ON CONFLICT (tag, name, url) DO UPDATE SET updated_at = now()`,
				t.Tag, t.Name, t.URL); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}
