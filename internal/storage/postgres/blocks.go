package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

const blockColumns = `hash, height, parent_hash, connected, headers_only,
first_seen_by, first_seen_at, work, txids, pool_name, coinbase_message, total_fee`

func scanBlock(row pgx.Row) (model.Block, error) {
	var (
		b      model.Block
		parent *string
		txids  []byte
		pool   *string
	)
	err := row.Scan(
		&b.Hash, &b.Height, &parent, &b.Connected, &b.HeadersOnly,
		&b.FirstSeenBy, &b.FirstSeenAt, &b.Work, &txids, &pool,
		&b.CoinbaseMessage, &b.TotalFee,
	)
	if err != nil {
		return model.Block{}, err
	}
	if parent != nil {
		b.ParentHash = *parent
	}
	if pool != nil {
		b.PoolName = *pool
	}
	b.TxIDs = decodeTxIDs(txids)
	return b, nil
}

func encodeTxIDs(ids []string) []byte {
	if len(ids) == 0 {
		return nil
	}
	return []byte(strings.Join(ids, ","))
}

func decodeTxIDs(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	return strings.Split(string(raw), ",")
}

// UpsertBlock inserts or refreshes a block row. headers_only only ever
// downgrades (a fully known block never becomes headers-only again), the
// original first_seen_by is kept, and connectivity is recomputed for the
// block and its already-stored descendants.
func (r *Repository) UpsertBlock(ctx context.Context, b model.Block) (out model.Block, err error) {
	started := time.Now()
	defer func() { r.observe("upsert_block", err, started) }()

	var parent *string
	if b.ParentHash != "" && b.ParentHash != model.ZeroHash {
		parent = &b.ParentHash
	}

	err = r.withTx(ctx, func(tx pgx.Tx) error {
		_, txErr := tx.Exec(ctx, `
INSERT INTO blocks (hash, height, parent_hash, connected, headers_only, first_seen_by, work)
VALUES ($1, $2, $3, FALSE, $4, $5, $6)
ON CONFLICT (hash) DO UPDATE
SET headers_only = blocks.headers_only AND EXCLUDED.headers_only,
    work = EXCLUDED.work`,
			b.Hash, b.Height, parent, b.HeadersOnly, b.FirstSeenBy, b.Work)
		if txErr != nil {
			return txErr
		}

		// A block is connected once its parent is materialised; genesis-rooted
		// blocks (zero parent) are connected by definition.
		_, txErr = tx.Exec(ctx, `
UPDATE blocks SET connected = TRUE
WHERE hash = $1
  AND (parent_hash IS NULL
       OR EXISTS (SELECT 1 FROM blocks p WHERE p.hash = blocks.parent_hash))`, b.Hash)
		if txErr != nil {
			return txErr
		}

		_, txErr = tx.Exec(ctx, `
UPDATE blocks SET connected = TRUE
WHERE hash IN (
    WITH RECURSIVE reach AS (
        SELECT hash FROM blocks WHERE hash = $1 AND connected
        UNION ALL
        SELECT b.hash FROM blocks b INNER JOIN reach t ON b.parent_hash = t.hash
    )
    SELECT hash FROM reach
)`, b.Hash)
		return txErr
	})
	if err != nil {
		return model.Block{}, err
	}

	stored, err := r.GetBlock(ctx, b.Hash)
	if err != nil {
		return model.Block{}, err
	}
	return *stored, nil
}

// GetBlock fetches a block by hash, nil when unknown.
func (r *Repository) GetBlock(ctx context.Context, hash string) (block *model.Block, err error) {
	started := time.Now()
	defer func() { r.observe("get_block", err, started) }()

	b, err := scanBlock(r.pool.QueryRow(ctx, `SELECT `+blockColumns+` FROM blocks WHERE hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *Repository) queryBlocks(ctx context.Context, query string, args ...interface{}) ([]model.Block, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// BlocksAtHeight returns every known block at a height.
func (r *Repository) BlocksAtHeight(ctx context.Context, height int64) (blocks []model.Block, err error) {
	started := time.Now()
	defer func() { r.observe("blocks_at_height", err, started) }()

	return r.queryBlocks(ctx, `SELECT `+blockColumns+` FROM blocks WHERE height = $1 ORDER BY first_seen_at`, height)
}

// MaxHeight returns the highest known block height, zero when empty.
func (r *Repository) MaxHeight(ctx context.Context) (height int64, err error) {
	started := time.Now()
	defer func() { r.observe("max_height", err, started) }()

	err = r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(height), 0) FROM blocks`).Scan(&height)
	return height, err
}

// BlockChildren returns the blocks whose parent is the given hash.
func (r *Repository) BlockChildren(ctx context.Context, hash string) (blocks []model.Block, err error) {
	started := time.Now()
	defer func() { r.observe("block_children", err, started) }()

	return r.queryBlocks(ctx, `SELECT `+blockColumns+` FROM blocks WHERE parent_hash = $1 ORDER BY work DESC`, hash)
}

// SetBlockTxInfo records the hydrated transaction list and coinbase data.
func (r *Repository) SetBlockTxInfo(ctx context.Context, hash string, txids []string, coinbase []byte, poolName string) (err error) {
	started := time.Now()
	defer func() { r.observe("set_block_tx_info", err, started) }()

	var pool *string
	if poolName != "" {
		pool = &poolName
	}
	_, err = r.pool.Exec(ctx, `
UPDATE blocks
SET txids = $2, coinbase_message = $3, pool_name = COALESCE($4, pool_name), headers_only = FALSE
WHERE hash = $1`,
		hash, encodeTxIDs(txids), coinbase, pool)
	return err
}

// SetBlockTotalFee records the fee total computed by the template job.
func (r *Repository) SetBlockTotalFee(ctx context.Context, hash string, totalFee float64) (err error) {
	started := time.Now()
	defer func() { r.observe("set_block_total_fee", err, started) }()

	_, err = r.pool.Exec(ctx, `UPDATE blocks SET total_fee = $2 WHERE hash = $1`, hash, totalFee)
	return err
}

// StaleCandidateHeights finds heights above minHeight with more than one
// block, skipping heights where any block carries an invalid mark.
func (r *Repository) StaleCandidateHeights(ctx context.Context, minHeight int64) (heights []int64, err error) {
	started := time.Now()
	defer func() { r.observe("stale_candidate_heights", err, started) }()

	rows, err := r.pool.Query(ctx, `
SELECT b.height
FROM blocks b
LEFT JOIN invalid_blocks ib ON b.hash = ib.hash
WHERE b.height > $1
GROUP BY b.height
HAVING COUNT(DISTINCT b.hash) > 1 AND COUNT(ib.hash) = 0
ORDER BY b.height`, minHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h int64
		if err = rows.Scan(&h); err != nil {
			return nil, err
		}
		heights = append(heights, h)
	}
	return heights, rows.Err()
}
