package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// InsertTransactions persists hydrated transactions. Re-inserts are ignored.
func (r *Repository) InsertTransactions(ctx context.Context, txs []model.Transaction) (err error) {
	started := time.Now()
	defer func() { r.observe("insert_transactions", err, started) }()

	if len(txs) == 0 {
		return nil
	}

	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, t := range txs {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO transaction (block_hash, txid, is_coinbase, hex, amount, address, swept)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
ON CONFLICT (block_hash, txid) DO NOTHING`,
				t.BlockHash, t.TxID, t.IsCoinbase, t.Hex, t.Amount, t.Address, t.Swept); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// BlockTransactionCount returns the number of stored transactions for a block.
func (r *Repository) BlockTransactionCount(ctx context.Context, blockHash string) (count int, err error) {
	started := time.Now()
	defer func() { r.observe("block_transaction_count", err, started) }()

	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM transaction WHERE block_hash = $1`, blockHash).Scan(&count)
	return count, err
}

// BranchTransactions returns the non-coinbase transactions of a block and its
// stored descendants up to and including maxHeight.
func (r *Repository) BranchTransactions(ctx context.Context, rootHash string, maxHeight int64) (txs []model.Transaction, err error) {
	started := time.Now()
	defer func() { r.observe("branch_transactions", err, started) }()

	rows, err := r.pool.Query(ctx, `
WITH RECURSIVE branch AS (
    SELECT hash, height FROM blocks WHERE hash = $1
    UNION ALL
    SELECT b.hash, b.height FROM blocks b INNER JOIN branch br ON b.parent_hash = br.hash
    WHERE b.height <= $2
)
SELECT t.block_hash, t.txid, t.is_coinbase, t.hex, t.amount, COALESCE(t.address, ''), t.swept
FROM transaction t
INNER JOIN branch br ON t.block_hash = br.hash
WHERE NOT t.is_coinbase
ORDER BY br.height, t.txid`, rootHash, maxHeight)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var t model.Transaction
		if err = rows.Scan(&t.BlockHash, &t.TxID, &t.IsCoinbase, &t.Hex, &t.Amount, &t.Address, &t.Swept); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// TransactionAmountSum sums the highest stored amount per txid.
func (r *Repository) TransactionAmountSum(ctx context.Context, txids []string) (total float64, err error) {
	started := time.Now()
	defer func() { r.observe("transaction_amount_sum", err, started) }()

	if len(txids) == 0 {
		return 0, nil
	}
	err = r.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM (
    SELECT MAX(amount) AS amount FROM transaction WHERE txid = ANY($1) GROUP BY txid
) q`, txids).Scan(&total)
	return total, err
}
