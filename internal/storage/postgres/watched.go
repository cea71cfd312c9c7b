package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// InsertWatched adds addresses to the watch list until the given expiry.
func (r *Repository) InsertWatched(ctx context.Context, addresses []string, until time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("insert_watched", err, started) }()

	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, addr := range addresses {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO watched (address, watch_until) VALUES ($1, $2)
ON CONFLICT (address) DO UPDATE SET watch_until = EXCLUDED.watch_until`, addr, until); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// WatchedAddresses returns the addresses still under watch at the given time.
func (r *Repository) WatchedAddresses(ctx context.Context, at time.Time) (watched []model.Watched, err error) {
	started := time.Now()
	defer func() { r.observe("watched_addresses", err, started) }()

	rows, err := r.pool.Query(ctx,
		`SELECT address, created_at, watch_until FROM watched WHERE watch_until >= $1`, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var w model.Watched
		if err = rows.Scan(&w.Address, &w.CreatedAt, &w.WatchUntil); err != nil {
			return nil, err
		}
		watched = append(watched, w)
	}
	return watched, rows.Err()
}

// PurgeExpiredWatched removes watch entries past their expiry.
func (r *Repository) PurgeExpiredWatched(ctx context.Context, at time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("purge_expired_watched", err, started) }()

	_, err = r.pool.Exec(ctx, `DELETE FROM watched WHERE watch_until < $1`, at)
	return err
}

// InsertTransactionAddresses persists watched-address hits. Idempotent.
func (r *Repository) InsertTransactionAddresses(ctx context.Context, hits []model.TransactionAddress) (err error) {
	started := time.Now()
	defer func() { r.observe("insert_transaction_addresses", err, started) }()

	if len(hits) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, h := range hits {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO transaction_addresses (block_hash, txid, sending, receiving, satoshis, sending_vout)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
ON CONFLICT (block_hash, txid, receiving, sending_vout) DO NOTHING`,
				h.BlockHash, h.TxID, h.Sending, h.Receiving, h.Satoshis, h.SendingVout); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// UnnotifiedTransactionAddresses returns hits not yet published.
func (r *Repository) UnnotifiedTransactionAddresses(ctx context.Context) (hits []model.TransactionAddress, err error) {
	started := time.Now()
	defer func() { r.observe("unnotified_transaction_addresses", err, started) }()

	rows, err := r.pool.Query(ctx, `
SELECT block_hash, txid, COALESCE(sending, ''), receiving, satoshis, sending_vout, created_at, notified_at
FROM transaction_addresses
WHERE notified_at IS NULL
ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h model.TransactionAddress
		if err = rows.Scan(&h.BlockHash, &h.TxID, &h.Sending, &h.Receiving,
			&h.Satoshis, &h.SendingVout, &h.CreatedAt, &h.NotifiedAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// MarkTransactionAddressesNotified stamps notified_at on published hits.
func (r *Repository) MarkTransactionAddressesNotified(ctx context.Context, hits []model.TransactionAddress, at time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_transaction_addresses_notified", err, started) }()

	return r.withTx(ctx, func(tx pgx.Tx) error {
		for _, h := range hits {
			if _, txErr := tx.Exec(ctx, `
UPDATE transaction_addresses SET notified_at = $5
WHERE block_hash = $1 AND txid = $2 AND receiving = $3 AND sending_vout = $4`,
				h.BlockHash, h.TxID, h.Receiving, h.SendingVout, at); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}
