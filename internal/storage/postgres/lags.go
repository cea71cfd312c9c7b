package postgres

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// OpenLag opens a lag interval for a node, or refreshes the open one.
func (r *Repository) OpenLag(ctx context.Context, nodeID int64, at time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("open_lag", err, started) }()

	tag, err := r.pool.Exec(ctx,
		`UPDATE lags SET updated_at = $2 WHERE node_id = $1 AND deleted_at IS NULL`, nodeID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO lags (node_id, created_at, updated_at) VALUES ($1, $2, $2)`, nodeID, at)
	return err
}

// CloseLag stamps deleted_at on a node's open lag interval, if any.
func (r *Repository) CloseLag(ctx context.Context, nodeID int64, at time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("close_lag", err, started) }()

	_, err = r.pool.Exec(ctx, `
UPDATE lags SET deleted_at = $2, updated_at = $2
WHERE node_id = $1 AND deleted_at IS NULL`, nodeID, at)
	return err
}

// ListOpenLags returns currently lagging nodes.
func (r *Repository) ListOpenLags(ctx context.Context) (lags []model.Lag, err error) {
	started := time.Now()
	defer func() { r.observe("list_open_lags", err, started) }()

	rows, err := r.pool.Query(ctx, `
SELECT node_id, created_at, updated_at, deleted_at
FROM lags WHERE deleted_at IS NULL ORDER BY node_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l model.Lag
		if err = rows.Scan(&l.NodeID, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt); err != nil {
			return nil, err
		}
		lags = append(lags, l)
	}
	return lags, rows.Err()
}
