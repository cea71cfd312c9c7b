package postgres

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// MarkBlockValid records that a node judged a block valid. Idempotent.
func (r *Repository) MarkBlockValid(ctx context.Context, hash string, nodeID int64, at time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_block_valid", err, started) }()

	_, err = r.pool.Exec(ctx, `
INSERT INTO valid_blocks (hash, node_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (hash, node_id) DO NOTHING`, hash, nodeID, at)
	return err
}

// MarkBlockInvalid records that a node judged a block invalid. Idempotent.
func (r *Repository) MarkBlockInvalid(ctx context.Context, hash string, nodeID int64, at time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_block_invalid", err, started) }()

	_, err = r.pool.Exec(ctx, `
INSERT INTO invalid_blocks (hash, node_id, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (hash, node_id) DO NOTHING`, hash, nodeID, at)
	return err
}

// MarkedValidBy reports whether the node explicitly marked the block valid.
func (r *Repository) MarkedValidBy(ctx context.Context, hash string, nodeID int64) (marked bool, err error) {
	started := time.Now()
	defer func() { r.observe("marked_valid_by", err, started) }()

	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM valid_blocks WHERE hash = $1 AND node_id = $2)`,
		hash, nodeID).Scan(&marked)
	return marked, err
}

// MarkedInvalidBy reports whether the node explicitly marked the block invalid.
func (r *Repository) MarkedInvalidBy(ctx context.Context, hash string, nodeID int64) (marked bool, err error) {
	started := time.Now()
	defer func() { r.observe("marked_invalid_by", err, started) }()

	err = r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM invalid_blocks WHERE hash = $1 AND node_id = $2)`,
		hash, nodeID).Scan(&marked)
	return marked, err
}

// RecentConflicts returns blocks marked valid by some nodes and invalid by
// others, restricted to invalid marks created after the cutoff.
func (r *Repository) RecentConflicts(ctx context.Context, since time.Time) (conflicts []model.ConflictingBlock, err error) {
	started := time.Now()
	defer func() { r.observe("recent_conflicts", err, started) }()

	rows, err := r.pool.Query(ctx, `
SELECT q.hash, array_agg(DISTINCT q.valid_by), array_agg(DISTINCT q.invalid_by)
FROM (
    SELECT ivb.hash AS hash, vb.node_id AS valid_by, ivb.node_id AS invalid_by
    FROM valid_blocks vb
    INNER JOIN invalid_blocks ivb ON vb.hash = ivb.hash
    WHERE ivb.created_at > $1
) q
GROUP BY q.hash`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c model.ConflictingBlock
		if err = rows.Scan(&c.Hash, &c.ValidBy, &c.InvalidBy); err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}
