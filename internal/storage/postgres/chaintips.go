package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

const tipColumns = `id, node_id, status, block, height, parent_chaintip, parent_block`

func scanTip(row pgx.Row) (model.Chaintip, error) {
	var (
		t           model.Chaintip
		status      string
		parentBlock *string
	)
	err := row.Scan(&t.ID, &t.NodeID, &status, &t.BlockHash, &t.Height, &t.ParentChaintip, &parentBlock)
	if err != nil {
		return model.Chaintip{}, err
	}
	if t.Status, err = model.ParseTipStatus(status); err != nil {
		return model.Chaintip{}, err
	}
	if parentBlock != nil {
		t.ParentBlock = *parentBlock
	}
	return t, nil
}

func (r *Repository) queryTips(ctx context.Context, query string, args ...interface{}) ([]model.Chaintip, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tips []model.Chaintip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		tips = append(tips, t)
	}
	return tips, rows.Err()
}

// ActiveTip returns a node's active chaintip row, nil when none exists yet.
func (r *Repository) ActiveTip(ctx context.Context, nodeID int64) (tip *model.Chaintip, err error) {
	started := time.Now()
	defer func() { r.observe("active_tip", err, started) }()

	t, err := scanTip(r.pool.QueryRow(ctx,
		`SELECT `+tipColumns+` FROM chaintips WHERE node_id = $1 AND status = 'active'`, nodeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetTip fetches a chaintip row by id, nil when unknown.
func (r *Repository) GetTip(ctx context.Context, tipID int64) (tip *model.Chaintip, err error) {
	started := time.Now()
	defer func() { r.observe("get_tip", err, started) }()

	t, err := scanTip(r.pool.QueryRow(ctx, `SELECT `+tipColumns+` FROM chaintips WHERE id = $1`, tipID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SetActiveTip upserts the active tip for a node. When the tip changes, the
// row's parent_chaintip and every reference pointing at it are reset.
func (r *Repository) SetActiveTip(ctx context.Context, nodeID int64, hash string, height int64, parentBlock string) (changed bool, err error) {
	started := time.Now()
	defer func() { r.observe("set_active_tip", err, started) }()

	err = r.withTx(ctx, func(tx pgx.Tx) error {
		var (
			id      int64
			current string
		)
		txErr := tx.QueryRow(ctx,
			`SELECT id, block FROM chaintips WHERE node_id = $1 AND status = 'active'`, nodeID).
			Scan(&id, &current)
		switch {
		case errors.Is(txErr, pgx.ErrNoRows):
			changed = true
			_, txErr = tx.Exec(ctx, `
INSERT INTO chaintips (node_id, status, block, height, parent_block)
VALUES ($1, 'active', $2, $3, NULLIF($4, ''))`, nodeID, hash, height, parentBlock)
			return txErr
		case txErr != nil:
			return txErr
		case current == hash:
			changed = false
			return nil
		}

		changed = true
		if _, txErr = tx.Exec(ctx,
			`UPDATE chaintips SET parent_chaintip = NULL WHERE parent_chaintip = $1`, id); txErr != nil {
			return txErr
		}
		_, txErr = tx.Exec(ctx, `
UPDATE chaintips
SET block = $2, height = $3, parent_chaintip = NULL, parent_block = NULLIF($4, '')
WHERE id = $1`, id, hash, height, parentBlock)
		return txErr
	})
	return changed, err
}

// InsertTip records a non-active tip (valid-fork or invalid) observation.
func (r *Repository) InsertTip(ctx context.Context, nodeID int64, hash string, height int64, status model.TipStatus, parentBlock string) (err error) {
	started := time.Now()
	defer func() { r.observe("insert_tip", err, started) }()

	_, err = r.pool.Exec(ctx, `
INSERT INTO chaintips (node_id, status, block, height, parent_block)
VALUES ($1, $2, $3, $4, NULLIF($5, ''))`, nodeID, status.String(), hash, height, parentBlock)
	return err
}

// PurgeForkTips deletes a node's non-active tip rows before re-ingestion.
func (r *Repository) PurgeForkTips(ctx context.Context, nodeID int64) (err error) {
	started := time.Now()
	defer func() { r.observe("purge_fork_tips", err, started) }()

	_, err = r.pool.Exec(ctx,
		`DELETE FROM chaintips WHERE node_id = $1 AND status <> 'active'`, nodeID)
	return err
}

// ListActiveTips returns the active tip of every node.
func (r *Repository) ListActiveTips(ctx context.Context) (tips []model.Chaintip, err error) {
	started := time.Now()
	defer func() { r.observe("list_active_tips", err, started) }()

	return r.queryTips(ctx, `SELECT `+tipColumns+` FROM chaintips WHERE status = 'active' ORDER BY id`)
}

// ListUnparentedActiveTipsBelow returns active tips without a parent_chaintip
// strictly below height and at or above minHeight.
func (r *Repository) ListUnparentedActiveTipsBelow(ctx context.Context, height, minHeight int64) (tips []model.Chaintip, err error) {
	started := time.Now()
	defer func() { r.observe("list_unparented_active_tips_below", err, started) }()

	return r.queryTips(ctx, `
SELECT `+tipColumns+` FROM chaintips
WHERE status = 'active' AND parent_chaintip IS NULL AND height < $1 AND height >= $2
ORDER BY id`, height, minHeight)
}

// ListActiveTipsAbove returns active tips strictly above a height.
func (r *Repository) ListActiveTipsAbove(ctx context.Context, height int64) (tips []model.Chaintip, err error) {
	started := time.Now()
	defer func() { r.observe("list_active_tips_above", err, started) }()

	return r.queryTips(ctx, `
SELECT `+tipColumns+` FROM chaintips
WHERE status = 'active' AND height > $1
ORDER BY height`, height)
}

// ListInvalidTipsAtLeast returns invalid tips at or above a height.
func (r *Repository) ListInvalidTipsAtLeast(ctx context.Context, minHeight int64) (tips []model.Chaintip, err error) {
	started := time.Now()
	defer func() { r.observe("list_invalid_tips_at_least", err, started) }()

	return r.queryTips(ctx, `
SELECT `+tipColumns+` FROM chaintips
WHERE status = 'invalid' AND height >= $1
ORDER BY id`, minHeight)
}

// SetTipParent points a chaintip at the chaintip it agrees with, nil clears.
func (r *Repository) SetTipParent(ctx context.Context, tipID int64, parent *int64) (err error) {
	started := time.Now()
	defer func() { r.observe("set_tip_parent", err, started) }()

	_, err = r.pool.Exec(ctx, `UPDATE chaintips SET parent_chaintip = $2 WHERE id = $1`, tipID, parent)
	return err
}
