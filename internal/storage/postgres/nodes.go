package postgres

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// ListEnabledNodes returns every node the operator has not disabled.
func (r *Repository) ListEnabledNodes(ctx context.Context) (nodes []model.Node, err error) {
	started := time.Now()
	defer func() { r.observe("list_enabled_nodes", err, started) }()

	rows, err := r.pool.Query(ctx, `
SELECT id, name, rpc_host, rpc_port, mirror_rpc_port, rpc_user, rpc_pass,
       archive, enabled, unreachable_since, mirror_unreachable_since,
       last_polled, initial_block_download
FROM nodes
WHERE enabled
ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var n model.Node
		if err = rows.Scan(
			&n.ID, &n.Name, &n.RPCHost, &n.RPCPort, &n.MirrorRPCPort,
			&n.RPCUser, &n.RPCPass, &n.Archive, &n.Enabled,
			&n.UnreachableSince, &n.MirrorUnreachableSince,
			&n.LastPolled, &n.InitialBlockDownload,
		); err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// InsertNode registers a new node and returns its id.
func (r *Repository) InsertNode(ctx context.Context, n model.Node) (id int64, err error) {
	started := time.Now()
	defer func() { r.observe("insert_node", err, started) }()

	err = r.pool.QueryRow(ctx, `
INSERT INTO nodes (name, rpc_host, rpc_port, mirror_rpc_port, rpc_user, rpc_pass, archive)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
		n.Name, n.RPCHost, n.RPCPort, n.MirrorRPCPort, n.RPCUser, n.RPCPass, n.Archive,
	).Scan(&id)
	return id, err
}

// RemoveNode deletes a node; dependent rows cascade.
func (r *Repository) RemoveNode(ctx context.Context, nodeID int64) (err error) {
	started := time.Now()
	defer func() { r.observe("remove_node", err, started) }()

	_, err = r.pool.Exec(ctx, `DELETE FROM nodes WHERE id = $1`, nodeID)
	return err
}

// MarkNodeUnreachable stamps unreachable_since unless already set.
func (r *Repository) MarkNodeUnreachable(ctx context.Context, nodeID int64, since time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_node_unreachable", err, started) }()

	_, err = r.pool.Exec(ctx, `
UPDATE nodes SET unreachable_since = COALESCE(unreachable_since, $2) WHERE id = $1`, nodeID, since)
	return err
}

// MarkNodeReachable clears unreachable_since and stamps last_polled.
func (r *Repository) MarkNodeReachable(ctx context.Context, nodeID int64, polledAt time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_node_reachable", err, started) }()

	_, err = r.pool.Exec(ctx, `
UPDATE nodes SET unreachable_since = NULL, last_polled = $2 WHERE id = $1`, nodeID, polledAt)
	return err
}

// SetNodeIBD flags whether the node is in initial block download.
func (r *Repository) SetNodeIBD(ctx context.Context, nodeID int64, ibd bool) (err error) {
	started := time.Now()
	defer func() { r.observe("set_node_ibd", err, started) }()

	_, err = r.pool.Exec(ctx, `UPDATE nodes SET initial_block_download = $2 WHERE id = $1`, nodeID, ibd)
	return err
}

// MarkMirrorUnreachable stamps mirror_unreachable_since unless already set.
func (r *Repository) MarkMirrorUnreachable(ctx context.Context, nodeID int64, since time.Time) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_mirror_unreachable", err, started) }()

	_, err = r.pool.Exec(ctx, `
UPDATE nodes SET mirror_unreachable_since = COALESCE(mirror_unreachable_since, $2) WHERE id = $1`, nodeID, since)
	return err
}

// MarkMirrorReachable clears mirror_unreachable_since.
func (r *Repository) MarkMirrorReachable(ctx context.Context, nodeID int64) (err error) {
	started := time.Now()
	defer func() { r.observe("mark_mirror_reachable", err, started) }()

	_, err = r.pool.Exec(ctx, `UPDATE nodes SET mirror_unreachable_since = NULL WHERE id = $1`, nodeID)
	return err
}
