package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

const candidateColumns = `height, n_children, confirmed_in_one_branch_total,
double_spent_in_one_branch_total, rbf_total, height_processed, missing_transactions, created_at`

func scanCandidate(row pgx.Row) (model.StaleCandidate, error) {
	var c model.StaleCandidate
	err := row.Scan(
		&c.Height, &c.NChildren, &c.ConfirmedInOneBranchTotal,
		&c.DoubleSpentInOneBranchTotal, &c.RBFTotal,
		&c.HeightProcessed, &c.MissingTransactions, &c.CreatedAt,
	)
	return c, err
}

// CreateStaleCandidate inserts a candidate for a height, or updates the
// existing row's n_children when it differs; it reports whether a row was
// written.
func (r *Repository) CreateStaleCandidate(ctx context.Context, height int64, nChildren int) (created bool, err error) {
	started := time.Now()
	defer func() { r.observe("create_stale_candidate", err, started) }()

	tag, err := r.pool.Exec(ctx, `
INSERT INTO stale_candidate (height, n_children)
VALUES ($1, $2)
ON CONFLICT (height) DO UPDATE SET n_children = EXCLUDED.n_children
WHERE stale_candidate.n_children <> EXCLUDED.n_children`, height, nChildren)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// TopStaleCandidates returns the n most recent candidates by height.
func (r *Repository) TopStaleCandidates(ctx context.Context, n int) (candidates []model.StaleCandidate, err error) {
	started := time.Now()
	defer func() { r.observe("top_stale_candidates", err, started) }()

	rows, err := r.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM stale_candidate ORDER BY height DESC LIMIT $1`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, scanErr := scanCandidate(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// StaleCandidatesAtLeast returns candidates at or above a height, ascending.
func (r *Repository) StaleCandidatesAtLeast(ctx context.Context, height int64) (candidates []model.StaleCandidate, err error) {
	started := time.Now()
	defer func() { r.observe("stale_candidates_at_least", err, started) }()

	rows, err := r.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM stale_candidate WHERE height >= $1 ORDER BY height`, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		c, scanErr := scanCandidate(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// UpdateStaleCandidate persists the classifier's totals and bookkeeping.
func (r *Repository) UpdateStaleCandidate(ctx context.Context, c model.StaleCandidate) (err error) {
	started := time.Now()
	defer func() { r.observe("update_stale_candidate", err, started) }()

	_, err = r.pool.Exec(ctx, `
UPDATE stale_candidate
SET n_children = $2,
    confirmed_in_one_branch_total = $3,
    double_spent_in_one_branch_total = $4,
    rbf_total = $5,
    height_processed = $6,
    missing_transactions = $7
WHERE height = $1`,
		c.Height, c.NChildren, c.ConfirmedInOneBranchTotal,
		c.DoubleSpentInOneBranchTotal, c.RBFTotal, c.HeightProcessed, c.MissingTransactions)
	return err
}

// ReplaceStaleCandidateChildren rebuilds the branch rows for a candidate.
func (r *Repository) ReplaceStaleCandidateChildren(ctx context.Context, height int64, children []model.StaleCandidateChild) (err error) {
	started := time.Now()
	defer func() { r.observe("replace_stale_candidate_children", err, started) }()

	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, txErr := tx.Exec(ctx,
			`DELETE FROM stale_candidate_children WHERE candidate_height = $1`, height); txErr != nil {
			return txErr
		}
		for _, c := range children {
			if _, txErr := tx.Exec(ctx, `
INSERT INTO stale_candidate_children (candidate_height, root_hash, tip_hash, length)
VALUES ($1, $2, $3, $4)`, height, c.RootHash, c.TipHash, c.Length); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// StaleCandidateChildren returns the branch rows for a candidate, shortest first.
func (r *Repository) StaleCandidateChildren(ctx context.Context, height int64) (children []model.StaleCandidateChild, err error) {
	started := time.Now()
	defer func() { r.observe("stale_candidate_children", err, started) }()

	rows, err := r.pool.Query(ctx, `
SELECT candidate_height, root_hash, tip_hash, length
FROM stale_candidate_children
WHERE candidate_height = $1
ORDER BY length, root_hash`, height)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var c model.StaleCandidateChild
		if err = rows.Scan(&c.CandidateHeight, &c.RootHash, &c.TipHash, &c.Length); err != nil {
			return nil, err
		}
		children = append(children, c)
	}
	return children, rows.Err()
}

func (r *Repository) replaceTxidRows(ctx context.Context, table string, height int64, txids []string) error {
	return r.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM `+table+` WHERE candidate_height = $1`, height); err != nil {
			return err
		}
		for _, txid := range txids {
			if _, err := tx.Exec(ctx, `
INSERT INTO `+table+` (candidate_height, txid) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, height, txid); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceDoubleSpentBy rebuilds the double-spend txid set for a candidate.
func (r *Repository) ReplaceDoubleSpentBy(ctx context.Context, height int64, txids []string) (err error) {
	started := time.Now()
	defer func() { r.observe("replace_double_spent_by", err, started) }()

	return r.replaceTxidRows(ctx, "double_spent_by", height, txids)
}

// ReplaceRBFBy rebuilds the replace-by-fee txid set for a candidate.
func (r *Repository) ReplaceRBFBy(ctx context.Context, height int64, txids []string) (err error) {
	started := time.Now()
	defer func() { r.observe("replace_rbf_by", err, started) }()

	return r.replaceTxidRows(ctx, "rbf_by", height, txids)
}
