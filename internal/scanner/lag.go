package scanner

import (
	"context"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// DetectLags compares each node's active tip against the global one, opening
// a lag interval for nodes with strictly less work that sit at least LagBlocks
// below the global height, and closing intervals for the other nodes. Returns
// the open lags.
func (r *Reconciler) DetectLags(ctx context.Context, global *TipView) ([]model.Lag, error) {
	if global == nil {
		return nil, nil
	}

	tips, err := r.store.ListActiveTips(ctx)
	if err != nil {
		return nil, err
	}

	for _, tip := range tips {
		block, err := r.store.GetBlock(ctx, tip.BlockHash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			continue
		}

		lagging := model.CompareWork(block.Work, global.Block.Work) < 0 &&
			global.Block.Height-block.Height >= r.cfg.LagBlocks

		if lagging {
			err = r.store.OpenLag(ctx, tip.NodeID, r.now())
		} else {
			err = r.store.CloseLag(ctx, tip.NodeID, r.now())
		}
		if err != nil {
			return nil, err
		}
	}

	return r.store.ListOpenLags(ctx)
}
