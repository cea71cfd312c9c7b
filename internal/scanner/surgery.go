package scanner

import (
	"context"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"go.uber.org/zap"
)

// RunSurgery executes match_children, check_parent and match_parent for every
// node's active tip, in that order. Candidate queries are clamped to the
// depth window below the highest known block.
func (r *Reconciler) RunSurgery(ctx context.Context) error {
	maxHeight, err := r.store.MaxHeight(ctx)
	if err != nil {
		return err
	}
	minHeight := maxHeight - r.cfg.MaxDepth

	tips, err := r.store.ListActiveTips(ctx)
	if err != nil {
		return err
	}

	// check_parent reads the invalid tips snapshotted before any pass runs.
	invalidTips, err := r.store.ListInvalidTipsAtLeast(ctx, minHeight)
	if err != nil {
		return err
	}

	for _, tip := range tips {
		if err := r.matchChildren(ctx, tip, minHeight); err != nil {
			r.logger.Warn("match_children failed", zap.Int64("tip", tip.ID), zap.Error(err))
		}
	}
	for _, tip := range tips {
		if err := r.checkParent(ctx, tip, minHeight, invalidTips); err != nil {
			r.logger.Warn("check_parent failed", zap.Int64("tip", tip.ID), zap.Error(err))
		}
	}
	for _, tip := range tips {
		if err := r.matchParent(ctx, tip, minHeight); err != nil {
			r.logger.Warn("match_parent failed", zap.Int64("tip", tip.ID), zap.Error(err))
		}
	}
	return nil
}

// matchChildren adopts self as parent of every lower unparented active tip
// whose block lies on self's ancestor chain.
func (r *Reconciler) matchChildren(ctx context.Context, self model.Chaintip, minHeight int64) error {
	candidates, err := r.store.ListUnparentedActiveTipsBelow(ctx, self.Height, minHeight)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	lowest := minHeight
	for _, c := range candidates {
		if c.Height < lowest {
			lowest = c.Height
		}
	}

	ancestors, err := r.ancestorSet(ctx, self, lowest)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if candidate.NodeID == self.NodeID {
			continue
		}
		if _, ok := ancestors[candidate.BlockHash]; !ok {
			continue
		}
		invalid, err := r.store.MarkedInvalidBy(ctx, candidate.BlockHash, self.NodeID)
		if err != nil {
			return err
		}
		if invalid {
			continue
		}
		parent := self.ID
		if err := r.store.SetTipParent(ctx, candidate.ID, &parent); err != nil {
			return err
		}
	}
	return nil
}

// ancestorSet collects self's ancestor hashes down to minHeight, stopping if
// the walk meets a block self's own node marked invalid.
func (r *Reconciler) ancestorSet(ctx context.Context, self model.Chaintip, minHeight int64) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	chain, err := r.ancestorChain(ctx, self.BlockHash, minHeight)
	if err != nil {
		return nil, err
	}
	for _, block := range chain {
		invalid, err := r.store.MarkedInvalidBy(ctx, block.Hash, self.NodeID)
		if err != nil {
			return nil, err
		}
		if invalid {
			break
		}
		set[block.Hash] = struct{}{}
	}
	return set, nil
}

// checkParent drops self's parent claim when a tip some node marked invalid
// sits on self's ancestry: descent through a contested block is not claimed.
func (r *Reconciler) checkParent(ctx context.Context, self model.Chaintip, minHeight int64, invalidTips []model.Chaintip) error {
	if self.ParentChaintip == nil || len(invalidTips) == 0 {
		return nil
	}

	chain, err := r.ancestorChain(ctx, self.BlockHash, minHeight)
	if err != nil {
		return err
	}
	onChain := make(map[string]struct{}, len(chain))
	for _, block := range chain {
		onChain[block.Hash] = struct{}{}
	}

	for _, invalid := range invalidTips {
		if _, ok := onChain[invalid.BlockHash]; ok {
			return r.store.SetTipParent(ctx, self.ID, nil)
		}
	}
	return nil
}

// matchParent searches upward for an active tip whose chain contains self's
// block and adopts it, unless self's node marked that tip invalid.
func (r *Reconciler) matchParent(ctx context.Context, self model.Chaintip, minHeight int64) error {
	if self.ParentChaintip != nil || self.Height < minHeight {
		return nil
	}

	candidates, err := r.store.ListActiveTipsAbove(ctx, self.Height)
	if err != nil {
		return err
	}

	for _, candidate := range candidates {
		if candidate.NodeID == self.NodeID {
			continue
		}
		chain, err := r.ancestorChain(ctx, candidate.BlockHash, self.Height)
		if err != nil {
			return err
		}
		found := false
		for _, block := range chain {
			if block.Hash == self.BlockHash {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		invalid, err := r.store.MarkedInvalidBy(ctx, candidate.BlockHash, self.NodeID)
		if err != nil {
			return err
		}
		if invalid {
			continue
		}
		parent := candidate.ID
		return r.store.SetTipParent(ctx, self.ID, &parent)
	}
	return nil
}
