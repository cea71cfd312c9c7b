package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"go.uber.org/zap"
)

// Reconciler ingests raw chaintips into the shared block DAG and unifies
// per-node views through the surgery passes.
type Reconciler struct {
	store   Store
	clients ClientFactory
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store Store, clients ClientFactory, cfg Config, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		clients: clients,
		cfg:     cfg.normalized(),
		logger:  logger,
		now:     time.Now,
	}
}

// IngestTips materialises one node's tips into the store. Failures on a
// single tip abort only that tip; the rest of the node's view still lands.
func (r *Reconciler) IngestTips(ctx context.Context, res PollResult) error {
	client, err := r.clients.ClientFor(res.Node)
	if err != nil {
		return err
	}

	maxTipHeight := int64(0)
	for _, tip := range res.Tips {
		if tip.Height > maxTipHeight {
			maxTipHeight = tip.Height
		}
	}

	if err := r.store.PurgeForkTips(ctx, res.Node.ID); err != nil {
		return err
	}

	for _, tip := range res.Tips {
		status, err := model.ParseTipStatus(tip.Status)
		if err != nil {
			r.logger.Warn("skipping tip with unknown status",
				zap.String("node", res.Node.Name), zap.String("status", tip.Status))
			continue
		}
		if err := r.ingestTip(ctx, client, res.Node, tip, status, maxTipHeight); err != nil {
			r.logger.Warn("tip ingestion failed",
				zap.String("node", res.Node.Name),
				zap.String("tip", tip.Hash),
				zap.String("status", tip.Status),
				zap.Error(err))
		}
	}
	return nil
}

func (r *Reconciler) ingestTip(ctx context.Context, client NodeClient, node model.Node, tip bitcoin.ChainTip, status model.TipStatus, maxTipHeight int64) error {
	switch status {
	case model.TipActive:
		walked, err := r.createBlockAndAncestors(ctx, client, node.ID, tip.Hash, false)
		if err != nil {
			return err
		}
		for _, hash := range walked {
			if err := r.store.MarkBlockValid(ctx, hash, node.ID, r.now()); err != nil {
				return err
			}
		}
		parentBlock := ""
		if b, err := r.store.GetBlock(ctx, tip.Hash); err == nil && b != nil {
			parentBlock = b.ParentHash
		}
		_, err = r.store.SetActiveTip(ctx, node.ID, tip.Hash, tip.Height, parentBlock)
		return err

	case model.TipValidFork:
		if err := r.store.InsertTip(ctx, node.ID, tip.Hash, tip.Height, status, ""); err != nil {
			return err
		}
		walked, err := r.createBlockAndAncestors(ctx, client, node.ID, tip.Hash, false)
		if err != nil {
			return err
		}
		for _, hash := range walked {
			if err := r.store.MarkBlockValid(ctx, hash, node.ID, r.now()); err != nil {
				return err
			}
		}
		return nil

	case model.TipInvalid:
		if err := r.store.InsertTip(ctx, node.ID, tip.Hash, tip.Height, status, ""); err != nil {
			return err
		}
		if _, err := r.createBlockAndAncestors(ctx, client, node.ID, tip.Hash, false); err != nil {
			return err
		}
		// Only the tip itself carries the invalid judgement; its ancestors
		// may well be part of the node's own active chain.
		return r.store.MarkBlockInvalid(ctx, tip.Hash, node.ID, r.now())

	case model.TipValidHeaders, model.TipHeadersOnly:
		if tip.Height < maxTipHeight-r.cfg.MaxDepth {
			return nil
		}
		if err := r.store.InsertTip(ctx, node.ID, tip.Hash, tip.Height, status, ""); err != nil {
			return err
		}
		_, err := r.createBlockAndAncestors(ctx, client, node.ID, tip.Hash, true)
		return err
	}
	return nil
}

// createBlockAndAncestors walks a tip's ancestry downward, materialising
// blocks until it reaches one already connected or hits the depth window.
// It returns the hashes visited, tip first.
func (r *Reconciler) createBlockAndAncestors(ctx context.Context, client NodeClient, nodeID int64, tipHash string, headersOnly bool) ([]string, error) {
	var walked []string
	hash := tipHash

	for depth := int64(0); ; depth++ {
		if depth >= r.cfg.MaxDepth {
			// The window ends here; deeper history connects on later ticks.
			return walked, nil
		}

		header, err := client.GetBlockHeader(ctx, hash)
		if err != nil {
			if errors.Is(err, bitcoin.ErrBlockNotFound) {
				// The node cannot serve this ancestor; leave the walk
				// incomplete and let the next tick retry.
				return walked, fmt.Errorf("%w: %s", ErrMissingParent, hash)
			}
			return walked, err
		}

		block, err := r.store.UpsertBlock(ctx, model.Block{
			Hash:        header.Hash,
			Height:      header.Height,
			ParentHash:  header.PreviousBlockHash,
			HeadersOnly: headersOnly,
			FirstSeenBy: nodeID,
			Work:        header.ChainWork,
		})
		if err != nil {
			return walked, err
		}
		walked = append(walked, block.Hash)

		if block.Connected || header.PreviousBlockHash == "" {
			return walked, nil
		}
		hash = header.PreviousBlockHash
	}
}

// TipView pairs a chaintip with its materialised block.
type TipView struct {
	Tip   model.Chaintip
	Block model.Block
}

// GlobalActiveTip returns the tip maximising (work, height, first seen)
// across nodes that are neither lagging nor syncing. Nil when nothing is
// known yet.
func (r *Reconciler) GlobalActiveTip(ctx context.Context, nodes map[int64]model.Node) (*TipView, error) {
	tips, err := r.store.ListActiveTips(ctx)
	if err != nil {
		return nil, err
	}
	lags, err := r.store.ListOpenLags(ctx)
	if err != nil {
		return nil, err
	}
	lagging := make(map[int64]struct{}, len(lags))
	for _, lag := range lags {
		lagging[lag.NodeID] = struct{}{}
	}

	var best *TipView
	for _, tip := range tips {
		if _, ok := lagging[tip.NodeID]; ok {
			continue
		}
		if node, ok := nodes[tip.NodeID]; ok && node.InitialBlockDownload {
			continue
		}
		block, err := r.store.GetBlock(ctx, tip.BlockHash)
		if err != nil {
			return nil, err
		}
		if block == nil {
			continue
		}
		candidate := &TipView{Tip: tip, Block: *block}
		if best == nil || betterTip(candidate, best) {
			best = candidate
		}
	}
	return best, nil
}

func betterTip(a, b *TipView) bool {
	if cmp := model.CompareWork(a.Block.Work, b.Block.Work); cmp != 0 {
		return cmp > 0
	}
	if a.Block.Height != b.Block.Height {
		return a.Block.Height > b.Block.Height
	}
	return a.Block.FirstSeenAt.Before(b.Block.FirstSeenAt)
}

// ancestorChain loads self's ancestry down to minHeight (inclusive). The
// walk stops early at a gap in the DAG.
func (r *Reconciler) ancestorChain(ctx context.Context, fromHash string, minHeight int64) ([]model.Block, error) {
	var chain []model.Block
	hash := fromHash
	for hash != "" && hash != model.ZeroHash {
		block, err := r.store.GetBlock(ctx, hash)
		if err != nil {
			return nil, err
		}
		if block == nil || block.Height < minHeight {
			break
		}
		chain = append(chain, *block)
		hash = block.ParentHash
	}
	return chain, nil
}
