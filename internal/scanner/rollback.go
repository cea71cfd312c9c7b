package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"go.uber.org/zap"
)

// RollbackOrchestrator forces a mirror node to re-evaluate a contested block
// by invalidating the competing branch with p2p disabled. One rollback at a
// time per mirror endpoint.
type RollbackOrchestrator struct {
	store   Store
	clients ClientFactory
	cfg     Config
	logger  *zap.Logger
	metrics ScannerMetrics
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRollbackOrchestrator constructs a RollbackOrchestrator.
func NewRollbackOrchestrator(store Store, clients ClientFactory, cfg Config, metrics ScannerMetrics, logger *zap.Logger) *RollbackOrchestrator {
	return &RollbackOrchestrator{
		store:   store,
		clients: clients,
		cfg:     cfg.normalized(),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (o *RollbackOrchestrator) lockFor(endpoint string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks[endpoint] == nil {
		o.locks[endpoint] = &sync.Mutex{}
	}
	return o.locks[endpoint]
}

// PendingTargets returns the valid-headers tips of a node that fall inside
// the active depth window and carry no judgement from this node yet.
func (o *RollbackOrchestrator) PendingTargets(ctx context.Context, res PollResult) ([]bitcoin.ChainTip, error) {
	if !res.Node.HasMirror() {
		return nil, nil
	}
	active, err := o.store.ActiveTip(ctx, res.Node.ID)
	if err != nil || active == nil {
		return nil, err
	}

	var targets []bitcoin.ChainTip
	for _, tip := range res.Tips {
		status, err := model.ParseTipStatus(tip.Status)
		if err != nil || status != model.TipValidHeaders {
			continue
		}
		if tip.Height < active.Height-o.cfg.MaxDepth || tip.Height > active.Height {
			continue
		}
		valid, err := o.store.MarkedValidBy(ctx, tip.Hash, res.Node.ID)
		if err != nil {
			return nil, err
		}
		invalid, err := o.store.MarkedInvalidBy(ctx, tip.Hash, res.Node.ID)
		if err != nil {
			return nil, err
		}
		if !valid && !invalid {
			targets = append(targets, tip)
		}
	}
	return targets, nil
}

// ValidateBlock runs the full rollback dance for one target block on one
// node's mirror, stamping the node's judgement from the outcome.
func (o *RollbackOrchestrator) ValidateBlock(ctx context.Context, node model.Node, targetHash string) (err error) {
	mirrorAddr, ok := node.MirrorAddress()
	if !ok {
		return nil
	}

	defer func() {
		if o.metrics != nil {
			o.metrics.ObserveRollback(err)
		}
	}()

	lock := o.lockFor(mirrorAddr)
	lock.Lock()
	defer lock.Unlock()

	mirror, err := o.clients.MirrorFor(node)
	if err != nil {
		if markErr := o.store.MarkMirrorUnreachable(ctx, node.ID, o.now()); markErr != nil {
			o.logger.Error("mark mirror unreachable failed", zap.Error(markErr))
		}
		return err
	}
	if err := o.store.MarkMirrorReachable(ctx, node.ID); err != nil {
		return err
	}

	if err := o.ensureMirrorHasBlock(ctx, node, mirror, targetHash); err != nil {
		return err
	}

	if err := mirror.SetNetworkActive(ctx, false); err != nil {
		return err
	}
	// p2p comes back on every exit path, even when the tick is canceled.
	defer func() {
		if netErr := mirror.SetNetworkActive(context.WithoutCancel(ctx), true); netErr != nil {
			o.logger.Error("re-enabling mirror network failed",
				zap.String("mirror", mirrorAddr), zap.Error(netErr))
		}
	}()

	invalidated, rollErr := o.makeActive(ctx, node, mirror, targetHash)
	defer func() {
		for _, hash := range invalidated {
			if recErr := mirror.ReconsiderBlock(context.WithoutCancel(ctx), hash); recErr != nil {
				o.logger.Error("reconsiderblock failed",
					zap.String("block", hash), zap.Error(recErr))
			}
		}
	}()
	if rollErr != nil && !errors.Is(rollErr, ErrUnableToRollback) {
		return rollErr
	}

	tips, err := mirror.GetChainTips(ctx)
	if err != nil {
		return err
	}
	for _, tip := range tips {
		if tip.Hash != targetHash {
			continue
		}
		switch tip.Status {
		case model.TipActive.String():
			o.logger.Info("mirror accepted block",
				zap.String("node", node.Name), zap.String("block", targetHash))
			return o.store.MarkBlockValid(ctx, targetHash, node.ID, o.now())
		case model.TipInvalid.String():
			o.logger.Info("mirror rejected block",
				zap.String("node", node.Name), zap.String("block", targetHash))
			return o.store.MarkBlockInvalid(ctx, targetHash, node.ID, o.now())
		}
	}

	if rollErr != nil {
		o.logger.Warn("rollback gave no verdict",
			zap.String("node", node.Name), zap.String("block", targetHash), zap.Error(rollErr))
		return rollErr
	}
	return nil
}

func (o *RollbackOrchestrator) ensureMirrorHasBlock(ctx context.Context, node model.Node, mirror NodeClient, targetHash string) error {
	_, err := mirror.GetBlockHeader(ctx, targetHash)
	if err == nil {
		return nil
	}
	if !errors.Is(err, bitcoin.ErrBlockNotFound) {
		return err
	}

	primary, err := o.clients.ClientFor(node)
	if err != nil {
		return err
	}
	blockHex, err := primary.GetBlockHex(ctx, targetHash)
	if errors.Is(err, bitcoin.ErrBlockNotFound) {
		// The primary only has the header; ask it to pull the block from one
		// of its peers, then retry once.
		peers, peerErr := primary.GetPeerInfo(ctx)
		if peerErr != nil || len(peers) == 0 {
			return err
		}
		if fetchErr := primary.GetBlockFromPeer(ctx, targetHash, peers[0].ID); fetchErr != nil {
			return err
		}
		blockHex, err = primary.GetBlockHex(ctx, targetHash)
	}
	if err != nil {
		return err
	}
	return mirror.SubmitBlock(ctx, blockHex)
}

// makeActive invalidates competing branches until the mirror's active tip is
// the target, returning every hash invalidated along the way.
func (o *RollbackOrchestrator) makeActive(ctx context.Context, node model.Node, mirror NodeClient, targetHash string) (invalidated []string, err error) {
	target, err := o.store.GetBlock(ctx, targetHash)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, fmt.Errorf("target block %s not materialised", targetHash)
	}

	for counter := 0; counter < o.cfg.RollbackCounterMax; counter++ {
		if counter > 0 {
			// Re-seed the mirror's view; invalidations may have discarded
			// the target from its index.
			if err := o.ensureMirrorHasBlock(ctx, node, mirror, targetHash); err != nil {
				return invalidated, err
			}
		}

		tips, err := mirror.GetChainTips(ctx)
		if err != nil {
			return invalidated, err
		}
		var active *bitcoin.ChainTip
		for i := range tips {
			if tips[i].Status == model.TipActive.String() {
				active = &tips[i]
				break
			}
		}
		if active != nil && active.Hash == targetHash {
			return invalidated, nil
		}

		list, err := o.competingHashes(ctx, active, *target)
		if err != nil {
			return invalidated, err
		}
		if len(list) == 0 {
			return invalidated, fmt.Errorf("%w: target %s", ErrUnableToRollback, targetHash)
		}

		for _, hash := range list {
			if err := mirror.InvalidateBlock(ctx, hash); err != nil {
				return invalidated, err
			}
			invalidated = append(invalidated, hash)
		}
	}
	return invalidated, fmt.Errorf("%w: counter exhausted for %s", ErrUnableToRollback, targetHash)
}

// competingHashes lists the blocks standing between the mirror's current
// active tip and the target: the tip itself, the target's known children,
// and, for a target below the active height, everything above the branch
// point on the active chain.
func (o *RollbackOrchestrator) competingHashes(ctx context.Context, active *bitcoin.ChainTip, target model.Block) ([]string, error) {
	seen := map[string]struct{}{target.Hash: {}}
	var list []string
	add := func(hash string) {
		if _, ok := seen[hash]; !ok {
			seen[hash] = struct{}{}
			list = append(list, hash)
		}
	}

	if active != nil {
		add(active.Hash)
	}

	children, err := o.store.BlockChildren(ctx, target.Hash)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		add(child.Hash)
	}

	if active != nil && target.Height < active.Height {
		hash := active.Hash
		for hash != "" && hash != model.ZeroHash {
			block, err := o.store.GetBlock(ctx, hash)
			if err != nil {
				return nil, err
			}
			if block == nil || block.Height <= target.Height {
				break
			}
			add(block.Hash)
			hash = block.ParentHash
		}
	}
	return list, nil
}
