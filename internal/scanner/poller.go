package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/pkg/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const pollWorkerCount = 8

// Poller fetches each node's chain view concurrently. A slow or hung node
// never blocks the others; unreachable and syncing nodes are dropped from
// the tick's results.
type Poller struct {
	store   NodeStore
	clients ClientFactory
	cfg     Config
	logger  *zap.Logger
	metrics ScannerMetrics
	now     func() time.Time
}

// NewPoller constructs a Poller.
func NewPoller(store NodeStore, clients ClientFactory, cfg Config, metrics ScannerMetrics, logger *zap.Logger) *Poller {
	return &Poller{
		store:   store,
		clients: clients,
		cfg:     cfg.normalized(),
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Poll queries every node and returns the results of those that answered and
// are not in initial block download.
func (p *Poller) Poll(ctx context.Context, nodes []model.Node) []PollResult {
	results, _ := workerpool.Collect(ctx, pollWorkerCount, nodes,
		func(ctx context.Context, node model.Node) (PollResult, error) {
			res, err := p.pollNode(ctx, node)
			if p.metrics != nil {
				p.metrics.ObservePoll(node.Name, err)
			}
			if err != nil {
				p.logger.Warn("node poll failed",
					zap.String("node", node.Name), zap.Error(err))
				return PollResult{}, err
			}
			return res, nil
		})
	return results
}

func (p *Poller) pollNode(ctx context.Context, node model.Node) (PollResult, error) {
	client, err := p.clients.ClientFor(node)
	if err != nil {
		return PollResult{}, fmt.Errorf("client for %s: %w", node.Name, err)
	}

	// Cheap reachability probe first; on timeout the node sits this tick out.
	bestHash, err := client.GetBestBlockHash(ctx)
	if err != nil {
		if markErr := p.store.MarkNodeUnreachable(ctx, node.ID, p.now()); markErr != nil {
			p.logger.Error("mark node unreachable failed",
				zap.String("node", node.Name), zap.Error(markErr))
		}
		return PollResult{}, fmt.Errorf("%w: %s: %v", ErrNodeUnreachable, node.Name, err)
	}
	if err := p.store.MarkNodeReachable(ctx, node.ID, p.now()); err != nil {
		return PollResult{}, err
	}

	info, err := client.GetBlockchainInfo(ctx)
	if err != nil {
		return PollResult{}, err
	}

	ibd := info.InitialBlockDownload || info.Headers-info.Blocks > p.cfg.IBDHeaderGap
	if err := p.store.SetNodeIBD(ctx, node.ID, ibd); err != nil {
		return PollResult{}, err
	}
	if ibd {
		return PollResult{}, fmt.Errorf("node %s is in initial block download", node.Name)
	}

	res := PollResult{Node: node, BestHash: bestHash, Info: info}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tips, tipErr := client.GetChainTips(gctx)
		if tipErr != nil {
			return tipErr
		}
		res.Tips = tips
		return nil
	})
	g.Go(func() error {
		peers, peerErr := client.GetPeerInfo(gctx)
		if peerErr != nil {
			return peerErr
		}
		res.Peers = peers
		return nil
	})
	if err := g.Wait(); err != nil {
		return PollResult{}, err
	}
	return res, nil
}
