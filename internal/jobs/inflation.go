package jobs

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/clock"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/scanner"
	"go.uber.org/zap"
)

const (
	halvingInterval = 210_000
	initialSubsidy  = 50.0
	// Float noise from summing the UTXO set; anything below a satoshi is not
	// inflation.
	inflationEpsilon = 1e-8
)

// InflationChecker compares UTXO set totals between consecutive blocks on
// mirror nodes and flags supply increases beyond the allowed subsidy.
type InflationChecker struct {
	store    InflationStore
	clients  scanner.ClientFactory
	interval time.Duration
	logger   *zap.Logger
}

// NewInflationChecker constructs an InflationChecker.
func NewInflationChecker(store InflationStore, clients scanner.ClientFactory, interval time.Duration, logger *zap.Logger) *InflationChecker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &InflationChecker{store: store, clients: clients, interval: interval, logger: logger}
}

// Run checks every mirror node once per interval until canceled.
func (c *InflationChecker) Run(ctx context.Context) error {
	return clock.Every(ctx, c.interval, c.check, func(err error) {
		c.logger.Warn("inflation check failed", zap.Error(err))
	})
}

func (c *InflationChecker) check(ctx context.Context) error {
	nodes, err := c.store.ListEnabledNodes(ctx)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if !node.HasMirror() {
			continue
		}
		if err := c.checkNode(ctx, node); err != nil {
			c.logger.Warn("inflation check failed for node",
				zap.String("node", node.Name), zap.Error(err))
		}
	}
	return nil
}

// checkNode runs gettxoutsetinfo on the mirror; the scan freezes the node
// for seconds, which is exactly what the mirror port exists for.
func (c *InflationChecker) checkNode(ctx context.Context, node model.Node) error {
	mirror, err := c.clients.MirrorFor(node)
	if err != nil {
		return err
	}

	info, err := mirror.GetTxOutsetInfo(ctx)
	if err != nil {
		return err
	}

	existing, err := c.store.GetTxOutset(ctx, info.BestBlock, node.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	inflated := false
	block, err := c.store.GetBlock(ctx, info.BestBlock)
	if err != nil {
		return err
	}
	if block != nil && block.ParentHash != "" {
		previous, err := c.store.GetTxOutset(ctx, block.ParentHash, node.ID)
		if err != nil {
			return err
		}
		if previous != nil {
			delta := info.TotalAmount - previous.TotalAmount
			allowed := BlockSubsidy(info.Height)
			if delta > allowed+inflationEpsilon {
				inflated = true
				if err := c.store.InsertInflatedBlock(ctx, model.InflatedBlock{
					BlockHash:       info.BestBlock,
					NodeID:          node.ID,
					MaxInflation:    allowed,
					ActualInflation: delta,
				}); err != nil {
					return err
				}
				c.logger.Error("inflation detected",
					zap.String("node", node.Name),
					zap.String("block", info.BestBlock),
					zap.Float64("allowed", allowed),
					zap.Float64("actual", delta))
			}
		}
	}

	return c.store.UpsertTxOutset(ctx, model.TxOutset{
		BlockHash:   info.BestBlock,
		NodeID:      node.ID,
		TxOuts:      info.TxOuts,
		TotalAmount: info.TotalAmount,
		Inflated:    inflated,
	})
}

// BlockSubsidy returns the maximum coinbase reward for a height in BTC,
// halving every 210000 blocks.
func BlockSubsidy(height int64) float64 {
	halvings := height / halvingInterval
	if halvings >= 64 {
		return 0
	}
	subsidy := initialSubsidy
	for i := int64(0); i < halvings; i++ {
		subsidy /= 2
	}
	return subsidy
}
