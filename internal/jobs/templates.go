package jobs

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/clock"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/scanner"
	"go.uber.org/zap"
)

const satsPerBTC = 100_000_000

// TemplateTracker snapshots getblocktemplate per node so block fee totals
// can be compared against what miners left out.
type TemplateTracker struct {
	store    TemplateStore
	clients  scanner.ClientFactory
	interval time.Duration
	logger   *zap.Logger
}

// NewTemplateTracker constructs a TemplateTracker.
func NewTemplateTracker(store TemplateStore, clients scanner.ClientFactory, interval time.Duration, logger *zap.Logger) *TemplateTracker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &TemplateTracker{store: store, clients: clients, interval: interval, logger: logger}
}

// Run snapshots templates once per interval until canceled.
func (t *TemplateTracker) Run(ctx context.Context) error {
	return clock.Every(ctx, t.interval, t.snapshot, func(err error) {
		t.logger.Warn("template snapshot failed", zap.Error(err))
	})
}

func (t *TemplateTracker) snapshot(ctx context.Context) error {
	nodes, err := t.store.ListEnabledNodes(ctx)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if err := t.snapshotNode(ctx, node); err != nil {
			t.logger.Warn("template snapshot failed for node",
				zap.String("node", node.Name), zap.Error(err))
		}
	}
	return nil
}

func (t *TemplateTracker) snapshotNode(ctx context.Context, node model.Node) error {
	client, err := t.clients.ClientFor(node)
	if err != nil {
		return err
	}

	tpl, err := client.GetBlockTemplate(ctx)
	if err != nil {
		return err
	}

	var (
		feeTotal int64
		txids    = make([]string, 0, len(tpl.Transactions))
		rates    = make([]model.FeeRate, 0, len(tpl.Transactions))
		lowest   = 0
	)
	for _, tx := range tpl.Transactions {
		feeTotal += tx.Fee
		txids = append(txids, tx.TxID)

		// sat/vB with the template's weight units.
		rate := 0
		if tx.Weight > 0 {
			rate = int(tx.Fee * 4 / tx.Weight)
		}
		rates = append(rates, model.FeeRate{
			ParentBlockHash: tpl.PreviousBlockHash,
			NodeID:          node.ID,
			FeeRate:         rate,
		})
		if lowest == 0 || rate < lowest {
			lowest = rate
		}
	}

	return t.store.UpsertBlockTemplate(ctx, model.BlockTemplate{
		ParentBlockHash: tpl.PreviousBlockHash,
		NodeID:          node.ID,
		FeeTotal:        float64(feeTotal) / satsPerBTC,
		Timestamp:       time.Now().UTC(),
		Height:          tpl.Height,
		NTransactions:   len(tpl.Transactions),
		TxIDs:           txids,
		LowestFeeRate:   lowest,
	}, rates)
}

// RecordBlockFee stamps a mined block's fee total from the template that
// was current for its parent.
func (t *TemplateTracker) RecordBlockFee(ctx context.Context, block model.Block, nodeID int64) error {
	tpl, err := t.store.BlockTemplate(ctx, block.ParentHash, nodeID)
	if err != nil || tpl == nil {
		return err
	}
	return t.store.SetBlockTotalFee(ctx, block.Hash, tpl.FeeTotal)
}
