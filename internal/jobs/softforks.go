package jobs

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/clock"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/scanner"
	"go.uber.org/zap"
)

// SoftforkTracker records the deployment status every node reports.
type SoftforkTracker struct {
	store    SoftforkStore
	clients  scanner.ClientFactory
	interval time.Duration
	logger   *zap.Logger
}

// NewSoftforkTracker constructs a SoftforkTracker.
func NewSoftforkTracker(store SoftforkStore, clients scanner.ClientFactory, interval time.Duration, logger *zap.Logger) *SoftforkTracker {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &SoftforkTracker{store: store, clients: clients, interval: interval, logger: logger}
}

// Run refreshes softfork rows once per interval until canceled.
func (t *SoftforkTracker) Run(ctx context.Context) error {
	return clock.Every(ctx, t.interval, t.refresh, func(err error) {
		t.logger.Warn("softfork refresh failed", zap.Error(err))
	})
}

func (t *SoftforkTracker) refresh(ctx context.Context) error {
	nodes, err := t.store.ListEnabledNodes(ctx)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		client, err := t.clients.ClientFor(node)
		if err != nil {
			t.logger.Warn("softfork client failed", zap.String("node", node.Name), zap.Error(err))
			continue
		}
		info, err := client.GetBlockchainInfo(ctx)
		if err != nil {
			t.logger.Warn("softfork poll failed", zap.String("node", node.Name), zap.Error(err))
			continue
		}

		forks := make([]model.Softfork, 0, len(info.Softforks))
		for name, fork := range info.Softforks {
			row := model.Softfork{
				NodeID:   node.ID,
				ForkType: fork.Type,
				Name:     name,
				Active:   fork.Active,
				Since:    fork.Height,
			}
			if fork.BIP9 != nil {
				row.Bit = fork.BIP9.Bit
				if row.Since == nil {
					row.Since = fork.BIP9.Since
				}
			}
			forks = append(forks, row)
		}
		if len(forks) == 0 {
			continue
		}
		if err := t.store.UpsertSoftforks(ctx, forks); err != nil {
			return err
		}
	}
	return nil
}
