package jobs

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/clock"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/scanner"
	"go.uber.org/zap"
)

// AddressWatcher scans fresh blocks for payments touching watched addresses
// and publishes the hits.
type AddressWatcher struct {
	store    WatchStore
	clients  scanner.ClientFactory
	hub      *scanner.Hub
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	lastScanned string
}

// NewAddressWatcher constructs an AddressWatcher.
func NewAddressWatcher(store WatchStore, clients scanner.ClientFactory, hub *scanner.Hub, interval time.Duration, logger *zap.Logger) *AddressWatcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AddressWatcher{
		store:    store,
		clients:  clients,
		hub:      hub,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run scans once per interval until canceled.
func (w *AddressWatcher) Run(ctx context.Context) error {
	return clock.Every(ctx, w.interval, w.scan, func(err error) {
		w.logger.Warn("address scan failed", zap.Error(err))
	})
}

func (w *AddressWatcher) scan(ctx context.Context) error {
	if err := w.store.PurgeExpiredWatched(ctx, w.now()); err != nil {
		return err
	}

	watched, err := w.store.WatchedAddresses(ctx, w.now())
	if err != nil {
		return err
	}
	if len(watched) == 0 {
		return nil
	}
	watchSet := make(map[string]struct{}, len(watched))
	for _, entry := range watched {
		watchSet[entry.Address] = struct{}{}
	}

	node, client, err := w.archiveClient(ctx)
	if err != nil {
		return err
	}
	if client == nil {
		w.logger.Debug("no archive node available for address scan")
		return nil
	}

	best, err := client.GetBestBlockHash(ctx)
	if err != nil {
		return err
	}
	if best == w.lastScanned {
		return nil
	}

	block, err := client.GetBlockVerbose(ctx, best)
	if err != nil {
		return err
	}

	hits := bitcoin.AddressHits(block, watchSet, func(txid string) (*bitcoin.RawTransaction, error) {
		return client.GetRawTransaction(ctx, txid)
	})
	if err := w.store.InsertTransactionAddresses(ctx, hits); err != nil {
		return err
	}
	w.lastScanned = best

	unnotified, err := w.store.UnnotifiedTransactionAddresses(ctx)
	if err != nil {
		return err
	}
	if len(unnotified) == 0 {
		return nil
	}

	w.hub.Publish(scanner.Event{
		Topic:     scanner.TopicWatchedAddresses,
		Payload:   unnotified,
		CreatedAt: w.now(),
	})
	w.logger.Info("watched address hits published",
		zap.String("node", node.Name), zap.Int("hits", len(unnotified)))
	return w.store.MarkTransactionAddressesNotified(ctx, unnotified, w.now())
}

// archiveClient picks the first reachable non-pruned node; input resolution
// needs historical transactions.
func (w *AddressWatcher) archiveClient(ctx context.Context) (model.Node, scanner.NodeClient, error) {
	nodes, err := w.store.ListEnabledNodes(ctx)
	if err != nil {
		return model.Node{}, nil, err
	}
	for _, node := range nodes {
		if !node.Archive || node.UnreachableSince != nil {
			continue
		}
		client, err := w.clients.ClientFor(node)
		if err != nil {
			continue
		}
		return node, client, nil
	}
	return model.Node{}, nil, nil
}
