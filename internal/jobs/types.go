// Package jobs hosts the periodic auxiliary watchers that sit beside the
// reconciliation loop: inflation checks, block templates, softforks, pool
// tags and watched addresses.
package jobs

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

//go:generate mockgen -destination=mocks_test.go -package=jobs github.com/goodnatureofminers/forkscanner7000-backend/internal/jobs InflationStore

type (
	// NodeLister exposes the node inventory jobs iterate over.
	NodeLister interface {
		ListEnabledNodes(ctx context.Context) ([]model.Node, error)
	}

	// InflationStore is the storage surface of the inflation checker.
	InflationStore interface {
		NodeLister
		GetBlock(ctx context.Context, hash string) (*model.Block, error)
		GetTxOutset(ctx context.Context, blockHash string, nodeID int64) (*model.TxOutset, error)
		UpsertTxOutset(ctx context.Context, o model.TxOutset) error
		InsertInflatedBlock(ctx context.Context, b model.InflatedBlock) error
	}

	// TemplateStore is the storage surface of the template tracker.
	TemplateStore interface {
		NodeLister
		UpsertBlockTemplate(ctx context.Context, t model.BlockTemplate, rates []model.FeeRate) error
		SetBlockTotalFee(ctx context.Context, hash string, totalFee float64) error
		BlockTemplate(ctx context.Context, parentHash string, nodeID int64) (*model.BlockTemplate, error)
	}

	// SoftforkStore is the storage surface of the softfork tracker.
	SoftforkStore interface {
		NodeLister
		UpsertSoftforks(ctx context.Context, forks []model.Softfork) error
	}

	// PoolStore is the storage surface of the pool tag loader.
	PoolStore interface {
		UpsertPoolTags(ctx context.Context, tags []model.PoolTag) error
	}

	// WatchStore is the storage surface of the address watcher.
	WatchStore interface {
		NodeLister
		WatchedAddresses(ctx context.Context, at time.Time) ([]model.Watched, error)
		PurgeExpiredWatched(ctx context.Context, at time.Time) error
		InsertTransactionAddresses(ctx context.Context, hits []model.TransactionAddress) error
		UnnotifiedTransactionAddresses(ctx context.Context) ([]model.TransactionAddress, error)
		MarkTransactionAddressesNotified(ctx context.Context, hits []model.TransactionAddress, at time.Time) error
	}
)
