// Package scanner implements the fork reconciliation engine: node polling,
// chain graph surgery, stale/double-spend analysis, and mirror rollbacks.
package scanner

import (
	"context"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

type (
	// NodeClient is the per-endpoint RPC surface the scanner consumes.
	NodeClient interface {
		GetBestBlockHash(ctx context.Context) (string, error)
		GetBlockchainInfo(ctx context.Context) (*bitcoin.BlockchainInfo, error)
		GetChainTips(ctx context.Context) ([]bitcoin.ChainTip, error)
		GetBlockHeader(ctx context.Context, hash string) (*bitcoin.BlockHeader, error)
		GetBlockVerbose(ctx context.Context, hash string) (*bitcoin.Block, error)
		GetBlockHex(ctx context.Context, hash string) (string, error)
		GetRawTransaction(ctx context.Context, txid string) (*bitcoin.RawTransaction, error)
		GetPeerInfo(ctx context.Context) ([]bitcoin.PeerInfo, error)
		GetBlockFromPeer(ctx context.Context, hash string, peerID int64) error
		SubmitBlock(ctx context.Context, blockHex string) error
		SubmitHeader(ctx context.Context, headerHex string) error
		InvalidateBlock(ctx context.Context, hash string) error
		ReconsiderBlock(ctx context.Context, hash string) error
		SetNetworkActive(ctx context.Context, active bool) error
		GetTxOutsetInfo(ctx context.Context) (*bitcoin.TxOutsetInfo, error)
		GetBlockTemplate(ctx context.Context) (*bitcoin.BlockTemplateResult, error)
		Close()
	}

	// ClientFactory resolves RPC clients for a node's endpoints.
	ClientFactory interface {
		ClientFor(node model.Node) (NodeClient, error)
		MirrorFor(node model.Node) (NodeClient, error)
	}

	// NodeStore is the node bookkeeping surface of the store.
	NodeStore interface {
		ListEnabledNodes(ctx context.Context) ([]model.Node, error)
		MarkNodeUnreachable(ctx context.Context, nodeID int64, since time.Time) error
		MarkNodeReachable(ctx context.Context, nodeID int64, polledAt time.Time) error
		SetNodeIBD(ctx context.Context, nodeID int64, ibd bool) error
		MarkMirrorUnreachable(ctx context.Context, nodeID int64, since time.Time) error
		MarkMirrorReachable(ctx context.Context, nodeID int64) error
	}

	// BlockStore is the block DAG surface of the store.
	BlockStore interface {
		UpsertBlock(ctx context.Context, b model.Block) (model.Block, error)
		GetBlock(ctx context.Context, hash string) (*model.Block, error)
		BlocksAtHeight(ctx context.Context, height int64) ([]model.Block, error)
		MaxHeight(ctx context.Context) (int64, error)
		BlockChildren(ctx context.Context, hash string) ([]model.Block, error)
		SetBlockTxInfo(ctx context.Context, hash string, txids []string, coinbase []byte, poolName string) error
		StaleCandidateHeights(ctx context.Context, minHeight int64) ([]int64, error)
	}

	// MarkStore records per-node validity judgements.
	MarkStore interface {
		MarkBlockValid(ctx context.Context, hash string, nodeID int64, at time.Time) error
		MarkBlockInvalid(ctx context.Context, hash string, nodeID int64, at time.Time) error
		MarkedValidBy(ctx context.Context, hash string, nodeID int64) (bool, error)
		MarkedInvalidBy(ctx context.Context, hash string, nodeID int64) (bool, error)
		RecentConflicts(ctx context.Context, since time.Time) ([]model.ConflictingBlock, error)
	}

	// TipStore is the chaintip surface of the store.
	TipStore interface {
		ActiveTip(ctx context.Context, nodeID int64) (*model.Chaintip, error)
		GetTip(ctx context.Context, tipID int64) (*model.Chaintip, error)
		SetActiveTip(ctx context.Context, nodeID int64, hash string, height int64, parentBlock string) (bool, error)
		InsertTip(ctx context.Context, nodeID int64, hash string, height int64, status model.TipStatus, parentBlock string) error
		PurgeForkTips(ctx context.Context, nodeID int64) error
		ListActiveTips(ctx context.Context) ([]model.Chaintip, error)
		ListUnparentedActiveTipsBelow(ctx context.Context, height, minHeight int64) ([]model.Chaintip, error)
		ListActiveTipsAbove(ctx context.Context, height int64) ([]model.Chaintip, error)
		ListInvalidTipsAtLeast(ctx context.Context, minHeight int64) ([]model.Chaintip, error)
		SetTipParent(ctx context.Context, tipID int64, parent *int64) error
	}

	// StaleStore is the stale-candidate surface of the store.
	StaleStore interface {
		CreateStaleCandidate(ctx context.Context, height int64, nChildren int) (bool, error)
		TopStaleCandidates(ctx context.Context, n int) ([]model.StaleCandidate, error)
		StaleCandidatesAtLeast(ctx context.Context, height int64) ([]model.StaleCandidate, error)
		UpdateStaleCandidate(ctx context.Context, c model.StaleCandidate) error
		ReplaceStaleCandidateChildren(ctx context.Context, height int64, children []model.StaleCandidateChild) error
		StaleCandidateChildren(ctx context.Context, height int64) ([]model.StaleCandidateChild, error)
		ReplaceDoubleSpentBy(ctx context.Context, height int64, txids []string) error
		ReplaceRBFBy(ctx context.Context, height int64, txids []string) error
	}

	// TxStore is the transaction surface of the store.
	TxStore interface {
		InsertTransactions(ctx context.Context, txs []model.Transaction) error
		BlockTransactionCount(ctx context.Context, blockHash string) (int, error)
		BranchTransactions(ctx context.Context, rootHash string, maxHeight int64) ([]model.Transaction, error)
		TransactionAmountSum(ctx context.Context, txids []string) (float64, error)
	}

	// LagStore tracks lagging-node intervals.
	LagStore interface {
		OpenLag(ctx context.Context, nodeID int64, at time.Time) error
		CloseLag(ctx context.Context, nodeID int64, at time.Time) error
		ListOpenLags(ctx context.Context) ([]model.Lag, error)
	}

	// WatchStore is the watched-address surface of the store.
	WatchStore interface {
		WatchedAddresses(ctx context.Context, at time.Time) ([]model.Watched, error)
	}

	// PoolStore resolves coinbase tags to mining pools.
	PoolStore interface {
		ListPoolTags(ctx context.Context) ([]model.PoolTag, error)
	}

	// Store is the full transactional surface the scanner writes through.
	Store interface {
		NodeStore
		BlockStore
		MarkStore
		TipStore
		StaleStore
		TxStore
		LagStore
		WatchStore
		PoolStore
	}

	// ScannerMetrics aggregates the tick-level instrumentation points.
	ScannerMetrics interface {
		ObserveTick(err error, started time.Time)
		ObservePoll(node string, err error)
		SetLiveStaleCandidates(n int)
		ObserveRollback(err error)
		ObservePublish(topic string)
	}
)

// Config carries the scanner's operator-tunable knobs.
type Config struct {
	MaxDepth           int64
	StaleWindow        int64
	DoubleSpendRange   int64
	PollInterval       time.Duration
	RPCTimeout         time.Duration
	RollbackCounterMax int
	LagBlocks          int64
	IBDHeaderGap       int64
	ClassifyDepth      int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:           10,
		StaleWindow:        100,
		DoubleSpendRange:   30,
		PollInterval:       15 * time.Second,
		RPCTimeout:         30 * time.Second,
		RollbackCounterMax: 100,
		LagBlocks:          2,
		IBDHeaderGap:       10,
		ClassifyDepth:      3,
	}
}

// normalized fills zero values with defaults so partially built configs in
// tests behave.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.StaleWindow <= 0 {
		c.StaleWindow = def.StaleWindow
	}
	if c.DoubleSpendRange <= 0 {
		c.DoubleSpendRange = def.DoubleSpendRange
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = def.RPCTimeout
	}
	if c.RollbackCounterMax <= 0 {
		c.RollbackCounterMax = def.RollbackCounterMax
	}
	if c.LagBlocks <= 0 {
		c.LagBlocks = def.LagBlocks
	}
	if c.IBDHeaderGap <= 0 {
		c.IBDHeaderGap = def.IBDHeaderGap
	}
	if c.ClassifyDepth <= 0 {
		c.ClassifyDepth = def.ClassifyDepth
	}
	return c
}

// PollResult is one node's answers for a tick.
type PollResult struct {
	Node     model.Node
	BestHash string
	Info     *bitcoin.BlockchainInfo
	Tips     []bitcoin.ChainTip
	Peers    []bitcoin.PeerInfo
}
