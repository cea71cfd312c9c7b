package scanner

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
	"github.com/goodnatureofminers/forkscanner7000-backend/pkg/batcher"
	"go.uber.org/zap"
)

const (
	txFlushSize     = 500
	txFlushInterval = time.Second
	txFlushRPS      = 10
)

// Classifier loads the transactions of competing fork branches and separates
// genuine double spends from replace-by-fee bumps.
type Classifier struct {
	store   Store
	clients ClientFactory
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewClassifier constructs a Classifier.
func NewClassifier(store Store, clients ClientFactory, cfg Config, logger *zap.Logger) *Classifier {
	return &Classifier{
		store:   store,
		clients: clients,
		cfg:     cfg.normalized(),
		logger:  logger,
		now:     time.Now,
	}
}

// Classify processes the given stale candidates in the order given. Candidates
// whose branches are not fully hydrated are deferred, not failed.
func (c *Classifier) Classify(ctx context.Context, candidates []model.StaleCandidate, nodes map[int64]model.Node, maxHeight int64) error {
	for _, candidate := range candidates {
		if err := c.classifyOne(ctx, candidate, nodes, maxHeight); err != nil {
			c.logger.Warn("candidate classification failed",
				zap.Int64("height", candidate.Height), zap.Error(err))
		}
	}
	return nil
}

func (c *Classifier) classifyOne(ctx context.Context, candidate model.StaleCandidate, nodes map[int64]model.Node, maxHeight int64) error {
	if err := c.hydrateBranches(ctx, candidate, nodes); err != nil {
		return err
	}

	shortest, longest, err := c.pickBranches(ctx, candidate)
	if err != nil {
		return err
	}
	if shortest == nil || longest == nil {
		return nil
	}

	ready, err := c.branchesHydrated(ctx, *shortest, *longest)
	if err != nil {
		return err
	}
	if !ready {
		candidate.MissingTransactions = true
		return c.store.UpdateStaleCandidate(ctx, candidate)
	}

	limit := candidate.Height + c.cfg.DoubleSpendRange
	shortTxs, err := c.store.BranchTransactions(ctx, shortest.RootHash, limit)
	if err != nil {
		return err
	}
	longTxs, err := c.store.BranchTransactions(ctx, longest.RootHash, limit)
	if err != nil {
		return err
	}

	confirmed := confirmedInOneBranch(shortTxs, longTxs, shortest.Length == longest.Length)
	confirmedTotal, err := c.store.TransactionAmountSum(ctx, confirmed)
	if err != nil {
		return err
	}

	doubleSpent, doubleSpentBy, rbf, rbfBy, err := classifyConflicts(shortTxs, longTxs)
	if err != nil {
		return err
	}

	doubleSpentTotal, err := c.store.TransactionAmountSum(ctx, doubleSpent)
	if err != nil {
		return err
	}
	rbfTotal, err := c.store.TransactionAmountSum(ctx, rbf)
	if err != nil {
		return err
	}

	if err := c.store.ReplaceDoubleSpentBy(ctx, candidate.Height, doubleSpentBy); err != nil {
		return err
	}
	if err := c.store.ReplaceRBFBy(ctx, candidate.Height, rbfBy); err != nil {
		return err
	}

	candidate.ConfirmedInOneBranchTotal = confirmedTotal
	candidate.DoubleSpentInOneBranchTotal = doubleSpentTotal
	candidate.RBFTotal = rbfTotal
	candidate.MissingTransactions = false
	candidate.HeightProcessed = &maxHeight
	return c.store.UpdateStaleCandidate(ctx, candidate)
}

// hydrateBranches fetches full blocks (verbosity 2) for every branch block
// out to the double-spend range whose transactions are not stored yet.
func (c *Classifier) hydrateBranches(ctx context.Context, candidate model.StaleCandidate, nodes map[int64]model.Node) error {
	watched, err := c.store.WatchedAddresses(ctx, c.now())
	if err != nil {
		return err
	}
	watchSet := make(map[string]struct{}, len(watched))
	for _, w := range watched {
		watchSet[w.Address] = struct{}{}
	}
	poolTags, err := c.store.ListPoolTags(ctx)
	if err != nil {
		return err
	}

	flush := batcher.New[model.Transaction](
		c.logger.Named("txBatcher"),
		func(ctx context.Context, txs []model.Transaction) error {
			return c.store.InsertTransactions(ctx, txs)
		},
		txFlushSize, txFlushInterval, txFlushRPS,
	)
	flush.Start(ctx)
	defer flush.Stop()

	limit := candidate.Height + c.cfg.DoubleSpendRange
	queue, err := c.store.BlocksAtHeight(ctx, candidate.Height)
	if err != nil {
		return err
	}

	for len(queue) > 0 {
		block := queue[0]
		queue = queue[1:]

		if block.Height > limit {
			continue
		}
		children, err := c.store.BlockChildren(ctx, block.Hash)
		if err != nil {
			return err
		}
		queue = append(queue, children...)

		if block.HeadersOnly {
			continue
		}
		count, err := c.store.BlockTransactionCount(ctx, block.Hash)
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := c.hydrateBlock(ctx, block, nodes, watchSet, poolTags, flush); err != nil {
			c.logger.Warn("block hydration failed",
				zap.String("block", block.Hash), zap.Error(err))
		}
	}
	return nil
}

func (c *Classifier) hydrateBlock(ctx context.Context, block model.Block, nodes map[int64]model.Node, watched map[string]struct{}, poolTags []model.PoolTag, flush *batcher.Batcher[model.Transaction]) error {
	node, ok := nodes[block.FirstSeenBy]
	if !ok {
		return fmt.Errorf("no client for node %d", block.FirstSeenBy)
	}
	client, err := c.clients.ClientFor(node)
	if err != nil {
		return err
	}

	verbose, err := client.GetBlockVerbose(ctx, block.Hash)
	if err != nil {
		return err
	}

	for _, row := range bitcoin.TransactionRows(verbose, watched) {
		if err := flush.Add(ctx, row); err != nil {
			return err
		}
	}

	coinbase := bitcoin.CoinbaseMessage(verbose)
	return c.store.SetBlockTxInfo(ctx, block.Hash, bitcoin.TxIDs(verbose), coinbase, bitcoin.PoolName(coinbase, poolTags))
}

// pickBranches returns the shortest and longest branch of a candidate. Equal
// lengths fall back to comparing tip work, heavier branch winning the
// longest slot.
func (c *Classifier) pickBranches(ctx context.Context, candidate model.StaleCandidate) (shortest, longest *model.StaleCandidateChild, err error) {
	children, err := c.store.StaleCandidateChildren(ctx, candidate.Height)
	if err != nil {
		return nil, nil, err
	}
	if len(children) < 2 {
		return nil, nil, nil
	}

	s, l := children[0], children[len(children)-1]
	if s.Length == l.Length {
		sTip, err := c.store.GetBlock(ctx, s.TipHash)
		if err != nil {
			return nil, nil, err
		}
		lTip, err := c.store.GetBlock(ctx, l.TipHash)
		if err != nil {
			return nil, nil, err
		}
		if sTip != nil && lTip != nil && model.CompareWork(sTip.Work, lTip.Work) > 0 {
			s, l = l, s
		}
	}
	return &s, &l, nil
}

func (c *Classifier) branchesHydrated(ctx context.Context, branches ...model.StaleCandidateChild) (bool, error) {
	for _, branch := range branches {
		root, err := c.store.GetBlock(ctx, branch.RootHash)
		if err != nil {
			return false, err
		}
		if root == nil || root.HeadersOnly {
			return false, nil
		}
		count, err := c.store.BlockTransactionCount(ctx, root.Hash)
		if err != nil {
			return false, err
		}
		if count == 0 {
			return false, nil
		}
	}
	return true, nil
}

// confirmedInOneBranch returns txids present in exactly one branch. For
// branches of equal length neither is canonical, so both unique sets count.
func confirmedInOneBranch(shortTxs, longTxs []model.Transaction, equalLength bool) []string {
	short := txidSet(shortTxs)
	long := txidSet(longTxs)

	var confirmed []string
	for txid := range short {
		if _, ok := long[txid]; !ok {
			confirmed = append(confirmed, txid)
		}
	}
	if equalLength {
		for txid := range long {
			if _, ok := short[txid]; !ok {
				confirmed = append(confirmed, txid)
			}
		}
	}
	sort.Strings(confirmed)
	return confirmed
}

func txidSet(txs []model.Transaction) map[string]struct{} {
	set := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		set[tx.TxID] = struct{}{}
	}
	return set
}

type parsedTx struct {
	row model.Transaction
	msg *wire.MsgTx
}

// classifyConflicts builds the outpoint map of each branch and splits pairs
// spending the same outpoint into double spends and RBF replacements.
func classifyConflicts(shortTxs, longTxs []model.Transaction) (doubleSpent, doubleSpentBy, rbf, rbfBy []string, err error) {
	shortMap, err := outpointMap(shortTxs)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	longMap, err := outpointMap(longTxs)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	dsShort := make(map[string]struct{})
	dsLong := make(map[string]struct{})
	rbfShort := make(map[string]struct{})
	rbfLong := make(map[string]struct{})

	for key, shortTx := range shortMap {
		longTx, ok := longMap[key]
		if !ok || shortTx.row.TxID == longTx.row.TxID {
			continue
		}
		if isRBF(shortTx.msg, longTx.msg) {
			rbfShort[shortTx.row.TxID] = struct{}{}
			rbfLong[longTx.row.TxID] = struct{}{}
		} else {
			dsShort[shortTx.row.TxID] = struct{}{}
			dsLong[longTx.row.TxID] = struct{}{}
		}
	}

	return setToSlice(dsShort), setToSlice(dsLong), setToSlice(rbfShort), setToSlice(rbfLong), nil
}

func outpointMap(txs []model.Transaction) (map[string]parsedTx, error) {
	out := make(map[string]parsedTx)
	for _, tx := range txs {
		if tx.IsCoinbase {
			continue
		}
		msg, err := decodeTx(tx.Hex)
		if err != nil {
			return nil, fmt.Errorf("decode tx %s: %w", tx.TxID, err)
		}
		for _, in := range msg.TxIn {
			key := fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index)
			out[key] = parsedTx{row: tx, msg: msg}
		}
	}
	return out, nil
}

func decodeTx(txHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, err
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return &msg, nil
}

// isRBF reports whether b replaces a: same outpoints consumed, same number
// of outputs, and pairwise-identical output scripts after sorting. Fees may
// differ, which is the point of the bump.
func isRBF(a, b *wire.MsgTx) bool {
	if len(a.TxIn) != len(b.TxIn) || len(a.TxOut) != len(b.TxOut) {
		return false
	}

	aIn := inputKeys(a)
	bIn := inputKeys(b)
	for i := range aIn {
		if aIn[i] != bIn[i] {
			return false
		}
	}

	aOut := outputScripts(a)
	bOut := outputScripts(b)
	for i := range aOut {
		if aOut[i] != bOut[i] {
			return false
		}
	}
	return true
}

func inputKeys(tx *wire.MsgTx) []string {
	keys := make([]string, 0, len(tx.TxIn))
	for _, in := range tx.TxIn {
		keys = append(keys, fmt.Sprintf("%s:%d", in.PreviousOutPoint.Hash, in.PreviousOutPoint.Index))
	}
	sort.Strings(keys)
	return keys
}

func outputScripts(tx *wire.MsgTx) []string {
	scripts := make([]string, 0, len(tx.TxOut))
	for _, out := range tx.TxOut {
		scripts = append(scripts, hex.EncodeToString(out.PkScript))
	}
	sort.Strings(scripts)
	return scripts
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
