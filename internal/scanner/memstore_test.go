package scanner

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// memStore is an in-memory Store with the same semantics as the postgres
// repository, precise enough for the scenario tests.
type memStore struct {
	mu sync.Mutex

	nodes      map[int64]model.Node
	blocks     map[string]model.Block
	tips       map[int64]model.Chaintip
	nextTipID  int64
	validBy    map[string]map[int64]time.Time
	invalidBy  map[string]map[int64]time.Time
	candidates map[int64]model.StaleCandidate
	children   map[int64][]model.StaleCandidateChild
	dsBy       map[int64][]string
	rbfBy      map[int64][]string
	txs        map[string]map[string]model.Transaction
	lags       map[int64]model.Lag
	watched    []model.Watched
	poolTags   []model.PoolTag

	seenSeq int64
}

func newMemStore() *memStore {
	return &memStore{
		nodes:      make(map[int64]model.Node),
		blocks:     make(map[string]model.Block),
		tips:       make(map[int64]model.Chaintip),
		nextTipID:  1,
		validBy:    make(map[string]map[int64]time.Time),
		invalidBy:  make(map[string]map[int64]time.Time),
		candidates: make(map[int64]model.StaleCandidate),
		children:   make(map[int64][]model.StaleCandidateChild),
		dsBy:       make(map[int64][]string),
		rbfBy:      make(map[int64][]string),
		txs:        make(map[string]map[string]model.Transaction),
		lags:       make(map[int64]model.Lag),
	}
}

func (m *memStore) addNode(n model.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes[n.ID] = n
}

func (m *memStore) ListEnabledNodes(context.Context) ([]model.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]model.Node, 0, len(ids))
	for _, id := range ids {
		if m.nodes[id].Enabled {
			out = append(out, m.nodes[id])
		}
	}
	return out, nil
}

func (m *memStore) MarkNodeUnreachable(_ context.Context, nodeID int64, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[nodeID]
	if n.UnreachableSince == nil {
		n.UnreachableSince = &since
	}
	m.nodes[nodeID] = n
	return nil
}

func (m *memStore) MarkNodeReachable(_ context.Context, nodeID int64, polledAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[nodeID]
	n.UnreachableSince = nil
	n.LastPolled = &polledAt
	m.nodes[nodeID] = n
	return nil
}

func (m *memStore) SetNodeIBD(_ context.Context, nodeID int64, ibd bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[nodeID]
	n.InitialBlockDownload = ibd
	m.nodes[nodeID] = n
	return nil
}

func (m *memStore) MarkMirrorUnreachable(_ context.Context, nodeID int64, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[nodeID]
	if n.MirrorUnreachableSince == nil {
		n.MirrorUnreachableSince = &since
	}
	m.nodes[nodeID] = n
	return nil
}

func (m *memStore) MarkMirrorReachable(_ context.Context, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nodes[nodeID]
	n.MirrorUnreachableSince = nil
	m.nodes[nodeID] = n
	return nil
}

func (m *memStore) UpsertBlock(_ context.Context, b model.Block) (model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.blocks[b.Hash]
	if ok {
		existing.HeadersOnly = existing.HeadersOnly && b.HeadersOnly
		existing.Work = b.Work
		m.blocks[b.Hash] = existing
	} else {
		m.seenSeq++
		b.FirstSeenAt = time.Unix(m.seenSeq, 0)
		if b.ParentHash == model.ZeroHash {
			b.ParentHash = ""
		}
		b.Connected = false
		m.blocks[b.Hash] = b
	}
	m.connect(b.Hash)
	return m.blocks[b.Hash], nil
}

// connect recomputes connectivity for a block and its stored descendants.
func (m *memStore) connect(hash string) {
	b, ok := m.blocks[hash]
	if !ok {
		return
	}
	_, parentKnown := m.blocks[b.ParentHash]
	if b.ParentHash == "" || parentKnown {
		b.Connected = true
		m.blocks[hash] = b
	}
	if !b.Connected {
		return
	}
	for childHash, child := range m.blocks {
		if child.ParentHash == hash && !child.Connected {
			m.connect(childHash)
		}
	}
}

func (m *memStore) GetBlock(_ context.Context, hash string) (*model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.blocks[hash]; ok {
		copied := b
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) BlocksAtHeight(_ context.Context, height int64) ([]model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Block
	for _, b := range m.blocks {
		if b.Height == height {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstSeenAt.Before(out[j].FirstSeenAt) })
	return out, nil
}

func (m *memStore) MaxHeight(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max int64
	for _, b := range m.blocks {
		if b.Height > max {
			max = b.Height
		}
	}
	return max, nil
}

func (m *memStore) BlockChildren(_ context.Context, hash string) ([]model.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Block
	for _, b := range m.blocks {
		if b.ParentHash == hash {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return model.CompareWork(out[i].Work, out[j].Work) > 0 })
	return out, nil
}

func (m *memStore) SetBlockTxInfo(_ context.Context, hash string, txids []string, coinbase []byte, poolName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[hash]
	if !ok {
		return nil
	}
	b.TxIDs = txids
	b.CoinbaseMessage = coinbase
	if poolName != "" {
		b.PoolName = poolName
	}
	b.HeadersOnly = false
	m.blocks[hash] = b
	return nil
}

func (m *memStore) StaleCandidateHeights(_ context.Context, minHeight int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHeight := make(map[int64][]model.Block)
	for _, b := range m.blocks {
		byHeight[b.Height] = append(byHeight[b.Height], b)
	}
	var out []int64
	for height, blocks := range byHeight {
		if height <= minHeight || len(blocks) < 2 {
			continue
		}
		invalid := false
		for _, b := range blocks {
			if len(m.invalidBy[b.Hash]) > 0 {
				invalid = true
				break
			}
		}
		if !invalid {
			out = append(out, height)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func markIn(marks map[string]map[int64]time.Time, hash string, nodeID int64, at time.Time) {
	if marks[hash] == nil {
		marks[hash] = make(map[int64]time.Time)
	}
	if _, ok := marks[hash][nodeID]; !ok {
		marks[hash][nodeID] = at
	}
}

func (m *memStore) MarkBlockValid(_ context.Context, hash string, nodeID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	markIn(m.validBy, hash, nodeID, at)
	return nil
}

func (m *memStore) MarkBlockInvalid(_ context.Context, hash string, nodeID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	markIn(m.invalidBy, hash, nodeID, at)
	return nil
}

func (m *memStore) MarkedValidBy(_ context.Context, hash string, nodeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.validBy[hash][nodeID]
	return ok, nil
}

func (m *memStore) MarkedInvalidBy(_ context.Context, hash string, nodeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.invalidBy[hash][nodeID]
	return ok, nil
}

func (m *memStore) RecentConflicts(_ context.Context, since time.Time) ([]model.ConflictingBlock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.ConflictingBlock
	for hash, invalid := range m.invalidBy {
		valid := m.validBy[hash]
		if len(valid) == 0 {
			continue
		}
		recent := false
		var invalidIDs []int64
		for nodeID, at := range invalid {
			invalidIDs = append(invalidIDs, nodeID)
			if at.After(since) {
				recent = true
			}
		}
		if !recent {
			continue
		}
		var validIDs []int64
		for nodeID := range valid {
			validIDs = append(validIDs, nodeID)
		}
		sort.Slice(validIDs, func(i, j int) bool { return validIDs[i] < validIDs[j] })
		sort.Slice(invalidIDs, func(i, j int) bool { return invalidIDs[i] < invalidIDs[j] })
		out = append(out, model.ConflictingBlock{Hash: hash, ValidBy: validIDs, InvalidBy: invalidIDs})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}

func (m *memStore) ActiveTip(_ context.Context, nodeID int64) (*model.Chaintip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tip := range m.tips {
		if tip.NodeID == nodeID && tip.Status == model.TipActive {
			copied := tip
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetTip(_ context.Context, tipID int64) (*model.Chaintip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tip, ok := m.tips[tipID]; ok {
		copied := tip
		return &copied, nil
	}
	return nil, nil
}

func (m *memStore) SetActiveTip(_ context.Context, nodeID int64, hash string, height int64, parentBlock string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, tip := range m.tips {
		if tip.NodeID != nodeID || tip.Status != model.TipActive {
			continue
		}
		if tip.BlockHash == hash {
			return false, nil
		}
		for otherID, other := range m.tips {
			if other.ParentChaintip != nil && *other.ParentChaintip == id {
				other.ParentChaintip = nil
				m.tips[otherID] = other
			}
		}
		tip.BlockHash = hash
		tip.Height = height
		tip.ParentChaintip = nil
		tip.ParentBlock = parentBlock
		m.tips[id] = tip
		return true, nil
	}

	id := m.nextTipID
	m.nextTipID++
	m.tips[id] = model.Chaintip{
		ID: id, NodeID: nodeID, Status: model.TipActive,
		BlockHash: hash, Height: height, ParentBlock: parentBlock,
	}
	return true, nil
}

func (m *memStore) InsertTip(_ context.Context, nodeID int64, hash string, height int64, status model.TipStatus, parentBlock string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextTipID
	m.nextTipID++
	m.tips[id] = model.Chaintip{
		ID: id, NodeID: nodeID, Status: status,
		BlockHash: hash, Height: height, ParentBlock: parentBlock,
	}
	return nil
}

func (m *memStore) PurgeForkTips(_ context.Context, nodeID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tip := range m.tips {
		if tip.NodeID == nodeID && tip.Status != model.TipActive {
			delete(m.tips, id)
		}
	}
	return nil
}

func (m *memStore) listTips(filter func(model.Chaintip) bool) []model.Chaintip {
	ids := make([]int64, 0, len(m.tips))
	for id := range m.tips {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []model.Chaintip
	for _, id := range ids {
		if filter(m.tips[id]) {
			out = append(out, m.tips[id])
		}
	}
	return out
}

func (m *memStore) ListActiveTips(context.Context) ([]model.Chaintip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTips(func(t model.Chaintip) bool { return t.Status == model.TipActive }), nil
}

func (m *memStore) ListUnparentedActiveTipsBelow(_ context.Context, height, minHeight int64) ([]model.Chaintip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTips(func(t model.Chaintip) bool {
		return t.Status == model.TipActive && t.ParentChaintip == nil &&
			t.Height < height && t.Height >= minHeight
	}), nil
}

func (m *memStore) ListActiveTipsAbove(_ context.Context, height int64) ([]model.Chaintip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTips(func(t model.Chaintip) bool {
		return t.Status == model.TipActive && t.Height > height
	}), nil
}

func (m *memStore) ListInvalidTipsAtLeast(_ context.Context, minHeight int64) ([]model.Chaintip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listTips(func(t model.Chaintip) bool {
		return t.Status == model.TipInvalid && t.Height >= minHeight
	}), nil
}

func (m *memStore) SetTipParent(_ context.Context, tipID int64, parent *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tip, ok := m.tips[tipID]
	if !ok {
		return nil
	}
	tip.ParentChaintip = parent
	m.tips[tipID] = tip
	return nil
}

func (m *memStore) CreateStaleCandidate(_ context.Context, height int64, nChildren int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.candidates[height]; ok {
		if existing.NChildren == nChildren {
			return false, nil
		}
		existing.NChildren = nChildren
		m.candidates[height] = existing
		return true, nil
	}
	m.candidates[height] = model.StaleCandidate{
		Height: height, NChildren: nChildren, CreatedAt: time.Unix(height, 0),
	}
	return true, nil
}

func (m *memStore) TopStaleCandidates(_ context.Context, n int) ([]model.StaleCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sortedCandidates()
	sort.Slice(out, func(i, j int) bool { return out[i].Height > out[j].Height })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *memStore) sortedCandidates() []model.StaleCandidate {
	out := make([]model.StaleCandidate, 0, len(m.candidates))
	for _, c := range m.candidates {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

func (m *memStore) StaleCandidatesAtLeast(_ context.Context, height int64) ([]model.StaleCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.StaleCandidate
	for _, c := range m.sortedCandidates() {
		if c.Height >= height {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateStaleCandidate(_ context.Context, c model.StaleCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.candidates[c.Height]; ok {
		c.CreatedAt = existing.CreatedAt
	}
	m.candidates[c.Height] = c
	return nil
}

func (m *memStore) ReplaceStaleCandidateChildren(_ context.Context, height int64, children []model.StaleCandidateChild) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sorted := append([]model.StaleCandidateChild(nil), children...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Length != sorted[j].Length {
			return sorted[i].Length < sorted[j].Length
		}
		return sorted[i].RootHash < sorted[j].RootHash
	})
	m.children[height] = sorted
	return nil
}

func (m *memStore) StaleCandidateChildren(_ context.Context, height int64) ([]model.StaleCandidateChild, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.StaleCandidateChild(nil), m.children[height]...), nil
}

func (m *memStore) ReplaceDoubleSpentBy(_ context.Context, height int64, txids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dsBy[height] = append([]string(nil), txids...)
	return nil
}

func (m *memStore) ReplaceRBFBy(_ context.Context, height int64, txids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rbfBy[height] = append([]string(nil), txids...)
	return nil
}

func (m *memStore) InsertTransactions(_ context.Context, txs []model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		if m.txs[tx.BlockHash] == nil {
			m.txs[tx.BlockHash] = make(map[string]model.Transaction)
		}
		if _, ok := m.txs[tx.BlockHash][tx.TxID]; !ok {
			m.txs[tx.BlockHash][tx.TxID] = tx
		}
	}
	return nil
}

func (m *memStore) BlockTransactionCount(_ context.Context, blockHash string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs[blockHash]), nil
}

func (m *memStore) BranchTransactions(_ context.Context, rootHash string, maxHeight int64) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Transaction
	queue := []string{rootHash}
	for len(queue) > 0 {
		hash := queue[0]
		queue = queue[1:]
		block, ok := m.blocks[hash]
		if !ok || block.Height > maxHeight {
			continue
		}
		var txids []string
		for txid := range m.txs[hash] {
			txids = append(txids, txid)
		}
		sort.Strings(txids)
		for _, txid := range txids {
			tx := m.txs[hash][txid]
			if !tx.IsCoinbase {
				out = append(out, tx)
			}
		}
		for childHash, child := range m.blocks {
			if child.ParentHash == hash {
				queue = append(queue, childHash)
			}
		}
	}
	return out, nil
}

func (m *memStore) TransactionAmountSum(_ context.Context, txids []string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	best := make(map[string]float64)
	for _, byTxid := range m.txs {
		for txid, tx := range byTxid {
			if amount, ok := best[txid]; !ok || tx.Amount > amount {
				best[txid] = tx.Amount
			}
		}
	}
	var total float64
	for _, txid := range txids {
		total += best[txid]
	}
	return total, nil
}

func (m *memStore) OpenLag(_ context.Context, nodeID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lag, ok := m.lags[nodeID]; ok && lag.DeletedAt == nil {
		lag.UpdatedAt = at
		m.lags[nodeID] = lag
		return nil
	}
	m.lags[nodeID] = model.Lag{NodeID: nodeID, CreatedAt: at, UpdatedAt: at}
	return nil
}

func (m *memStore) CloseLag(_ context.Context, nodeID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lag, ok := m.lags[nodeID]; ok && lag.DeletedAt == nil {
		lag.DeletedAt = &at
		lag.UpdatedAt = at
		m.lags[nodeID] = lag
	}
	return nil
}

func (m *memStore) ListOpenLags(context.Context) ([]model.Lag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.lags))
	for id, lag := range m.lags {
		if lag.DeletedAt == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]model.Lag, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.lags[id])
	}
	return out, nil
}

func (m *memStore) WatchedAddresses(_ context.Context, at time.Time) ([]model.Watched, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Watched
	for _, w := range m.watched {
		if !w.WatchUntil.Before(at) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (m *memStore) ListPoolTags(context.Context) ([]model.PoolTag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.PoolTag(nil), m.poolTags...), nil
}
