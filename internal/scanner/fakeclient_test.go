package scanner

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// fakeClient is a scriptable NodeClient. Tests mutate its fields between
// ticks to simulate chain movement.
type fakeClient struct {
	mu sync.Mutex

	bestHash string
	info     bitcoin.BlockchainInfo
	tips     []bitcoin.ChainTip
	headers  map[string]bitcoin.BlockHeader
	blocks   map[string]*bitcoin.Block
	blockHex map[string]string
	rawTxs   map[string]*bitcoin.RawTransaction
	peers    []bitcoin.PeerInfo

	networkActive bool
	invalidated   []string
	reconsidered  []string
	submitted     []string

	// onInvalidate lets a test emulate the node re-evaluating its tips.
	onInvalidate func(c *fakeClient, hash string)

	probeErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		headers:       make(map[string]bitcoin.BlockHeader),
		blocks:        make(map[string]*bitcoin.Block),
		blockHex:      make(map[string]string),
		rawTxs:        make(map[string]*bitcoin.RawTransaction),
		peers:         []bitcoin.PeerInfo{{ID: 1, Addr: "peer:8333", Version: 70016}},
		networkActive: true,
	}
}

// setChain installs a linear header chain and points the active tip at its
// end. Headers are keyed by hash; the first header should have no parent.
func (c *fakeClient) setChain(headers ...bitcoin.BlockHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range headers {
		c.headers[h.Hash] = h
	}
	last := headers[len(headers)-1]
	c.bestHash = last.Hash
	c.info = bitcoin.BlockchainInfo{
		Chain: "main", Blocks: last.Height, Headers: last.Height, BestBlockHash: last.Hash,
	}
	c.tips = []bitcoin.ChainTip{{Height: last.Height, Hash: last.Hash, Status: "active"}}
}

func (c *fakeClient) addHeader(h bitcoin.BlockHeader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[h.Hash] = h
}

func (c *fakeClient) setTips(tips ...bitcoin.ChainTip) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tips = tips
	for _, tip := range tips {
		if tip.Status == "active" {
			c.bestHash = tip.Hash
			c.info.Blocks = tip.Height
			c.info.Headers = tip.Height
			c.info.BestBlockHash = tip.Hash
		}
	}
}

func (c *fakeClient) GetBestBlockHash(context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.probeErr != nil {
		return "", c.probeErr
	}
	return c.bestHash, nil
}

func (c *fakeClient) GetBlockchainInfo(context.Context) (*bitcoin.BlockchainInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.info
	return &info, nil
}

func (c *fakeClient) GetChainTips(context.Context) ([]bitcoin.ChainTip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bitcoin.ChainTip(nil), c.tips...), nil
}

func (c *fakeClient) GetBlockHeader(_ context.Context, hash string) (*bitcoin.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.headers[hash]; ok {
		return &h, nil
	}
	return nil, fmt.Errorf("getblockheader: %w", bitcoin.ErrBlockNotFound)
}

func (c *fakeClient) GetBlockVerbose(_ context.Context, hash string) (*bitcoin.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.blocks[hash]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("getblock: %w", bitcoin.ErrBlockNotFound)
}

func (c *fakeClient) GetBlockHex(_ context.Context, hash string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hex, ok := c.blockHex[hash]; ok {
		return hex, nil
	}
	return "", fmt.Errorf("getblock: %w", bitcoin.ErrBlockNotFound)
}

func (c *fakeClient) GetRawTransaction(_ context.Context, txid string) (*bitcoin.RawTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx, ok := c.rawTxs[txid]; ok {
		return tx, nil
	}
	return nil, fmt.Errorf("getrawtransaction: %w", bitcoin.ErrBlockNotFound)
}

func (c *fakeClient) GetPeerInfo(context.Context) ([]bitcoin.PeerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bitcoin.PeerInfo(nil), c.peers...), nil
}

func (c *fakeClient) GetBlockFromPeer(context.Context, string, int64) error { return nil }

func (c *fakeClient) SubmitBlock(_ context.Context, blockHex string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, blockHex)
	return nil
}

func (c *fakeClient) SubmitHeader(context.Context, string) error { return nil }

func (c *fakeClient) InvalidateBlock(_ context.Context, hash string) error {
	c.mu.Lock()
	c.invalidated = append(c.invalidated, hash)
	hook := c.onInvalidate
	c.mu.Unlock()
	if hook != nil {
		hook(c, hash)
	}
	return nil
}

func (c *fakeClient) ReconsiderBlock(_ context.Context, hash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconsidered = append(c.reconsidered, hash)
	return nil
}

func (c *fakeClient) SetNetworkActive(_ context.Context, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networkActive = active
	return nil
}

func (c *fakeClient) GetTxOutsetInfo(context.Context) (*bitcoin.TxOutsetInfo, error) {
	return &bitcoin.TxOutsetInfo{}, nil
}

func (c *fakeClient) GetBlockTemplate(context.Context) (*bitcoin.BlockTemplateResult, error) {
	return &bitcoin.BlockTemplateResult{}, nil
}

func (c *fakeClient) Close() {}

// fakeFactory hands out fakeClients keyed by endpoint address.
type fakeFactory struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(map[string]*fakeClient)}
}

func (f *fakeFactory) add(addr string, client *fakeClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[addr] = client
}

func (f *fakeFactory) ClientFor(node model.Node) (NodeClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if client, ok := f.clients[node.Address()]; ok {
		return client, nil
	}
	return nil, fmt.Errorf("no client for %s", node.Address())
}

func (f *fakeFactory) MirrorFor(node model.Node) (NodeClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := node.MirrorAddress()
	if !ok {
		return nil, ErrUnableToRollback
	}
	if client, exists := f.clients[addr]; exists {
		return client, nil
	}
	return nil, fmt.Errorf("no mirror client for %s", addr)
}
