package scanner

import (
	"sync"
	"time"

	"github.com/goodnatureofminers/forkscanner7000-backend/internal/bitcoin"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/metrics"
	"github.com/goodnatureofminers/forkscanner7000-backend/internal/model"
)

// RPCFactory builds and caches one instrumented RPC client per endpoint.
type RPCFactory struct {
	timeout time.Duration

	mu    sync.Mutex
	cache map[string]*bitcoin.Client
}

// NewRPCFactory constructs a factory with the per-call timeout.
func NewRPCFactory(timeout time.Duration) *RPCFactory {
	return &RPCFactory{
		timeout: timeout,
		cache:   make(map[string]*bitcoin.Client),
	}
}

// ClientFor returns the client for a node's primary endpoint.
func (f *RPCFactory) ClientFor(node model.Node) (NodeClient, error) {
	return f.client(node.Address(), node)
}

// MirrorFor returns the client for a node's mirror endpoint.
func (f *RPCFactory) MirrorFor(node model.Node) (NodeClient, error) {
	addr, ok := node.MirrorAddress()
	if !ok {
		return nil, ErrUnableToRollback
	}
	return f.client(addr, node)
}

func (f *RPCFactory) client(addr string, node model.Node) (NodeClient, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.cache[addr]; ok {
		return client, nil
	}

	client, err := bitcoin.NewClient(bitcoin.Config{
		Host:    addr,
		User:    node.RPCUser,
		Pass:    node.RPCPass,
		Timeout: f.timeout,
	}, metrics.NewRPCClient(node.Name))
	if err != nil {
		return nil, err
	}
	f.cache[addr] = client
	return client, nil
}

// Close shuts every cached client down.
func (f *RPCFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, client := range f.cache {
		client.Close()
	}
	f.cache = make(map[string]*bitcoin.Client)
}
