// Package bitcoin wraps the btcd rpcclient with the typed calls the scanner
// needs, including methods rpcclient has no wrappers for.
package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
)

type (
	// RPCMetrics records metrics for RPC calls.
	RPCMetrics interface {
		Observe(operation string, err error, started time.Time)
	}
)

// ErrBlockNotFound is returned when a node does not have the requested block.
var ErrBlockNotFound = errors.New("block not found")

// Client is an instrumented JSON-RPC client for one bitcoind endpoint.
type Client struct {
	client     *rpcclient.Client
	rpcMetrics RPCMetrics
	timeout    time.Duration
}

// Config carries connection parameters for one endpoint.
type Config struct {
	Host    string
	User    string
	Pass    string
	Timeout time.Duration
}

// NewClient connects to a bitcoind RPC endpoint in HTTP POST mode.
func NewClient(cfg Config, rpcMetrics RPCMetrics) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.New("rpc host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Host, err)
	}

	return &Client{client: client, rpcMetrics: rpcMetrics, timeout: cfg.Timeout}, nil
}

// Close shuts the underlying connection down.
func (c *Client) Close() {
	c.client.Shutdown()
}

// call issues a raw request with the per-call timeout and unmarshals the
// result into out when out is non-nil.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) (err error) {
	started := time.Now()
	defer func() {
		if c.rpcMetrics != nil {
			c.rpcMetrics.Observe(method, err, started)
		}
	}()

	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		var b []byte
		b, err = json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal %s param: %w", method, err)
		}
		raw = append(raw, b)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type callResult struct {
		res json.RawMessage
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		res, callErr := c.client.RawRequest(method, raw)
		done <- callResult{res: res, err: callErr}
	}()

	select {
	case <-ctx.Done():
		err = ctx.Err()
		return err
	case r := <-done:
		if r.err != nil {
			err = normalizeRPCError(method, r.err)
			return err
		}
		if out == nil {
			return nil
		}
		if err = json.Unmarshal(r.res, out); err != nil {
			err = fmt.Errorf("unmarshal %s result: %w", method, err)
		}
		return err
	}
}

func normalizeRPCError(method string, err error) error {
	var rpcErr *btcjson.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == btcjson.ErrRPCBlockNotFound {
		return fmt.Errorf("%s: %w", method, ErrBlockNotFound)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// GetBestBlockHash returns the node's current best block hash. Used as the
// cheap reachability probe.
func (c *Client) GetBestBlockHash(ctx context.Context) (string, error) {
	var hash string
	if err := c.call(ctx, "getbestblockhash", nil, &hash); err != nil {
		return "", err
	}
	return hash, nil
}

// GetBlockchainInfo returns chain state including header/block counts.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetChainTips returns every chain tip the node knows about.
func (c *Client) GetChainTips(ctx context.Context) ([]ChainTip, error) {
	var tips []ChainTip
	if err := c.call(ctx, "getchaintips", nil, &tips); err != nil {
		return nil, err
	}
	return tips, nil
}

// GetBlockHeader returns the verbose header for a block hash.
func (c *Client) GetBlockHeader(ctx context.Context, hash string) (*BlockHeader, error) {
	if _, err := chainhash.NewHashFromStr(hash); err != nil {
		return nil, fmt.Errorf("bad block hash %q: %w", hash, err)
	}
	var header BlockHeader
	if err := c.call(ctx, "getblockheader", []interface{}{hash, true}, &header); err != nil {
		return nil, err
	}
	return &header, nil
}

// GetBlockVerbose returns a block with fully decoded transactions.
func (c *Client) GetBlockVerbose(ctx context.Context, hash string) (*Block, error) {
	if _, err := chainhash.NewHashFromStr(hash); err != nil {
		return nil, fmt.Errorf("bad block hash %q: %w", hash, err)
	}
	var block Block
	if err := c.call(ctx, "getblock", []interface{}{hash, 2}, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// GetBlockHex returns the raw serialized block.
func (c *Client) GetBlockHex(ctx context.Context, hash string) (string, error) {
	var hex string
	if err := c.call(ctx, "getblock", []interface{}{hash, 0}, &hex); err != nil {
		return "", err
	}
	return hex, nil
}

// GetRawTransaction returns a decoded transaction by txid.
func (c *Client) GetRawTransaction(ctx context.Context, txid string) (*RawTransaction, error) {
	var tx RawTransaction
	if err := c.call(ctx, "getrawtransaction", []interface{}{txid, true}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetPeerInfo returns the node's current connections.
func (c *Client) GetPeerInfo(ctx context.Context) ([]PeerInfo, error) {
	var peers []PeerInfo
	if err := c.call(ctx, "getpeerinfo", nil, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// GetBlockFromPeer asks the node to fetch a block from a specific peer.
func (c *Client) GetBlockFromPeer(ctx context.Context, hash string, peerID int64) error {
	return c.call(ctx, "getblockfrompeer", []interface{}{hash, peerID}, nil)
}

// SubmitBlock submits a raw serialized block.
func (c *Client) SubmitBlock(ctx context.Context, blockHex string) error {
	var status *string
	if err := c.call(ctx, "submitblock", []interface{}{blockHex}, &status); err != nil {
		return err
	}
	// submitblock returns null on success and a reject reason otherwise.
	if status != nil && *status != "" && *status != "duplicate" {
		return fmt.Errorf("submitblock rejected: %s", *status)
	}
	return nil
}

// SubmitHeader submits a raw serialized block header.
func (c *Client) SubmitHeader(ctx context.Context, headerHex string) error {
	return c.call(ctx, "submitheader", []interface{}{headerHex}, nil)
}

// InvalidateBlock marks a block invalid on the node.
func (c *Client) InvalidateBlock(ctx context.Context, hash string) error {
	return c.call(ctx, "invalidateblock", []interface{}{hash}, nil)
}

// ReconsiderBlock removes an invalid mark previously set with InvalidateBlock.
func (c *Client) ReconsiderBlock(ctx context.Context, hash string) error {
	return c.call(ctx, "reconsiderblock", []interface{}{hash}, nil)
}

// SetNetworkActive toggles the node's p2p networking.
func (c *Client) SetNetworkActive(ctx context.Context, active bool) error {
	return c.call(ctx, "setnetworkactive", []interface{}{active}, nil)
}

// GetTxOutsetInfo returns UTXO set statistics.
func (c *Client) GetTxOutsetInfo(ctx context.Context) (*TxOutsetInfo, error) {
	var info TxOutsetInfo
	if err := c.call(ctx, "gettxoutsetinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlockTemplate returns a mining template for the next block.
func (c *Client) GetBlockTemplate(ctx context.Context) (*BlockTemplateResult, error) {
	var tpl BlockTemplateResult
	req := map[string]interface{}{"rules": []string{"segwit"}}
	if err := c.call(ctx, "getblocktemplate", []interface{}{req}, &tpl); err != nil {
		return nil, err
	}
	return &tpl, nil
}
