package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"poolIndexer/internal/metrics"
)

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	metrics   *metrics.Link
}

// NewClient creates a new chain client from the RPC URL. Log subscriptions need a websocket
// or IPC endpoint.
func NewClient(ctx context.Context, rpcURL string, m *metrics.Link) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		metrics:   m,
	}, nil
}

// NewDialer returns a Dialer that opens a new Client per call.
func NewDialer(rpcURL string, m *metrics.Link) Dialer {
	return func(ctx context.Context) (Node, error) {
		return NewClient(ctx, rpcURL, m)
	}
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// GetChainID returns the chain ID.
func (c *Client) GetChainID(ctx context.Context) (*big.Int, error) {
	started := time.Now()
	id, err := c.ethClient.ChainID(ctx)
	c.metrics.ObserveRPC("eth_chainId", err, started)
	return id, err
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	started := time.Now()
	number, err := c.ethClient.BlockNumber(ctx)
	c.metrics.ObserveRPC("eth_blockNumber", err, started)
	return number, err
}

// BlockHash returns the canonical hash of the block at number.
func (c *Client) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	started := time.Now()
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	c.metrics.ObserveRPC("eth_getBlockByNumber", err, started)
	if err != nil {
		return common.Hash{}, err
	}
	return header.Hash(), nil
}

// FilterLogs returns logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	started := time.Now()
	logs, err := c.ethClient.FilterLogs(ctx, query)
	c.metrics.ObserveRPC("eth_getLogs", err, started)
	return logs, err
}

// SubscribeFilterLogs opens an eth_subscribe logs subscription.
func (c *Client) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	started := time.Now()
	sub, err := c.ethClient.SubscribeFilterLogs(ctx, query, ch)
	c.metrics.ObserveRPC("eth_subscribe", err, started)
	return sub, err
}

// CodeAt returns the contract code at the latest block.
func (c *Client) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	started := time.Now()
	code, err := c.ethClient.CodeAt(ctx, account, nil)
	c.metrics.ObserveRPC("eth_getCode", err, started)
	return code, err
}

// CallContract performs an eth_call for a contract method.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	started := time.Now()
	resp, err := c.ethClient.CallContract(ctx, msg, blockNumber)
	c.metrics.ObserveRPC("eth_call", err, started)
	return resp, err
}
