package chain

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Node is the subset of node RPC the Link needs. Client implements it.
type Node interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (common.Hash, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	Close()
}

// Dialer opens a new node connection.
type Dialer func(ctx context.Context) (Node, error)

// HashSource reports the block hashes persistence recorded for a block range. Blocks without
// stored data are absent from the result.
type HashSource interface {
	BlockHashes(ctx context.Context, from, to uint64) (map[uint64]common.Hash, error)
}

var _ Node = (*Client)(nil)
