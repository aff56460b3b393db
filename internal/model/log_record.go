package model

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// RawLog is a contract log as delivered by the node.
type RawLog struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint32
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	Removed     bool
}

// LogKey identifies a log across reorgs: a log index is only unique within one block hash.
type LogKey struct {
	BlockHash common.Hash
	LogIndex  uint32
}

func (k LogKey) String() string {
	return fmt.Sprintf("%s:%d", k.BlockHash.Hex(), k.LogIndex)
}

// Key returns the dedup key of the log.
func (l RawLog) Key() LogKey {
	return LogKey{BlockHash: l.BlockHash, LogIndex: l.LogIndex}
}

// Topic0 returns the event signature topic, or the zero hash for anonymous logs.
func (l RawLog) Topic0() common.Hash {
	if len(l.Topics) == 0 {
		return common.Hash{}
	}
	return l.Topics[0]
}

// Source copies the identifying fields of the log.
func (l RawLog) Source() Source {
	return Source{
		BlockNumber: l.BlockNumber,
		BlockHash:   l.BlockHash,
		TxHash:      l.TxHash,
		LogIndex:    l.LogIndex,
		Address:     l.Address,
	}
}

// RawLogFromTypes converts a go-ethereum log.
func RawLogFromTypes(log types.Log) RawLog {
	topics := make([]common.Hash, len(log.Topics))
	copy(topics, log.Topics)
	data := make([]byte, len(log.Data))
	copy(data, log.Data)

	return RawLog{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash,
		TxHash:      log.TxHash,
		LogIndex:    uint32(log.Index),
		Address:     log.Address,
		Topics:      topics,
		Data:        data,
		Removed:     log.Removed,
	}
}

// Less orders logs by (block number, log index).
func Less(aBlock uint64, aIndex uint32, bBlock uint64, bIndex uint32) bool {
	if aBlock != bBlock {
		return aBlock < bBlock
	}
	return aIndex < bIndex
}
