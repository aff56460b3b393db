package model

import (
	"github.com/ethereum/go-ethereum/common"
)

// Event is one decoded pool event. The set of implementations is closed: it mirrors the
// events declared by the pool contract and is only extended together with the decoder.
type Event interface {
	// Name is the event name as declared in the contract ABI.
	Name() string
	// Origin returns the identifying fields of the log the event was decoded from.
	Origin() Source
	// Payload returns the JSON representation stored in the events table.
	Payload() any

	isEvent()
}

// Source holds the identifying fields of the originating log.
type Source struct {
	BlockNumber uint64
	BlockHash   common.Hash
	TxHash      common.Hash
	LogIndex    uint32
	Address     common.Address
}

func (s Source) Origin() Source { return s }

// Key returns the dedup key of the originating log.
func (s Source) Key() LogKey {
	return LogKey{BlockHash: s.BlockHash, LogIndex: s.LogIndex}
}
