package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Checkpoint marks everything at or before LastBlockNumber as durably stored.
type Checkpoint struct {
	LastBlockNumber uint64
	LastBlockHash   common.Hash
	UpdatedAt       time.Time
}
