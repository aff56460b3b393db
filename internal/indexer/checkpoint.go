package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"poolIndexer/internal/model"
)

// CheckpointStore reads the durable ingestion position.
type CheckpointStore interface {
	Checkpoint(ctx context.Context) (model.Checkpoint, bool, error)
}

// Sink writes batches and rolls back reorged blocks. Both operations are transactional.
type Sink interface {
	Commit(ctx context.Context, events []model.StoredEvent, checkpoint model.Checkpoint) error
	Rollback(ctx context.Context, fromBlock uint64) (model.Checkpoint, bool, error)
}

// Store is everything the pipeline needs from persistence.
type Store interface {
	CheckpointStore
	Sink
	BlockHashes(ctx context.Context, from, to uint64) (map[uint64]common.Hash, error)
	Verify(ctx context.Context) error
	Close()
}

// ResumeBlock returns the first block to ingest: the block after the checkpoint when one is
// stored, otherwise startBlock. Zero means the current chain head.
func ResumeBlock(cp model.Checkpoint, ok bool, startBlock uint64) uint64 {
	if ok {
		return cp.LastBlockNumber + 1
	}
	return startBlock
}
