package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolIndexer/internal/dex"
	"poolIndexer/internal/model"
)

type preparedBatch struct {
	events     []model.StoredEvent
	checkpoint model.Checkpoint
	top        model.Checkpoint
	hasTop     bool
	advances   bool
	skipped    int
	duplicates int
}

// prepareBatch turns the pending logs into stored events in (block, index) order. Logs that fail
// to decode are skipped but still move the checkpoint, so a batch made only of foreign logs
// is not replayed forever. The checkpoint only covers sealed blocks: when the highest block
// may still receive logs it stops one block below.
func (c *Coordinator) prepareBatch(ctx context.Context) (preparedBatch, error) {
	results, err := dex.DecodeBatch(ctx, c.decoder, c.pending, c.cfg.DecodeWorkers)
	if err != nil {
		return preparedBatch{}, err
	}

	var (
		batch    preparedBatch
		failures []model.DecodeFailure
		seen     = make(map[model.LogKey]struct{}, len(results))
		hashes   = make(map[uint64]common.Hash)
	)
	batch.events = make([]model.StoredEvent, 0, len(results))
	if c.hasTip {
		batch.top, batch.hasTop = c.tip, true
		hashes[c.tip.LastBlockNumber] = c.tip.LastBlockHash
	}

	for i := range results {
		result := &results[i]
		log := result.Log
		if c.hasCommit && log.BlockNumber < c.committed.LastBlockNumber {
			batch.duplicates++
			continue
		}
		hashes[log.BlockNumber] = log.BlockHash
		if !batch.hasTop || log.BlockNumber >= batch.top.LastBlockNumber {
			batch.top = model.Checkpoint{LastBlockNumber: log.BlockNumber, LastBlockHash: log.BlockHash}
			batch.hasTop = true
		}

		key := log.Key()
		if _, ok := c.sent[key]; ok {
			batch.duplicates++
			continue
		}
		if _, ok := seen[key]; ok {
			batch.duplicates++
			continue
		}
		seen[key] = struct{}{}

		if result.Err != nil {
			batch.skipped++
			failures = append(failures, c.skip(log, result.Err))
			continue
		}
		stored, err := model.NewStoredEvent(result.Event)
		if err != nil {
			batch.skipped++
			failures = append(failures, c.skip(log, &dex.DecodeError{
				Kind:   dex.Malformed,
				Topic0: log.Topic0(),
				Event:  result.Event.Name(),
				Err:    err,
			}))
			continue
		}
		c.metrics.ObserveEvent(stored.EventName)
		batch.events = append(batch.events, stored)
	}

	if len(failures) > 0 && c.deadLetter != nil {
		if err := c.deadLetter.Write(failures...); err != nil {
			c.logger.Warn("write dead letter", zap.Error(err), zap.Int("records", len(failures)))
		}
	}

	if !batch.hasTop {
		return batch, nil
	}
	batch.checkpoint = c.completeCheckpoint(batch.top, hashes)
	batch.advances = len(batch.events) > 0 ||
		!c.hasCommit ||
		batch.checkpoint.LastBlockNumber > c.committed.LastBlockNumber
	return batch, nil
}

func (c *Coordinator) skip(log model.RawLog, err error) model.DecodeFailure {
	kind := dex.KindOf(err)
	fields := []zap.Field{
		zap.Uint64("block", log.BlockNumber),
		zap.Uint32("log_index", log.LogIndex),
		zap.String("tx", log.TxHash.Hex()),
		zap.String("topic0", log.Topic0().Hex()),
		zap.Error(err),
	}
	if kind == dex.Unrecognized {
		c.logger.Info("skipping unrecognized log", fields...)
	} else {
		c.logger.Warn("skipping malformed log", fields...)
	}
	c.metrics.ObserveDecodeSkip(kind.String())
	return model.NewDecodeFailure(log, kind.String(), err)
}

// completeCheckpoint returns the checkpoint for a batch whose highest block is top. An unsealed
// top block is left out; the hash of the block below is used when a log there is known, zero
// otherwise. The checkpoint never moves below the committed one.
func (c *Coordinator) completeCheckpoint(top model.Checkpoint, hashes map[uint64]common.Hash) model.Checkpoint {
	cp := top
	if top.LastBlockNumber > c.sealed && top.LastBlockNumber > 0 {
		below := top.LastBlockNumber - 1
		cp = model.Checkpoint{LastBlockNumber: below, LastBlockHash: hashes[below]}
	}
	if c.hasCommit && cp.LastBlockNumber <= c.committed.LastBlockNumber {
		return c.committed
	}
	return cp
}
