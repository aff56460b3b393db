// Package memstore is an in-process sink with the same contract as the Postgres store. It backs
// dry runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"poolIndexer/internal/model"
	"poolIndexer/internal/storage"
)

// Store keeps events and the checkpoint in memory.
type Store struct {
	mu         sync.Mutex
	events     map[model.LogKey]model.StoredEvent
	checkpoint *model.Checkpoint
	commits    int

	// injected errors returned by the next commits, oldest first
	commitErrs []error
}

func New() *Store {
	return &Store{events: make(map[model.LogKey]model.StoredEvent)}
}

// FailCommits makes the next len(errs) commits return errs in order without writing.
func (s *Store) FailCommits(errs ...error) {
	s.mu.Lock()
	s.commitErrs = append(s.commitErrs, errs...)
	s.mu.Unlock()
}

// Commit inserts events that are not stored yet and advances the checkpoint atomically.
func (s *Store) Commit(ctx context.Context, events []model.StoredEvent, checkpoint model.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return &storage.PersistError{Kind: storage.Unavailable, Op: "commit", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commitErrs) > 0 {
		err := s.commitErrs[0]
		s.commitErrs = s.commitErrs[1:]
		return err
	}
	if s.checkpoint != nil && checkpoint.LastBlockNumber < s.checkpoint.LastBlockNumber {
		return storage.NewConflict("commit", s.checkpoint.LastBlockNumber, checkpoint.LastBlockNumber)
	}

	for _, event := range events {
		key := event.Key()
		if _, ok := s.events[key]; ok {
			continue
		}
		s.events[key] = event
	}
	checkpoint.UpdatedAt = time.Now().UTC()
	s.checkpoint = &checkpoint
	s.commits++
	return nil
}

// Rollback deletes events at or above fromBlock and rewinds the checkpoint below it.
func (s *Store) Rollback(ctx context.Context, fromBlock uint64) (model.Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Checkpoint{}, false, &storage.PersistError{Kind: storage.Unavailable, Op: "rollback", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var prevHash common.Hash
	for key, event := range s.events {
		switch {
		case event.BlockNumber >= fromBlock:
			delete(s.events, key)
		case fromBlock > 0 && event.BlockNumber == fromBlock-1:
			prevHash = event.BlockHash
		}
	}

	if s.checkpoint == nil || s.checkpoint.LastBlockNumber < fromBlock {
		return s.current()
	}
	if fromBlock == 0 {
		s.checkpoint = nil
		return model.Checkpoint{}, false, nil
	}
	s.checkpoint = &model.Checkpoint{
		LastBlockNumber: fromBlock - 1,
		LastBlockHash:   prevHash,
		UpdatedAt:       time.Now().UTC(),
	}
	return *s.checkpoint, true, nil
}

// Checkpoint returns the stored checkpoint, if any.
func (s *Store) Checkpoint(ctx context.Context) (model.Checkpoint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current()
}

func (s *Store) current() (model.Checkpoint, bool, error) {
	if s.checkpoint == nil {
		return model.Checkpoint{}, false, nil
	}
	return *s.checkpoint, true, nil
}

// BlockHashes returns the hash recorded for each block in [from, to] that has stored data.
func (s *Store) BlockHashes(ctx context.Context, from, to uint64) (map[uint64]common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hashes := make(map[uint64]common.Hash)
	for _, event := range s.events {
		if event.BlockNumber >= from && event.BlockNumber <= to {
			hashes[event.BlockNumber] = event.BlockHash
		}
	}
	if cp := s.checkpoint; cp != nil && cp.LastBlockHash != (common.Hash{}) &&
		cp.LastBlockNumber >= from && cp.LastBlockNumber <= to {
		hashes[cp.LastBlockNumber] = cp.LastBlockHash
	}
	return hashes, nil
}

// Verify always succeeds; there is no schema to check.
func (s *Store) Verify(ctx context.Context) error {
	return nil
}

// Events returns stored events ordered by (block number, log index).
func (s *Store) Events() []model.StoredEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.StoredEvent, 0, len(s.events))
	for _, event := range s.events {
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool {
		return model.Less(out[i].BlockNumber, out[i].LogIndex, out[j].BlockNumber, out[j].LogIndex)
	})
	return out
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *Store) Close() {}
