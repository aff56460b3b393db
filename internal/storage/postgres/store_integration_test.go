//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"poolIndexer/internal/model"
	"poolIndexer/internal/storage"
	"poolIndexer/internal/storage/postgres"
)

// setupStore starts a PostgreSQL container, applies the embedded migrations and returns a
// connected store. Everything is cleaned up when the test ends.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pool_indexer_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := postgres.NewStore(ctx, dsn, 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.Error(t, store.Verify(ctx), "schema must be missing before migrations")
	require.NoError(t, postgres.Migrate(dsn, zap.NewNop()))
	require.NoError(t, postgres.Migrate(dsn, zap.NewNop()), "second run is a no-op")
	require.NoError(t, store.Verify(ctx))

	return store
}

func storedEvent(block uint64, index uint32, fork byte) model.StoredEvent {
	hash := common.Hash{}
	hash[0] = fork
	hash[31] = byte(block)
	return model.StoredEvent{
		Source: model.Source{
			BlockNumber: block,
			BlockHash:   hash,
			TxHash:      common.HexToHash("0xbeef"),
			LogIndex:    index,
			Address:     common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"),
		},
		EventName: model.EventSwap,
		Payload:   json.RawMessage(`{"amount0":"1","amount1":"-1"}`),
	}
}

func TestStoreCommitRollback(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	batch := []model.StoredEvent{storedEvent(100, 0, 0), storedEvent(100, 1, 0)}
	checkpoint := model.Checkpoint{LastBlockNumber: 100, LastBlockHash: batch[0].BlockHash}

	require.NoError(t, store.Commit(ctx, batch, checkpoint))
	require.NoError(t, store.Commit(ctx, batch, checkpoint))

	count, err := store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	cp, ok, err := store.Checkpoint(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(100), cp.LastBlockNumber)
	assert.Equal(t, batch[0].BlockHash, cp.LastBlockHash)

	err = store.Commit(ctx, []model.StoredEvent{storedEvent(99, 0, 0)}, model.Checkpoint{LastBlockNumber: 99})
	assert.True(t, storage.IsConflict(err))

	earlier := storedEvent(99, 3, 0)
	require.NoError(t, store.Commit(ctx, []model.StoredEvent{earlier}, checkpoint))

	hashes, err := store.BlockHashes(ctx, 90, 110)
	require.NoError(t, err)
	assert.Equal(t, map[uint64]common.Hash{99: earlier.BlockHash, 100: batch[0].BlockHash}, hashes)

	cp, ok, err = store.Rollback(ctx, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(99), cp.LastBlockNumber)
	assert.Equal(t, earlier.BlockHash, cp.LastBlockHash)

	count, err = store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	replacement := storedEvent(100, 0, 1)
	require.NoError(t, store.Commit(ctx, []model.StoredEvent{replacement}, model.Checkpoint{LastBlockNumber: 100, LastBlockHash: replacement.BlockHash}))

	cp, _, err = store.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Equal(t, replacement.BlockHash, cp.LastBlockHash)

	_, ok, err = store.Rollback(ctx, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	count, err = store.CountEvents(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
