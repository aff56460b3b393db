package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"poolIndexer/internal/model"
	"poolIndexer/internal/storage"
)

const defaultCommitTimeout = 30 * time.Second

// Store persists decoded events and the checkpoint in Postgres.
type Store struct {
	pool          *pgxpool.Pool
	commitTimeout time.Duration
	logger        *zap.Logger
}

// NewStore connects to Postgres and checks the connection.
func NewStore(ctx context.Context, dsn string, commitTimeout time.Duration, logger *zap.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("connect", err)
	}
	return &Store{pool: pool, commitTimeout: commitTimeout, logger: logger.Named("postgres")}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Verify fails when the schema has not been created.
func (s *Store) Verify(ctx context.Context) error {
	for _, table := range []string{"events", "checkpoint"} {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, table).Scan(&exists); err != nil {
			return classify("verify", err)
		}
		if !exists {
			return fmt.Errorf("table %q does not exist, run the migrate command first", table)
		}
	}
	return nil
}

// Commit inserts events and advances the checkpoint in one transaction. Events already stored
// under the same (block_hash, log_index) are left untouched.
func (s *Store) Commit(ctx context.Context, events []model.StoredEvent, checkpoint model.Checkpoint) error {
	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, ok, err := lockCheckpoint(ctx, tx)
		if err != nil {
			return err
		}
		if ok && checkpoint.LastBlockNumber < current.LastBlockNumber {
			return storage.NewConflict("commit", current.LastBlockNumber, checkpoint.LastBlockNumber)
		}

		if len(events) > 0 {
			batch := &pgx.Batch{}
			for _, event := range events {
				batch.Queue(`
					INSERT INTO events (
						block_hash, log_index, block_number, tx_hash, address, event_name, payload
					) VALUES ($1, $2, $3, $4, $5, $6, $7)
					ON CONFLICT (block_hash, log_index) DO NOTHING
				`,
					event.BlockHash.Hex(),
					int32(event.LogIndex),
					int64(event.BlockNumber),
					event.TxHash.Hex(),
					event.Address.Hex(),
					event.EventName,
					[]byte(event.Payload),
				)
			}

			br := tx.SendBatch(ctx, batch)
			for range events {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return fmt.Errorf("insert event: %w", err)
				}
			}
			if err := br.Close(); err != nil {
				return fmt.Errorf("close batch: %w", err)
			}
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO checkpoint (id, last_block_number, last_block_hash, updated_at)
			VALUES (1, $1, $2, now())
			ON CONFLICT (id) DO UPDATE
			SET last_block_number = EXCLUDED.last_block_number,
				last_block_hash = EXCLUDED.last_block_hash,
				updated_at = now()
		`, int64(checkpoint.LastBlockNumber), checkpoint.LastBlockHash.Hex())
		if err != nil {
			return fmt.Errorf("upsert checkpoint: %w", err)
		}
		return nil
	})
	return classify("commit", err)
}

// Rollback deletes events at or above fromBlock and rewinds the checkpoint to fromBlock-1. The
// rewound hash is taken from the remaining events of that block, or left zero when it has none.
func (s *Store) Rollback(ctx context.Context, fromBlock uint64) (model.Checkpoint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.commitTimeout)
	defer cancel()

	var (
		result model.Checkpoint
		exists bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		current, ok, err := lockCheckpoint(ctx, tx)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `DELETE FROM events WHERE block_number >= $1`, int64(fromBlock))
		if err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		s.logger.Info("rolled back events", zap.Uint64("from_block", fromBlock), zap.Int64("deleted", tag.RowsAffected()))

		if !ok || current.LastBlockNumber < fromBlock {
			result, exists = current, ok
			return nil
		}
		if fromBlock == 0 {
			if _, err := tx.Exec(ctx, `DELETE FROM checkpoint WHERE id = 1`); err != nil {
				return fmt.Errorf("delete checkpoint: %w", err)
			}
			return nil
		}

		var prevHash common.Hash
		var hashText string
		err = tx.QueryRow(ctx, `SELECT block_hash FROM events WHERE block_number = $1 LIMIT 1`, int64(fromBlock-1)).Scan(&hashText)
		switch {
		case err == nil:
			prevHash = common.HexToHash(hashText)
		case errors.Is(err, pgx.ErrNoRows):
		default:
			return fmt.Errorf("load previous block hash: %w", err)
		}

		result = model.Checkpoint{LastBlockNumber: fromBlock - 1, LastBlockHash: prevHash}
		err = tx.QueryRow(ctx, `
			UPDATE checkpoint
			SET last_block_number = $1, last_block_hash = $2, updated_at = now()
			WHERE id = 1
			RETURNING updated_at
		`, int64(result.LastBlockNumber), prevHash.Hex()).Scan(&result.UpdatedAt)
		if err != nil {
			return fmt.Errorf("rewind checkpoint: %w", err)
		}
		exists = true
		return nil
	})
	if err != nil {
		return model.Checkpoint{}, false, classify("rollback", err)
	}
	return result, exists, nil
}

// Checkpoint returns the stored checkpoint, if any.
func (s *Store) Checkpoint(ctx context.Context) (model.Checkpoint, bool, error) {
	cp, ok, err := scanCheckpoint(s.pool.QueryRow(ctx, `
		SELECT last_block_number, last_block_hash, updated_at FROM checkpoint WHERE id = 1
	`))
	if err != nil {
		return model.Checkpoint{}, false, classify("checkpoint", err)
	}
	return cp, ok, nil
}

// BlockHashes returns the hash recorded for each block in [from, to] that has stored events,
// plus the checkpoint block when its hash is known.
func (s *Store) BlockHashes(ctx context.Context, from, to uint64) (map[uint64]common.Hash, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (block_number) block_number, block_hash
		FROM events
		WHERE block_number BETWEEN $1 AND $2
		ORDER BY block_number, log_index DESC
	`, int64(from), int64(to))
	if err != nil {
		return nil, classify("block hashes", err)
	}
	defer rows.Close()

	hashes := make(map[uint64]common.Hash)
	for rows.Next() {
		var (
			number int64
			hash   string
		)
		if err := rows.Scan(&number, &hash); err != nil {
			return nil, classify("block hashes", err)
		}
		hashes[uint64(number)] = common.HexToHash(hash)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("block hashes", err)
	}

	cp, ok, err := s.Checkpoint(ctx)
	if err != nil {
		return nil, err
	}
	if ok && cp.LastBlockHash != (common.Hash{}) && cp.LastBlockNumber >= from && cp.LastBlockNumber <= to {
		hashes[cp.LastBlockNumber] = cp.LastBlockHash
	}
	return hashes, nil
}

// CountEvents returns the number of stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM events`).Scan(&count); err != nil {
		return 0, classify("count events", err)
	}
	return count, nil
}

func lockCheckpoint(ctx context.Context, tx pgx.Tx) (model.Checkpoint, bool, error) {
	cp, ok, err := scanCheckpoint(tx.QueryRow(ctx, `
		SELECT last_block_number, last_block_hash, updated_at FROM checkpoint WHERE id = 1 FOR UPDATE
	`))
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("lock checkpoint: %w", err)
	}
	return cp, ok, nil
}

func scanCheckpoint(row pgx.Row) (model.Checkpoint, bool, error) {
	var (
		number    int64
		hash      string
		updatedAt time.Time
	)
	if err := row.Scan(&number, &hash, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, err
	}
	return model.Checkpoint{
		LastBlockNumber: uint64(number),
		LastBlockHash:   common.HexToHash(hash),
		UpdatedAt:       updatedAt,
	}, true, nil
}
