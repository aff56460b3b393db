package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"poolIndexer/internal/chain"
	"poolIndexer/internal/dex"
	"poolIndexer/internal/metrics"
	"poolIndexer/internal/model"
	"poolIndexer/internal/storage"
)

// Link is the chain side of the pipeline.
type Link interface {
	Connect(ctx context.Context, fromBlock uint64) error
	Stream(ctx context.Context, out chan<- chain.Notification) error
}

// DeadLetter receives logs that could not be decoded.
type DeadLetter interface {
	Write(failures ...model.DecodeFailure) error
}

// Config holds runtime settings for the coordinator.
type Config struct {
	StartBlock      uint64
	BatchSize       int
	FlushInterval   time.Duration
	QueueSize       int
	DecodeWorkers   int
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	// ShutdownTimeout bounds the best-effort flush on cancellation.
	ShutdownTimeout time.Duration
	// SentRetention is how many blocks below the checkpoint the session dedup set keeps.
	SentRetention uint64
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4 * c.BatchSize
	}
	if c.DecodeWorkers <= 0 {
		c.DecodeWorkers = 4
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Coordinator pulls notifications from the Link, decodes them in batches and commits them to the
// Sink, rolling back on reorgs.
type Coordinator struct {
	cfg         Config
	link        Link
	decoder     dex.Decoder
	sink        Sink
	checkpoints CheckpointStore
	deadLetter  DeadLetter
	logger      *zap.Logger
	metrics     *metrics.Pipeline

	state atomic.Int32

	pending   []model.RawLog
	sent      map[model.LogKey]uint64
	committed model.Checkpoint
	hasCommit bool

	// sealed is the highest block whose logs have all been received.
	sealed uint64
	// tip is the highest block whose logs were committed or skipped. It sits above the
	// checkpoint until the block is sealed.
	tip    model.Checkpoint
	hasTip bool
}

// NewCoordinator builds a Coordinator with its dependencies. deadLetter and m may be nil.
func NewCoordinator(cfg Config, link Link, decoder dex.Decoder, store interface {
	Sink
	CheckpointStore
}, deadLetter DeadLetter, logger *zap.Logger, m *metrics.Pipeline) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:         cfg,
		link:        link,
		decoder:     decoder,
		sink:        store,
		checkpoints: store,
		deadLetter:  deadLetter,
		logger:      logger.Named("coordinator"),
		metrics:     m,
		pending:     make([]model.RawLog, 0, cfg.BatchSize),
		sent:        make(map[model.LogKey]uint64),
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

func (c *Coordinator) to(next State) {
	current := c.State()
	if current == next {
		return
	}
	if !canTransition(current, next) {
		c.logger.DPanic("invalid state transition", zap.Stringer("from", current), zap.Stringer("to", next))
		return
	}
	c.state.Store(int32(next))
	c.metrics.SetState(current.String(), next.String())
	c.logger.Debug("state transition", zap.Stringer("from", current), zap.Stringer("to", next))
}

// Run executes the pipeline until ctx is done or a fatal error occurs. On cancellation the
// pending batch is flushed best-effort and ctx.Err() is returned.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.link == nil || c.decoder == nil || c.sink == nil {
		return fmt.Errorf("coordinator is missing a dependency")
	}
	c.state.Store(int32(Starting))
	c.metrics.SetState("", Starting.String())

	err := c.run(ctx)
	switch {
	case err == nil:
		c.to(Stopped)
		return nil
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		c.to(Stopped)
		c.logger.Info("pipeline stopped", zap.Uint64("checkpoint", c.committed.LastBlockNumber))
		return ctx.Err()
	default:
		c.to(Fatal)
		c.logger.Error("pipeline halted", zap.Error(err), zap.Uint64("checkpoint", c.committed.LastBlockNumber))
		return err
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	cp, ok, err := c.checkpoints.Checkpoint(ctx)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if ok {
		c.committed, c.hasCommit = cp, true
		c.sealed = cp.LastBlockNumber
		c.metrics.SetCheckpoint(cp.LastBlockNumber)
	}
	from := ResumeBlock(cp, ok, c.cfg.StartBlock)
	c.logger.Info("starting pipeline",
		zap.Bool("resume", ok),
		zap.Uint64("checkpoint", cp.LastBlockNumber),
		zap.String("checkpoint_hash", cp.LastBlockHash.Hex()),
		zap.Uint64("from_block", from),
	)

	if err := c.link.Connect(ctx, from); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.to(Streaming)

	queue := make(chan chain.Notification, c.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.link.Stream(gctx, queue)
	})
	g.Go(func() error {
		return c.consume(ctx, gctx, queue)
	})
	return g.Wait()
}

// consume is the Streaming loop. parent is the caller's context: when it is done the pending
// batch is flushed on a fresh context; when only gctx is done the Link failed and its error is
// the one reported.
func (c *Coordinator) consume(parent, gctx context.Context, queue <-chan chain.Notification) error {
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-gctx.Done():
			if parent.Err() != nil {
				c.shutdownFlush()
				return parent.Err()
			}
			return nil

		case n := <-queue:
			switch {
			case n.Reorg:
				err = c.reconcile(gctx, n.ReorgFrom)
			case n.Sealed:
				c.seal(n.SealedThrough)
				if len(c.pending) == 0 && c.tipLags() {
					err = c.flush(gctx)
				}
			default:
				// Logs arrive in block order, so a log at block B completes every block below it.
				if n.Log.BlockNumber > 0 {
					c.seal(n.Log.BlockNumber - 1)
				}
				c.pending = append(c.pending, n.Log)
				if len(c.pending) >= c.cfg.BatchSize {
					err = c.flush(gctx)
				}
			}

		case <-ticker.C:
			if len(c.pending) > 0 || c.tipLags() {
				err = c.flush(gctx)
			}
		}

		if err != nil {
			if parent.Err() != nil {
				c.shutdownFlush()
				return parent.Err()
			}
			if gctx.Err() != nil && errors.Is(err, gctx.Err()) {
				return nil
			}
			return err
		}
	}
}

func (c *Coordinator) shutdownFlush() {
	if len(c.pending) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()

	c.logger.Info("flushing pending batch before shutdown", zap.Int("logs", len(c.pending)))
	if err := c.flush(ctx); err != nil {
		c.logger.Warn("shutdown flush failed, batch will be replayed on restart", zap.Error(err))
	}
}

// flush decodes the pending logs, drops ones already committed, and commits the rest with the
// checkpoint of the highest complete block. Unavailable errors are retried with backoff.
func (c *Coordinator) flush(ctx context.Context) error {
	c.to(Flushing)

	batch, err := c.prepareBatch(ctx)
	if err != nil {
		return err
	}
	if !batch.advances {
		if batch.hasTop {
			c.tip, c.hasTip = batch.top, true
		}
		c.pending = c.pending[:0]
		c.to(Streaming)
		return nil
	}

	attempt := 0
	err = withRetry(ctx, c.retryPolicy(), storage.IsUnavailable,
		func(err error, wait time.Duration) {
			attempt++
			c.to(Backoff)
			c.logger.Warn("commit failed, retrying",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Int("events", len(batch.events)),
			)
		},
		func(ctx context.Context) error {
			c.to(Flushing)
			started := time.Now()
			err := c.sink.Commit(ctx, batch.events, batch.checkpoint)
			c.metrics.ObserveCommit(err, len(batch.events), started)
			return err
		},
	)
	if err != nil {
		if storage.IsUnavailable(err) {
			return fmt.Errorf("commit failed after %d retries: %w", attempt, err)
		}
		return fmt.Errorf("commit: %w", err)
	}

	for _, event := range batch.events {
		c.sent[event.Key()] = event.BlockNumber
	}
	c.committed, c.hasCommit = batch.checkpoint, true
	if batch.hasTop {
		c.tip, c.hasTip = batch.top, true
	}
	c.pruneSent()
	c.pending = c.pending[:0]
	c.metrics.SetCheckpoint(batch.checkpoint.LastBlockNumber)

	c.logger.Info("batch committed",
		zap.Int("events", len(batch.events)),
		zap.Int("skipped", batch.skipped),
		zap.Int("duplicates", batch.duplicates),
		zap.Uint64("checkpoint", batch.checkpoint.LastBlockNumber),
	)
	c.to(Streaming)
	return nil
}

// reconcile discards everything at or above fromBlock, buffered and stored, and rewinds the
// checkpoint. Streaming resumes with the replacement logs the Link sends next.
func (c *Coordinator) reconcile(ctx context.Context, fromBlock uint64) error {
	c.to(Reconciling)

	kept := c.pending[:0]
	dropped := 0
	for _, log := range c.pending {
		if log.BlockNumber >= fromBlock {
			dropped++
			continue
		}
		kept = append(kept, log)
	}
	c.pending = kept
	for key, block := range c.sent {
		if block >= fromBlock {
			delete(c.sent, key)
		}
	}
	if c.sealed >= fromBlock {
		c.sealed = 0
		if fromBlock > 0 {
			c.sealed = fromBlock - 1
		}
	}
	if c.hasTip && c.tip.LastBlockNumber >= fromBlock {
		c.tip, c.hasTip = model.Checkpoint{}, false
	}

	var (
		cp model.Checkpoint
		ok bool
	)
	attempt := 0
	err := withRetry(ctx, c.retryPolicy(), storage.IsUnavailable,
		func(err error, wait time.Duration) {
			attempt++
			c.to(Backoff)
			c.logger.Warn("rollback failed, retrying", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", wait))
		},
		func(ctx context.Context) error {
			c.to(Reconciling)
			var err error
			cp, ok, err = c.sink.Rollback(ctx, fromBlock)
			c.metrics.ObserveRollback(err)
			return err
		},
	)
	if err != nil {
		return fmt.Errorf("rollback from block %d: %w", fromBlock, err)
	}

	c.committed, c.hasCommit = cp, ok
	c.metrics.SetCheckpoint(cp.LastBlockNumber)
	c.logger.Warn("reorg reconciled",
		zap.Uint64("from_block", fromBlock),
		zap.Int("dropped_pending", dropped),
		zap.Bool("has_checkpoint", ok),
		zap.Uint64("checkpoint", cp.LastBlockNumber),
	)
	c.to(Streaming)
	return nil
}

func (c *Coordinator) seal(block uint64) {
	if block > c.sealed {
		c.sealed = block
	}
}

// tipLags reports whether committed logs sit in a block that is now sealed but not yet covered by
// the checkpoint.
func (c *Coordinator) tipLags() bool {
	if !c.hasTip || c.tip.LastBlockNumber > c.sealed {
		return false
	}
	return !c.hasCommit || c.tip.LastBlockNumber > c.committed.LastBlockNumber
}

// pruneSent forgets keys of blocks far enough below the checkpoint that the Link can no longer
// resend them.
func (c *Coordinator) pruneSent() {
	if c.committed.LastBlockNumber < c.cfg.SentRetention {
		return
	}
	floor := c.committed.LastBlockNumber - c.cfg.SentRetention
	for key, block := range c.sent {
		if block < floor {
			delete(c.sent, key)
		}
	}
}

func (c *Coordinator) retryPolicy() retryPolicy {
	return retryPolicy{
		maxRetries:  c.cfg.MaxRetries,
		initial:     c.cfg.RetryBackoff,
		maxInterval: c.cfg.RetryMaxBackoff,
	}
}
