package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"

	"poolIndexer/internal/metrics"
	"poolIndexer/internal/model"
)

// Notification is one item of the Link stream: a log, a reorg signal or a sealing mark.
type Notification struct {
	Log model.RawLog
	// Reorg is set when blocks at or above ReorgFrom were replaced on chain. Stored and buffered
	// data for those blocks must be discarded before later logs are applied.
	Reorg     bool
	ReorgFrom uint64
	// Sealed is set when every log at or below SealedThrough has been delivered in this
	// session, so those blocks are complete.
	Sealed        bool
	SealedThrough uint64
}

// Config controls the Link.
type Config struct {
	Address common.Address
	Topics  []common.Hash

	// ReconcileDepth is how many trailing blocks are re-checked against stored hashes when a
	// session starts. Zero disables reconciliation.
	ReconcileDepth uint64
	BackfillChunk  uint64
	BackfillRPS    int

	DialTimeout      time.Duration
	HeartbeatTimeout time.Duration

	MaxRetries       int
	RetryBackoff     time.Duration
	RetryMaxInterval time.Duration
}

const (
	defaultBackfillChunk    = 2000
	defaultDialTimeout      = 15 * time.Second
	defaultHeartbeatTimeout = 60 * time.Second
	defaultRetryBackoff     = 500 * time.Millisecond
	defaultRetryMaxInterval = 30 * time.Second

	subscriptionBuffer = 256
)

func (c Config) withDefaults() Config {
	if c.BackfillChunk == 0 {
		c.BackfillChunk = defaultBackfillChunk
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxInterval < c.RetryBackoff {
		c.RetryMaxInterval = defaultRetryMaxInterval
		if c.RetryMaxInterval < c.RetryBackoff {
			c.RetryMaxInterval = c.RetryBackoff
		}
	}
	return c
}

// Link owns the node connection and turns it into an ordered, restartable notification stream.
type Link struct {
	cfg     Config
	dial    Dialer
	hashes  HashSource
	logger  *zap.Logger
	metrics *metrics.Link
	limiter ratelimit.Limiter

	node Node
	// next is the lowest block that may still have undelivered logs. A session resumes here.
	// Written by the Stream goroutine, readable from any goroutine.
	next atomic.Uint64
}

// NewLink creates a Link. hashes may be nil, which disables reconciliation.
func NewLink(cfg Config, dial Dialer, hashes HashSource, logger *zap.Logger, m *metrics.Link) *Link {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.BackfillRPS > 0 {
		limiter = ratelimit.New(cfg.BackfillRPS)
	}

	return &Link{
		cfg:     cfg,
		dial:    dial,
		hashes:  hashes,
		logger:  logger.Named("chain"),
		metrics: m,
		limiter: limiter,
	}
}

// Next returns the block the next session resumes from.
func (l *Link) Next() uint64 {
	return l.next.Load()
}

// Connect dials the node and validates the filter. fromBlock zero means the current head.
// Transient failures are retried with the reconnect policy.
func (l *Link) Connect(ctx context.Context, fromBlock uint64) error {
	bo := l.newBackOff()
	for attempt := 1; ; attempt++ {
		err := l.connectOnce(ctx, fromBlock)
		if err == nil {
			l.logger.Info("chain link connected",
				zap.String("address", l.cfg.Address.Hex()),
				zap.Uint64("from_block", l.next.Load()),
			)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsFatal(err) {
			return err
		}
		if attempt > l.cfg.MaxRetries {
			return &ConnectionError{Kind: Fatal, Op: "connect", Err: fmt.Errorf("%d attempts failed: %w", attempt, err)}
		}

		wait := bo.NextBackOff()
		l.logger.Warn("connect failed, retrying", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("backoff", wait))
		l.metrics.ObserveReconnect("connect")
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Link) connectOnce(ctx context.Context, fromBlock uint64) error {
	node, err := l.dialNode(ctx)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()

	code, err := node.CodeAt(cctx, l.cfg.Address)
	if err != nil {
		node.Close()
		return classify("eth_getCode", err)
	}
	if len(code) == 0 {
		node.Close()
		return &ConnectionError{Kind: Fatal, Op: "eth_getCode", Err: fmt.Errorf("no contract code at %s", l.cfg.Address.Hex())}
	}

	if fromBlock == 0 {
		head, err := node.BlockNumber(cctx)
		if err != nil {
			node.Close()
			return classify("eth_blockNumber", err)
		}
		fromBlock = head + 1
	}

	l.closeNode()
	l.node = node
	l.next.Store(fromBlock)
	return nil
}

// Stream runs subscription sessions until ctx is done or a fatal error occurs. Each session
// reconciles recent blocks, backfills from the resume block to head, then follows live logs.
// Logs are in (block, index) order within a session; a new session may re-send the block it
// resumes from.
func (l *Link) Stream(ctx context.Context, out chan<- Notification) error {
	if l.node == nil {
		return errors.New("chain link is not connected")
	}
	defer l.closeNode()

	bo := l.newBackOff()
	failures := 0
	for {
		delivered, err := l.runSession(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if IsFatal(err) {
			return err
		}
		l.closeNode()

		if delivered {
			failures = 0
			bo.Reset()
		}
		failures++
		if failures > l.cfg.MaxRetries {
			return &ConnectionError{Kind: Fatal, Op: "reconnect", Err: fmt.Errorf("%d consecutive sessions failed: %w", failures, err)}
		}

		reason := "transient"
		var connErr *ConnectionError
		if errors.As(err, &connErr) && connErr.Op != "" {
			reason = connErr.Op
		}
		wait := bo.NextBackOff()
		l.logger.Warn("chain link session ended, reconnecting",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("backoff", wait),
			zap.Uint64("from_block", l.next.Load()),
		)
		l.metrics.ObserveReconnect(reason)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// Close releases the node connection.
func (l *Link) Close() {
	l.closeNode()
}

func (l *Link) closeNode() {
	if l.node != nil {
		l.node.Close()
		l.node = nil
	}
}

func (l *Link) dialNode(ctx context.Context) (Node, error) {
	dctx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
	defer cancel()

	node, err := l.dial(dctx)
	if err != nil {
		return nil, classify("dial", err)
	}
	return node, nil
}

func (l *Link) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.RetryBackoff
	b.MaxInterval = l.cfg.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (l *Link) query() ethereum.FilterQuery {
	query := ethereum.FilterQuery{Addresses: []common.Address{l.cfg.Address}}
	if len(l.cfg.Topics) > 0 {
		query.Topics = [][]common.Hash{l.cfg.Topics}
	}
	return query
}

// session is the state of one subscription. It is recreated on every reconnect.
type session struct {
	link      *Link
	id        string
	logger    *zap.Logger
	out       chan<- Notification
	delivered bool
}

func (l *Link) runSession(ctx context.Context, out chan<- Notification) (bool, error) {
	id := uuid.NewString()
	s := &session{
		link:   l,
		id:     id,
		logger: l.logger.With(zap.String("session", id)),
		out:    out,
	}

	if l.node == nil {
		node, err := l.dialNode(ctx)
		if err != nil {
			return false, err
		}
		l.node = node
	}

	query := l.query()
	logs := make(chan types.Log, subscriptionBuffer)
	sub, err := l.node.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return false, classify("eth_subscribe", err)
	}
	defer sub.Unsubscribe()
	s.logger.Info("subscribed", zap.Uint64("from_block", l.next.Load()))

	if err := s.reconcile(ctx); err != nil {
		return s.delivered, err
	}
	floor, err := s.backfill(ctx, query)
	if err != nil {
		return s.delivered, err
	}
	return s.delivered, s.follow(ctx, sub, logs, floor)
}

// reconcile compares stored block hashes in [next-depth+1, next] with the node. On the first
// mismatch it signals a reorg from the block after the last stored block that still matches,
// since blocks without stored data in between may have gained logs on the new fork.
func (s *session) reconcile(ctx context.Context) error {
	l := s.link
	next := l.next.Load()
	if l.hashes == nil || l.cfg.ReconcileDepth == 0 || next == 0 {
		return nil
	}

	hi := next
	lo := uint64(0)
	if hi+1 > l.cfg.ReconcileDepth {
		lo = hi + 1 - l.cfg.ReconcileDepth
	}
	stored, err := l.hashes.BlockHashes(ctx, lo, hi)
	if err != nil {
		return &ConnectionError{Kind: Transient, Op: "reconcile", Err: fmt.Errorf("load stored block hashes: %w", err)}
	}

	numbers := make([]uint64, 0, len(stored))
	for number := range stored {
		numbers = append(numbers, number)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	from := lo
	for _, number := range numbers {
		l.limiter.Take()
		hash, err := l.node.BlockHash(ctx, number)
		if err != nil {
			return classify("eth_getBlockByNumber", err)
		}
		if hash == stored[number] {
			from = number + 1
			continue
		}
		s.logger.Warn("reorg detected during reconciliation",
			zap.Uint64("block", number),
			zap.Uint64("reorg_from", from),
			zap.String("stored_hash", stored[number].Hex()),
			zap.String("node_hash", hash.Hex()),
		)
		l.metrics.ObserveReorg("reconcile")
		if err := s.send(ctx, Notification{Reorg: true, ReorgFrom: from}); err != nil {
			return err
		}
		if from < l.next.Load() {
			l.next.Store(from)
		}
		return nil
	}
	return nil
}

// backfill fetches logs from next to the current head with eth_getLogs and returns the head.
func (s *session) backfill(ctx context.Context, query ethereum.FilterQuery) (uint64, error) {
	l := s.link
	head, err := l.node.BlockNumber(ctx)
	if err != nil {
		return 0, classify("eth_blockNumber", err)
	}
	if l.next.Load() > head {
		return head, nil
	}

	ranges, err := SplitRange(l.next.Load(), head, l.cfg.BackfillChunk)
	if err != nil {
		return 0, err
	}
	s.logger.Info("backfilling", zap.Uint64("from", l.next.Load()), zap.Uint64("to", head), zap.Int("chunks", len(ranges)))

	for _, r := range ranges {
		l.limiter.Take()
		q := query
		q.FromBlock = new(big.Int).SetUint64(r.From)
		q.ToBlock = new(big.Int).SetUint64(r.To)
		logs, err := l.node.FilterLogs(ctx, q)
		if err != nil {
			return 0, classify("eth_getLogs", err)
		}

		sort.SliceStable(logs, func(i, j int) bool {
			return model.Less(logs[i].BlockNumber, uint32(logs[i].Index), logs[j].BlockNumber, uint32(logs[j].Index))
		})
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			if err := s.forward(ctx, model.RawLogFromTypes(lg), "backfill"); err != nil {
				return 0, err
			}
		}
		l.next.Store(r.To + 1)
	}
	if err := s.send(ctx, Notification{Sealed: true, SealedThrough: head}); err != nil {
		return 0, err
	}
	return head, nil
}

// follow forwards live logs above floor until the subscription fails, the node stops answering
// heartbeats, or ctx is done.
func (s *session) follow(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log, floor uint64) error {
	l := s.link
	idle := time.NewTimer(l.cfg.HeartbeatTimeout)
	defer idle.Stop()

	// Lowest block already signalled as reorged since the last forwarded log. Removed logs for
	// the same reorg arrive in bulk and only need one notification.
	var reorgFrom uint64
	reorgPending := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-sub.Err():
			if !ok || err == nil {
				err = errors.New("subscription closed")
			}
			return classify("eth_subscribe", err)

		case lg := <-logs:
			resetTimer(idle, l.cfg.HeartbeatTimeout)
			raw := model.RawLogFromTypes(lg)

			if raw.Removed {
				if reorgPending && raw.BlockNumber >= reorgFrom {
					continue
				}
				s.logger.Warn("log removed by reorg", zap.Uint64("block", raw.BlockNumber), zap.String("block_hash", raw.BlockHash.Hex()))
				l.metrics.ObserveReorg("removed")
				if err := s.send(ctx, Notification{Reorg: true, ReorgFrom: raw.BlockNumber}); err != nil {
					return err
				}
				reorgFrom, reorgPending = raw.BlockNumber, true
				if raw.BlockNumber <= floor && raw.BlockNumber > 0 {
					floor = raw.BlockNumber - 1
				}
				if raw.BlockNumber < l.next.Load() {
					l.next.Store(raw.BlockNumber)
				}
				continue
			}

			if raw.BlockNumber <= floor {
				continue
			}
			l.next.Store(raw.BlockNumber)
			if err := s.forward(ctx, raw, "live"); err != nil {
				return err
			}
			reorgPending = false

		case <-idle.C:
			pctx, cancel := context.WithTimeout(ctx, l.cfg.DialTimeout)
			head, err := l.node.BlockNumber(pctx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &ConnectionError{Kind: Transient, Op: "heartbeat", Err: err}
			}
			s.logger.Debug("heartbeat", zap.Uint64("head", head))
			idle.Reset(l.cfg.HeartbeatTimeout)
		}
	}
}

func (s *session) forward(ctx context.Context, raw model.RawLog, source string) error {
	if err := s.send(ctx, Notification{Log: raw}); err != nil {
		return err
	}
	s.delivered = true
	s.link.metrics.ObserveLog(source)
	return nil
}

// send blocks until the consumer accepts n, which is where backpressure applies.
func (s *session) send(ctx context.Context, n Notification) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.out <- n:
		return nil
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
