package chain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var testAddress = common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

type fakeSub struct {
	errCh chan error
	once  sync.Once
}

func newFakeSub() *fakeSub {
	return &fakeSub{errCh: make(chan error, 1)}
}

func (s *fakeSub) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

func (s *fakeSub) Err() <-chan error { return s.errCh }

// fakeNode serves a fixed chain. Live logs are pushed through the channel handed to
// SubscribeFilterLogs, which is published on subscribed.
type fakeNode struct {
	mu          sync.Mutex
	head        uint64
	hashes      map[uint64]common.Hash
	logs        []types.Log
	code        []byte
	headErr     error
	subErr      error
	filterCalls []ethereum.FilterQuery
	closed      bool

	subscribed chan liveFeed
}

type liveFeed struct {
	logs chan<- types.Log
	sub  *fakeSub
}

func newFakeNode(head uint64) *fakeNode {
	return &fakeNode{
		head:       head,
		hashes:     map[uint64]common.Hash{},
		code:       []byte{0x60, 0x80},
		subscribed: make(chan liveFeed, 4),
	}
}

func (n *fakeNode) BlockNumber(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.head, n.headErr
}

func (n *fakeNode) BlockHash(ctx context.Context, number uint64) (common.Hash, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	hash, ok := n.hashes[number]
	if !ok {
		return common.Hash{}, ethereum.NotFound
	}
	return hash, nil
}

func (n *fakeNode) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.filterCalls = append(n.filterCalls, query)
	from, to := query.FromBlock.Uint64(), query.ToBlock.Uint64()
	var out []types.Log
	for _, lg := range n.logs {
		if lg.BlockNumber >= from && lg.BlockNumber <= to {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (n *fakeNode) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	n.mu.Lock()
	err := n.subErr
	n.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sub := newFakeSub()
	n.subscribed <- liveFeed{logs: ch, sub: sub}
	return sub, nil
}

func (n *fakeNode) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return n.code, nil
}

func (n *fakeNode) Close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
}

type staticHashes map[uint64]common.Hash

func (h staticHashes) BlockHashes(ctx context.Context, from, to uint64) (map[uint64]common.Hash, error) {
	out := map[uint64]common.Hash{}
	for number, hash := range h {
		if number >= from && number <= to {
			out[number] = hash
		}
	}
	return out, nil
}

func blockHash(number uint64, fork byte) common.Hash {
	var h common.Hash
	h[0] = fork
	copy(h[24:], new(big.Int).SetUint64(number).FillBytes(make([]byte, 8)))
	return h
}

func testLog(number uint64, index uint, fork byte) types.Log {
	return types.Log{
		Address:     testAddress,
		Topics:      []common.Hash{common.HexToHash("0xc42079f94a6350d7e6235f29174924f928cc2ac818eb64fed8004e115fbcca67")},
		Data:        []byte{0x01},
		BlockNumber: number,
		BlockHash:   blockHash(number, fork),
		TxHash:      common.BigToHash(big.NewInt(int64(number*100 + uint64(index)))),
		Index:       index,
	}
}

func testConfig() Config {
	return Config{
		Address:          testAddress,
		ReconcileDepth:   4,
		BackfillChunk:    2,
		DialTimeout:      time.Second,
		HeartbeatTimeout: time.Minute,
		MaxRetries:       2,
		RetryBackoff:     time.Millisecond,
		RetryMaxInterval: 2 * time.Millisecond,
	}
}

func dialerFor(nodes ...*fakeNode) (Dialer, *int) {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context) (Node, error) {
		mu.Lock()
		defer mu.Unlock()
		if calls >= len(nodes) {
			return nil, errors.New("connection refused")
		}
		node := nodes[calls]
		calls++
		return node, nil
	}, &calls
}

// receive returns the next log or reorg notification, skipping sealing marks.
func receive(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	for {
		n := receiveAny(t, ch)
		if !n.Sealed {
			return n
		}
	}
}

func receiveAny(t *testing.T, ch <-chan Notification) Notification {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
		return Notification{}
	}
}

func waitFeed(t *testing.T, node *fakeNode) liveFeed {
	t.Helper()
	select {
	case feed := <-node.subscribed:
		return feed
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for subscription")
		return liveFeed{}
	}
}

func TestConnectRejectsAddressWithoutCode(t *testing.T) {
	node := newFakeNode(10)
	node.code = nil
	dial, _ := dialerFor(node)

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	err := link.Connect(context.Background(), 1)
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !node.closed {
		t.Fatalf("expected node to be closed")
	}
}

func TestConnectRetriesTransientDialFailures(t *testing.T) {
	node := newFakeNode(10)
	attempts := 0
	dial := func(ctx context.Context) (Node, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return node, nil
	}

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	if err := link.Connect(context.Background(), 0); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if link.Next() != 11 {
		t.Fatalf("expected to start after head, got %d", link.Next())
	}

	attempts = 0
	cfg := testConfig()
	cfg.MaxRetries = 1
	link = NewLink(cfg, dial, nil, zap.NewNop(), nil)
	if err := link.Connect(context.Background(), 0); !IsFatal(err) {
		t.Fatalf("expected fatal after exhausting retries, got %v", err)
	}
}

func TestStreamBackfillsThenFollowsLive(t *testing.T) {
	node := newFakeNode(102)
	node.logs = []types.Log{testLog(101, 1, 0), testLog(100, 0, 0), testLog(101, 0, 0), testLog(102, 0, 0)}
	dial, _ := dialerFor(node)

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	out := make(chan Notification)
	done := make(chan error, 1)
	go func() { done <- link.Stream(ctx, out) }()

	feed := waitFeed(t, node)

	want := [][2]uint64{{100, 0}, {101, 0}, {101, 1}, {102, 0}}
	for _, w := range want {
		n := receive(t, out)
		if n.Reorg || n.Log.BlockNumber != w[0] || uint64(n.Log.LogIndex) != w[1] {
			t.Fatalf("unexpected notification %+v, want %v", n, w)
		}
	}

	if n := receiveAny(t, out); !n.Sealed || n.SealedThrough != 102 {
		t.Fatalf("expected blocks through 102 sealed after backfill, got %+v", n)
	}

	// Already backfilled, dropped.
	feed.logs <- testLog(102, 0, 0)
	feed.logs <- testLog(103, 0, 0)
	n := receive(t, out)
	if n.Log.BlockNumber != 103 {
		t.Fatalf("expected live log at 103, got %+v", n)
	}
	if link.Next() != 103 {
		t.Fatalf("expected resume block 103, got %d", link.Next())
	}
	if len(node.filterCalls) != 2 {
		t.Fatalf("expected 2 backfill chunks, got %d", len(node.filterCalls))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestStreamSignalsRemovedLogsOnce(t *testing.T) {
	node := newFakeNode(99)
	dial, _ := dialerFor(node)

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	out := make(chan Notification, 8)
	go func() { _ = link.Stream(ctx, out) }()
	feed := waitFeed(t, node)

	feed.logs <- testLog(100, 0, 0)
	feed.logs <- testLog(100, 1, 0)
	removed0, removed1 := testLog(100, 0, 0), testLog(100, 1, 0)
	removed0.Removed, removed1.Removed = true, true
	feed.logs <- removed1
	feed.logs <- removed0
	feed.logs <- testLog(100, 0, 1)

	receive(t, out)
	receive(t, out)
	n := receive(t, out)
	if !n.Reorg || n.ReorgFrom != 100 {
		t.Fatalf("expected reorg from 100, got %+v", n)
	}
	n = receive(t, out)
	if n.Reorg || n.Log.BlockHash != blockHash(100, 1) {
		t.Fatalf("expected replacement log, got %+v", n)
	}
}

func TestStreamReconcilesAgainstStoredHashes(t *testing.T) {
	node := newFakeNode(101)
	node.hashes[98] = blockHash(98, 0)
	node.hashes[99] = blockHash(99, 1)
	node.hashes[100] = blockHash(100, 1)
	node.logs = []types.Log{testLog(99, 0, 1), testLog(101, 0, 1)}
	dial, _ := dialerFor(node)

	stored := staticHashes{98: blockHash(98, 0), 99: blockHash(99, 0)}
	link := NewLink(testConfig(), dial, stored, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	out := make(chan Notification, 8)
	go func() { _ = link.Stream(ctx, out) }()

	n := receive(t, out)
	if !n.Reorg || n.ReorgFrom != 99 {
		t.Fatalf("expected reorg from 99, got %+v", n)
	}
	n = receive(t, out)
	if n.Log.BlockNumber != 99 || n.Log.BlockHash != blockHash(99, 1) {
		t.Fatalf("expected replayed block 99 from new fork, got %+v", n)
	}
	n = receive(t, out)
	if n.Log.BlockNumber != 101 {
		t.Fatalf("expected block 101, got %+v", n)
	}
}

func TestStreamReconcileReplaysUnstoredForkedBlocks(t *testing.T) {
	node := newFakeNode(100)
	node.hashes[97] = blockHash(97, 0)
	node.hashes[98] = blockHash(98, 1)
	node.hashes[99] = blockHash(99, 1)
	node.hashes[100] = blockHash(100, 1)
	// The old chain had no pool logs at 98, so nothing is stored for it.
	node.logs = []types.Log{testLog(98, 0, 1), testLog(99, 0, 1)}
	dial, _ := dialerFor(node)

	stored := staticHashes{97: blockHash(97, 0), 99: blockHash(99, 0)}
	link := NewLink(testConfig(), dial, stored, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	out := make(chan Notification, 8)
	go func() { _ = link.Stream(ctx, out) }()

	n := receive(t, out)
	if !n.Reorg || n.ReorgFrom != 98 {
		t.Fatalf("expected reorg from 98, the block after the last matching one, got %+v", n)
	}
	for _, block := range []uint64{98, 99} {
		n = receive(t, out)
		if n.Reorg || n.Log.BlockNumber != block || n.Log.BlockHash != blockHash(block, 1) {
			t.Fatalf("expected new fork log at %d, got %+v", block, n)
		}
	}
}

func TestStreamReconcileWithoutMatchStartsAtWindow(t *testing.T) {
	node := newFakeNode(100)
	node.hashes[99] = blockHash(99, 1)
	dial, _ := dialerFor(node)

	stored := staticHashes{99: blockHash(99, 0)}
	link := NewLink(testConfig(), dial, stored, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	out := make(chan Notification, 8)
	go func() { _ = link.Stream(ctx, out) }()

	n := receive(t, out)
	if !n.Reorg || n.ReorgFrom != 97 {
		t.Fatalf("expected reorg from window start 97, got %+v", n)
	}
}

func TestStreamReconnectsAndResumes(t *testing.T) {
	first := newFakeNode(100)
	first.logs = []types.Log{testLog(100, 0, 0)}
	second := newFakeNode(101)
	second.logs = []types.Log{testLog(100, 0, 0), testLog(101, 0, 0)}
	dial, calls := dialerFor(first, second)

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 100); err != nil {
		t.Fatalf("connect: %v", err)
	}

	out := make(chan Notification, 8)
	done := make(chan error, 1)
	go func() { done <- link.Stream(ctx, out) }()

	feed := waitFeed(t, first)
	if n := receive(t, out); n.Log.BlockNumber != 100 {
		t.Fatalf("expected block 100, got %+v", n)
	}
	feed.sub.errCh <- errors.New("websocket: close 1006 (abnormal closure)")

	waitFeed(t, second)
	if n := receive(t, out); n.Log.BlockNumber != 101 {
		t.Fatalf("expected block 101 after reconnect, got %+v", n)
	}
	if *calls != 2 {
		t.Fatalf("expected 2 dials, got %d", *calls)
	}
	if !first.closed {
		t.Fatalf("expected first node closed")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestStreamGivesUpAfterMaxRetries(t *testing.T) {
	node := newFakeNode(10)
	dial, _ := dialerFor(node)

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	if err := link.Connect(context.Background(), 11); err != nil {
		t.Fatalf("connect: %v", err)
	}
	node.subErr = errors.New("connection reset by peer")

	err := link.Stream(context.Background(), make(chan Notification, 1))
	if !IsFatal(err) {
		t.Fatalf("expected fatal after retries, got %v", err)
	}
}

func TestStreamFailsFastOnRejectedFilter(t *testing.T) {
	node := newFakeNode(10)
	dial, _ := dialerFor(node)

	link := NewLink(testConfig(), dial, nil, zap.NewNop(), nil)
	if err := link.Connect(context.Background(), 11); err != nil {
		t.Fatalf("connect: %v", err)
	}
	node.subErr = codeError{code: -32602, msg: "invalid params"}

	err := link.Stream(context.Background(), make(chan Notification, 1))
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Kind != Fatal || connErr.Op != "eth_subscribe" {
		t.Fatalf("expected fatal subscribe error, got %v", err)
	}
}

func TestStreamHeartbeatFailureReconnects(t *testing.T) {
	first := newFakeNode(10)
	second := newFakeNode(10)
	dial, calls := dialerFor(first, second)

	cfg := testConfig()
	cfg.HeartbeatTimeout = 20 * time.Millisecond
	link := NewLink(cfg, dial, nil, zap.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := link.Connect(ctx, 11); err != nil {
		t.Fatalf("connect: %v", err)
	}

	go func() { _ = link.Stream(ctx, make(chan Notification, 1)) }()
	waitFeed(t, first)
	first.mu.Lock()
	first.headErr = errors.New("i/o timeout")
	first.mu.Unlock()

	waitFeed(t, second)
	if *calls != 2 {
		t.Fatalf("expected reconnect after heartbeat failure, got %d dials", *calls)
	}
}
