package dex

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"poolIndexer/internal/model"
)

type stubDecoder struct{}

func (stubDecoder) Decode(log model.RawLog) (model.Event, error) {
	if log.LogIndex%2 == 1 {
		return nil, &DecodeError{Kind: Unrecognized, Topic0: log.Topic0()}
	}
	return model.Swap{Source: log.Source()}, nil
}

func TestDecodeBatchOrdersResults(t *testing.T) {
	logs := []model.RawLog{
		{BlockNumber: 12, LogIndex: 0},
		{BlockNumber: 10, LogIndex: 3},
		{BlockNumber: 10, LogIndex: 1},
		{BlockNumber: 11, LogIndex: 2},
	}

	results, err := DecodeBatch(context.Background(), stubDecoder{}, logs, 3)
	if err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	if len(results) != len(logs) {
		t.Fatalf("expected %d results, got %d", len(logs), len(results))
	}

	want := []struct {
		block uint64
		index uint32
	}{{10, 1}, {10, 3}, {11, 2}, {12, 0}}
	for i, w := range want {
		got := results[i].Log
		if got.BlockNumber != w.block || got.LogIndex != w.index {
			t.Fatalf("result %d: got %d/%d, want %d/%d", i, got.BlockNumber, got.LogIndex, w.block, w.index)
		}
	}
	if !errors.Is(results[0].Err, ErrUnrecognized) || results[0].Event != nil {
		t.Fatalf("expected unrecognized result, got %+v", results[0])
	}
	if results[2].Err != nil || results[2].Event == nil {
		t.Fatalf("expected decoded result, got %+v", results[2])
	}
}

func TestDecodeBatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DecodeBatch(ctx, stubDecoder{}, []model.RawLog{{BlockHash: common.HexToHash("0x1")}}, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
