package indexer

import "testing"

func TestTransitionTable(t *testing.T) {
	allowed := [][2]State{
		{Starting, Streaming},
		{Streaming, Flushing},
		{Streaming, Reconciling},
		{Flushing, Streaming},
		{Flushing, Backoff},
		{Flushing, Fatal},
		{Backoff, Flushing},
		{Backoff, Reconciling},
		{Reconciling, Streaming},
		{Reconciling, Flushing},
		{Streaming, Stopped},
	}
	for _, pair := range allowed {
		if !canTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	rejected := [][2]State{
		{Starting, Flushing},
		{Streaming, Backoff},
		{Fatal, Streaming},
		{Stopped, Starting},
		{Backoff, Streaming},
	}
	for _, pair := range rejected {
		if canTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}

	if !Fatal.Terminal() || !Stopped.Terminal() || Streaming.Terminal() {
		t.Fatalf("unexpected terminal states")
	}
}
