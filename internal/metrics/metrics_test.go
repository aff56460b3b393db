package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func delta(t *testing.T, collector prometheus.Collector, observe func()) float64 {
	t.Helper()

	before := testutil.ToFloat64(collector)
	observe()
	after := testutil.ToFloat64(collector)
	return after - before
}

func TestLinkRecords(t *testing.T) {
	m := NewLink("")
	start := time.Now().Add(-time.Second)

	if inc := delta(t, linkReconnectsTotal.WithLabelValues("unknown", "transient"), func() {
		m.ObserveReconnect("transient")
	}); inc != 1 {
		t.Fatalf("expected reconnect increment, got %v", inc)
	}
	if inc := delta(t, linkRPCTotal.WithLabelValues("unknown", "eth_getLogs", "error"), func() {
		m.ObserveRPC("eth_getLogs", errors.New("boom"), start)
	}); inc != 1 {
		t.Fatalf("expected rpc error increment, got %v", inc)
	}
	m.ObserveLog("live")
	m.ObserveReorg("removed")
}

func TestPipelineRecords(t *testing.T) {
	m := NewPipeline("0xpool")
	start := time.Now().Add(-500 * time.Millisecond)

	if inc := delta(t, pipelineCommitTotal.WithLabelValues("0xpool", "success"), func() {
		m.ObserveCommit(nil, 3, start)
	}); inc != 1 {
		t.Fatalf("expected commit success increment, got %v", inc)
	}
	if inc := delta(t, pipelineDecodeSkippedTotal.WithLabelValues("0xpool", "malformed"), func() {
		m.ObserveDecodeSkip("malformed")
	}); inc != 1 {
		t.Fatalf("expected decode skip increment, got %v", inc)
	}

	m.SetCheckpoint(100)
	if got := testutil.ToFloat64(pipelineCheckpointBlock.WithLabelValues("0xpool")); got != 100 {
		t.Fatalf("expected checkpoint gauge 100, got %v", got)
	}

	m.SetState("", "streaming")
	m.SetState("streaming", "flushing")
	if got := testutil.ToFloat64(pipelineState.WithLabelValues("0xpool", "streaming")); got != 0 {
		t.Fatalf("expected streaming gauge reset, got %v", got)
	}
	if got := testutil.ToFloat64(pipelineState.WithLabelValues("0xpool", "flushing")); got != 1 {
		t.Fatalf("expected flushing gauge set, got %v", got)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var link *Link
	var pipeline *Pipeline
	link.ObserveLog("live")
	link.ObserveRPC("eth_blockNumber", nil, time.Now())
	pipeline.ObserveCommit(nil, 1, time.Now())
	pipeline.SetState("", "starting")
}

func TestHealthz(t *testing.T) {
	handler := NewHandler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz = %d, want 405", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", rec.Code)
	}
}
