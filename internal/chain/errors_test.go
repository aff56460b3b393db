package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
)

type codeError struct {
	code int
	msg  string
}

func (e codeError) Error() string  { return e.msg }
func (e codeError) ErrorCode() int { return e.code }

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"invalid params code", codeError{code: -32602, msg: "bad filter"}, Fatal},
		{"method not found code", codeError{code: -32601, msg: "the method eth_subscribe does not exist"}, Fatal},
		{"server error code", codeError{code: -32000, msg: "upstream busy"}, Transient},
		{"notifications unsupported", fmt.Errorf("subscribe: %w", rpc.ErrNotificationsUnsupported), Fatal},
		{"deadline", context.DeadlineExceeded, Transient},
		{"filter not found", errors.New("filter not found"), Transient},
		{"invalid argument", errors.New("invalid argument 0: hex string without 0x prefix"), Fatal},
		{"connection reset", errors.New("read tcp: connection reset by peer"), Transient},
		{"unknown", errors.New("websocket: close 1006 (abnormal closure)"), Transient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := classify("op", tc.err)
			var connErr *ConnectionError
			if !errors.As(err, &connErr) {
				t.Fatalf("expected ConnectionError, got %T", err)
			}
			if connErr.Kind != tc.want {
				t.Fatalf("kind = %s, want %s", connErr.Kind, tc.want)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("classified error does not unwrap to the cause")
			}
		})
	}
}

func TestClassifyPassesThrough(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := classify("op", context.Canceled); err != context.Canceled {
		t.Fatalf("expected context.Canceled unchanged, got %v", err)
	}

	fatal := &ConnectionError{Kind: Fatal, Err: errors.New("boom")}
	if err := classify("op", fmt.Errorf("wrapped: %w", fatal)); !IsFatal(err) {
		t.Fatalf("expected fatal to be preserved, got %v", err)
	}
}
