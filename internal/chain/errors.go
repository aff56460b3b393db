package chain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrorKind classifies connection failures.
type ErrorKind int

const (
	// Transient failures are retried with backoff.
	Transient ErrorKind = iota + 1
	// Fatal failures stop the pipeline: retries are exhausted or the node rejects the filter.
	Fatal
)

func (k ErrorKind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// ConnectionError is returned by the Link for node failures.
type ConnectionError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s connection error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s connection error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsFatal reports whether err is a fatal ConnectionError.
func IsFatal(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr) && connErr.Kind == Fatal
}

// classify wraps err as a ConnectionError. Context cancellation is returned unchanged so callers
// can tell shutdown apart from node failures.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ConnectionError{Kind: kindOf(err), Op: op, Err: err}
}

const (
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

func kindOf(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return Fatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeMethodNotFound, codeInvalidParams:
			return Fatal
		}
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, transientMessageTokens) {
		return Transient
	}
	if containsAny(lower, fatalMessageTokens) {
		return Fatal
	}
	return Transient
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

// Checked before the fatal tokens: "filter not found" would otherwise match "not found".
var transientMessageTokens = []string{
	"filter not found",
	"subscription not found",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"too many requests",
	"rate limit",
	"header not found",
}

var fatalMessageTokens = []string{
	"invalid argument",
	"invalid params",
	"method not found",
	"no known transport",
	"no contract code",
}
