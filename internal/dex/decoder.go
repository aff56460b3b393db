package dex

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"poolIndexer/internal/model"
)

// Decoder maps a raw log to one of the pool events.
type Decoder interface {
	Decode(log model.RawLog) (model.Event, error)
}

// DecodeKind classifies decode failures. Neither kind stops the pipeline.
type DecodeKind int

const (
	// Unrecognized means topic0 is not one of the pool's event signatures.
	Unrecognized DecodeKind = iota + 1
	// Malformed means the signature is known but topics or data do not match it.
	Malformed
)

func (k DecodeKind) String() string {
	switch k {
	case Unrecognized:
		return "unrecognized"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

var (
	ErrUnrecognized = errors.New("unrecognized event signature")
	ErrMalformed    = errors.New("malformed event payload")
)

// DecodeError describes why a log could not be decoded.
type DecodeError struct {
	Kind   DecodeKind
	Topic0 common.Hash
	Event  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("%s: topic0 %s", e.sentinel(), e.Topic0.Hex())
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.sentinel(), e.Event)
	}
	return fmt.Sprintf("%s: %s: %v", e.sentinel(), e.Event, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches ErrUnrecognized and ErrMalformed by kind.
func (e *DecodeError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DecodeError) sentinel() error {
	if e.Kind == Unrecognized {
		return ErrUnrecognized
	}
	return ErrMalformed
}

// KindOf returns the decode kind of err, or 0 when err is not a decode error.
func KindOf(err error) DecodeKind {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return decodeErr.Kind
	}
	return 0
}

// EventNames lists the pool events in ABI declaration order.
func EventNames() []string {
	return []string{
		model.EventInitialize,
		model.EventMint,
		model.EventCollect,
		model.EventBurn,
		model.EventSwap,
		model.EventFlash,
		model.EventIncreaseObservationCardinalityNext,
		model.EventSetFeeProtocol,
		model.EventCollectProtocol,
	}
}

// Topics returns the topic0 signature of every pool event, used as the subscription filter.
func Topics() ([]common.Hash, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, err
	}
	names := EventNames()
	topics := make([]common.Hash, 0, len(names))
	for _, name := range names {
		event, ok := poolABI.Events[name]
		if !ok {
			return nil, fmt.Errorf("event %s missing from pool abi", name)
		}
		topics = append(topics, event.ID)
	}
	return topics, nil
}
