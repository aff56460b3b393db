package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"poolIndexer/internal/model"
)

// V3PoolDecoder decodes Uniswap V3 style pool events. It holds no mutable state and is safe
// for concurrent use.
type V3PoolDecoder struct {
	poolABI     abi.ABI
	topicToName map[common.Hash]string
}

// NewV3PoolDecoder builds a V3 pool decoder.
func NewV3PoolDecoder() (*V3PoolDecoder, error) {
	poolABI, err := V3PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}

	topicToName := make(map[common.Hash]string, len(EventNames()))
	for _, name := range EventNames() {
		event, ok := poolABI.Events[name]
		if !ok {
			return nil, fmt.Errorf("event %s missing from pool abi", name)
		}
		topicToName[event.ID] = name
	}

	return &V3PoolDecoder{
		poolABI:     poolABI,
		topicToName: topicToName,
	}, nil
}

// CanDecode checks if the topic0 is one of the pool events.
func (d *V3PoolDecoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToName[topic0]
	return ok
}

// Decode converts a raw log into a typed pool event.
func (d *V3PoolDecoder) Decode(log model.RawLog) (model.Event, error) {
	if len(log.Topics) == 0 {
		return nil, &DecodeError{Kind: Unrecognized}
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return nil, &DecodeError{Kind: Unrecognized, Topic0: log.Topics[0]}
	}

	event, err := d.decode(name, log)
	if err != nil {
		return nil, &DecodeError{Kind: Malformed, Topic0: log.Topics[0], Event: name, Err: err}
	}
	return event, nil
}

func (d *V3PoolDecoder) decode(name string, log model.RawLog) (model.Event, error) {
	switch name {
	case model.EventInitialize:
		return d.decodeInitialize(log)
	case model.EventMint:
		return d.decodeMint(log)
	case model.EventCollect:
		return d.decodeCollect(log)
	case model.EventBurn:
		return d.decodeBurn(log)
	case model.EventSwap:
		return d.decodeSwap(log)
	case model.EventFlash:
		return d.decodeFlash(log)
	case model.EventIncreaseObservationCardinalityNext:
		return d.decodeObservationCardinality(log)
	case model.EventSetFeeProtocol:
		return d.decodeSetFeeProtocol(log)
	case model.EventCollectProtocol:
		return d.decodeCollectProtocol(log)
	default:
		return nil, fmt.Errorf("unsupported event name: %s", name)
	}
}

type senderRecipientTopics struct {
	Sender    common.Address
	Recipient common.Address
}

type positionTopics struct {
	Owner     common.Address
	TickLower *big.Int
	TickUpper *big.Int
}

func (t positionTopics) ticks() (int32, int32, error) {
	lower, err := int24FromBig(t.TickLower)
	if err != nil {
		return 0, 0, fmt.Errorf("tickLower: %w", err)
	}
	upper, err := int24FromBig(t.TickUpper)
	if err != nil {
		return 0, 0, fmt.Errorf("tickUpper: %w", err)
	}
	return lower, upper, nil
}

func (d *V3PoolDecoder) decodeInitialize(log model.RawLog) (model.Event, error) {
	values, err := d.unpack(model.EventInitialize, log, nil)
	if err != nil {
		return nil, err
	}
	var ints [2]*big.Int
	if err := asBigInts(values, ints[:]...); err != nil {
		return nil, err
	}
	tick, err := int24FromBig(ints[1])
	if err != nil {
		return nil, err
	}
	return model.Initialize{
		Source:       log.Source(),
		SqrtPriceX96: ints[0],
		Tick:         tick,
	}, nil
}

func (d *V3PoolDecoder) decodeSwap(log model.RawLog) (model.Event, error) {
	var indexed senderRecipientTopics
	values, err := d.unpack(model.EventSwap, log, &indexed)
	if err != nil {
		return nil, err
	}
	var ints [5]*big.Int
	if err := asBigInts(values, ints[:]...); err != nil {
		return nil, err
	}
	tick, err := int24FromBig(ints[4])
	if err != nil {
		return nil, err
	}
	return model.Swap{
		Source:       log.Source(),
		Sender:       indexed.Sender,
		Recipient:    indexed.Recipient,
		Amount0:      ints[0],
		Amount1:      ints[1],
		SqrtPriceX96: ints[2],
		Liquidity:    ints[3],
		Tick:         tick,
	}, nil
}

func (d *V3PoolDecoder) decodeMint(log model.RawLog) (model.Event, error) {
	var indexed positionTopics
	values, err := d.unpack(model.EventMint, log, &indexed)
	if err != nil {
		return nil, err
	}
	sender, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}
	var ints [3]*big.Int
	if err := asBigInts(values[1:], ints[:]...); err != nil {
		return nil, err
	}
	tickLower, tickUpper, err := indexed.ticks()
	if err != nil {
		return nil, err
	}
	return model.Mint{
		Source:    log.Source(),
		Sender:    sender,
		Owner:     indexed.Owner,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    ints[0],
		Amount0:   ints[1],
		Amount1:   ints[2],
	}, nil
}

func (d *V3PoolDecoder) decodeBurn(log model.RawLog) (model.Event, error) {
	var indexed positionTopics
	values, err := d.unpack(model.EventBurn, log, &indexed)
	if err != nil {
		return nil, err
	}
	var ints [3]*big.Int
	if err := asBigInts(values, ints[:]...); err != nil {
		return nil, err
	}
	tickLower, tickUpper, err := indexed.ticks()
	if err != nil {
		return nil, err
	}
	return model.Burn{
		Source:    log.Source(),
		Owner:     indexed.Owner,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount:    ints[0],
		Amount0:   ints[1],
		Amount1:   ints[2],
	}, nil
}

func (d *V3PoolDecoder) decodeCollect(log model.RawLog) (model.Event, error) {
	var indexed positionTopics
	values, err := d.unpack(model.EventCollect, log, &indexed)
	if err != nil {
		return nil, err
	}
	recipient, err := asAddress(values[0])
	if err != nil {
		return nil, err
	}
	var ints [2]*big.Int
	if err := asBigInts(values[1:], ints[:]...); err != nil {
		return nil, err
	}
	tickLower, tickUpper, err := indexed.ticks()
	if err != nil {
		return nil, err
	}
	return model.Collect{
		Source:    log.Source(),
		Owner:     indexed.Owner,
		Recipient: recipient,
		TickLower: tickLower,
		TickUpper: tickUpper,
		Amount0:   ints[0],
		Amount1:   ints[1],
	}, nil
}

func (d *V3PoolDecoder) decodeFlash(log model.RawLog) (model.Event, error) {
	var indexed senderRecipientTopics
	values, err := d.unpack(model.EventFlash, log, &indexed)
	if err != nil {
		return nil, err
	}
	var ints [4]*big.Int
	if err := asBigInts(values, ints[:]...); err != nil {
		return nil, err
	}
	return model.Flash{
		Source:    log.Source(),
		Sender:    indexed.Sender,
		Recipient: indexed.Recipient,
		Amount0:   ints[0],
		Amount1:   ints[1],
		Paid0:     ints[2],
		Paid1:     ints[3],
	}, nil
}

func (d *V3PoolDecoder) decodeObservationCardinality(log model.RawLog) (model.Event, error) {
	values, err := d.unpack(model.EventIncreaseObservationCardinalityNext, log, nil)
	if err != nil {
		return nil, err
	}
	oldValue, ok := values[0].(uint16)
	if !ok {
		return nil, fmt.Errorf("unsupported uint16 type %T", values[0])
	}
	newValue, ok := values[1].(uint16)
	if !ok {
		return nil, fmt.Errorf("unsupported uint16 type %T", values[1])
	}
	return model.IncreaseObservationCardinalityNext{
		Source:                        log.Source(),
		ObservationCardinalityNextOld: oldValue,
		ObservationCardinalityNextNew: newValue,
	}, nil
}

func (d *V3PoolDecoder) decodeSetFeeProtocol(log model.RawLog) (model.Event, error) {
	values, err := d.unpack(model.EventSetFeeProtocol, log, nil)
	if err != nil {
		return nil, err
	}
	var fees [4]uint8
	for i := range fees {
		fee, err := asUint8(values[i])
		if err != nil {
			return nil, err
		}
		fees[i] = fee
	}
	return model.SetFeeProtocol{
		Source:          log.Source(),
		FeeProtocol0Old: fees[0],
		FeeProtocol1Old: fees[1],
		FeeProtocol0New: fees[2],
		FeeProtocol1New: fees[3],
	}, nil
}

func (d *V3PoolDecoder) decodeCollectProtocol(log model.RawLog) (model.Event, error) {
	var indexed senderRecipientTopics
	values, err := d.unpack(model.EventCollectProtocol, log, &indexed)
	if err != nil {
		return nil, err
	}
	var ints [2]*big.Int
	if err := asBigInts(values, ints[:]...); err != nil {
		return nil, err
	}
	return model.CollectProtocol{
		Source:    log.Source(),
		Sender:    indexed.Sender,
		Recipient: indexed.Recipient,
		Amount0:   ints[0],
		Amount1:   ints[1],
	}, nil
}

// unpack validates the topic count, parses indexed arguments into indexed (when non-nil)
// and returns the non-indexed values. Every pool event argument is a static type, so the
// data length must be exactly one word per non-indexed argument.
func (d *V3PoolDecoder) unpack(name string, log model.RawLog, indexed interface{}) ([]interface{}, error) {
	event := d.poolABI.Events[name]
	indexedArgs := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexedArgs)+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", len(indexedArgs)+1, len(log.Topics))
	}
	if indexed != nil && len(indexedArgs) > 0 {
		if err := abi.ParseTopics(indexed, indexedArgs, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("parse topics: %w", err)
		}
	}

	nonIndexed := event.Inputs.NonIndexed()
	if want := len(nonIndexed) * 32; len(log.Data) != want {
		return nil, fmt.Errorf("data length %d, want %d", len(log.Data), want)
	}
	values, err := nonIndexed.Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", name, err)
	}
	if len(values) != len(nonIndexed) {
		return nil, fmt.Errorf("unexpected %s values: %d", name, len(values))
	}
	return values, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
