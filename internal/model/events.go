package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Event names as declared in the pool ABI.
const (
	EventInitialize                         = "Initialize"
	EventMint                               = "Mint"
	EventCollect                            = "Collect"
	EventBurn                               = "Burn"
	EventSwap                               = "Swap"
	EventFlash                              = "Flash"
	EventIncreaseObservationCardinalityNext = "IncreaseObservationCardinalityNext"
	EventSetFeeProtocol                     = "SetFeeProtocol"
	EventCollectProtocol                    = "CollectProtocol"
)

// Initialize is emitted once when the pool price is first set.
type Initialize struct {
	Source
	SqrtPriceX96 *big.Int
	Tick         int32
}

// Mint is emitted when liquidity is added to a position.
type Mint struct {
	Source
	Sender    common.Address
	Owner     common.Address
	TickLower int32
	TickUpper int32
	Amount    *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// Collect is emitted when a position owner collects fees.
type Collect struct {
	Source
	Owner     common.Address
	Recipient common.Address
	TickLower int32
	TickUpper int32
	Amount0   *big.Int
	Amount1   *big.Int
}

// Burn is emitted when liquidity is removed from a position.
type Burn struct {
	Source
	Owner     common.Address
	TickLower int32
	TickUpper int32
	Amount    *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// Swap is emitted on every swap. Amounts are signed from the pool's point of view.
type Swap struct {
	Source
	Sender       common.Address
	Recipient    common.Address
	Amount0      *big.Int
	Amount1      *big.Int
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Tick         int32
}

// Flash is emitted on a flash loan.
type Flash struct {
	Source
	Sender    common.Address
	Recipient common.Address
	Amount0   *big.Int
	Amount1   *big.Int
	Paid0     *big.Int
	Paid1     *big.Int
}

// IncreaseObservationCardinalityNext is emitted when the oracle buffer grows.
type IncreaseObservationCardinalityNext struct {
	Source
	ObservationCardinalityNextOld uint16
	ObservationCardinalityNextNew uint16
}

// SetFeeProtocol is emitted when the protocol fee changes.
type SetFeeProtocol struct {
	Source
	FeeProtocol0Old uint8
	FeeProtocol1Old uint8
	FeeProtocol0New uint8
	FeeProtocol1New uint8
}

// CollectProtocol is emitted when protocol fees are withdrawn.
type CollectProtocol struct {
	Source
	Sender    common.Address
	Recipient common.Address
	Amount0   *big.Int
	Amount1   *big.Int
}

func (Initialize) Name() string { return EventInitialize }
func (Mint) Name() string       { return EventMint }
func (Collect) Name() string    { return EventCollect }
func (Burn) Name() string       { return EventBurn }
func (Swap) Name() string       { return EventSwap }
func (Flash) Name() string      { return EventFlash }
func (IncreaseObservationCardinalityNext) Name() string {
	return EventIncreaseObservationCardinalityNext
}
func (SetFeeProtocol) Name() string  { return EventSetFeeProtocol }
func (CollectProtocol) Name() string { return EventCollectProtocol }

func (Initialize) isEvent()                         {}
func (Mint) isEvent()                               {}
func (Collect) isEvent()                            {}
func (Burn) isEvent()                               {}
func (Swap) isEvent()                               {}
func (Flash) isEvent()                              {}
func (IncreaseObservationCardinalityNext) isEvent() {}
func (SetFeeProtocol) isEvent()                     {}
func (CollectProtocol) isEvent()                    {}
