package model

import "math/big"

// Payloads keep integers as decimal strings so uint256 values survive JSON round trips.

// InitializeEventData is the stored Initialize payload.
type InitializeEventData struct {
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Tick         int32  `json:"tick"`
}

// SwapEventData is the stored Swap payload.
type SwapEventData struct {
	Sender       string `json:"sender"`
	Recipient    string `json:"recipient"`
	Amount0      string `json:"amount0"`
	Amount1      string `json:"amount1"`
	SqrtPriceX96 string `json:"sqrt_price_x96"`
	Liquidity    string `json:"liquidity"`
	Tick         int32  `json:"tick"`
}

// MintEventData is the stored Mint payload.
type MintEventData struct {
	Sender    string `json:"sender"`
	Owner     string `json:"owner"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Amount    string `json:"amount"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
}

// BurnEventData is the stored Burn payload.
type BurnEventData struct {
	Owner     string `json:"owner"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Amount    string `json:"amount"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
}

// CollectEventData is the stored Collect payload.
type CollectEventData struct {
	Owner     string `json:"owner"`
	Recipient string `json:"recipient"`
	TickLower int32  `json:"tick_lower"`
	TickUpper int32  `json:"tick_upper"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
}

// FlashEventData is the stored Flash payload.
type FlashEventData struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
	Paid0     string `json:"paid0"`
	Paid1     string `json:"paid1"`
}

// ObservationCardinalityEventData is the stored IncreaseObservationCardinalityNext payload.
type ObservationCardinalityEventData struct {
	Old uint16 `json:"observation_cardinality_next_old"`
	New uint16 `json:"observation_cardinality_next_new"`
}

// FeeProtocolEventData is the stored SetFeeProtocol payload.
type FeeProtocolEventData struct {
	FeeProtocol0Old uint8 `json:"fee_protocol0_old"`
	FeeProtocol1Old uint8 `json:"fee_protocol1_old"`
	FeeProtocol0New uint8 `json:"fee_protocol0_new"`
	FeeProtocol1New uint8 `json:"fee_protocol1_new"`
}

// CollectProtocolEventData is the stored CollectProtocol payload.
type CollectProtocolEventData struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Amount0   string `json:"amount0"`
	Amount1   string `json:"amount1"`
}

func (e Initialize) Payload() any {
	return InitializeEventData{SqrtPriceX96: bigString(e.SqrtPriceX96), Tick: e.Tick}
}

func (e Swap) Payload() any {
	return SwapEventData{
		Sender:       e.Sender.Hex(),
		Recipient:    e.Recipient.Hex(),
		Amount0:      bigString(e.Amount0),
		Amount1:      bigString(e.Amount1),
		SqrtPriceX96: bigString(e.SqrtPriceX96),
		Liquidity:    bigString(e.Liquidity),
		Tick:         e.Tick,
	}
}

func (e Mint) Payload() any {
	return MintEventData{
		Sender:    e.Sender.Hex(),
		Owner:     e.Owner.Hex(),
		TickLower: e.TickLower,
		TickUpper: e.TickUpper,
		Amount:    bigString(e.Amount),
		Amount0:   bigString(e.Amount0),
		Amount1:   bigString(e.Amount1),
	}
}

func (e Burn) Payload() any {
	return BurnEventData{
		Owner:     e.Owner.Hex(),
		TickLower: e.TickLower,
		TickUpper: e.TickUpper,
		Amount:    bigString(e.Amount),
		Amount0:   bigString(e.Amount0),
		Amount1:   bigString(e.Amount1),
	}
}

func (e Collect) Payload() any {
	return CollectEventData{
		Owner:     e.Owner.Hex(),
		Recipient: e.Recipient.Hex(),
		TickLower: e.TickLower,
		TickUpper: e.TickUpper,
		Amount0:   bigString(e.Amount0),
		Amount1:   bigString(e.Amount1),
	}
}

func (e Flash) Payload() any {
	return FlashEventData{
		Sender:    e.Sender.Hex(),
		Recipient: e.Recipient.Hex(),
		Amount0:   bigString(e.Amount0),
		Amount1:   bigString(e.Amount1),
		Paid0:     bigString(e.Paid0),
		Paid1:     bigString(e.Paid1),
	}
}

func (e IncreaseObservationCardinalityNext) Payload() any {
	return ObservationCardinalityEventData{
		Old: e.ObservationCardinalityNextOld,
		New: e.ObservationCardinalityNextNew,
	}
}

func (e SetFeeProtocol) Payload() any {
	return FeeProtocolEventData{
		FeeProtocol0Old: e.FeeProtocol0Old,
		FeeProtocol1Old: e.FeeProtocol1Old,
		FeeProtocol0New: e.FeeProtocol0New,
		FeeProtocol1New: e.FeeProtocol1New,
	}
}

func (e CollectProtocol) Payload() any {
	return CollectProtocolEventData{
		Sender:    e.Sender.Hex(),
		Recipient: e.Recipient.Hex(),
		Amount0:   bigString(e.Amount0),
		Amount1:   bigString(e.Amount1),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
