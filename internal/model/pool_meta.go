package model

// PoolMeta captures the immutable identity of the indexed pool.
type PoolMeta struct {
	Address     string    `json:"address"`
	Token0      TokenMeta `json:"token0"`
	Token1      TokenMeta `json:"token1"`
	Fee         uint32    `json:"fee"`
	TickSpacing int32     `json:"tick_spacing"`
}

// Pair renders the token pair for log output, falling back to addresses.
func (m PoolMeta) Pair() string {
	return m.Token0.Label() + "/" + m.Token1.Label()
}
