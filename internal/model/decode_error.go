package model

// DecodeFailure records a skipped log for the dead-letter file.
type DecodeFailure struct {
	BlockNumber uint64 `json:"block_number"`
	BlockHash   string `json:"block_hash"`
	TxHash      string `json:"tx_hash"`
	LogIndex    uint32 `json:"log_index"`
	Address     string `json:"address"`
	Topic0      string `json:"topic0"`
	Kind        string `json:"kind"`
	Error       string `json:"error"`
}

// NewDecodeFailure builds a failure record from the offending log.
func NewDecodeFailure(log RawLog, kind string, err error) DecodeFailure {
	failure := DecodeFailure{
		BlockNumber: log.BlockNumber,
		BlockHash:   log.BlockHash.Hex(),
		TxHash:      log.TxHash.Hex(),
		LogIndex:    log.LogIndex,
		Address:     log.Address.Hex(),
		Kind:        kind,
	}
	if len(log.Topics) > 0 {
		failure.Topic0 = log.Topics[0].Hex()
	}
	if err != nil {
		failure.Error = err.Error()
	}
	return failure
}
