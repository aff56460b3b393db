package chain

import "fmt"

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange splits an inclusive block range into chunks of at most chunk blocks, used to keep
// eth_getLogs requests under provider result limits.
func SplitRange(from, to, chunk uint64) ([]BlockRange, error) {
	if chunk == 0 {
		return nil, fmt.Errorf("chunk size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d is below from block %d", to, from)
	}

	ranges := make([]BlockRange, 0, (to-from)/chunk+1)
	for start := from; ; {
		end := to
		if to-start >= chunk {
			end = start + chunk - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
		start = end + 1
	}
}
