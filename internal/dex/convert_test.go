package dex

import (
	"math/big"
	"testing"
)

func TestAsUint8(t *testing.T) {
	valid := []interface{}{uint8(7), uint16(255), uint32(0), uint64(10), big.NewInt(200)}
	for _, value := range valid {
		if _, err := asUint8(value); err != nil {
			t.Fatalf("asUint8(%T %v): %v", value, value, err)
		}
	}
	if got, _ := asUint8(uint16(255)); got != 255 {
		t.Fatalf("expected 255, got %d", got)
	}

	invalid := []interface{}{
		uint16(256),
		uint32(1 << 20),
		uint64(1 << 40),
		big.NewInt(300),
		big.NewInt(-1),
		new(big.Int).Lsh(big.NewInt(1), 100),
		(*big.Int)(nil),
		int8(1),
	}
	for _, value := range invalid {
		if got, err := asUint8(value); err == nil {
			t.Fatalf("asUint8(%T %v) = %d, expected error", value, value, got)
		}
	}
}
