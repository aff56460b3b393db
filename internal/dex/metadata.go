package dex

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"poolIndexer/internal/model"
)

// ErrNotPool is returned when the configured address does not answer the pool getters, which
// means the address is wrong or holds a different contract.
var ErrNotPool = errors.New("address is not a v3 pool")

// FetchPoolMeta loads the immutable pool identity. Token metadata is best-effort: failures are
// logged and the token is reported by address only.
func FetchPoolMeta(ctx context.Context, caller ethereum.ContractCaller, pool common.Address, logger *zap.Logger) (model.PoolMeta, error) {
	if caller == nil {
		return model.PoolMeta{}, fmt.Errorf("contract caller is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolABI, err := V3PoolABI()
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("parse pool abi: %w", err)
	}

	values, err := callMethod(ctx, caller, pool, poolABI, "token0")
	if err != nil {
		return model.PoolMeta{}, err
	}
	token0, err := asAddress(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("token0: %w", err)
	}

	values, err = callMethod(ctx, caller, pool, poolABI, "token1")
	if err != nil {
		return model.PoolMeta{}, err
	}
	token1, err := asAddress(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("token1: %w", err)
	}

	values, err = callMethod(ctx, caller, pool, poolABI, "fee")
	if err != nil {
		return model.PoolMeta{}, err
	}
	feeInt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("fee: %w", err)
	}

	values, err = callMethod(ctx, caller, pool, poolABI, "tickSpacing")
	if err != nil {
		return model.PoolMeta{}, err
	}
	tickSpacingInt, err := asBigInt(values[0])
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
	}
	tickSpacing, err := int24FromBig(tickSpacingInt)
	if err != nil {
		return model.PoolMeta{}, fmt.Errorf("tick spacing: %w", err)
	}

	meta := model.PoolMeta{
		Address:     pool.Hex(),
		Fee:         uint32(feeInt.Uint64()),
		TickSpacing: tickSpacing,
	}

	meta.Token0, err = FetchTokenMeta(ctx, caller, token0, logger)
	if err != nil {
		logger.Warn("token0 metadata fetch failed", zap.String("token", token0.Hex()), zap.Error(err))
	}
	meta.Token1, err = FetchTokenMeta(ctx, caller, token1, logger)
	if err != nil {
		logger.Warn("token1 metadata fetch failed", zap.String("token", token1.Hex()), zap.Error(err))
	}

	return meta, nil
}

// callMethod calls a no-argument view method at the latest block. An empty or undecodable
// response is reported as ErrNotPool; transport errors are returned as is.
func callMethod(ctx context.Context, caller ethereum.ContractCaller, to common.Address, parsed abi.ABI, method string) ([]interface{}, error) {
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("call %s: %w: %v", method, ErrNotPool, err)
		}
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("call %s: %w: empty response", method, ErrNotPool)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w: %v", method, ErrNotPool, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("call %s: %w: no values", method, ErrNotPool)
	}
	return values, nil
}

// isRevert reports whether a call error carries revert data, as geth's DataError does for
// execution reverts.
func isRevert(err error) bool {
	var dataErr interface{ ErrorData() interface{} }
	return errors.As(err, &dataErr)
}

// FetchTokenMeta loads token metadata via ERC20 calls, accepting both string and bytes32
// symbol/name encodings.
func FetchTokenMeta(ctx context.Context, caller ethereum.ContractCaller, token common.Address, logger *zap.Logger) (model.TokenMeta, error) {
	meta := model.TokenMeta{Address: token.Hex()}
	if logger == nil {
		logger = zap.NewNop()
	}

	stringABI, err := erc20ABIString.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20ABIBytes32.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, caller, token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	meta.Symbol = tokenText(ctx, caller, token, "symbol", stringABI, bytes32ABI, logger)
	meta.Name = tokenText(ctx, caller, token, "name", stringABI, bytes32ABI, logger)
	return meta, nil
}

func tokenText(ctx context.Context, caller ethereum.ContractCaller, token common.Address, method string, stringABI, bytes32ABI abi.ABI, logger *zap.Logger) string {
	if values, err := callMethod(ctx, caller, token, stringABI, method); err == nil {
		if text, ok := values[0].(string); ok {
			return text
		}
	}
	values, err := callMethod(ctx, caller, token, bytes32ABI, method)
	if err != nil {
		logger.Debug("token call failed", zap.String("token", token.Hex()), zap.String("method", method), zap.Error(err))
		return ""
	}
	text, _ := bytes32ToString(values[0])
	return text
}
