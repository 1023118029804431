package amm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// TokenDecimals reads decimals() from an ERC20 token.
func TokenDecimals(ctx context.Context, caller Caller, token common.Address) (uint8, error) {
	if caller == nil {
		return 0, fmt.Errorf("caller is nil")
	}
	erc20, err := ERC20ABI()
	if err != nil {
		return 0, fmt.Errorf("parse erc20 abi: %w", err)
	}

	data, err := erc20.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	resp, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("call decimals: %w", err)
	}
	values, err := erc20.Unpack("decimals", resp)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("decimals return size %d", len(values))
	}
	return asUint8(values[0])
}
