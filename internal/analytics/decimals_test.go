package analytics

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"pairscope/internal/amm"
)

// flakyCaller fails a fixed number of calls before answering.
type flakyCaller struct {
	failures int
	response []byte
	calls    int
}

func (c *flakyCaller) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("rpc timeout")
	}
	return c.response, nil
}

func packDecimals(t *testing.T, decimals uint8) []byte {
	t.Helper()
	erc20, err := amm.ERC20ABI()
	require.NoError(t, err)
	out, err := erc20.Methods["decimals"].Outputs.Pack(decimals)
	require.NoError(t, err)
	return out
}

func TestDecimalsFallbackIsNotCached(t *testing.T) {
	caller := &flakyCaller{failures: 1, response: packDecimals(t, 6)}
	resolver := NewDecimalsResolver(caller, nil)
	ctx := context.Background()

	// The failed read answers 18 for this call only.
	require.Equal(t, uint8(18), resolver.Decimals(ctx, usdc))

	// The next pass retries and gets the real value.
	require.Equal(t, uint8(6), resolver.Decimals(ctx, usdc))

	// Success is cached; no further chain reads.
	require.Equal(t, uint8(6), resolver.Decimals(ctx, usdc))
	require.Equal(t, 2, caller.calls)
}

func TestDecimalsOverrideSkipsChainRead(t *testing.T) {
	caller := &flakyCaller{response: packDecimals(t, 8)}
	resolver := NewDecimalsResolver(caller, nil)

	resolver.Override(usdc, 6)
	require.Equal(t, uint8(6), resolver.Decimals(context.Background(), usdc))
	require.Zero(t, caller.calls)
}

func TestDecimalsReadIsCachedByAddress(t *testing.T) {
	caller := &flakyCaller{response: packDecimals(t, 8)}
	resolver := NewDecimalsResolver(caller, nil)
	ctx := context.Background()

	other := common.HexToAddress("0x5555555555555555555555555555555555555555")
	require.Equal(t, uint8(8), resolver.Decimals(ctx, usdc))
	require.Equal(t, uint8(8), resolver.Decimals(ctx, other))
	require.Equal(t, 2, caller.calls)
}
