package amm

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"pairscope/internal/ratelimit"
)

// fakeCaller answers eth_call by exact calldata match per contract.
type fakeCaller struct {
	responses map[string][]byte
	failures  map[string]error
	calls     int
}

func callKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hex.EncodeToString(data)
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.calls++
	key := callKey(*msg.To, msg.Data)
	if err, ok := f.failures[key]; ok {
		return nil, err
	}
	resp, ok := f.responses[key]
	if !ok {
		return nil, fmt.Errorf("unexpected call: %s", key)
	}
	return resp, nil
}

type fakeFactory struct {
	t      *testing.T
	caller *fakeCaller
}

func newFakeFactory(t *testing.T) *fakeFactory {
	t.Helper()
	return &fakeFactory{
		t: t,
		caller: &fakeCaller{
			responses: make(map[string][]byte),
			failures:  make(map[string]error),
		},
	}
}

func (f *fakeFactory) setPairCount(factory common.Address, count int64) {
	factoryDef, _ := FactoryABI()
	data, _ := factoryDef.Pack("allPairsLength")
	out, err := factoryDef.Methods["allPairsLength"].Outputs.Pack(big.NewInt(count))
	if err != nil {
		f.t.Fatalf("pack count: %v", err)
	}
	f.caller.responses[callKey(factory, data)] = out
}

func (f *fakeFactory) setPairAt(factory common.Address, index int64, pair common.Address) {
	factoryDef, _ := FactoryABI()
	data, _ := factoryDef.Pack("allPairs", big.NewInt(index))
	out, err := factoryDef.Methods["allPairs"].Outputs.Pack(pair)
	if err != nil {
		f.t.Fatalf("pack pair: %v", err)
	}
	f.caller.responses[callKey(factory, data)] = out
}

func (f *fakeFactory) setPairState(pair, token0, token1 common.Address, reserve0, reserve1, supply *big.Int) {
	pairDef, _ := PairABI()

	pack := func(method string, values ...interface{}) {
		data, _ := pairDef.Pack(method)
		out, err := pairDef.Methods[method].Outputs.Pack(values...)
		if err != nil {
			f.t.Fatalf("pack %s: %v", method, err)
		}
		f.caller.responses[callKey(pair, data)] = out
	}

	pack("token0", token0)
	pack("token1", token1)
	pack("getReserves", reserve0, reserve1, uint32(0))
	pack("totalSupply", supply)
}

func (f *fakeFactory) failMethod(pair common.Address, method string) {
	pairDef, _ := PairABI()
	data, _ := pairDef.Pack(method)
	f.caller.failures[callKey(pair, data)] = fmt.Errorf("rpc timeout")
}

func TestDiscoverAllPairs(t *testing.T) {
	fake := newFakeFactory(t)
	pairA := common.HexToAddress("0xA000000000000000000000000000000000000001")
	pairB := common.HexToAddress("0xB000000000000000000000000000000000000002")

	fake.setPairCount(testFactory, 2)
	fake.setPairAt(testFactory, 0, pairA)
	fake.setPairAt(testFactory, 1, pairB)
	fake.setPairState(pairA, testToken0, testToken1, big.NewInt(100), big.NewInt(200), big.NewInt(50))
	fake.setPairState(pairB, testToken1, testToken0, big.NewInt(7), big.NewInt(9), big.NewInt(3))

	registry := NewRegistry(fake.caller, 0, nil)
	details, stats, err := registry.DiscoverAllPairs(context.Background(), testFactory, 1234, 10, ratelimit.NewFixedInterval(0))
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if stats.Total != 2 || stats.Detailed != 2 || stats.Errors != 0 {
		t.Fatalf("stats mismatch: %+v", stats)
	}
	if len(details) != 2 {
		t.Fatalf("expected 2 details, got %d", len(details))
	}

	byAddr := map[common.Address]PairDetail{}
	for _, d := range details {
		byAddr[d.Address] = d
	}
	a := byAddr[pairA]
	if a.Token0 != testToken0 || a.Token1 != testToken1 {
		t.Fatalf("pair A tokens mismatch")
	}
	if a.Reserve0.String() != "100" || a.Reserve1.String() != "200" {
		t.Fatalf("pair A reserves mismatch: %s / %s", a.Reserve0, a.Reserve1)
	}
	if a.TotalSupply.String() != "50" {
		t.Fatalf("pair A supply mismatch: %s", a.TotalSupply)
	}
	if a.ObservedAtBlock != 1234 {
		t.Fatalf("observed block mismatch: %d", a.ObservedAtBlock)
	}
}

// One pair's detail failure must not abort the batch; the healthy pair is
// still returned and the failure is counted.
func TestDiscoverIsolatesPerPairFailures(t *testing.T) {
	fake := newFakeFactory(t)
	pairA := common.HexToAddress("0xA000000000000000000000000000000000000001")
	pairB := common.HexToAddress("0xB000000000000000000000000000000000000002")

	fake.setPairCount(testFactory, 2)
	fake.setPairAt(testFactory, 0, pairA)
	fake.setPairAt(testFactory, 1, pairB)
	fake.setPairState(pairA, testToken0, testToken1, big.NewInt(100), big.NewInt(200), big.NewInt(50))
	fake.setPairState(pairB, testToken1, testToken0, big.NewInt(7), big.NewInt(9), big.NewInt(3))
	fake.failMethod(pairB, "getReserves")

	registry := NewRegistry(fake.caller, 0, nil)
	details, stats, err := registry.DiscoverAllPairs(context.Background(), testFactory, 1, 2, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	if stats.Detailed != 1 || stats.Errors != 1 {
		t.Fatalf("stats mismatch: %+v", stats)
	}
	if len(details) != 1 || details[0].Address != pairA {
		t.Fatalf("expected only pair A, got %+v", details)
	}
}

func TestDiscoverEmptyFactory(t *testing.T) {
	fake := newFakeFactory(t)
	fake.setPairCount(testFactory, 0)

	registry := NewRegistry(fake.caller, 0, nil)
	details, stats, err := registry.DiscoverAllPairs(context.Background(), testFactory, 1, 5, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(details) != 0 || stats.Total != 0 {
		t.Fatalf("expected empty result, got %+v", stats)
	}
}

func TestDiscoverRejectsZeroBatchSize(t *testing.T) {
	registry := NewRegistry(&fakeCaller{}, 0, nil)
	if _, _, err := registry.DiscoverAllPairs(context.Background(), testFactory, 1, 0, nil); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}
