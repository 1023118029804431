package fetcher

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"pairscope/internal/ratelimit"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 349, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 199},
		{From: 200, To: 299},
		{From: 300, To: 349},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeSingle(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{{From: 5, To: 5}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
}

// TestSplitRangeCoversExactly checks the partition property: for several
// range and chunk size combinations the chunks are contiguous, ascending,
// and cover every block exactly once.
func TestSplitRangeCoversExactly(t *testing.T) {
	cases := []struct {
		from, to, chunk uint64
	}{
		{0, 0, 1},
		{0, 999, 1000},
		{0, 1000, 1000},
		{7, 23, 5},
		{100, 349, 100},
		{1, 1_000_000, 2000},
	}

	for _, tc := range cases {
		ranges, err := SplitRange(tc.from, tc.to, tc.chunk)
		if err != nil {
			t.Fatalf("split (%d,%d,%d): %v", tc.from, tc.to, tc.chunk, err)
		}

		if ranges[0].From != tc.from {
			t.Fatalf("first chunk starts at %d, want %d", ranges[0].From, tc.from)
		}
		if ranges[len(ranges)-1].To != tc.to {
			t.Fatalf("last chunk ends at %d, want %d", ranges[len(ranges)-1].To, tc.to)
		}
		for i, r := range ranges {
			if r.To < r.From {
				t.Fatalf("chunk %d inverted: %+v", i, r)
			}
			if r.To-r.From+1 > tc.chunk {
				t.Fatalf("chunk %d wider than chunk size: %+v", i, r)
			}
			if i > 0 && r.From != ranges[i-1].To+1 {
				t.Fatalf("gap or overlap between chunk %d and %d", i-1, i)
			}
		}
	}
}

type fakeSource struct {
	calls [][2]uint64
	logs  map[uint64][]types.Log
	fail  map[uint64]error
}

func (s *fakeSource) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	s.calls = append(s.calls, [2]uint64{from, to})
	if err, ok := s.fail[from]; ok {
		return nil, err
	}

	var out []types.Log
	for block := from; block <= to; block++ {
		out = append(out, s.logs[block]...)
	}
	return out, nil
}

func logAt(block uint64) types.Log {
	return types.Log{BlockNumber: block, Index: 0}
}

func TestFetchConcatenatesChunksInOrder(t *testing.T) {
	source := &fakeSource{
		logs: map[uint64][]types.Log{
			100: {logAt(100)},
			250: {logAt(250)},
			349: {logAt(349)},
		},
	}
	f := New(source, nil)

	logs, err := f.Fetch(context.Background(), Filter{From: 100, To: 349}, 100, ratelimit.NewFixedInterval(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantCalls := [][2]uint64{{100, 199}, {200, 299}, {300, 349}}
	if !reflect.DeepEqual(source.calls, wantCalls) {
		t.Fatalf("calls mismatch: %+v != %+v", source.calls, wantCalls)
	}

	var gotBlocks []uint64
	for _, log := range logs {
		gotBlocks = append(gotBlocks, log.BlockNumber)
	}
	if !reflect.DeepEqual(gotBlocks, []uint64{100, 250, 349}) {
		t.Fatalf("log order mismatch: %v", gotBlocks)
	}
}

func TestFetchSingleRequestForSmallRange(t *testing.T) {
	source := &fakeSource{}
	f := New(source, nil)

	if _, err := f.Fetch(context.Background(), Filter{From: 10, To: 19}, 100, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(source.calls) != 1 {
		t.Fatalf("expected one request, got %d", len(source.calls))
	}
}

func TestFetchChunkFailureIsFatal(t *testing.T) {
	source := &fakeSource{
		fail: map[uint64]error{200: fmt.Errorf("provider limit")},
	}
	f := New(source, nil)

	_, err := f.Fetch(context.Background(), Filter{From: 100, To: 349}, 100, nil)
	if err == nil {
		t.Fatalf("expected fetch to abort on chunk failure")
	}
	// The failing chunk is the last one requested: no partial-success
	// continuation past it.
	if len(source.calls) != 2 {
		t.Fatalf("expected fetch to stop after failing chunk, got %d calls", len(source.calls))
	}
}
