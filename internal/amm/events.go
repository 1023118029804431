package amm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Kind identifies one of the five decoded event shapes.
type Kind int

const (
	KindPairCreated Kind = iota
	KindMint
	KindBurn
	KindSwap
	KindSync
)

// String returns the lowercase kind name used in persisted records.
func (k Kind) String() string {
	switch k {
	case KindPairCreated:
		return "pair_created"
	case KindMint:
		return "mint"
	case KindBurn:
		return "burn"
	case KindSwap:
		return "swap"
	case KindSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Event is a decoded pair or factory event. Each kind carries its own
// strongly typed fields; Emitter is the contract that emitted the log.
// Which role that contract plays (factory vs pair) is the caller's call,
// since topic hashes alone do not encode it.
type Event interface {
	Kind() Kind
	Emitter() common.Address
}

// PairCreated is the factory's pair-creation event.
type PairCreated struct {
	Factory common.Address
	Token0  common.Address
	Token1  common.Address
	Pair    common.Address
}

func (e PairCreated) Kind() Kind              { return KindPairCreated }
func (e PairCreated) Emitter() common.Address { return e.Factory }

// Mint is a liquidity deposit into a pair.
type Mint struct {
	Pair    common.Address
	Sender  common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

func (e Mint) Kind() Kind              { return KindMint }
func (e Mint) Emitter() common.Address { return e.Pair }

// Burn is a liquidity withdrawal from a pair.
type Burn struct {
	Pair    common.Address
	Sender  common.Address
	To      common.Address
	Amount0 *big.Int
	Amount1 *big.Int
}

func (e Burn) Kind() Kind              { return KindBurn }
func (e Burn) Emitter() common.Address { return e.Pair }

// Swap is a trade against a pair.
type Swap struct {
	Pair       common.Address
	Sender     common.Address
	To         common.Address
	Amount0In  *big.Int
	Amount1In  *big.Int
	Amount0Out *big.Int
	Amount1Out *big.Int
}

func (e Swap) Kind() Kind              { return KindSwap }
func (e Swap) Emitter() common.Address { return e.Pair }

// Sync carries a pair's authoritative post-event reserves.
type Sync struct {
	Pair     common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

func (e Sync) Kind() Kind              { return KindSync }
func (e Sync) Emitter() common.Address { return e.Pair }
