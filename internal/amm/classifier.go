package amm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Classifier maps a raw log's topic0 to one of the five typed events and
// unpacks its fields. Classification is content-only: the classifier does
// not know whether the emitting contract is the factory or a pair.
type Classifier struct {
	pairCreatedEvent abi.Event
	mintEvent        abi.Event
	burnEvent        abi.Event
	swapEvent        abi.Event
	syncEvent        abi.Event

	decoders map[common.Hash]func(types.Log) (Event, error)
}

// NewClassifier builds the static topic table from the embedded ABIs.
func NewClassifier() (*Classifier, error) {
	factory, err := FactoryABI()
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	pair, err := PairABI()
	if err != nil {
		return nil, fmt.Errorf("parse pair abi: %w", err)
	}

	c := &Classifier{
		pairCreatedEvent: factory.Events["PairCreated"],
		mintEvent:        pair.Events["Mint"],
		burnEvent:        pair.Events["Burn"],
		swapEvent:        pair.Events["Swap"],
		syncEvent:        pair.Events["Sync"],
	}
	c.decoders = map[common.Hash]func(types.Log) (Event, error){
		c.pairCreatedEvent.ID: c.decodePairCreated,
		c.mintEvent.ID:        c.decodeMint,
		c.burnEvent.ID:        c.decodeBurn,
		c.swapEvent.ID:        c.decodeSwap,
		c.syncEvent.ID:        c.decodeSync,
	}
	return c, nil
}

// Topics returns the topic0 hash of every classifiable event, for use
// as a log filter.
func (c *Classifier) Topics() []common.Hash {
	return []common.Hash{
		c.pairCreatedEvent.ID,
		c.mintEvent.ID,
		c.burnEvent.ID,
		c.swapEvent.ID,
		c.syncEvent.ID,
	}
}

// CanClassify reports whether the topic0 belongs to a known event.
func (c *Classifier) CanClassify(topic0 common.Hash) bool {
	_, ok := c.decoders[topic0]
	return ok
}

// Classify decodes a raw log into a typed event. Logs with an unknown
// topic0 return (nil, nil); decoding failures return an error.
func (c *Classifier) Classify(log types.Log) (Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}
	decode, ok := c.decoders[log.Topics[0]]
	if !ok {
		return nil, nil
	}
	return decode(log)
}

func (c *Classifier) decodePairCreated(log types.Log) (Event, error) {
	event := c.pairCreatedEvent

	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("pair created: expected 3 topics, got %d", len(log.Topics))
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack pair created: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("pair created: unexpected value count %d", len(values))
	}
	pairAddr, err := asAddress(values[0])
	if err != nil {
		return nil, fmt.Errorf("pair created: %w", err)
	}

	return PairCreated{
		Factory: log.Address,
		Token0:  common.BytesToAddress(log.Topics[1].Bytes()),
		Token1:  common.BytesToAddress(log.Topics[2].Bytes()),
		Pair:    pairAddr,
	}, nil
}

func (c *Classifier) decodeMint(log types.Log) (Event, error) {
	event := c.mintEvent

	if len(log.Topics) != 2 {
		return nil, fmt.Errorf("mint: expected 2 topics, got %d", len(log.Topics))
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack mint: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("mint: unexpected value count %d", len(values))
	}
	amount0, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("mint amount0: %w", err)
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("mint amount1: %w", err)
	}

	return Mint{
		Pair:    log.Address,
		Sender:  common.BytesToAddress(log.Topics[1].Bytes()),
		Amount0: amount0,
		Amount1: amount1,
	}, nil
}

func (c *Classifier) decodeBurn(log types.Log) (Event, error) {
	event := c.burnEvent

	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("burn: expected 3 topics, got %d", len(log.Topics))
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack burn: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("burn: unexpected value count %d", len(values))
	}
	amount0, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("burn amount0: %w", err)
	}
	amount1, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("burn amount1: %w", err)
	}

	return Burn{
		Pair:    log.Address,
		Sender:  common.BytesToAddress(log.Topics[1].Bytes()),
		To:      common.BytesToAddress(log.Topics[2].Bytes()),
		Amount0: amount0,
		Amount1: amount1,
	}, nil
}

func (c *Classifier) decodeSwap(log types.Log) (Event, error) {
	event := c.swapEvent

	if len(log.Topics) != 3 {
		return nil, fmt.Errorf("swap: expected 3 topics, got %d", len(log.Topics))
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack swap: %w", err)
	}
	if len(values) != 4 {
		return nil, fmt.Errorf("swap: unexpected value count %d", len(values))
	}

	amount0In, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("swap amount0In: %w", err)
	}
	amount1In, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("swap amount1In: %w", err)
	}
	amount0Out, err := asBigInt(values[2])
	if err != nil {
		return nil, fmt.Errorf("swap amount0Out: %w", err)
	}
	amount1Out, err := asBigInt(values[3])
	if err != nil {
		return nil, fmt.Errorf("swap amount1Out: %w", err)
	}

	return Swap{
		Pair:       log.Address,
		Sender:     common.BytesToAddress(log.Topics[1].Bytes()),
		To:         common.BytesToAddress(log.Topics[2].Bytes()),
		Amount0In:  amount0In,
		Amount1In:  amount1In,
		Amount0Out: amount0Out,
		Amount1Out: amount1Out,
	}, nil
}

func (c *Classifier) decodeSync(log types.Log) (Event, error) {
	event := c.syncEvent

	if len(log.Topics) != 1 {
		return nil, fmt.Errorf("sync: expected 1 topic, got %d", len(log.Topics))
	}

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack sync: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("sync: unexpected value count %d", len(values))
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("sync reserve0: %w", err)
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, fmt.Errorf("sync reserve1: %w", err)
	}

	return Sync{
		Pair:     log.Address,
		Reserve0: reserve0,
		Reserve1: reserve1,
	}, nil
}
