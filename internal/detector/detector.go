package detector

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"whale-mirror/internal/chain"
	"whale-mirror/internal/registry"
)

var (
	// ErrMalformedPath marks calldata whose swap path has fewer than two hops.
	ErrMalformedPath = errors.New("swap path has fewer than two addresses")
	// ErrShortCalldata marks calldata shorter than a selector.
	ErrShortCalldata = errors.New("calldata shorter than selector")
)

// SwapEvent is a normalised swap performed by a watched wallet.
type SwapEvent struct {
	Wallet      common.Address
	Router      common.Address
	Action      registry.Action
	Token       common.Address
	Method      string
	Path        []common.Address
	TxHash      common.Hash
	GasPriceWei *big.Int
	BlockNumber uint64
}

// Key identifies the event for at-most-once processing.
func (e SwapEvent) Key() string {
	return fmt.Sprintf("%s:%s:%s", strings.ToLower(e.Wallet.Hex()), e.Action, e.TxHash.Hex())
}

// DecodeError wraps a per-transaction decoding failure.
type DecodeError struct {
	TxHash common.Hash
	Method string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s in %s: %v", e.Method, e.TxHash.Hex(), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Detector recognises watched-wallet swaps sent to registered routers.
type Detector struct {
	wallets  map[common.Address]struct{}
	registry *registry.Registry
	logger   zerolog.Logger
}

// New builds a detector for the given wallet set.
func New(wallets []common.Address, reg *registry.Registry, logger zerolog.Logger) *Detector {
	set := make(map[common.Address]struct{}, len(wallets))
	for _, w := range wallets {
		set[w] = struct{}{}
	}
	return &Detector{
		wallets:  set,
		registry: reg,
		logger:   logger.With().Str("component", "detector").Logger(),
	}
}

// Watched reports whether the address is in the watch list.
func (d *Detector) Watched(addr common.Address) bool {
	_, ok := d.wallets[addr]
	return ok
}

// Inspect classifies a single transaction. ok is false for anything that is not
// a relevant swap; err is non-nil only when a known selector fails to decode.
func (d *Detector) Inspect(tx chain.RawTx, blockNumber uint64) (SwapEvent, bool, error) {
	if tx.From == (common.Address{}) || tx.To == nil {
		return SwapEvent{}, false, nil
	}
	if !d.Watched(tx.From) {
		return SwapEvent{}, false, nil
	}
	entry, ok := d.registry.Lookup(*tx.To)
	if !ok {
		return SwapEvent{}, false, nil
	}
	if len(tx.Input) < 4 {
		return SwapEvent{}, false, nil
	}

	var selector [4]byte
	copy(selector[:], tx.Input[:4])
	shape, ok := entry.Shape(selector)
	if !ok {
		return SwapEvent{}, false, nil
	}

	token, path, err := Decode(shape, tx.Input)
	if err != nil {
		return SwapEvent{}, false, &DecodeError{TxHash: tx.Hash, Method: shape.Name, Err: err}
	}

	gasPrice := new(big.Int)
	if tx.GasPrice != nil {
		gasPrice.Set(tx.GasPrice)
	}

	return SwapEvent{
		Wallet:      tx.From,
		Router:      entry.Address,
		Action:      shape.Action,
		Token:       token,
		Method:      shape.Name,
		Path:        path,
		TxHash:      tx.Hash,
		GasPriceWei: gasPrice,
		BlockNumber: blockNumber,
	}, true, nil
}

// Scan inspects every transaction of a block in order. Decode failures are
// logged and counted; they never stop the scan.
func (d *Detector) Scan(block chain.Block) ([]SwapEvent, int) {
	var (
		events   []SwapEvent
		failures int
	)
	for _, tx := range block.Txs {
		ev, ok, err := d.Inspect(tx, block.Number)
		if err != nil {
			failures++
			d.logger.Warn().Err(err).Uint64("block", block.Number).Str("tx", tx.Hash.Hex()).Msg("swap decode failed")
			continue
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, failures
}

// Decode extracts the traded token from calldata using the shape's schema.
// BUY swaps receive the last path element; SELL swaps spend the first.
func Decode(shape registry.CallShape, input []byte) (common.Address, []common.Address, error) {
	if len(input) < 4 {
		return common.Address{}, nil, ErrShortCalldata
	}
	values, err := shape.Inputs.Unpack(input[4:])
	if err != nil {
		return common.Address{}, nil, err
	}
	if shape.PathIndex >= len(values) {
		return common.Address{}, nil, fmt.Errorf("missing path argument")
	}
	path, ok := values[shape.PathIndex].([]common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("unexpected path type %T", values[shape.PathIndex])
	}
	if len(path) < 2 {
		return common.Address{}, nil, ErrMalformedPath
	}

	switch shape.Action {
	case registry.ActionBuy:
		return path[len(path)-1], path, nil
	case registry.ActionSell:
		return path[0], path, nil
	default:
		return common.Address{}, nil, fmt.Errorf("unsupported action %s", shape.Action)
	}
}
