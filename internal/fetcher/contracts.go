package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"whale-mirror/internal/registry"
)

// ContractCaller executes read-only calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Contracts performs router and token reads against the latest state.
type Contracts struct {
	caller  ContractCaller
	timeout time.Duration
	logger  zerolog.Logger
	router  abi.ABI
	erc20   abi.ABI
}

// NewContracts builds a contract reader.
func NewContracts(caller ContractCaller, timeout time.Duration, logger zerolog.Logger) *Contracts {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Contracts{
		caller:  caller,
		timeout: timeout,
		logger:  logger.With().Str("component", "contracts").Logger(),
		router:  registry.RouterABI(),
		erc20:   registry.ERC20ABI(),
	}
}

// AmountsOut calls getAmountsOut(amountIn, path) on the router.
func (c *Contracts) AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	outputs, err := c.call(ctx, c.router, router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := outputs[0].([]*big.Int)
	if !ok {
		return nil, errors.New("failed to decode getAmountsOut output")
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("getAmountsOut returned %d amounts for %d hops", len(amounts), len(path))
	}
	return amounts, nil
}

// BalanceOf reads an ERC-20 balance.
func (c *Contracts) BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "balanceOf", owner)
}

// Allowance reads an ERC-20 allowance.
func (c *Contracts) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, token, "allowance", owner, spender)
}

func (c *Contracts) callUint(ctx context.Context, token common.Address, method string, args ...interface{}) (*big.Int, error) {
	outputs, err := c.call(ctx, c.erc20, token, method, args...)
	if err != nil {
		return nil, err
	}
	value, ok := outputs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s output", method)
	}
	return value, nil
}

func (c *Contracts) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}

	outputs, err := contract.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	return outputs, nil
}

var (
	_ RouterReader = (*Contracts)(nil)
	_ TokenReader  = (*Contracts)(nil)
)
