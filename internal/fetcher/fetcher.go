package fetcher

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// PriceSource yields the native asset price in the configured fiat currency.
type PriceSource interface {
	NativePrice(ctx context.Context) (decimal.Decimal, error)
}

// RouterReader quotes swaps through a router.
type RouterReader interface {
	AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error)
}

// TokenReader reads ERC-20 state.
type TokenReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}
