package sizer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"whale-mirror/internal/fetcher"
	"whale-mirror/internal/registry"
)

const maxBps = 10_000

var (
	// ErrNothingToSell is returned when the operator holds none of the token.
	ErrNothingToSell = errors.New("operator holds no balance of token")

	dec1e18 = decimal.New(1, 18)
)

// TradeOrder is a single mirror attempt. Deadline, GasPriceWei and Nonce are
// filled in by the submitter right before signing.
type TradeOrder struct {
	Direction    registry.Action
	Token        common.Address
	Router       common.Address
	Path         []common.Address
	AmountIn     *big.Int
	ExpectedOut  *big.Int
	MinAmountOut *big.Int
	NativePrice  decimal.Decimal
	Deadline     time.Time
	GasPriceWei  *big.Int
	Nonce        uint64
}

// Options configure sizing.
type Options struct {
	BudgetFiat  decimal.Decimal
	SlippageBps uint32
	WETH        common.Address
	Operator    common.Address
}

// Sizer turns a detected direction into amounts.
type Sizer struct {
	opts   Options
	prices fetcher.PriceSource
	router fetcher.RouterReader
	tokens fetcher.TokenReader
	logger zerolog.Logger
}

// New constructs a Sizer.
func New(opts Options, prices fetcher.PriceSource, router fetcher.RouterReader, tokens fetcher.TokenReader, logger zerolog.Logger) *Sizer {
	return &Sizer{
		opts:   opts,
		prices: prices,
		router: router,
		tokens: tokens,
		logger: logger.With().Str("component", "sizer").Logger(),
	}
}

// Size computes amountIn and the slippage-bounded minimum output.
func (s *Sizer) Size(ctx context.Context, action registry.Action, token, router common.Address) (TradeOrder, error) {
	order := TradeOrder{Direction: action, Token: token, Router: router}

	switch action {
	case registry.ActionBuy:
		price, err := s.prices.NativePrice(ctx)
		if err != nil {
			return TradeOrder{}, fmt.Errorf("native price: %w", err)
		}
		amountIn, err := BudgetToWei(s.opts.BudgetFiat, price)
		if err != nil {
			return TradeOrder{}, err
		}
		order.NativePrice = price
		order.AmountIn = amountIn
		order.Path = []common.Address{s.opts.WETH, token}
	case registry.ActionSell:
		balance, err := s.tokens.BalanceOf(ctx, token, s.opts.Operator)
		if err != nil {
			return TradeOrder{}, fmt.Errorf("token balance: %w", err)
		}
		if balance.Sign() <= 0 {
			return TradeOrder{}, ErrNothingToSell
		}
		order.AmountIn = balance
		order.Path = []common.Address{token, s.opts.WETH}
	default:
		return TradeOrder{}, fmt.Errorf("unsupported action %q", action)
	}

	amounts, err := s.router.AmountsOut(ctx, router, order.AmountIn, order.Path)
	if err != nil {
		return TradeOrder{}, fmt.Errorf("quote: %w", err)
	}
	expected := amounts[len(amounts)-1]
	if expected.Sign() <= 0 {
		return TradeOrder{}, errors.New("quote returned zero output")
	}
	order.ExpectedOut = expected
	order.MinAmountOut = MinOut(expected, s.opts.SlippageBps)

	s.logger.Debug().
		Str("action", string(action)).
		Str("token", token.Hex()).
		Str("amount_in", order.AmountIn.String()).
		Str("expected_out", expected.String()).
		Str("min_out", order.MinAmountOut.String()).
		Msg("order sized")
	return order, nil
}

// BudgetToWei returns floor(budget / price * 1e18).
func BudgetToWei(budget, price decimal.Decimal) (*big.Int, error) {
	if !budget.IsPositive() {
		return nil, errors.New("budget must be positive")
	}
	if !price.IsPositive() {
		return nil, errors.New("price must be positive")
	}
	quotient, _ := budget.Mul(dec1e18).QuoRem(price, 0)
	wei := quotient.BigInt()
	if wei.Sign() <= 0 {
		return nil, fmt.Errorf("budget %s too small at price %s", budget, price)
	}
	return wei, nil
}

// MinOut returns floor(expected * (10000 - bps) / 10000). bps above 10000 is
// treated as 10000.
func MinOut(expected *big.Int, bps uint32) *big.Int {
	if bps > maxBps {
		bps = maxBps
	}
	out := new(big.Int).Mul(expected, big.NewInt(int64(maxBps-bps)))
	return out.Quo(out, big.NewInt(maxBps))
}
