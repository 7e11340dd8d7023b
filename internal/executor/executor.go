package executor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"whale-mirror/internal/fetcher"
	"whale-mirror/internal/registry"
	"whale-mirror/internal/sizer"
)

var (
	// ErrApprovalReverted means the approve transaction was mined with status 0.
	ErrApprovalReverted = errors.New("approval transaction reverted")
	// ErrReceiptTimeout means no receipt appeared within the configured window.
	ErrReceiptTimeout = errors.New("timed out waiting for receipt")

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// Backend is the node surface needed to broadcast transactions.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Options configure signing and gas.
type Options struct {
	ChainID         *big.Int
	PrivateKey      *ecdsa.PrivateKey
	GasMultiplier   decimal.Decimal
	DeadlineWindow  time.Duration
	GasLimitBuy     uint64
	GasLimitSell    uint64
	GasLimitApprove uint64
	ReceiptTimeout  time.Duration
	ReceiptPoll     time.Duration
	RequestTimeout  time.Duration
}

// Result describes a broadcast mirror.
type Result struct {
	Order       sizer.TradeOrder
	TxHash      common.Hash
	ApprovalTx  *common.Hash
	SubmittedAt time.Time
}

// Submitter signs and broadcasts router swaps from the operator account.
type Submitter struct {
	backend Backend
	tokens  fetcher.TokenReader
	opts    Options
	from    common.Address
	signer  types.Signer
	router  abi.ABI
	erc20   abi.ABI
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs a Submitter.
func New(backend Backend, tokens fetcher.TokenReader, opts Options, logger zerolog.Logger) (*Submitter, error) {
	if opts.PrivateKey == nil {
		return nil, errors.New("operator private key is required")
	}
	if opts.ChainID == nil || opts.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	if !opts.GasMultiplier.IsPositive() {
		opts.GasMultiplier = decimal.NewFromInt(1)
	}
	if opts.DeadlineWindow <= 0 {
		opts.DeadlineWindow = 30 * time.Second
	}
	if opts.GasLimitBuy == 0 {
		opts.GasLimitBuy = 300_000
	}
	if opts.GasLimitSell == 0 {
		opts.GasLimitSell = 300_000
	}
	if opts.GasLimitApprove == 0 {
		opts.GasLimitApprove = 100_000
	}
	if opts.ReceiptTimeout <= 0 {
		opts.ReceiptTimeout = 2 * time.Minute
	}
	if opts.ReceiptPoll <= 0 {
		opts.ReceiptPoll = 2 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	from := crypto.PubkeyToAddress(opts.PrivateKey.PublicKey)
	return &Submitter{
		backend: backend,
		tokens:  tokens,
		opts:    opts,
		from:    from,
		signer:  types.LatestSignerForChainID(opts.ChainID),
		router:  registry.RouterABI(),
		erc20:   registry.ERC20ABI(),
		logger:  logger.With().Str("component", "submitter").Str("operator", from.Hex()).Logger(),
		now:     time.Now,
	}, nil
}

// Operator returns the signing address.
func (s *Submitter) Operator() common.Address {
	return s.from
}

// GasPrice returns floor(whale * multiplier).
func GasPrice(whale *big.Int, multiplier decimal.Decimal) *big.Int {
	if whale == nil || whale.Sign() <= 0 {
		return new(big.Int)
	}
	return decimal.NewFromBigInt(whale, 0).Mul(multiplier).Floor().BigInt()
}

// Submit completes the order with gas, deadline and nonce, then signs and
// broadcasts it. SELL orders first make sure the router may spend the token.
func (s *Submitter) Submit(ctx context.Context, order sizer.TradeOrder, whaleGasWei *big.Int) (Result, error) {
	order.GasPriceWei = GasPrice(whaleGasWei, s.opts.GasMultiplier)
	if order.GasPriceWei.Sign() <= 0 {
		return Result{Order: order}, errors.New("gas price must be positive")
	}
	res := Result{Order: order}

	if order.Direction == registry.ActionSell {
		approval, err := s.ensureAllowance(ctx, order.Token, order.Router, order.GasPriceWei)
		res.ApprovalTx = approval
		if err != nil {
			return res, err
		}
	}

	order.Deadline = s.now().Add(s.opts.DeadlineWindow)
	deadline := big.NewInt(order.Deadline.Unix())

	var (
		data     []byte
		value    *big.Int
		gasLimit uint64
		err      error
	)
	switch order.Direction {
	case registry.ActionBuy:
		data, err = s.router.Pack("swapExactETHForTokens", order.MinAmountOut, order.Path, s.from, deadline)
		value = order.AmountIn
		gasLimit = s.opts.GasLimitBuy
	case registry.ActionSell:
		data, err = s.router.Pack("swapExactTokensForETH", order.AmountIn, order.MinAmountOut, order.Path, s.from, deadline)
		value = new(big.Int)
		gasLimit = s.opts.GasLimitSell
	default:
		return res, fmt.Errorf("unsupported action %q", order.Direction)
	}
	if err != nil {
		return res, fmt.Errorf("pack swap: %w", err)
	}

	tx, err := s.send(ctx, order.Router, value, gasLimit, order.GasPriceWei, data, &order.Nonce)
	if err != nil {
		return res, err
	}
	res.Order = order
	res.TxHash = tx.Hash()
	res.SubmittedAt = s.now()

	s.logger.Info().
		Str("action", string(order.Direction)).
		Str("token", order.Token.Hex()).
		Str("amount_in", order.AmountIn.String()).
		Str("min_out", order.MinAmountOut.String()).
		Str("gas_price", order.GasPriceWei.String()).
		Uint64("nonce", order.Nonce).
		Str("tx", res.TxHash.Hex()).
		Msg("mirror transaction broadcast")
	return res, nil
}

func (s *Submitter) ensureAllowance(ctx context.Context, token, router common.Address, gasPrice *big.Int) (*common.Hash, error) {
	allowance, err := s.tokens.Allowance(ctx, token, s.from, router)
	if err != nil {
		return nil, fmt.Errorf("read allowance: %w", err)
	}
	if allowance.Sign() > 0 {
		return nil, nil
	}

	data, err := s.erc20.Pack("approve", router, maxUint256)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	var nonce uint64
	tx, err := s.send(ctx, token, new(big.Int), s.opts.GasLimitApprove, gasPrice, data, &nonce)
	if err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}
	hash := tx.Hash()
	s.logger.Info().Str("token", token.Hex()).Str("tx", hash.Hex()).Uint64("nonce", nonce).Msg("approval sent, waiting for receipt")

	if err := s.waitReceipt(ctx, hash); err != nil {
		return &hash, err
	}
	return &hash, nil
}

func (s *Submitter) send(ctx context.Context, to common.Address, value *big.Int, gasLimit uint64, gasPrice *big.Int, data []byte, nonceOut *uint64) (*types.Transaction, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	nonce, err := s.backend.PendingNonceAt(reqCtx, s.from)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w", err)
	}

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &to,
		Value:    value,
		Data:     data,
	}), s.signer, s.opts.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	reqCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	if err := s.backend.SendTransaction(reqCtx, tx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	*nonceOut = nonce
	return tx, nil
}

func (s *Submitter) waitReceipt(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.ReceiptPoll)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrApprovalReverted, hash.Hex())
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Str("tx", hash.Hex()).Msg("receipt lookup failed")
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
