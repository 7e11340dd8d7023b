package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
)

// Transport names the RPC connection strategy.
type Transport string

const (
	TransportHTTP Transport = "http"
	TransportWS   Transport = "ws"
	TransportIPC  Transport = "ipc"
)

// Backend is the subset of the node API the bot depends on.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

var _ Backend = (*ethclient.Client)(nil)

// DialOptions parameterise the node connection.
type DialOptions struct {
	RPCURL     string
	Transport  Transport
	MaxElapsed time.Duration
}

// Dial connects to the node with the configured transport, retrying with capped
// exponential backoff until MaxElapsed passes.
func Dial(ctx context.Context, opts DialOptions, logger zerolog.Logger) (*ethclient.Client, error) {
	if opts.RPCURL == "" {
		return nil, fmt.Errorf("rpc url not configured")
	}
	logger = logger.With().Str("component", "chain_dial").Str("transport", string(opts.Transport)).Logger()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = opts.MaxElapsed

	var client *ethclient.Client
	attempt := func() error {
		rc, err := dialRPC(ctx, opts)
		if err != nil {
			return err
		}
		c := ethclient.NewClient(rc)
		if _, err := c.ChainID(ctx); err != nil {
			c.Close()
			return fmt.Errorf("read chain id: %w", err)
		}
		client = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn().Err(err).Dur("retry_in", wait).Msg("rpc connection failed")
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.Transport, err)
	}
	logger.Info().Msg("connected to rpc")
	return client, nil
}

func dialRPC(ctx context.Context, opts DialOptions) (*rpc.Client, error) {
	switch Transport(strings.ToLower(string(opts.Transport))) {
	case TransportHTTP, "":
		return rpc.DialHTTP(opts.RPCURL)
	case TransportWS:
		return rpc.DialWebsocket(ctx, opts.RPCURL, "")
	case TransportIPC:
		return rpc.DialIPC(ctx, opts.RPCURL)
	default:
		return nil, backoff.Permanent(fmt.Errorf("unsupported transport %q", opts.Transport))
	}
}
