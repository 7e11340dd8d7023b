package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-mirror/internal/chain"
	"whale-mirror/internal/detector"
	"whale-mirror/internal/metrics"
	"whale-mirror/internal/registry"
	"whale-mirror/internal/state"
)

type chainStub struct {
	mu     sync.Mutex
	head   uint64
	blocks map[uint64]*types.Block
	fail   map[uint64]error
}

func (c *chainStub) BlockNumber(context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head, nil
}

func (c *chainStub) BlockByNumber(_ context.Context, number *big.Int) (*types.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.head
	if number != nil {
		n = number.Uint64()
	}
	if err := c.fail[n]; err != nil {
		return nil, err
	}
	b, ok := c.blocks[n]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (c *chainStub) add(n uint64, txs ...*types.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	header := &types.Header{Number: new(big.Int).SetUint64(n)}
	c.blocks[n] = types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
	if n > c.head {
		c.head = n
	}
}

func TestCursorKeepsBlocksFetchedBeforeFailure(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey)

	input, err := registry.RouterABI().Pack("swapExactETHForTokens", big.NewInt(1), []common.Address{weth, tokenX}, wallet, big.NewInt(1_700_000_000))
	require.NoError(t, err)
	to := router
	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		GasPrice: big.NewInt(20_000_000_000),
		Gas:      250_000,
		To:       &to,
		Value:    big.NewInt(1),
		Data:     input,
	}), types.LatestSignerForChainID(big.NewInt(1)), key)
	require.NoError(t, err)

	src := &chainStub{blocks: map[uint64]*types.Block{}, fail: map[uint64]error{}}
	src.add(1)

	reg, err := registry.New([]common.Address{router})
	require.NoError(t, err)
	seen, err := state.NewMemorySeen(16)
	require.NoError(t, err)
	poller := chain.NewPoller(src, chain.PollerOptions{Mode: chain.ModeCursor, ChainID: big.NewInt(1), MaxCatchUp: 5}, zerolog.Nop())
	submitter := &fakeSubmitter{}
	svc := New(Options{MirrorEnabled: true}, Deps{
		Poller:    poller,
		Detector:  detector.New([]common.Address{wallet}, reg, zerolog.Nop()),
		State:     state.New(seen, nil, zerolog.Nop()),
		Sizer:     &fakeSizer{},
		Submitter: submitter,
		Notifier:  &fakeNotifier{},
		Metrics:   metrics.New(),
	}, zerolog.Nop())

	ctx := context.Background()
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))

	src.add(2, tx)
	src.add(3)
	src.fail[3] = errors.New("timeout")
	require.Error(t, svc.ProcessTick(ctx, time.Now()))
	assert.Equal(t, 1, submitter.count(), "block 2 was delivered before block 3 failed")

	delete(src.fail, 3)
	require.NoError(t, svc.ProcessTick(ctx, time.Now()))

	last, _ := poller.Last()
	assert.Equal(t, uint64(3), last)
	assert.Equal(t, 1, submitter.count())
}
