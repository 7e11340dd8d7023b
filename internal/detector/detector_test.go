package detector

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-mirror/internal/chain"
	"whale-mirror/internal/registry"
)

var (
	whale    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	stranger = common.HexToAddress("0x2222222222222222222222222222222222222222")
	router   = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	weth     = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	tokenX   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	reg, err := registry.New([]common.Address{router})
	require.NoError(t, err)
	return New([]common.Address{whale}, reg, zerolog.Nop())
}

func pack(t *testing.T, method string, args ...interface{}) []byte {
	t.Helper()
	data, err := registry.RouterABI().Pack(method, args...)
	require.NoError(t, err)
	return data
}

func buyInput(t *testing.T, path []common.Address) []byte {
	return pack(t, "swapExactETHForTokens", big.NewInt(1), path, whale, big.NewInt(1_700_000_000))
}

func sellInput(t *testing.T, path []common.Address) []byte {
	return pack(t, "swapExactTokensForETH", big.NewInt(5), big.NewInt(1), path, whale, big.NewInt(1_700_000_000))
}

func rawTx(from common.Address, to *common.Address, input []byte, hash byte) chain.RawTx {
	return chain.RawTx{
		From:     from,
		To:       to,
		Input:    input,
		Hash:     common.BytesToHash([]byte{hash}),
		GasPrice: big.NewInt(30_000_000_000),
	}
}

func TestInspectBuyTakesLastPathElement(t *testing.T) {
	d := newTestDetector(t)
	r := router

	ev, ok, err := d.Inspect(rawTx(whale, &r, buyInput(t, []common.Address{weth, tokenX}), 1), 42)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, registry.ActionBuy, ev.Action)
	assert.Equal(t, tokenX, ev.Token)
	assert.Equal(t, whale, ev.Wallet)
	assert.Equal(t, router, ev.Router)
	assert.Equal(t, uint64(42), ev.BlockNumber)
	assert.Equal(t, big.NewInt(30_000_000_000), ev.GasPriceWei)
	assert.Equal(t, "swapExactETHForTokens", ev.Method)
}

func TestInspectSellTakesFirstPathElement(t *testing.T) {
	d := newTestDetector(t)
	r := router

	ev, ok, err := d.Inspect(rawTx(whale, &r, sellInput(t, []common.Address{tokenX, weth}), 2), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registry.ActionSell, ev.Action)
	assert.Equal(t, tokenX, ev.Token)
}

func TestInspectFeeOnTransferVariants(t *testing.T) {
	d := newTestDetector(t)
	r := router

	input := pack(t, "swapExactETHForTokensSupportingFeeOnTransferTokens", big.NewInt(1), []common.Address{weth, tokenX}, whale, big.NewInt(1))
	ev, ok, err := d.Inspect(rawTx(whale, &r, input, 3), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registry.ActionBuy, ev.Action)

	input = pack(t, "swapTokensForExactETH", big.NewInt(1), big.NewInt(2), []common.Address{tokenX, weth}, whale, big.NewInt(1))
	ev, ok, err = d.Inspect(rawTx(whale, &r, input, 4), 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, registry.ActionSell, ev.Action)
	assert.Equal(t, tokenX, ev.Token)
}

func TestInspectRejectsIrrelevant(t *testing.T) {
	d := newTestDetector(t)
	r := router
	other := common.HexToAddress("0x3333333333333333333333333333333333333333")
	input := buyInput(t, []common.Address{weth, tokenX})

	cases := map[string]chain.RawTx{
		"empty from":        rawTx(common.Address{}, &r, input, 1),
		"contract creation": rawTx(whale, nil, input, 2),
		"unwatched sender":  rawTx(stranger, &r, input, 3),
		"unknown router":    rawTx(whale, &other, input, 4),
		"plain transfer":    rawTx(whale, &r, nil, 5),
		"unknown selector":  rawTx(whale, &r, append([]byte{0xde, 0xad, 0xbe, 0xef}, input[4:]...), 6),
	}
	for name, tx := range cases {
		_, ok, err := d.Inspect(tx, 1)
		assert.NoError(t, err, name)
		assert.False(t, ok, name)
	}
}

func TestInspectShortPathIsDecodeFailure(t *testing.T) {
	d := newTestDetector(t)
	r := router

	_, ok, err := d.Inspect(rawTx(whale, &r, buyInput(t, []common.Address{tokenX}), 1), 1)
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrMalformedPath))

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "swapExactETHForTokens", decodeErr.Method)
}

func TestInspectTruncatedCalldata(t *testing.T) {
	d := newTestDetector(t)
	r := router
	input := buyInput(t, []common.Address{weth, tokenX})

	_, ok, err := d.Inspect(rawTx(whale, &r, input[:40], 1), 1)
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestScanContinuesAfterDecodeFailure(t *testing.T) {
	d := newTestDetector(t)
	r := router

	block := chain.Block{
		Number: 100,
		Txs: []chain.RawTx{
			rawTx(whale, &r, buyInput(t, []common.Address{tokenX}), 1),
			rawTx(stranger, &r, buyInput(t, []common.Address{weth, tokenX}), 2),
			rawTx(whale, &r, sellInput(t, []common.Address{tokenX, weth}), 3),
		},
	}

	events, failures := d.Scan(block)
	assert.Equal(t, 1, failures)
	require.Len(t, events, 1)
	assert.Equal(t, registry.ActionSell, events[0].Action)
	assert.Equal(t, uint64(100), events[0].BlockNumber)
}

func TestEventKey(t *testing.T) {
	ev := SwapEvent{Wallet: whale, Action: registry.ActionBuy, TxHash: common.BytesToHash([]byte{9})}
	assert.Equal(t, "0x1111111111111111111111111111111111111111:BUY:"+ev.TxHash.Hex(), ev.Key())
}
