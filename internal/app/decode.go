package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"whale-mirror/internal/chain"
	"whale-mirror/internal/detector"
)

// Decode fetches a transaction and prints how the detector classifies it.
func (a *App) Decode(ctx context.Context, txHash string) error {
	if !isTxHash(txHash) {
		return fmt.Errorf("invalid transaction hash %q", txHash)
	}
	hash := common.HexToHash(txHash)

	ws, err := a.newWatchSet(ctx)
	if err != nil {
		return err
	}
	defer ws.client.Close()

	reqCtx, cancel := context.WithTimeout(ctx, a.Config.Chain.RequestTimeout)
	defer cancel()

	tx, pending, err := ws.client.TransactionByHash(reqCtx, hash)
	if err != nil {
		return fmt.Errorf("fetch transaction: %w", err)
	}

	var (
		blockNumber uint64
		baseFee     *big.Int
	)
	if !pending {
		receipt, err := ws.client.TransactionReceipt(reqCtx, hash)
		switch {
		case errors.Is(err, ethereum.NotFound):
		case err != nil:
			return fmt.Errorf("fetch receipt: %w", err)
		default:
			blockNumber = receipt.BlockNumber.Uint64()
			if header, err := ws.client.HeaderByNumber(reqCtx, receipt.BlockNumber); err == nil {
				baseFee = header.BaseFee
			}
		}
	}

	raw := chain.ToRawTx(tx, types.LatestSignerForChainID(ws.chainID), baseFee)
	writeVerdict(os.Stdout, ws.detector, raw, blockNumber)
	return nil
}

func writeVerdict(w io.Writer, det *detector.Detector, raw chain.RawTx, blockNumber uint64) {
	to := "<contract creation>"
	if raw.To != nil {
		to = raw.To.Hex()
	}
	fmt.Fprintf(w, "tx:     %s\n", raw.Hash.Hex())
	fmt.Fprintf(w, "from:   %s (watched=%t)\n", raw.From.Hex(), det.Watched(raw.From))
	fmt.Fprintf(w, "to:     %s\n", to)
	if blockNumber > 0 {
		fmt.Fprintf(w, "block:  %d\n", blockNumber)
	} else {
		fmt.Fprintln(w, "block:  pending")
	}

	ev, ok, err := det.Inspect(raw, blockNumber)
	switch {
	case err != nil:
		fmt.Fprintf(w, "verdict: decode failure: %v\n", err)
	case !ok:
		fmt.Fprintln(w, "verdict: not a watched swap")
	default:
		fmt.Fprintf(w, "verdict: %s via %s\n", ev.Action, ev.Method)
		fmt.Fprintf(w, "token:   %s\n", ev.Token.Hex())
		fmt.Fprintf(w, "path:    %s\n", joinAddresses(ev.Path))
		fmt.Fprintf(w, "gas:     %s wei\n", ev.GasPriceWei)
	}
}

func joinAddresses(path []common.Address) string {
	parts := make([]string, len(path))
	for i, addr := range path {
		parts[i] = addr.Hex()
	}
	return strings.Join(parts, " -> ")
}

func isTxHash(v string) bool {
	b, err := hexutil.Decode(v)
	return err == nil && len(b) == common.HashLength
}
