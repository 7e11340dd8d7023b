package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"whale-mirror/internal/registry"
	"whale-mirror/internal/sizer"
)

// SimulateMirror 按当前预算与报价计算一笔跟单交易，但不签名也不广播。
func (a *App) SimulateMirror(ctx context.Context, action registry.Action, token common.Address) error {
	ws, err := a.newWatchSet(ctx)
	if err != nil {
		return err
	}
	defer ws.client.Close()

	order, err := a.newSizer(a.newContracts(ws)).Size(ctx, action, token, ws.registry.Primary())
	if err != nil {
		return fmt.Errorf("size %s %s: %w", action, token.Hex(), err)
	}

	writeOrder(os.Stdout, order, a.Config.Mirror.SlippageBps)
	return nil
}

func writeOrder(w io.Writer, order sizer.TradeOrder, slippageBps uint32) {
	fmt.Fprintf(w, "direction:    %s\n", order.Direction)
	fmt.Fprintf(w, "token:        %s\n", order.Token.Hex())
	fmt.Fprintf(w, "router:       %s\n", order.Router.Hex())
	fmt.Fprintf(w, "path:         %s\n", joinAddresses(order.Path))
	fmt.Fprintf(w, "amount_in:    %s\n", order.AmountIn)
	fmt.Fprintf(w, "expected_out: %s\n", order.ExpectedOut)
	fmt.Fprintf(w, "min_out:      %s (slippage %d bps)\n", order.MinAmountOut, slippageBps)
	if !order.NativePrice.IsZero() {
		fmt.Fprintf(w, "native_price: %s\n", order.NativePrice.String())
	}
}
