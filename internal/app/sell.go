package app

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// Sell sells the operator's whole balance of token once, through the same
// pipeline the running service uses.
func (a *App) Sell(ctx context.Context, token common.Address) error {
	if !a.Config.Mirror.Enabled {
		return fmt.Errorf("mirror.enabled=false; manual sell unavailable")
	}

	p, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	res, err := p.service.MirrorSell(ctx, token)
	if err != nil {
		return fmt.Errorf("manual sell %s: %w", token.Hex(), err)
	}

	fmt.Fprintf(os.Stdout, "sell submitted for %s: tx %s\n", token.Hex(), res.TxHash.Hex())
	if res.ApprovalTx != nil {
		fmt.Fprintf(os.Stdout, "approval tx %s\n", res.ApprovalTx.Hex())
	}
	a.Logger.Info().Str("token", token.Hex()).Str("tx", res.TxHash.Hex()).Msg("manual sell submitted")
	return nil
}
