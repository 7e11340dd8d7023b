package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"whale-mirror/internal/alerting"
	"whale-mirror/internal/detector"
)

// Replay walks historical blocks and reports the watched swaps they contain.
// It never mirrors and never touches the seen set.
func (a *App) Replay(ctx context.Context, opts ReplayOptions) error {
	if opts.From == 0 || opts.To < opts.From {
		return errors.New("回放范围为空，请检查 --from/--to")
	}

	ws, err := a.newWatchSet(ctx)
	if err != nil {
		return err
	}
	defer ws.client.Close()

	poller := ws.newPoller(a, nil)
	var notifier alerting.Notifier = alerting.NopNotifier{}
	if opts.Notify {
		notifier = a.newNotifier()
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Block\tWallet\tAction\tToken\tRouter\tTx")

	processed := 0
	failed := 0
	found := 0
	for n := opts.From; n <= opts.To; n++ {
		select {
		case <-ctx.Done():
			writer.Flush()
			return ctx.Err()
		default:
		}

		blocks, err := poller.FetchRange(ctx, n, n)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Uint64("block", n).Msg("回放区块获取失败")
			continue
		}
		for _, block := range blocks {
			events, decodeFailures := ws.detector.Scan(block)
			if decodeFailures > 0 {
				a.Logger.Warn().Uint64("block", block.Number).Int("failures", decodeFailures).Msg("skipped undecodable router calls")
			}
			for _, ev := range events {
				found++
				printEvent(writer, ev)
				if opts.Notify {
					text := alerting.DetectionMessage(ev.Wallet.Hex(), string(ev.Action), ev.Router.Hex(), ev.TxHash.Hex())
					if err := notifier.Notify(ctx, text); err != nil {
						a.Logger.Warn().Err(err).Str("tx", ev.TxHash.Hex()).Msg("replay notification failed")
					}
				}
			}
		}
		processed++
	}
	writer.Flush()

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Int("swaps", found).Msg("回放完成")
	if failed > 0 {
		return errors.New("部分区块回放失败，请检查日志")
	}
	return nil
}

func printEvent(writer *tabwriter.Writer, ev detector.SwapEvent) {
	fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\n",
		ev.BlockNumber,
		ev.Wallet.Hex(),
		ev.Action,
		ev.Token.Hex(),
		ev.Router.Hex(),
		ev.TxHash.Hex(),
	)
}
