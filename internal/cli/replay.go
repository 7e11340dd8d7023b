package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whale-mirror/internal/app"
)

var (
	replayFrom   uint64
	replayTo     uint64
	replayNotify bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Report watched swaps in a historical block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayFrom == 0 || replayTo == 0 {
			return fmt.Errorf("--from and --to must be provided")
		}
		if replayTo < replayFrom {
			return fmt.Errorf("--from must not be after --to")
		}

		opts := app.ReplayOptions{
			From:   replayFrom,
			To:     replayTo,
			Notify: replayNotify,
		}
		return getApp().Replay(cmd.Context(), opts)
	},
}

func init() {
	replayCmd.Flags().Uint64Var(&replayFrom, "from", 0, "First block number (inclusive)")
	replayCmd.Flags().Uint64Var(&replayTo, "to", 0, "Last block number (inclusive)")
	replayCmd.Flags().BoolVar(&replayNotify, "notify", false, "Send detection alerts for replayed swaps")
}
