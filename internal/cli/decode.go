package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	decodeTx string
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Classify a single transaction the way the watcher would",
	RunE: func(cmd *cobra.Command, args []string) error {
		if decodeTx == "" {
			return errors.New("--tx must be provided")
		}
		return getApp().Decode(cmd.Context(), decodeTx)
	},
}

func init() {
	decodeCmd.Flags().StringVar(&decodeTx, "tx", "", "Transaction hash")
}
