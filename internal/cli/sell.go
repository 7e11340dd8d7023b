package cli

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var (
	sellToken string
)

var sellCmd = &cobra.Command{
	Use:   "sell",
	Short: "Sell the operator's whole balance of a token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(sellToken) {
			return fmt.Errorf("--token must be a hex address")
		}
		return getApp().Sell(cmd.Context(), common.HexToAddress(sellToken))
	},
}

func init() {
	sellCmd.Flags().StringVar(&sellToken, "token", "", "Token contract address")
}
