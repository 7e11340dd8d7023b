package cli

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"whale-mirror/internal/registry"
)

var (
	simulateAction string
	simulateToken  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-mirror",
	Short: "按当前配置计算一笔跟单交易（不广播）",
	RunE: func(cmd *cobra.Command, args []string) error {
		action, err := registry.ParseAction(simulateAction)
		if err != nil {
			return err
		}
		if !common.IsHexAddress(simulateToken) {
			return errors.New("--token 必须是合法地址")
		}
		return getApp().SimulateMirror(cmd.Context(), action, common.HexToAddress(simulateToken))
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAction, "action", "BUY", "方向 BUY 或 SELL")
	simulateCmd.Flags().StringVar(&simulateToken, "token", "", "代币合约地址")
}
