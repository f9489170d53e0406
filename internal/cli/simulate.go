package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bundleradar/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "发送一条合成 bundle 告警以验证通道配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateOpts.TotalSol <= 0 {
			return errors.New("--total 必须大于 0")
		}

		alert, err := getApp().SimulateAlert(cmd.Context(), simulateOpts)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s alert %s for %s\n", alert.Tier.Label(), alert.ID, alert.Mint)
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Mint, "mint", "", "Token mint (defaults to wrapped SOL)")
	simulateCmd.Flags().StringVar(&simulateOpts.Name, "name", "", "Display name")
	simulateCmd.Flags().StringVar(&simulateOpts.Tier, "tier", "", "Force a tier: bundle, medium, large, whale")
	simulateCmd.Flags().Float64Var(&simulateOpts.TotalSol, "total", 0, "Total SOL in the window")
	simulateCmd.Flags().Float64Var(&simulateOpts.MaxSingleSol, "max", 0, "Biggest single buy in SOL")
	simulateCmd.Flags().IntVar(&simulateOpts.TradeCount, "trades", 2, "Trades in the window")
	simulateCmd.Flags().Float64Var(&simulateOpts.MarketCapSol, "mcap", 0, "Market cap in SOL")
}
