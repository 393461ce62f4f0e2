package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/config"
	"github.com/michaelpento.lv/polyarb/utils"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "polyarb",
	Short: "Multi-venue arbitrage scanner for Polygon",
	Long: `polyarb quotes two-hop token routes across on-chain DEXes and
aggregator APIs, estimates net profit after gas, slippage and the flashloan
premium, and can execute profitable routes through a ProfitBot contract.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.polyarb.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}

// loadConfig reads the config file and attaches the global logger
func loadConfig() (*config.Config, *zap.Logger, error) {
	log := utils.GetLogger()
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, log, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Logger = log
	return cfg, log, nil
}
