package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/michaelpento.lv/polyarb/cmd/bot"
	"github.com/michaelpento.lv/polyarb/types"
)

var (
	scanOnce   bool
	scanDryRun bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the configured routes and execute profitable ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("dry-run") {
			cfg.DryRun = scanDryRun
		}

		ctx := cmd.Context()
		b, err := bot.New(ctx, cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create scanner: %w", err)
		}

		if scanOnce {
			summary, err := b.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Info("Scan complete",
				zap.Int("evaluated", summary.Evaluated),
				zap.Int("profitable", summary.Decisions[types.DecisionExecute]),
				zap.Int("no_liquidity", summary.Decisions[types.DecisionSkipNoLiquidity]),
				zap.Int("venue_conflict", summary.Decisions[types.DecisionSkipVenueConflict]),
				zap.Int("invalid", summary.Decisions[types.DecisionSkipInvalid]),
				zap.Int("executed", summary.Executed),
				zap.Duration("duration", summary.Duration))
			return nil
		}

		log.Info("Scanner running", zap.Bool("dry_run", cfg.DryRun), zap.Bool("mempool", cfg.Mempool.Enabled))
		return b.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanOnce, "once", false, "run a single pass and exit")
	scanCmd.Flags().BoolVar(&scanDryRun, "dry-run", true, "only estimate gas for profitable routes")
}
