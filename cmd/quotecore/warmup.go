package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quotecore/quotecore/internal/app"
	"github.com/quotecore/quotecore/internal/config"
)

// warmupCmd triggers one warm-up batch and exits, for operators and cron-style
// deployments that do not want the in-process cadence.
func warmupCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "warmup",
		Short: "Run one warm-up batch and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}

			bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			a, err := app.New(bootCtx, cfg, log.Logger)
			cancel()
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithTimeout(ctx, cfg.Warmup.Interval)
			a.Warmup().RunOnce(runCtx)
			cancel()

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return a.Stop(stopCtx)
		},
	}

	configFlag(cmd.Flags(), &cfgPath)
	return cmd
}
