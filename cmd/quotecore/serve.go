package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/quotecore/quotecore/internal/app"
	"github.com/quotecore/quotecore/internal/config"
)

const shutdownGrace = 15 * time.Second

func serveCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the data-plane service",
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

			errc, err := a.Start()
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				log.Info().Msg("signal received, shutting down")
			case err = <-errc:
				if err != nil {
					log.Error().Err(err).Msg("listener failed")
				}
			}

			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if serr := a.Stop(stopCtx); serr != nil && err == nil {
				err = serr
			}
			return err
		},
	}

	configFlag(cmd.Flags(), &cfgPath)
	return cmd
}
