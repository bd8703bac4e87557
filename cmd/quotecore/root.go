package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Execute runs the quotecore CLI.
func Execute(ctx context.Context) error {
	root := &cobra.Command{Use: "quotecore", Short: "Market-data serving core"}
	root.AddCommand(serveCmd())
	root.AddCommand(warmupCmd())
	return root.ExecuteContext(ctx)
}

// configFlag registers the shared --config flag.
func configFlag(fs *pflag.FlagSet, dst *string) {
	fs.StringVarP(dst, "config", "c", "", "path to YAML config")
}
