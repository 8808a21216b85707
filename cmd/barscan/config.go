package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newConfigCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Prints the configuration after applying the config file and environment.
Values that could not be used are reported on stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := opts.loadConfig(cmd)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}
