package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newEventsCommand(opts *rootOptions) *cobra.Command {
	var after int64
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print journal events as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := opts.client().Events(cmd.Context(), after, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, e := range events {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&after, "after", 0, "only events with an id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (server default when zero)")
	return cmd
}
