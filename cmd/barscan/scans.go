package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/scans"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newScansCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scans",
		Short: "Record scans and set their dispositions on a running server",
	}

	var category string
	record := &cobra.Command{
		Use:   "record <code>",
		Short: "Record a scan of a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().RecordScan(cmd.Context(), args[0], codes.Category(strings.ToUpper(category)))
			if err != nil {
				return err
			}
			status := "recorded"
			if res.WasDuplicate {
				status = "duplicate"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", res.Scan.ID, res.Scan.CodeValue, status)
			return nil
		},
	}
	record.Flags().StringVar(&category, "category", string(codes.CategoryBarcode), "code category (BARCODE or QR)")

	dispose := &cobra.Command{
		Use:   "dispose <id> <DEPLOY|RETURN>",
		Short: "Set the disposition of an awaiting scan",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid scan id %q: %w", args[0], err)
			}
			ev, err := opts.client().UpdateAction(cmd.Context(), id, scans.Disposition(strings.ToUpper(args[1])))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ev.ID, ev.Disposition)
			return nil
		},
	}

	var action string
	list := &cobra.Command{
		Use:   "list",
		Short: "List scans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := opts.client().ListScans(cmd.Context(), scans.Disposition(strings.ToUpper(action)))
			if err != nil {
				return err
			}
			return writeScans(cmd.OutOrStdout(), events)
		},
	}
	list.Flags().StringVar(&action, "action", "", "only scans with this disposition (AWAITING, DEPLOY or RETURN)")

	cmd.AddCommand(record, dispose, list)
	return cmd
}

func writeScans(w io.Writer, events []*scans.Event) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCODE\tDISPOSITION\tCAPTURED\tPRODUCT")
	for _, e := range events {
		product := ""
		if e.Entry != nil {
			product = e.Entry.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.ID, e.CodeValue, e.Disposition, e.CapturedAt.Format(time.RFC3339), product)
	}
	return tw.Flush()
}
