package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newProductsCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "products",
		Short: "Create and inspect catalog entries on a running server",
	}

	var category string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a product and allocate its code",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entry, err := opts.client().CreateProduct(cmd.Context(), strings.Join(args, " "), codes.Category(strings.ToUpper(category)))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", entry.ID, entry.CodeValue, entry.Name)
			return nil
		},
	}
	create.Flags().StringVar(&category, "category", string(codes.CategoryBarcode), "code category (BARCODE or QR)")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid product id %q: %w", args[0], err)
			}
			entry, err := opts.client().GetProduct(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", entry.ID, entry.CodeValue, entry.CodeCategory, entry.Name)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List products by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := opts.client().ListProducts(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCODE\tCATEGORY\tNAME")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.ID, e.CodeValue, e.CodeCategory, e.Name)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(create, get, list)
	return cmd
}
