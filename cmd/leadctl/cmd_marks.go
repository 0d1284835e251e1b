package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/service"
)

func (c *cli) markCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mark <phone>",
		Short: "Toggle the claimed mark of a phone number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				claimed, err := f.Marks().ToggleMark(ctx, args[0])
				if err != nil {
					return err
				}
				state := "unclaimed"
				if claimed {
					state = "claimed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], state)
				return nil
			})
		},
	}
}

func (c *cli) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write claimed numbers to the export sink and blacklist them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				exp, err := f.Marks().ExportClaimed(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d numbers to %s\n", len(exp.Phones), exp.Location)
				return nil
			})
		},
	}
}

func (c *cli) blacklistCmd() *cobra.Command {
	var preview int
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Show the blacklist size and its first entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				count, phones, err := f.Marks().BlacklistSummary(ctx, preview)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d blacklisted\n", count)
				for _, p := range phones {
					fmt.Fprintln(cmd.OutOrStdout(), p)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&preview, "preview", "n", 20, "number of entries to print")
	return cmd
}

func (c *cli) uploadsCmd() *cobra.Command {
	var filter service.UploadFilter
	cmd := &cobra.Command{
		Use:   "uploads",
		Short: "List uploaded numbers grouped by identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.Date != "" {
				if _, err := time.Parse(time.DateOnly, filter.Date); err != nil {
					return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
				}
			}
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				groups, err := f.Marks().ListUploads(ctx, filter)
				if err != nil {
					return err
				}
				loc := f.Config().App.GetLocation()
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, g := range groups {
					for _, e := range g.Entries {
						mark := ""
						if e.Claimed {
							mark = "claimed"
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.Identity, e.Phone, e.UploadedAt.In(loc).Format(time.DateTime), mark)
					}
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&filter.Identity, "identity", "", "only this identity")
	cmd.Flags().StringVar(&filter.Date, "date", "", "only uploads on this day (YYYY-MM-DD)")
	return cmd
}
