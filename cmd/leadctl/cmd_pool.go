package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/service"
)

func (c *cli) poolCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage the phone batch pool",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "build <file|->",
		Short: "Rebuild the pool from one phone number per line, skipping blacklisted numbers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				sum, err := f.Allocator().RebuildPool(ctx, service.ParseLines(raw))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "built %d batches from %d numbers (skipped %d blacklisted, %d duplicates)\n",
					sum.Batches, sum.Phones, sum.SkippedBlacklisted, sum.SkippedDuplicates)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print every batch with its current holders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				batches, err := f.Store().ListBatches(ctx)
				if err != nil {
					return err
				}
				statuses, err := f.Store().ListStatuses(ctx)
				if err != nil {
					return err
				}
				holders := make(map[int][]string)
				for _, st := range statuses {
					if st.HasBatch() {
						holders[*st.BatchIndex] = append(holders[*st.BatchIndex], st.Identity)
					}
				}
				for _, b := range batches {
					fmt.Fprintf(cmd.OutOrStdout(), "%d\t%d numbers\t%v\n", b.Index, len(b.Phones), holders[b.Index])
				}
				return nil
			})
		},
	})

	return cmd
}
