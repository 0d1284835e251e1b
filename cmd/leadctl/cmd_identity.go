package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/repository"
)

func (c *cli) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <identity>",
		Short: "Delete an identity's redemption record so it can start over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				existed, err := f.Marks().ResetIdentity(ctx, args[0])
				if err != nil {
					return err
				}
				if !existed {
					fmt.Fprintf(cmd.OutOrStdout(), "%s had no record\n", args[0])
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s reset\n", args[0])
				return nil
			})
		},
	}
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <identity>",
		Short: "Show an identity's redemption record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				st, err := f.Store().GetStatus(ctx, args[0])
				if errors.Is(err, repository.ErrNotFound) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s has not redeemed\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				batch := "none"
				if st.HasBatch() {
					batch = fmt.Sprint(*st.BatchIndex)
				}
				loc := f.Config().App.GetLocation()
				fmt.Fprintf(cmd.OutOrStdout(), "identity: %s\nredeemed: %d/%d\nlast:     %s\nbatch:    %s\n",
					st.Identity, st.RedeemCount, f.Config().Redemption.MaxTimes,
					st.LastRedeemedAt.In(loc).Format(time.DateTime), batch)
				return nil
			})
		},
	}
}
