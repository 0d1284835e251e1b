package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/service"
)

func (c *cli) whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage the identity whitelist",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file|->",
		Short: "Replace the whitelist with one identity per line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				n, err := f.Marks().ImportWhitelist(ctx, service.ParseLines(raw))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d identities\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the whitelist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withFactory(cmd, func(ctx context.Context, f *factory.Factory) error {
				ids, err := f.Store().ListWhitelist(ctx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return nil
			})
		},
	})

	return cmd
}
