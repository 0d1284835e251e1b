// Command leadctl administers a leadpool store directly, without going
// through the RPC server.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kkkkikiki/leadpool/internal/config"
	"github.com/kkkkikiki/leadpool/internal/factory"
	"github.com/kkkkikiki/leadpool/internal/logger"
)

type cli struct {
	verbose bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "leadctl",
		Short:         "Administer the leadpool store",
		Long:          "leadctl reads the same environment as the server (STORE_*, DB_*, EXPORT_*, REDEEM_*) and operates on the store directly.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "log store and service activity")

	root.AddCommand(
		c.whitelistCmd(),
		c.poolCmd(),
		c.markCmd(),
		c.exportCmd(),
		c.blacklistCmd(),
		c.uploadsCmd(),
		c.resetCmd(),
		c.statusCmd(),
	)
	return root
}

// withFactory loads config, opens the store and runs fn
func (c *cli) withFactory(cmd *cobra.Command, fn func(ctx context.Context, f *factory.Factory) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if c.verbose {
		log = logger.Init(cfg.App.Environment, "debug", cfg.App.LogFormat)
		defer logger.Sync()
	}

	f, err := factory.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, f)
}

// readInput returns the contents of path, or stdin when path is "-"
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}
