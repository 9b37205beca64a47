package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/reportgen/internal/config"
	"github.com/phrazzld/reportgen/internal/platform/database"
	"github.com/phrazzld/reportgen/internal/platform/logger"
	"github.com/spf13/cobra"
)

// cli carries what every subcommand needs once the root has run.
type cli struct {
	loadConfig func() (*config.Config, error)
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	c := &cli{loadConfig: loadConfig}

	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Administer the report generator",
		Long:          `Apply migrations, enqueue generate_report jobs from an image manifest and inspect jobs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init(cmd.ErrOrStderr())
		},
	}

	root.AddCommand(c.newMigrateCmd())
	root.AddCommand(c.newEnqueueCmd())
	root.AddCommand(c.newJobCmd())
	root.AddCommand(c.newManifestCmd())
	return root
}

func (c *cli) init(stderr io.Writer) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	c.cfg = cfg
	c.logger = logger.SetupWithWriter(cfg.Server, stderr)
	return nil
}

func (c *cli) openBackend(ctx context.Context) (*database.Backend, error) {
	b, err := database.Open(ctx, c.cfg.Database, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return b, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
