package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ion-ash/mcp-mux/internal/config"
	"github.com/ion-ash/mcp-mux/internal/fancy"
	"github.com/urfave/cli/v3"
)

// Version is set during build using ldflags
var Version = "dev"

func main() {
	app := &cli.Command{
		Name:    "mcpmux",
		Version: Version,
		Usage:   "Multi-tenant MCP gateway",
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Print the version information",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					fmt.Printf("mcpmux version %s\n", cmd.Root().Version)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "Validate a configuration file",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 1 {
						return fmt.Errorf("config file path required")
					}

					configPath := cmd.Args().Get(0)
					cfg, err := config.NewConfig(configPath)
					if err != nil {
						return fmt.Errorf("failed to load config: %w", err)
					}

					if err := cfg.Validate(); err != nil {
						return fmt.Errorf("validation failed: %w", err)
					}

					fmt.Printf("Configuration file %s is valid\n\n", configPath)
					fmt.Println(fancy.ConfigTree(cfg))
					return nil
				},
			},
			serveCmd,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
