package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/ion-ash/mcp-mux/internal/backends"
	"github.com/ion-ash/mcp-mux/internal/config"
	"github.com/ion-ash/mcp-mux/internal/domain"
	"github.com/ion-ash/mcp-mux/internal/events"
	"github.com/ion-ash/mcp-mux/internal/gateway"
	"github.com/ion-ash/mcp-mux/internal/grants"
	"github.com/ion-ash/mcp-mux/internal/logging"
	"github.com/ion-ash/mcp-mux/internal/notifier"
	"github.com/ion-ash/mcp-mux/internal/oauth"
	"github.com/ion-ash/mcp-mux/internal/resolver"
	"github.com/ion-ash/mcp-mux/internal/router"
	"github.com/ion-ash/mcp-mux/internal/sessions"
	"github.com/ion-ash/mcp-mux/internal/storage/memory"
	"github.com/ion-ash/mcp-mux/internal/storage/sqlite"
	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"
)

// Long write and idle timeouts keep SSE streams from the gateway to its
// clients alive between notifications.
var defaultTimeouts = gateway.HTTPTimeouts{
	Read:  time.Minute,
	Write: 10 * time.Minute,
	Idle:  5 * time.Minute,
	Drain: 30 * time.Second,
}

// storage is the facet surface shared by the sqlite and memory stores.
type storage interface {
	Spaces() domain.SpaceRepository
	Servers() domain.ServerRepository
	Features() domain.FeatureRepository
	FeatureSets() domain.FeatureSetRepository
	Grants() domain.GrantRepository
	Clients() domain.ClientRepository
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "Start the mcpmux gateway",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "config",
			Usage:    "Path to TOML configuration file",
			Aliases:  []string{"c"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "listen",
			Usage:   "Bind address, overrides the configured listen address",
			Aliases: []string{"l"},
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.NewConfig(cmd.String("config"))
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to load config: %w", err), 1)
		}
		if listen := cmd.String("listen"); listen != "" {
			cfg.Listen = listen
		}
		if err := cfg.Validate(); err != nil {
			return cli.Exit(fmt.Errorf("invalid config: %w", err), 1)
		}

		format := logging.Format(cfg.Logging.Format)
		if cfg.Logging.Format == "txt" {
			format = logging.FormatText
		}
		handler, err := logging.NewHandler(cfg.Logging.Level, format, cfg.Logging.Output)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to set up logging: %w", err), 1)
		}
		slog.SetDefault(slog.New(handler))
		logger := slog.Default()

		store, closeStore, err := openStore(cfg, logger)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to open storage: %w", err), 1)
		}
		defer closeStore()

		if err := seed(ctx, cfg, store); err != nil {
			return cli.Exit(fmt.Errorf("failed to apply configured spaces and servers: %w", err), 1)
		}

		broadcaster := events.NewBroadcaster(events.WithLogHandler(handler))
		defer broadcaster.Close()

		manager, err := backends.NewManager(
			store.Spaces(), store.Servers(), store.Features(), broadcaster,
			backends.WithLogHandler(handler),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create backend manager: %w", err), 1)
		}

		res := resolver.New(
			store.Features(), store.FeatureSets(), store.Grants(),
			resolver.WithLogHandler(handler),
		)
		registry := sessions.NewRegistry(sessions.WithLogHandler(handler))

		notifRunner, err := notifier.NewRunner(registry, res, broadcaster,
			notifier.WithLogHandler(handler),
			notifier.WithThrottleWindow(cfg.ThrottleWindow.AsDuration()),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create notifier: %w", err), 1)
		}

		grantSvc := grants.NewService(
			store.Grants(), store.FeatureSets(), store.Spaces(), broadcaster,
			grants.WithLogHandler(handler),
		)

		auth, err := oauth.NewService(
			store.Clients(), store.Spaces(),
			cfg.OAuth.Issuer, []byte(cfg.OAuth.SigningSecret), cfg.OAuth.TokenTTL.AsDuration(),
			oauth.WithLogHandler(handler),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create oauth service: %w", err), 1)
		}

		gw := gateway.New(
			router.New(res, router.WithLogHandler(handler)),
			manager, registry, notifRunner,
			gateway.WithLogHandler(handler),
		)

		var admin *gateway.AdminAPI
		if cfg.AdminToken != "" {
			admin, err = gateway.NewAdminAPI(
				store.Spaces(), store.Servers(), store.Clients(), grantSvc,
				cfg.AdminToken, gateway.WithAdminLogHandler(handler),
			)
			if err != nil {
				return cli.Exit(fmt.Errorf("failed to create admin API: %w", err), 1)
			}
		}

		routes, err := gateway.Routes(gw, auth, admin)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to build routes: %w", err), 1)
		}
		httpServer, err := gateway.NewHTTPServer(
			cfg.Listen, routes, defaultTimeouts,
			logger.WithGroup("gateway.HTTPServer"),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create HTTP server: %w", err), 1)
		}

		// Order is important: backends connect and the notifier starts
		// draining events before the listener accepts sessions.
		runnables := []supervisor.Runnable{
			manager,
			notifRunner,
			httpServer,
		}

		super, err := supervisor.New(
			supervisor.WithRunnables(runnables...),
			supervisor.WithLogHandler(handler),
			supervisor.WithContext(ctx),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to create supervisor: %w", err), 1)
		}
		if err := super.Run(); err != nil {
			return cli.Exit(fmt.Errorf("failed to run gateway: %w", err), 1)
		}

		logger.Info("Gateway shutdown complete")
		return nil
	},
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage, func(), error) {
	if cfg.DatabasePath == "" {
		return memory.NewStore(), func() {}, nil
	}
	store, err := sqlite.Open(sqlite.Config{
		Path:   cfg.DatabasePath,
		Logger: logger.WithGroup("storage.sqlite"),
	})
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// seed reconciles the configured spaces and servers into storage. Spaces
// are matched by name so restarts with the same config are idempotent.
func seed(ctx context.Context, cfg *config.Config, store storage) error {
	existing, err := store.Spaces().List(ctx)
	if err != nil {
		return fmt.Errorf("listing spaces: %w", err)
	}
	byName := make(map[string]domain.Space, len(existing))
	for _, space := range existing {
		byName[space.Name] = space
	}

	for _, def := range cfg.Spaces {
		space, ok := byName[def.Name]
		if !ok {
			id, err := uuid.NewV4()
			if err != nil {
				return fmt.Errorf("generating space id: %w", err)
			}
			space = domain.Space{ID: id, Name: def.Name}
			if err := store.Spaces().Create(ctx, space); err != nil {
				return fmt.Errorf("creating space %s: %w", def.Name, err)
			}
			created, err := store.Spaces().Get(ctx, id)
			if err != nil {
				return fmt.Errorf("reloading space %s: %w", def.Name, err)
			}
			space = created
			byName[def.Name] = space
		}
		if def.Default && !space.IsDefault {
			if err := store.Spaces().SetDefault(ctx, space.ID); err != nil {
				return fmt.Errorf("marking space %s default: %w", def.Name, err)
			}
		}
	}

	for _, def := range cfg.Servers {
		var spaceID uuid.UUID
		if def.Space == "" {
			space, err := store.Spaces().Default(ctx)
			if err != nil {
				return fmt.Errorf("server %s has no space and no default space exists: %w", def.ID, err)
			}
			spaceID = space.ID
		} else {
			space, ok := byName[def.Space]
			if !ok {
				return fmt.Errorf("server %s references unknown space %s", def.ID, def.Space)
			}
			spaceID = space.ID
		}

		server := domain.Server{
			ID:        def.ID,
			SpaceID:   spaceID,
			Transport: def.Transport,
			Command:   def.Command,
			Args:      def.Args,
			Endpoint:  def.Endpoint,
			Enabled:   def.Enabled,
		}
		if err := store.Servers().Upsert(ctx, server); err != nil {
			return fmt.Errorf("storing server %s: %w", def.ID, err)
		}
	}
	return nil
}
