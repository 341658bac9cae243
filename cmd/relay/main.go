package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MisTAiM/movienights/internal/config"
	"github.com/MisTAiM/movienights/internal/content"
	httpserver "github.com/MisTAiM/movienights/internal/http_server"
	"github.com/MisTAiM/movienights/internal/snapshot"
	"github.com/MisTAiM/movienights/internal/storage/postgres"
	"github.com/MisTAiM/movienights/internal/storage/s3"
	"github.com/MisTAiM/movienights/internal/ticket"
	"github.com/MisTAiM/movienights/internal/websocket"
	"github.com/MisTAiM/movienights/pkg/logger"
)

const purgeInterval = time.Hour

var configPath string

func main() {
	root := &cobra.Command{
		Use:          "relay",
		Short:        "Websocket relay and discovery service for movienights rooms",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "internal/config/config.yaml", "path to the relay config file")

	root.AddCommand(addTitleCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, fmt.Errorf("error getting config file: %w", err)
	}
	c := cm.GetConfig()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func serve() error {
	c, err := loadConfig()
	if err != nil {
		return err
	}

	// Initializing logger
	log, err := logger.New(logger.Config{
		Env:   c.GeneralParams.Env,
		Level: c.GeneralParams.LogLevel,
	})
	if err != nil {
		return err
	}

	log.Info("config loaded successfully",
		"env", c.GeneralParams.Env,
		"http_server_address", c.HttpServerParams.GetAddress(),
		"postgres", c.MainDBParams.Enabled(),
		"s3", c.S3Params.Enabled(),
	)

	// Global context with cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	checks := make(map[string]httpserver.Pinger)

	// Snapshot store: postgres when configured, memory otherwise
	var store snapshot.Store = snapshot.NewMemoryStore()
	if c.MainDBParams.Enabled() {
		pool, err := postgres.NewPool(ctx, c.MainDBParams.GetDSN(), c.MainDBParams.MaxConns)
		if err != nil {
			log.Error("failed to create postgres pool", "error", err, "db", c.MainDBParams.Name)
			return err
		}
		defer pool.Close()

		pgStore := snapshot.NewPostgresStore(pool)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("failed to prepare snapshot schema", "error", err)
			return err
		}

		log.Info("database connection established", "db", c.MainDBParams.Name)
		store = pgStore
		checks["postgres"] = pool
	}

	// Title catalog
	var titles content.Source
	if c.S3Params.Enabled() {
		source, probe, err := openCatalog(ctx, c, log)
		if err != nil {
			log.Error("failed to open title catalog", "error", err, "bucket", c.S3Params.BucketName)
			return err
		}
		titles = source
		checks["s3"] = probe
	}

	tickets := ticket.NewService(c.GeneralParams.SecretKey, c.RelayParams.TicketTTL)

	manager := websocket.NewManager(store, websocket.HubConfig{
		SweepInterval:   c.RelayParams.SweepInterval,
		PresenceTimeout: c.RelayParams.PresenceTimeout,
		IdleTimeout:     c.RelayParams.IdleTimeout,
		ClosedRetention: c.RelayParams.ClosedRetention,
		RateLimit:       c.RelayParams.RateLimit,
		OriginPatterns:  c.HttpServerParams.AllowedOrigins,
	}, log.Component("hub"))

	go purgeStaleSnapshots(ctx, store, c.RelayParams.SnapshotRetention, log)

	server := httpserver.New(c.HttpServerParams.GetAddress(), httpserver.Deps{
		Tickets:        tickets,
		Rooms:          manager,
		Titles:         titles,
		Sockets:        websocket.NewHandler(manager, tickets, log.Component("websocket")),
		Checks:         checks,
		AllowedOrigins: c.HttpServerParams.AllowedOrigins,
	}, log.Component("http"))

	serverErrors := make(chan error, 1)

	go func() {
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we recieve a signal or error
	select {
	case err := <-serverErrors:
		log.Error("server error", "error", err)
		manager.Shutdown()
		return err

	case sig := <-shutdown:
		log.Info("shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		log.Info("shutting down HTTP server")
		if err := server.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		manager.Shutdown()
	}

	return nil
}

func openCatalog(ctx context.Context, c *config.Config, log *logger.Logger) (*content.MinIOSource, *s3.BucketProbe, error) {
	client, err := s3.NewClient(
		c.S3Params.Endpoint,
		c.S3Params.AccessKeyID,
		c.S3Params.SecretAccessKey,
		c.S3Params.UseSSL,
	)
	if err != nil {
		return nil, nil, err
	}
	if err := s3.EnsureBucket(ctx, client, c.S3Params.BucketName); err != nil {
		return nil, nil, err
	}

	source := content.NewMinIOSource(client, c.S3Params.BucketName, c.S3Params.PresignTTL, log.Component("content"))
	return source, s3.NewBucketProbe(client, c.S3Params.BucketName), nil
}

func purgeStaleSnapshots(ctx context.Context, store snapshot.Store, retention time.Duration, log *logger.Logger) {
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := store.PurgeStale(ctx, now.Add(-retention))
			if err != nil {
				log.Error("failed to purge stale snapshots", "error", err)
				continue
			}
			if n > 0 {
				log.Info("purged stale snapshots", "count", n)
			}
		}
	}
}

func addTitleCmd() *cobra.Command {
	var manifest content.Manifest

	cmd := &cobra.Command{
		Use:   "add-title",
		Short: "Publish a title manifest to the catalog bucket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if !c.S3Params.Enabled() {
				return fmt.Errorf("s3_params.endpoint is not configured")
			}
			if manifest.VideoKey == "" && manifest.VideoURL == "" {
				return fmt.Errorf("one of --video-key or --video-url is required")
			}

			log, err := logger.New(logger.Config{Env: c.GeneralParams.Env, Level: c.GeneralParams.LogLevel})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			source, _, err := openCatalog(ctx, c, log)
			if err != nil {
				return err
			}
			if err := source.Put(ctx, manifest); err != nil {
				return err
			}

			t, err := source.Get(ctx, manifest.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s (%s)\n", t.ID, t.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&manifest.ID, "id", "", "title id, used in the object key")
	cmd.Flags().StringVar(&manifest.Title, "title", "", "display title")
	cmd.Flags().StringVar(&manifest.VideoKey, "video-key", "", "object key of the video in the bucket")
	cmd.Flags().StringVar(&manifest.VideoURL, "video-url", "", "external playable url")
	cmd.Flags().StringVar(&manifest.PosterKey, "poster-key", "", "object key of the poster in the bucket")
	cmd.Flags().StringVar(&manifest.PosterURL, "poster-url", "", "external poster url")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("title")

	return cmd
}
