package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"launchq/internal/catalog"
	"launchq/internal/config"
	"launchq/internal/handler"
	"launchq/internal/installer"
	"launchq/internal/launcher"
	"launchq/internal/models"
	"launchq/internal/progress"
	"launchq/internal/prompt"
	"launchq/internal/queue"
	"launchq/internal/resolver"
	"launchq/internal/storage"
	"launchq/internal/websocket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "path to an env file",
		Value: ".env",
	}

	app := &cli.Command{
		Name:   "launchq",
		Usage:  "install queue for the game launcher",
		Flags:  []cli.Flag{envFlag},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the install queue and its HTTP API",
				Flags:  []cli.Flag{envFlag},
				Action: serveAction,
			},
			{
				Name:  "queue",
				Usage: "inspect persisted queue items",
				Commands: []*cli.Command{
					{
						Name:  "ls",
						Usage: "list queue items by state",
						Flags: []cli.Flag{
							envFlag,
							&cli.StringFlag{
								Name:  "state",
								Usage: "only list items in this state",
							},
						},
						Action: queueListAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("launchq failed", "error", err)
		os.Exit(1)
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return err
	}
	SetupLogger(cfg.LogLevel)
	logger := slog.Default()

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	hub := websocket.NewHub(logger)
	views := storage.NewViews(store, hub.InvalidateView)

	var cat catalog.Catalog = catalog.NewClient(cfg.CatalogURL, catalog.WithLogger(logger))
	if cfg.CatalogCache {
		cache, err := catalog.NewCache(cat, cfg.DataDir, cfg.CatalogTTL)
		if err != nil {
			return fmt.Errorf("open catalog cache: %w", err)
		}
		defer cache.Close()
		cat = cache
	}

	broker := prompt.NewBroker(hub, cfg.PromptTimeout, logger)
	var asker prompt.Asker = broker
	switch cfg.OptionalPolicy {
	case prompt.PolicyAccept:
		asker = prompt.Static{Accept: true}
	case prompt.PolicyDecline:
		asker = prompt.Static{}
	}

	inst := installer.NewNative(cfg.InstallerPath, logger)
	tracker := progress.NewTracker(hub, views,
		progress.WithFinishDelay(cfg.FinishDelay),
		progress.WithLogger(logger),
	)
	q := queue.New(store, views, hub, logger)

	app := launcher.New(launcher.Deps{
		Store:     store,
		Queue:     q,
		Installer: inst,
		Resolver:  resolver.New(cat, store, asker, logger),
		Views:     views,
		Signals:   hub,
		GameDir:   cfg.GameDir,
		Logger:    logger,
	})

	r := chi.NewRouter()
	handler.Routes(r, app, tracker, broker, hub.WsHandler)
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}

	g, gctx := errgroup.WithContext(ctx)
	q.Start(gctx)
	restored, err := app.Restore(gctx)
	if err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}
	if restored > 0 {
		logger.Info("Restored pending installs", "count", restored)
	}

	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		if err := tracker.Run(gctx, inst.Events()); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("Server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server forced to shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	q.Wait()
	logger.Info("Server exited")
	return err
}

func queueListAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("env"))
	if err != nil {
		return err
	}
	SetupLogger(cfg.LogLevel)

	states := []models.State{models.StateCurrent, models.StatePending, models.StatePostponed, models.StateErrored, models.StateCompleted}
	if s := cmd.String("state"); s != "" {
		state, err := models.ParseState(s)
		if err != nil {
			return fmt.Errorf("%w: %q", err, s)
		}
		states = []models.State{state}
	}

	store, err := storage.New(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	for _, state := range states {
		items, err := store.ListItems(ctx, state)
		if err != nil {
			return err
		}
		fmt.Printf("%s (%d)\n", state, len(items))
		for _, item := range items {
			line := fmt.Sprintf("  %s  %-10s  %s", item.ID, item.Type, item.Title)
			if item.Error != "" {
				line += "  error: " + item.Error
			}
			fmt.Println(line)
		}
	}
	return nil
}

func SetupLogger(level slog.Level) {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
		AddSource:  true,
	})

	slog.SetDefault(slog.New(handler))
}
