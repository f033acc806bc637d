package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/glebovdev/openspot/internal/cache"
	"github.com/glebovdev/openspot/internal/config"
	"github.com/glebovdev/openspot/internal/fetch"
	"github.com/glebovdev/openspot/internal/library"
	"github.com/glebovdev/openspot/internal/player"
	"github.com/glebovdev/openspot/internal/playqueue"
	"github.com/glebovdev/openspot/internal/proxy"
	"github.com/glebovdev/openspot/internal/queue"
	"github.com/glebovdev/openspot/internal/server"
	"github.com/glebovdev/openspot/internal/storage"
	"github.com/glebovdev/openspot/internal/ui"
	"github.com/glebovdev/openspot/internal/upstream"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

const sampleRate = 44100

// deps is the shared wiring behind every command.
type deps struct {
	cfg      *config.Config
	registry *proxy.Registry
	client   *upstream.Client
	store    *storage.Store
}

func newDeps(cfg *config.Config) *deps {
	registry := proxy.NewRegistry(cfg.Proxies.File)
	fetcher := fetch.New(registry)
	q := queue.New().WithMinInterval(cfg.Upstream.MinRequestInterval)

	up := cfg.Upstream
	client := upstream.NewClient(q, fetcher, upstream.Options{
		BaseURL:   up.BaseURL,
		Referer:   up.Referer,
		UserAgent: up.UserAgent,
		SearchPolicy: fetch.Policy{
			MaxRetries: up.MaxRetries,
			BaseDelay:  fetch.SearchPolicy.BaseDelay,
			Timeout:    up.SearchTimeout,
		},
		StreamPolicy: fetch.Policy{
			MaxRetries: up.MaxRetries,
			BaseDelay:  fetch.StreamPolicy.BaseDelay,
			Timeout:    up.StreamTimeout,
		},
		SkipValidation: up.SkipValidation,
	})

	return &deps{cfg: cfg, registry: registry, client: client}
}

func (d *deps) openStore() error {
	dataDir, err := d.cfg.ResolveDataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	store, err := storage.Open(filepath.Join(dataDir, storage.DefaultFileName))
	if err != nil {
		return err
	}
	d.store = store
	log.Debug().Str("dir", dataDir).Msg("Opened data store")
	return nil
}

func (d *deps) Close() {
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close data store")
		}
	}
}

func (d *deps) newLoader() *player.Loader {
	lc := d.cfg.Loader
	loader := player.NewLoader(d.client, player.NewSpeakerFactory(sampleRate, d.client.OpenStream), player.Options{
		ChunkSize:         lc.ChunkSize,
		HandoverMargin:    lc.HandoverMargin,
		HandoverRatio:     lc.HandoverRatio,
		CrossfadeDuration: lc.CrossfadeDuration,
		CrossfadeSteps:    lc.CrossfadeSteps,
		PrepareTimeout:    lc.PrepareTimeout,
	})

	if lc.CacheTracks {
		c, err := cache.NewCache()
		if err != nil {
			log.Warn().Err(err).Msg("Track cache disabled")
			return loader
		}
		go func() {
			if err := c.CleanExpired(); err != nil {
				log.Debug().Err(err).Msg("Failed to clean track cache")
			}
		}()
		loader = loader.WithCache(c)
	}
	return loader
}

func playCommand() *cli.Command {
	return &cli.Command{
		Name:   "play",
		Usage:  "Start the terminal player (default)",
		Action: runPlay,
	}
}

func runPlay(ctx context.Context, cmd *cli.Command) error {
	debug := cmd.Bool("debug")
	logCloser := setupTUILogging(debug)
	defer logCloser.Close()

	cfg, err := loadConfig(cmd)
	if err != nil {
		log.Warn().Err(err).Msg("Using default config")
	}
	if configPath, err := config.GetConfigPath(); err == nil {
		log.Debug().Msgf("Config: %s", configPath)
	}

	d := newDeps(cfg)
	if err := d.openStore(); err != nil {
		return fmt.Errorf("failed to open data store: %w", err)
	}
	defer d.Close()

	loader := d.newLoader()
	if session, err := d.store.LoadSession(); err == nil {
		loader.RestoreSession(session)
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Warn().Err(err).Msg("Failed to load previous session")
	}

	lib := library.New(d.client, d.store)
	app := ui.NewUI(cfg, loader, lib, playqueue.New(), d.store)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		if _, ok := <-sigChan; ok {
			log.Info().Msg("Received shutdown signal, cleaning up...")
			app.Shutdown()
		}
	}()

	log.Info().Msg("Starting UI...")
	err = app.Run()
	loader.Stop()
	if err != nil {
		return fmt.Errorf("error running UI: %w", err)
	}
	log.Info().Msgf("%s stopped", config.AppName)
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the local HTTP proxy for the music API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "Listen address (overrides config)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupConsoleLogging(cmd.Bool("debug"))

			cfg, err := loadConfig(cmd)
			if err != nil {
				log.Warn().Err(err).Msg("Using default config")
			}

			d := newDeps(cfg)
			if err := d.openStore(); err != nil {
				return fmt.Errorf("failed to open data store: %w", err)
			}
			defer d.Close()

			addr := cfg.Server.Addr()
			if a := cmd.String("addr"); a != "" {
				addr = a
			}

			srv := server.New(server.Options{
				Addr:            addr,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				IdleTimeout:     cfg.Server.IdleTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, d.client, d.store, d.registry)

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			stats := d.registry.Stats()
			log.Info().Int("proxies", stats.Total).Msg("Proxy list loaded")
			return srv.ListenAndServe(ctx)
		},
	}
}

func proxiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxies",
		Usage: "List the configured outbound proxies",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			setupConsoleLogging(cmd.Bool("debug"))

			cfg, err := loadConfig(cmd)
			if err != nil {
				log.Warn().Err(err).Msg("Using default config")
			}

			registry := proxy.NewRegistry(cfg.Proxies.File)
			proxies := registry.Proxies()
			if len(proxies) == 0 {
				fmt.Printf("No proxies loaded from %s; requests go out directly.\n", cfg.Proxies.File)
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"#", "Type", "Address", "Auth"})
			for i, p := range proxies {
				auth := ""
				if p.HasAuth() {
					auth = "yes"
				}
				t.AppendRow(table.Row{i + 1, p.Type, p.Address(), auth})
			}

			stats := registry.Stats()
			t.AppendFooter(table.Row{"", "Total", stats.Total, fmt.Sprintf("%d with auth", stats.WithAuth)})
			t.Render()
			return nil
		},
	}
}

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect or clean the downloaded track cache",
		Commands: []*cli.Command{
			{
				Name:  "info",
				Usage: "Show cache location and size",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, err := cache.NewCache()
					if err != nil {
						return err
					}
					dir, _ := cache.GetCacheDir()
					count, size, err := c.Size()
					if err != nil {
						return err
					}

					t := table.NewWriter()
					t.SetOutputMirror(os.Stdout)
					t.SetStyle(table.StyleLight)
					t.AppendRow(table.Row{"Directory", dir})
					t.AppendRow(table.Row{"Tracks", count})
					t.AppendRow(table.Row{"Size", fmt.Sprintf("%.1f MiB", float64(size)/(1<<20))})
					t.Render()
					return nil
				},
			},
			{
				Name:  "clean",
				Usage: "Remove expired tracks",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, err := cache.NewCache()
					if err != nil {
						return err
					}
					if err := c.CleanExpired(); err != nil {
						return err
					}
					fmt.Println("Expired tracks removed.")
					return nil
				},
			},
		},
	}
}
