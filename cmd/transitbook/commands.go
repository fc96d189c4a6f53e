package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v2"

	"github.com/campus-transit/transitbook/internal/api"
	"github.com/campus-transit/transitbook/internal/booking"
	"github.com/campus-transit/transitbook/internal/geo"
	"github.com/campus-transit/transitbook/internal/transit"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the updater loop and the HTTP API",
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)

			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Updater and request handlers hold separate connections
			writer, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open updater store: %w", err)
			}
			defer writer.Close()

			foreground, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to open API store: %w", err)
			}
			defer foreground.Close()

			routes := newRouteCache(cfg)
			if err := routes.Load(ctx); err != nil {
				log.Warn().Err(err).Msg("Route cache unavailable, buses will be dropped until it loads")
			}

			feeds := newFeedClient(cfg)
			upd, err := newUpdater(cfg, writer, feeds, routes)
			if err != nil {
				return err
			}

			unit, _ := geo.ParseUnit(cfg.DistanceUnit)
			router := api.NewRouter(
				transit.NewService(foreground, routes, feeds, cfg.StaleAfter),
				booking.NewService(foreground),
				foreground,
				api.Options{CORSOrigins: cfg.CORSOrigins, Unit: unit},
			)

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			var wg conc.WaitGroup
			wg.Go(func() {
				if err := upd.Run(ctx); err != nil {
					log.Error().Err(err).Msg("Updater stopped")
				}
			})
			wg.Go(func() {
				log.Info().Str("addr", srv.Addr).Msg("API listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("HTTP server failed")
					stop()
				}
			})

			<-ctx.Done()
			log.Info().Msg("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("HTTP shutdown failed")
			}

			wg.Wait()
			log.Info().Msg("Goodbye!")
			return nil
		},
	}
}

func pollCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "run a single updater cycle and exit",
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)
			ctx := c.Context

			store, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			routes := newRouteCache(cfg)
			if err := routes.Load(ctx); err != nil {
				log.Warn().Err(err).Msg("Route cache unavailable")
			}

			upd, err := newUpdater(cfg, store, newFeedClient(cfg), routes)
			if err != nil {
				return err
			}

			result, err := upd.RunOnce(ctx)
			if err != nil {
				return err
			}

			history, err := store.CountHistory(ctx)
			if err != nil {
				return err
			}

			log.Info().
				Str("snapshot_id", result.SnapshotID).
				Int("buses", result.Buses).
				Int("attempts", result.Attempts).
				Int("history_rows", history).
				Msg("Poll complete")
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write bookings as CSV",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "file to write (default stdout)",
			},
			&cli.Int64Flag{
				Name:  "user",
				Usage: "only export this user's bookings",
			},
		},
		Action: func(c *cli.Context) error {
			cfg := configFrom(c)

			store, err := openStore(c.Context, cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var out io.Writer = os.Stdout
			if path := c.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				out = f
			}

			var userID *int64
			if c.IsSet("user") {
				id := c.Int64("user")
				userID = &id
			}

			n, err := booking.NewService(store).ExportCSV(c.Context, out, userID)
			if err != nil {
				return err
			}
			log.Info().Int("rows", n).Msg("Bookings exported")
			return nil
		},
	}
}

func routesCommand() *cli.Command {
	return &cli.Command{
		Name:  "routes",
		Usage: "load the static route cache, refreshing it if stale",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "list",
				Usage: "print every routable route",
			},
		},
		Action: func(c *cli.Context) error {
			cache := newRouteCache(configFrom(c))
			if err := cache.Load(c.Context); err != nil {
				return err
			}

			log.Info().
				Int("routes", cache.Len()).
				Time("loaded_at", cache.LoadedAt()).
				Msg("Route cache ready")

			if c.Bool("list") {
				routes := cache.Routes()
				ids := make([]string, 0, len(routes))
				for id := range routes {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				for _, id := range ids {
					fmt.Fprintf(c.App.Writer, "%s\t%s\n", id, routes[id].DisplayName())
				}
			}
			return nil
		},
	}
}
