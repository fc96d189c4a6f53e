package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/campus-transit/transitbook/internal/config"
	"github.com/campus-transit/transitbook/internal/logging"
)

func main() {
	app := &cli.App{
		Name:        "transitbook",
		Usage:       "live campus bus tracking and seat booking",
		Description: "Polls the GTFS-realtime feed into SQLite and serves buses and bookings over HTTP",

		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.LogFormat, cfg.LogLevel)
			c.App.Metadata = map[string]interface{}{"config": cfg}
			return nil
		},

		Commands: []*cli.Command{
			serveCommand(),
			pollCommand(),
			exportCommand(),
			routesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func configFrom(c *cli.Context) *config.Config {
	return c.App.Metadata["config"].(*config.Config)
}
