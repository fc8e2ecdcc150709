package main

import (
	"os"
	"time"

	"github.com/Newish0/clairvoyance/pkg/dataimporter/gtfsrt"
	"github.com/Newish0/clairvoyance/pkg/dbwatch"
	"github.com/Newish0/clairvoyance/pkg/nearby"
	"github.com/Newish0/clairvoyance/pkg/realtime/ingest"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "time/tzdata"
)

func main() {
	if os.Getenv("CLAIRVOYANCE_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("CLAIRVOYANCE_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	app := &cli.App{
		Name:        "clairvoyance",
		Description: "Single binary of truth for Clairvoyance - tracks vehicles against scheduled trips",

		Commands: []*cli.Command{
			ingest.RegisterCLI(),
			gtfsrt.RegisterCLI(),
			nearby.RegisterCLI(),
			dbwatch.RegisterCLI(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal().Err(err).Send()
	}
}
