package ingest

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/Newish0/clairvoyance/pkg/elastic_client"
	"github.com/Newish0/clairvoyance/pkg/redis_client"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Consumes raw vehicle telemetry and persists enriched positions",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the telemetry ingest consumers",
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := elastic_client.Connect(false); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					StartConsumers()

					log.Info().Msg("Telemetry ingest running")

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					<-signals // wait for signal
					go func() {
						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					<-redis_client.QueueConnection.StopAllConsuming() // wait for all Consume() calls to finish

					return nil
				},
			},
		},
	}
}
