package gtfsrt

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Newish0/clairvoyance/pkg/redis_client"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Polls a GTFS-RT vehicle positions feed onto the realtime queue",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the feed poller",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "url",
						Usage:    "GTFS-RT VehiclePositions feed URL",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "polling interval",
						Value: 30 * time.Second,
					},
				},
				Action: func(c *cli.Context) error {
					if err := redis_client.Connect(); err != nil {
						return err
					}

					queue, err := redis_client.QueueConnection.OpenQueue("realtime-queue")
					if err != nil {
						return err
					}

					poller := NewPoller(c.String("url"), c.Duration("interval"), queue)

					ctx, cancel := context.WithCancel(context.Background())

					signals := make(chan os.Signal, 1)
					signal.Notify(signals, syscall.SIGINT)
					defer signal.Stop(signals)

					go func() {
						<-signals
						cancel()

						<-signals // hard exit on second signal (in case shutdown gets stuck)
						os.Exit(1)
					}()

					log.Info().Str("url", poller.FeedURL).Msg("Starting GTFS-RT feed poller")

					err = poller.Run(ctx)
					if err == context.Canceled {
						return nil
					}
					return err
				},
			},
		},
	}
}
