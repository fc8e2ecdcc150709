package dbwatch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/kr/pretty"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Streams live position and stop time changes from the database",
		Subcommands: []*cli.Command{
			{
				Name:  "positions",
				Usage: "stream new vehicle positions",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "agency"},
					&cli.StringFlag{Name: "route"},
					&cli.IntFlag{Name: "direction", Value: -1},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					scope := PositionScope{
						AgencyID: c.String("agency"),
						RouteID:  c.String("route"),
					}
					if c.Int("direction") >= 0 {
						direction := c.Int("direction")
						scope.DirectionID = &direction
					}

					ctx, cancel := signalContext()
					defer cancel()

					watcher := NewWatcher()
					events, errs := watcher.WatchLivePositions(ctx, scope)

					for event := range events {
						pretty.Println(event)
					}

					return drainError(errs)
				},
			},
			{
				Name:  "stop-times",
				Usage: "stream stop time changes for trip:stop pairs",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "pair",
						Usage:    "trip instance object id and stop id joined by a colon",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}

					var pairs []TripStopPair
					for _, raw := range c.StringSlice("pair") {
						tripHex, stopID, found := strings.Cut(raw, ":")
						if !found {
							return fmt.Errorf("pair %q must look like <tripInstanceId>:<stopId>", raw)
						}

						tripInstanceID, err := primitive.ObjectIDFromHex(tripHex)
						if err != nil {
							return fmt.Errorf("pair %q has an invalid trip instance id: %w", raw, err)
						}

						pairs = append(pairs, TripStopPair{
							TripInstanceID: tripInstanceID,
							StopID:         stopID,
						})
					}

					ctx, cancel := signalContext()
					defer cancel()

					watcher := NewWatcher()
					events, errs := watcher.WatchLiveStopTimes(ctx, pairs)

					for event := range events {
						pretty.Println(event)
					}

					return drainError(errs)
				},
			},
		},
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT)

	go func() {
		<-signals
		cancel()

		<-signals // hard exit on second signal (in case shutdown gets stuck)
		os.Exit(1)
	}()

	return ctx, cancel
}

func drainError(errs <-chan error) error {
	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Watch stream failed")
			return err
		}
	default:
	}
	return nil
}
