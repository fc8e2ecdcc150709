package nearby

import (
	"context"
	"time"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/Newish0/clairvoyance/pkg/redis_client"
	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "nearby",
		Usage: "Ranks upcoming trips around a location",
		Subcommands: []*cli.Command{
			{
				Name:  "query",
				Usage: "run a one-off nearby trips query and print the result",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:     "lat",
						Required: true,
					},
					&cli.Float64Flag{
						Name:     "lng",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  "radius",
						Usage: "search radius in metres",
						Value: 500,
					},
					&cli.Float64Flag{
						Name:  "weight-distance",
						Value: 0.6,
					},
					&cli.Float64Flag{
						Name:  "weight-time",
						Value: 0.4,
					},
				},
				Action: func(c *cli.Context) error {
					if err := database.Connect(); err != nil {
						return err
					}
					if err := redis_client.Connect(); err != nil {
						return err
					}

					engine := NewEngine(NewRedisStopNameCache(redis_client.Client, 30*time.Minute))

					result, err := engine.FindNearby(context.Background(), Query{
						Latitude:     c.Float64("lat"),
						Longitude:    c.Float64("lng"),
						RadiusMeters: c.Float64("radius"),
						ScoreWeight: &ScoreWeight{
							Distance: c.Float64("weight-distance"),
							Time:     c.Float64("weight-time"),
						},
					})
					if err != nil {
						return err
					}

					pretty.Println(result)

					return nil
				},
			},
		},
	}
}
