package gtfsrt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/adjust/rmq/v5"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
)

// Skip any records that haven't been updated in over 20 minutes
const staleRecordCutoff = 20 * time.Minute

// Poller fetches a GTFS-RT VehiclePositions feed on an interval and pushes
// each fresh entity onto the realtime queue as a VehiclePositionSample.
type Poller struct {
	FeedURL  string
	Interval time.Duration

	queue      rmq.Queue
	httpClient *http.Client
}

func NewPoller(feedURL string, interval time.Duration, queue rmq.Queue) *Poller {
	return &Poller{
		FeedURL:  feedURL,
		Interval: interval,

		queue: queue,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if err := p.pollOnce(ctx); err != nil {
			log.Error().Err(err).Str("url", p.FeedURL).Msg("Feed poll failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) error {
	var body []byte

	fetch := func() error {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.FeedURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		response, err := p.httpClient.Do(request)
		if err != nil {
			return err
		}
		defer response.Body.Close()

		if response.StatusCode != http.StatusOK {
			return fmt.Errorf("feed returned status %d", response.StatusCode)
		}

		body, err = io.ReadAll(response.Body)
		return err
	}

	retryBackoff := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(fetch, retryBackoff); err != nil {
		return err
	}

	feed := gtfs.FeedMessage{}
	if err := proto.Unmarshal(body, &feed); err != nil {
		return fmt.Errorf("failed parsing GTFS-RT protobuf: %w", err)
	}

	published := 0
	skipped := 0

	for _, entity := range feed.Entity {
		vehiclePosition := entity.GetVehicle()
		if vehiclePosition == nil {
			continue
		}

		sample, fresh := sampleFromEntity(entity.GetId(), vehiclePosition)
		if !fresh {
			skipped++
			continue
		}
		if sample.TripID == "" || sample.VehicleID == "" {
			skipped++
			continue
		}

		sampleBytes, _ := json.Marshal(sample)
		if err := p.queue.PublishBytes(sampleBytes); err != nil {
			log.Error().Err(err).Msg("Failed to publish sample")
			continue
		}
		published++
	}

	log.Info().Int("published", published).Int("skipped", skipped).Msg("Polled GTFS-RT feed")

	return nil
}

func sampleFromEntity(entityID string, vehiclePosition *gtfs.VehiclePosition) (transit.VehiclePositionSample, bool) {
	sample := transit.VehiclePositionSample{
		UpdateID:  entityID,
		TripID:    vehiclePosition.GetTrip().GetTripId(),
		VehicleID: vehiclePosition.GetVehicle().GetId(),
		IsUpdated: true,
	}

	if vehiclePosition.Timestamp != nil {
		recordedAt := time.Unix(int64(vehiclePosition.GetTimestamp()), 0).UTC()

		if time.Now().UTC().Sub(recordedAt) > staleRecordCutoff {
			return sample, false
		}

		sample.Timestamp = &recordedAt
	}

	if position := vehiclePosition.GetPosition(); position != nil {
		if position.Latitude != nil {
			latitude := float64(position.GetLatitude())
			sample.Latitude = &latitude
		}
		if position.Longitude != nil {
			longitude := float64(position.GetLongitude())
			sample.Longitude = &longitude
		}
		if position.Bearing != nil {
			bearing := float64(position.GetBearing())
			sample.Bearing = &bearing
		}
		if position.Speed != nil {
			speed := float64(position.GetSpeed())
			sample.Speed = &speed
		}
	}

	return sample, true
}
