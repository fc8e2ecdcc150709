package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/Newish0/clairvoyance/pkg/routeprogress"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/rs/zerolog/log"
)

// How far either side of a sample's timestamp we look for the owning trip
// instance. Trips can start the previous service day and still be running.
const tripMatchLookback = 24 * time.Hour
const tripMatchLookahead = 6 * time.Hour

// Store is the persistence surface the ingestor needs. The Mongo
// implementation lives in mongo.go; tests substitute an in-memory fake.
type Store interface {
	// SampleExists reports whether a position with the exact
	// (tripId, vehicleId, timestamp) triple is already persisted.
	SampleExists(ctx context.Context, tripID string, vehicleID string, timestamp time.Time) (bool, error)

	// FindTripInstance resolves the trip instance owning a sample, searching
	// start datetimes within [timestamp-lookback, timestamp+lookahead) and
	// ignoring removed trips. Returns nil when nothing matches.
	FindTripInstance(ctx context.Context, tripID string, timestamp time.Time, lookback time.Duration, lookahead time.Duration) (*transit.TripInstance, error)

	// FindShape returns nil when the shape does not exist.
	FindShape(ctx context.Context, shapeID string) (*transit.Shape, error)

	// InsertPosition appends the enriched position and records its id on the
	// owning trip instance's positions array. Must fail with
	// ErrDuplicateSample if the unique dedup index rejects the insert.
	InsertPosition(ctx context.Context, position *transit.VehiclePosition) error
}

type Ingestor struct {
	store Store
}

func NewIngestor(store Store) *Ingestor {
	return &Ingestor{store: store}
}

// Ingest runs the full pipeline for one raw sample: dedup, trip resolution,
// shape resolution, progress estimation, append-only persist. All failures
// are per-sample; the returned errors wrap the package sentinels so callers
// classify with errors.Is.
func (i *Ingestor) Ingest(ctx context.Context, sample transit.VehiclePositionSample) (*transit.VehiclePosition, error) {
	timestamp := time.Now().UTC()
	if sample.Timestamp != nil {
		timestamp = *sample.Timestamp
	}

	exists, err := i.store.SampleExists(ctx, sample.TripID, sample.VehicleID, timestamp)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: trip %s vehicle %s at %s", ErrDuplicateSample, sample.TripID, sample.VehicleID, timestamp)
	}

	tripInstance, err := i.store.FindTripInstance(ctx, sample.TripID, timestamp, tripMatchLookback, tripMatchLookahead)
	if err != nil {
		return nil, fmt.Errorf("trip lookup: %w", err)
	}
	if tripInstance == nil {
		return nil, fmt.Errorf("%w: trip %s", ErrNoMatchingTrip, sample.TripID)
	}

	if tripInstance.ShapeID == "" {
		return nil, fmt.Errorf("%w: trip %s", ErrNoShape, sample.TripID)
	}

	shape, err := i.store.FindShape(ctx, tripInstance.ShapeID)
	if err != nil {
		return nil, fmt.Errorf("shape lookup: %w", err)
	}
	if shape == nil {
		return nil, fmt.Errorf("%w: trip %s shape %s", ErrNoShape, sample.TripID, tripInstance.ShapeID)
	}

	if sample.Latitude == nil || sample.Longitude == nil {
		return nil, fmt.Errorf("%w: sample has no coordinates", ErrEstimationFailed)
	}

	progress, err := routeprogress.Estimate(shape.Points, transit.NewLocation(*sample.Longitude, *sample.Latitude))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEstimationFailed, err)
	}

	position := &transit.VehiclePosition{
		TripInstanceID: tripInstance.ID,
		TripID:         sample.TripID,
		VehicleID:      sample.VehicleID,

		Location:  transit.NewLocation(*sample.Longitude, *sample.Latitude),
		PTraveled: progress.PTraveled,

		Timestamp:        timestamp,
		CreationDatetime: time.Now().UTC(),
	}

	if sample.Bearing != nil {
		position.Bearing = *sample.Bearing
	}
	if sample.Speed != nil {
		position.Speed = *sample.Speed
	}

	if err := i.store.InsertPosition(ctx, position); err != nil {
		return nil, err
	}

	log.Debug().
		Str("trip", sample.TripID).
		Str("vehicle", sample.VehicleID).
		Float64("ptraveled", position.PTraveled).
		Msg("Ingested vehicle position")

	return position, nil
}
