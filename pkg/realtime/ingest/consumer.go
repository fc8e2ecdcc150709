package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Newish0/clairvoyance/pkg/elastic_client"
	"github.com/Newish0/clairvoyance/pkg/redis_client"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/adjust/rmq/v5"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const numConsumers = 5
const batchSize = 200

// Max concurrent (trip, vehicle) groups per batch
const maxIngestGoroutines = 32

func StartConsumers() {
	log.Info().Msg("Starting telemetry ingest consumers")

	queue, err := redis_client.QueueConnection.OpenQueue("realtime-queue")
	if err != nil {
		panic(err)
	}
	if err := queue.StartConsuming(numConsumers*batchSize, 1*time.Second); err != nil {
		panic(err)
	}

	for i := 0; i < numConsumers; i++ {
		go startIngestConsumer(queue, i)
	}
}

func startIngestConsumer(queue rmq.Queue, id int) {
	log.Info().Msgf("Starting telemetry ingest consumer %d", id)

	if _, err := queue.AddBatchConsumer(fmt.Sprintf("realtime-queue-%d", id), batchSize, 2*time.Second, NewBatchConsumer(id)); err != nil {
		panic(err)
	}
}

type BatchConsumer struct {
	id int

	ingestor *Ingestor
}

func NewBatchConsumer(id int) *BatchConsumer {
	return &BatchConsumer{
		id:       id,
		ingestor: NewIngestor(NewMongoStore()),
	}
}

func (consumer *BatchConsumer) Consume(batch rmq.Deliveries) {
	payloads := batch.Payloads()

	// Samples for the same (trip, vehicle) pair must apply in timestamp
	// order; distinct pairs have no ordering dependency and run in parallel
	groups := map[string][]transit.VehiclePositionSample{}

	for _, payload := range payloads {
		var sample transit.VehiclePositionSample
		if err := json.Unmarshal([]byte(payload), &sample); err != nil {
			log.Error().Err(err).Msg("Failed to decode vehicle position sample")
			continue
		}

		key := fmt.Sprintf("%s:%s", sample.TripID, sample.VehicleID)
		groups[key] = append(groups[key], sample)
	}

	yearNumber, weekNumber := time.Now().ISOWeek()
	ingestEventsIndexName := fmt.Sprintf("telemetry-ingest-events-%d-%d", yearNumber, weekNumber)

	p := pool.New().WithMaxGoroutines(maxIngestGoroutines)

	for _, group := range groups {
		p.Go(func() {
			sort.Slice(group, func(a, b int) bool {
				var timeA, timeB time.Time
				if group[a].Timestamp != nil {
					timeA = *group[a].Timestamp
				}
				if group[b].Timestamp != nil {
					timeB = *group[b].Timestamp
				}
				return timeA.Before(timeB)
			})

			for _, sample := range group {
				_, err := consumer.ingestor.Ingest(context.Background(), sample)

				recordIngestOutcome(ingestEventsIndexName, sample, err)

				if err == nil {
					continue
				}

				switch {
				case errors.Is(err, ErrDuplicateSample):
					log.Debug().Str("trip", sample.TripID).Str("vehicle", sample.VehicleID).Msg("Skipping duplicate sample")
				case errors.Is(err, ErrNoMatchingTrip), errors.Is(err, ErrNoShape), errors.Is(err, ErrEstimationFailed):
					log.Warn().Err(err).Str("trip", sample.TripID).Str("vehicle", sample.VehicleID).Msg("Dropping sample")
				default:
					log.Error().Err(err).Str("trip", sample.TripID).Str("vehicle", sample.VehicleID).Msg("Store failure ingesting sample")
				}
			}
		})
	}

	p.Wait()

	if ackErrors := batch.Ack(); len(ackErrors) > 0 {
		for _, err := range ackErrors {
			log.Fatal().Err(err).Msg("Failed to ack realtime batch")
		}
	}
}

func recordIngestOutcome(indexName string, sample transit.VehiclePositionSample, ingestErr error) {
	event := IngestOutcomeElasticEvent{
		Timestamp: time.Now(),

		Success: ingestErr == nil,

		Trip:    sample.TripID,
		Vehicle: sample.VehicleID,
	}

	switch {
	case ingestErr == nil:
	case errors.Is(ingestErr, ErrDuplicateSample):
		event.FailReason = "DUPLICATE"
	case errors.Is(ingestErr, ErrNoMatchingTrip):
		event.FailReason = "NONREF_TRIP"
	case errors.Is(ingestErr, ErrNoShape):
		event.FailReason = "NONREF_SHAPE"
	case errors.Is(ingestErr, ErrEstimationFailed):
		event.FailReason = "ESTIMATION_FAILED"
	default:
		event.FailReason = "STORE_ERROR"
	}

	elasticEvent, _ := json.Marshal(event)
	elastic_client.IndexRequest(indexName, bytes.NewReader(elasticEvent))
}
