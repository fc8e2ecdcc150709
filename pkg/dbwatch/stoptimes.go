package dbwatch

import (
	"context"
	"strconv"
	"strings"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/exp/slices"
)

// TripStopPair selects one stop visit within one trip instance to watch.
type TripStopPair struct {
	TripInstanceID primitive.ObjectID
	StopID         string
}

func pairSignature(pairs []TripStopPair) string {
	keys := make([]string, len(pairs))
	for i, pair := range pairs {
		keys[i] = pair.TripInstanceID.Hex() + ":" + pair.StopID
	}
	slices.Sort(keys)

	return "stop_times|" + strings.Join(keys, ";")
}

func watchStopTimesUpstream(pairs []TripStopPair) StartFunc[StopTimeUpdate] {
	tripIDs := make([]primitive.ObjectID, 0, len(pairs))
	watched := map[primitive.ObjectID]map[string]bool{}
	for _, pair := range pairs {
		if watched[pair.TripInstanceID] == nil {
			watched[pair.TripInstanceID] = map[string]bool{}
			tripIDs = append(tripIDs, pair.TripInstanceID)
		}
		watched[pair.TripInstanceID][pair.StopID] = true
	}

	return func(ctx context.Context, emit func(StopTimeUpdate)) error {
		log.Info().Int("pairs", len(pairs)).Msg("Starting dbwatch on trip_instances stop times")

		matchPipeline := bson.D{{Key: "$match", Value: bson.D{{Key: "$and", Value: bson.A{
			bson.D{{Key: "operationType", Value: "update"}},
			bson.D{{Key: "fullDocument._id", Value: bson.M{"$in": tripIDs}}},
			bson.D{{Key: "$expr", Value: updatedFieldPrefixExpr("stoptimes")}},
		}}}}}

		collection := database.GetCollection("trip_instances")
		opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
		stream, err := collection.Watch(ctx, mongo.Pipeline{matchPipeline}, opts)
		if err != nil {
			return err
		}
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var change tripInstanceChange
			if err := stream.Decode(&change); err != nil {
				log.Error().Err(err).Msg("Failed to decode change event")
				continue
			}

			watchedStops := watched[change.FullDocument.ID]
			if watchedStops == nil {
				continue
			}

			indices := updatedStopTimeIndices(change.UpdateDescription.UpdatedFields, len(change.FullDocument.StopTimes))

			for _, index := range indices {
				stopTime := change.FullDocument.StopTimes[index]
				if !watchedStops[stopTime.StopID] {
					continue
				}

				emit(StopTimeUpdate{
					TripInstanceID: change.FullDocument.ID,
					StopTime:       stopTime,
				})
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		return stream.Err()
	}
}

// updatedStopTimeIndices works out which stop_times entries an update event
// touched. Keys look like "stoptimes.3.predicteddeparturedatetime" for an
// element update, or plainly "stoptimes" when the whole array was replaced.
func updatedStopTimeIndices(updatedFields bson.M, stopTimeCount int) []int {
	var indices []int

	for key := range updatedFields {
		if key == "stoptimes" {
			indices = indices[:0]
			for i := 0; i < stopTimeCount; i++ {
				indices = append(indices, i)
			}
			return indices
		}

		if !strings.HasPrefix(key, "stoptimes.") {
			continue
		}

		segment := strings.TrimPrefix(key, "stoptimes.")
		if dot := strings.IndexByte(segment, '.'); dot >= 0 {
			segment = segment[:dot]
		}

		index, err := strconv.Atoi(segment)
		if err != nil || index < 0 || index >= stopTimeCount || slices.Contains(indices, index) {
			continue
		}

		indices = append(indices, index)
	}

	slices.Sort(indices)
	return indices
}
