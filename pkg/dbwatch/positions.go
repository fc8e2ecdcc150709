package dbwatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// PositionScope filters the live-position stream. Empty fields match
// everything; DirectionID is a pointer since direction 0 is meaningful.
type PositionScope struct {
	AgencyID    string
	RouteID     string
	DirectionID *int
}

func (s PositionScope) signature() string {
	direction := "*"
	if s.DirectionID != nil {
		direction = fmt.Sprintf("%d", *s.DirectionID)
	}
	return fmt.Sprintf("positions|agency=%s|route=%s|direction=%s", s.AgencyID, s.RouteID, direction)
}

type tripInstanceChange struct {
	OperationType     string               `bson:"operationType"`
	FullDocument      transit.TripInstance `bson:"fullDocument"`
	UpdateDescription struct {
		UpdatedFields bson.M `bson:"updatedFields"`
	} `bson:"updateDescription"`
}

// Matches update events where some updated field key starts with
// "positions" - a $push lands in updatedFields as "positions.<n>".
// Insert and delete events carry no updateDescription, and $objectToArray
// on a missing operand is an aggregation error that would kill the stream,
// so the operand falls back to an empty document.
func updatedFieldPrefixExpr(prefix string) bson.M {
	return bson.M{
		"$gt": bson.A{
			bson.M{"$size": bson.M{"$filter": bson.M{
				"input": bson.M{"$objectToArray": bson.M{"$ifNull": bson.A{"$updateDescription.updatedFields", bson.M{}}}},
				"as":    "field",
				"cond": bson.M{"$eq": bson.A{
					bson.M{"$substrCP": bson.A{"$$field.k", 0, len(prefix)}},
					prefix,
				}},
			}}},
			0,
		},
	}
}

func watchPositionsUpstream(scope PositionScope) StartFunc[PositionUpdate] {
	return func(ctx context.Context, emit func(PositionUpdate)) error {
		log.Info().Str("signature", scope.signature()).Msg("Starting dbwatch on collection trip_instances")

		filters := bson.A{
			bson.D{{Key: "operationType", Value: "update"}},
			bson.D{{Key: "$expr", Value: updatedFieldPrefixExpr("positions")}},
		}

		if scope.AgencyID != "" {
			filters = append(filters, bson.D{{Key: "fullDocument.agencyid", Value: scope.AgencyID}})
		}
		if scope.RouteID != "" {
			filters = append(filters, bson.D{{Key: "fullDocument.routeid", Value: scope.RouteID}})
		}
		if scope.DirectionID != nil {
			filters = append(filters, bson.D{{Key: "fullDocument.directionid", Value: *scope.DirectionID}})
		}

		matchPipeline := bson.D{{Key: "$match", Value: bson.D{{Key: "$and", Value: filters}}}}

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

			update, ok := resolveAppendedPosition(ctx, &change)
			if !ok {
				continue
			}

			emit(update)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		return stream.Err()
	}
}

// resolveAppendedPosition loads the position document referenced by the tail
// of the trip's positions array - the element the matched update appended.
func resolveAppendedPosition(ctx context.Context, change *tripInstanceChange) (PositionUpdate, bool) {
	positions := change.FullDocument.Positions
	if len(positions) == 0 {
		return PositionUpdate{}, false
	}
	latestID := positions[len(positions)-1]

	vehiclePositionsCollection := database.GetCollection("vehicle_positions")

	var position *transit.VehiclePosition
	err := vehiclePositionsCollection.FindOne(ctx, bson.M{"_id": latestID}).Decode(&position)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PositionUpdate{}, false
	}
	if err != nil {
		log.Error().Err(err).Str("position", latestID.Hex()).Msg("Failed to resolve position reference")
		return PositionUpdate{}, false
	}

	return PositionUpdate{
		TripInstanceID: change.FullDocument.ID,
		Position:       position,
	}, true
}
