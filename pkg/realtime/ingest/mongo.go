package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore persists positions into the vehicle_positions collection and
// appends each new position's id onto the owning trip instance document, so
// change-stream watchers see the positions array grow.
type MongoStore struct{}

func NewMongoStore() *MongoStore {
	return &MongoStore{}
}

func (s *MongoStore) SampleExists(ctx context.Context, tripID string, vehicleID string, timestamp time.Time) (bool, error) {
	vehiclePositionsCollection := database.GetCollection("vehicle_positions")

	err := vehiclePositionsCollection.FindOne(ctx, bson.M{
		"tripid":    tripID,
		"vehicleid": vehicleID,
		"timestamp": timestamp,
	}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()

	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (s *MongoStore) FindTripInstance(ctx context.Context, tripID string, timestamp time.Time, lookback time.Duration, lookahead time.Duration) (*transit.TripInstance, error) {
	tripInstancesCollection := database.GetCollection("trip_instances")

	var tripInstance *transit.TripInstance
	err := tripInstancesCollection.FindOne(ctx, bson.M{
		"tripid": tripID,
		"state":  bson.M{"$ne": transit.TripInstanceStateRemoved},
		"startdatetime": bson.M{
			"$gte": timestamp.Add(-lookback),
			"$lt":  timestamp.Add(lookahead),
		},
	}, options.FindOne().SetSort(bson.M{"startdatetime": -1})).Decode(&tripInstance)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return tripInstance, nil
}

func (s *MongoStore) FindShape(ctx context.Context, shapeID string) (*transit.Shape, error) {
	shapesCollection := database.GetCollection("shapes")

	var shape *transit.Shape
	err := shapesCollection.FindOne(ctx, bson.M{"primaryidentifier": shapeID}).Decode(&shape)

	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return shape, nil
}

func (s *MongoStore) InsertPosition(ctx context.Context, position *transit.VehiclePosition) error {
	vehiclePositionsCollection := database.GetCollection("vehicle_positions")

	result, err := vehiclePositionsCollection.InsertOne(ctx, position)
	if mongo.IsDuplicateKeyError(err) {
		// Lost the race against a concurrent identical sample - the unique
		// index keeps the collection to exactly one document either way
		return fmt.Errorf("%w: trip %s vehicle %s", ErrDuplicateSample, position.TripID, position.VehicleID)
	}
	if err != nil {
		return err
	}

	position.ID = result.InsertedID.(primitive.ObjectID)

	tripInstancesCollection := database.GetCollection("trip_instances")
	_, err = tripInstancesCollection.UpdateByID(ctx, position.TripInstanceID, bson.M{
		"$push": bson.M{"positions": position.ID},
		"$set":  bson.M{"modificationdatetime": time.Now().UTC()},
	})

	return err
}
