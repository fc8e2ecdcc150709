package database

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func createIndexes() {
	createStopsIndexes()
	createScheduleIndexes()
	createRealtimeIndexes()
}

func createStopsIndexes() {
	stopsCollection := GetCollection("stops")
	stopsIndex := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "location", Value: "2dsphere"}},
		},
	}

	opts := options.CreateIndexes()
	_, err := stopsCollection.Indexes().CreateMany(context.Background(), stopsIndex, opts)
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createScheduleIndexes() {
	shapesCollection := GetCollection("shapes")
	_, err := shapesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "primaryidentifier", Value: 1}},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}

	tripInstancesCollection := GetCollection("trip_instances")
	tripWindowIndexName := "TripWindowState"
	_, err = tripInstancesCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "tripid", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "stoptimes.stopid", Value: 1}},
		},
		{
			Keys: bson.D{
				{Key: "routeid", Value: 1},
				{Key: "directionid", Value: 1},
			},
		},
		{
			Options: &options.IndexOptions{
				Name: &tripWindowIndexName,
			},
			Keys: bson.D{
				{Key: "startdatetime", Value: 1},
				{Key: "state", Value: 1},
			},
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}

func createRealtimeIndexes() {
	vehiclePositionsCollection := GetCollection("vehicle_positions")
	dedupIndexName := "SampleDedup"
	_, err := vehiclePositionsCollection.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			// Backs the exact-duplicate check on (trip, vehicle, timestamp)
			Options: options.Index().SetName(dedupIndexName).SetUnique(true),
			Keys: bson.D{
				{Key: "tripid", Value: 1},
				{Key: "vehicleid", Value: 1},
				{Key: "timestamp", Value: 1},
			},
		},
		{
			Keys: bson.D{
				{Key: "tripinstanceid", Value: 1},
				{Key: "timestamp", Value: -1},
			},
		},
		{
			Keys:    bson.D{{Key: "creationdatetime", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(48 * 3600), // Expire after 48 hours
		},
	}, options.CreateIndexes())
	if err != nil {
		log.Error().Err(err).Msg("Creating Index")
	}
}
