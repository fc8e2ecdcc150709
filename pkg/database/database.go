package database

import (
	"context"
	"time"

	"github.com/Newish0/clairvoyance/pkg/util"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoInstance struct {
	Client   *mongo.Client
	Database *mongo.Database
}

var MongoGlobalInstance *MongoInstance

const defaultMongoConnectionString = "mongodb://localhost:27017/"
const defaultMongoDatabase = "clairvoyance"

func Connect() error {
	connectionString := defaultMongoConnectionString
	dbName := defaultMongoDatabase

	env := util.GetEnvironmentVariables()

	if env["CLAIRVOYANCE_MONGODB_CONNECTION"] != "" {
		connectionString = env["CLAIRVOYANCE_MONGODB_CONNECTION"]
	}

	if env["CLAIRVOYANCE_MONGODB_DATABASE"] != "" {
		dbName = env["CLAIRVOYANCE_MONGODB_DATABASE"]
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return err
	}

	database := client.Database(dbName)

	MongoGlobalInstance = &MongoInstance{
		Client:   client,
		Database: database,
	}

	err = client.Ping(context.Background(), nil)
	if err != nil {
		return err
	}

	createIndexes()

	runCommands()

	return nil
}

func GetCollection(collectionName string) *mongo.Collection {
	return MongoGlobalInstance.Database.Collection(collectionName)
}

// Requires
// use admin
// db.runCommand( {
//    setClusterParameter:
//       { changeStreamOptions: { preAndPostImages: { expireAfterSeconds: 15 } } }
// } )

func runCommands() {
	var result bson.M
	err := MongoGlobalInstance.Database.RunCommand(context.Background(), bson.D{
		{Key: "collMod", Value: "trip_instances"},
		{Key: "changeStreamPreAndPostImages", Value: bson.M{"enabled": true}},
	}).Decode(&result)

	if err != nil {
		log.Error().Err(err).Msg("Run commands mongodb")
	}
}
