package nearby

import (
	"context"
	"time"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/Newish0/clairvoyance/pkg/util"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Engine answers "best upcoming trips near here" against the shared store.
// Calls are read-only and tolerate read skew against concurrently arriving
// realtime updates.
type Engine struct {
	stopNames *StopNameCache
}

func NewEngine(stopNames *StopNameCache) *Engine {
	return &Engine{stopNames: stopNames}
}

type discoveredStop struct {
	PrimaryIdentifier string            `bson:"primaryidentifier"`
	Distance          float64           `bson:"distance"`
	Location          *transit.Location `bson:"location"`
}

type candidateRow struct {
	ID                  primitive.ObjectID       `bson:"_id"`
	TripID              string                   `bson:"tripid"`
	RouteID             string                   `bson:"routeid"`
	DirectionID         int                      `bson:"directionid"`
	StartDatetime       time.Time                `bson:"startdatetime"`
	CurrentStopSequence int                      `bson:"currentstopsequence"`
	StopTime            transit.StopTimeInstance `bson:"stoptime"`
	LatestPosition      *transit.VehiclePosition `bson:"latestposition"`
}

func (e *Engine) FindNearby(ctx context.Context, q Query) (Result, error) {
	now := time.Now().UTC()
	q.applyDefaults(now)

	// Contract check happens before any store work
	if err := q.ScoreWeight.Validate(); err != nil {
		return nil, err
	}

	stops, err := e.discoverStops(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(stops) == 0 {
		// Nothing nearby is a valid answer, not an error
		return Result{}, nil
	}

	stopIDs := make([]string, len(stops))
	stopDistances := map[string]float64{}
	for i, stop := range stops {
		stopIDs[i] = stop.PrimaryIdentifier
		if _, seen := stopDistances[stop.PrimaryIdentifier]; !seen {
			stopDistances[stop.PrimaryIdentifier] = stop.Distance
		}
	}
	stopIDs = util.RemoveDuplicateStrings(stopIDs, nil)

	candidates, err := e.findCandidates(ctx, q, stopIDs)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		candidates[i].StopDistance = stopDistances[candidates[i].StopTime.StopID]
	}

	filterUpcoming(&candidates, now, q.RealtimeMaxAge)
	if len(candidates) == 0 {
		return Result{}, nil
	}

	scoreCandidates(candidates, now, *q.ScoreWeight)

	names := e.resolveStopNames(ctx, candidates)

	return groupCandidates(candidates, names), nil
}

func (e *Engine) discoverStops(ctx context.Context, q Query) ([]discoveredStop, error) {
	stopsCollection := database.GetCollection("stops")

	var stops []discoveredStop

	if q.Bbox != nil {
		boxQuery := bson.M{"location": bson.M{"$geoWithin": bson.M{"$box": bson.A{
			bson.A{q.Bbox.MinLng, q.Bbox.MinLat},
			bson.A{q.Bbox.MaxLng, q.Bbox.MaxLat},
		}}}}

		cursor, err := stopsCollection.Find(ctx, boxQuery)
		if err != nil {
			return nil, err
		}
		if err := cursor.All(ctx, &stops); err != nil {
			return nil, err
		}

		// $geoWithin has no distance output - compute from the query point
		center := transit.NewLocation(q.Longitude, q.Latitude)
		for i := range stops {
			if stops[i].Location != nil {
				stops[i].Distance = center.Distance(stops[i].Location)
			}
		}

		return stops, nil
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$geoNear", Value: bson.M{
			"near": bson.M{
				"type":        "Point",
				"coordinates": bson.A{q.Longitude, q.Latitude},
			},
			"distanceField": "distance",
			"maxDistance":   q.RadiusMeters,
			"spherical":     true,
		}}},
		bson.D{{Key: "$project", Value: bson.M{
			"primaryidentifier": 1,
			"distance":          1,
			"location":          1,
		}}},
	}

	cursor, err := stopsCollection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	if err := cursor.All(ctx, &stops); err != nil {
		return nil, err
	}

	return stops, nil
}

func (e *Engine) findCandidates(ctx context.Context, q Query, stopIDs []string) ([]Candidate, error) {
	tripInstancesCollection := database.GetCollection("trip_instances")

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.M{
			"stoptimes.stopid": bson.M{"$in": stopIDs},
			"startdatetime": bson.M{
				"$gte": q.MinDate,
				"$lt":  q.MaxDate,
			},
			"state": bson.M{"$ne": transit.TripInstanceStateRemoved},
		}}},
		bson.D{{Key: "$unwind", Value: "$stoptimes"}},
		bson.D{{Key: "$match", Value: bson.M{
			"stoptimes.stopid": bson.M{"$in": stopIDs},
		}}},
		bson.D{{Key: "$lookup", Value: bson.M{
			"from": "vehicle_positions",
			"let":  bson.M{"tripInstanceId": "$_id"},
			"pipeline": mongo.Pipeline{
				bson.D{{Key: "$match", Value: bson.M{
					"$expr": bson.M{"$eq": bson.A{"$tripinstanceid", "$$tripInstanceId"}},
				}}},
				bson.D{{Key: "$sort", Value: bson.M{"timestamp": -1}}},
				bson.D{{Key: "$limit", Value: 1}},
			},
			"as": "latestposition",
		}}},
		bson.D{{Key: "$project", Value: bson.M{
			"tripid":              1,
			"routeid":             1,
			"directionid":         1,
			"startdatetime":       1,
			"currentstopsequence": 1,
			"stoptime":            "$stoptimes",
			"latestposition":      bson.M{"$first": "$latestposition"},
		}}},
	}

	cursor, err := tripInstancesCollection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []candidateRow
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	candidates := make([]Candidate, len(rows))
	for i, row := range rows {
		candidates[i] = Candidate{
			TripInstanceID: row.ID,
			TripID:         row.TripID,
			RouteID:        row.RouteID,
			DirectionID:    row.DirectionID,
			StartDatetime:  row.StartDatetime,

			CurrentStopSequence: row.CurrentStopSequence,

			StopTime:       row.StopTime,
			LatestPosition: row.LatestPosition,
		}
	}

	return candidates, nil
}

func (e *Engine) resolveStopNames(ctx context.Context, candidates []Candidate) map[string]string {
	names := map[string]string{}

	for _, candidate := range candidates {
		stopID := candidate.StopTime.StopID
		if _, resolved := names[stopID]; resolved {
			continue
		}

		name, err := e.stopNames.Get(ctx, stopID)
		if err != nil {
			log.Warn().Err(err).Str("stop", stopID).Msg("Failed to resolve stop name")
			continue
		}
		names[stopID] = name
	}

	return names
}
