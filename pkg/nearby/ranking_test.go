package nearby

import (
	"context"
	"testing"
	"time"

	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func timePtr(v time.Time) *time.Time { return &v }

func departureCandidate(routeID string, directionID int, stopID string, departure time.Time, distance float64) Candidate {
	return Candidate{
		TripInstanceID: primitive.NewObjectID(),
		TripID:         "trip-" + stopID,
		RouteID:        routeID,
		DirectionID:    directionID,
		StopTime: transit.StopTimeInstance{
			StopID:            stopID,
			StopSequence:      5,
			DepartureDatetime: departure,
		},
		StopDistance: distance,
	}
}

func TestScoreWeightValidation(t *testing.T) {
	assert.NoError(t, ScoreWeight{Distance: 0.6, Time: 0.4}.Validate())
	assert.NoError(t, ScoreWeight{Distance: 1, Time: 0}.Validate())

	assert.ErrorIs(t, ScoreWeight{Distance: 0.5, Time: 0.4}.Validate(), ErrInvalidScoreWeight)
	assert.ErrorIs(t, ScoreWeight{Distance: 0.7, Time: 0.7}.Validate(), ErrInvalidScoreWeight)
}

func TestFindNearbyRejectsBadWeightsBeforeStoreAccess(t *testing.T) {
	// No database is connected in this test - an invalid weight must fail
	// before the engine ever touches the store
	engine := NewEngine(nil)

	_, err := engine.FindNearby(context.Background(), Query{
		Latitude:     48.45,
		Longitude:    -123.35,
		RadiusMeters: 500,
		ScoreWeight:  &ScoreWeight{Distance: 0.5, Time: 0.4},
	})
	assert.ErrorIs(t, err, ErrInvalidScoreWeight)
}

func TestFilterUpcomingDropsDepartedWithoutRealtime(t *testing.T) {
	now := time.Now().UTC()

	candidates := []Candidate{
		departureCandidate("95", 0, "stop-a", now.Add(-10*time.Minute), 100),
		departureCandidate("95", 0, "stop-a", now.Add(10*time.Minute), 100),
	}

	filterUpcoming(&candidates, now, 5*time.Minute)

	require.Len(t, candidates, 1)
	assert.True(t, candidates[0].StopTime.DepartureDatetime.After(now))
}

func TestFilterUpcomingPrefersPredictedDeparture(t *testing.T) {
	now := time.Now().UTC()

	// Static departure passed but the prediction pushes it into the future
	candidate := departureCandidate("95", 0, "stop-a", now.Add(-10*time.Minute), 100)
	candidate.StopTime.PredictedDepartureDatetime = timePtr(now.Add(3 * time.Minute))

	candidates := []Candidate{candidate}
	filterUpcoming(&candidates, now, 5*time.Minute)

	assert.Len(t, candidates, 1)
}

func TestFilterUpcomingKeepsVehicleApproaching(t *testing.T) {
	now := time.Now().UTC()

	// Departed per schedule, but a fresh position shows the vehicle has not
	// reached this stop yet
	candidate := departureCandidate("95", 0, "stop-a", now.Add(-10*time.Minute), 100)
	candidate.CurrentStopSequence = 3
	candidate.LatestPosition = &transit.VehiclePosition{Timestamp: now.Add(-1 * time.Minute)}

	candidates := []Candidate{candidate}
	filterUpcoming(&candidates, now, 5*time.Minute)
	require.Len(t, candidates, 1)

	// Same scenario with a stale position falls back to the schedule
	candidate.LatestPosition = &transit.VehiclePosition{Timestamp: now.Add(-20 * time.Minute)}
	candidates = []Candidate{candidate}
	filterUpcoming(&candidates, now, 5*time.Minute)
	assert.Empty(t, candidates)

	// Vehicle already past the stop
	candidate.LatestPosition = &transit.VehiclePosition{Timestamp: now.Add(-1 * time.Minute)}
	candidate.CurrentStopSequence = 8
	candidates = []Candidate{candidate}
	filterUpcoming(&candidates, now, 5*time.Minute)
	assert.Empty(t, candidates)
}

func TestScoreCandidatesCrossWeighting(t *testing.T) {
	now := time.Now().UTC()

	candidates := []Candidate{
		// Far stop, departing soon
		departureCandidate("95", 0, "stop-a", now.Add(5*time.Minute), 1000),
		// Near stop, departing later
		departureCandidate("95", 0, "stop-b", now.Add(20*time.Minute), 250),
	}

	scoreCandidates(candidates, now, ScoreWeight{Distance: 0.6, Time: 0.4})

	// normTimeDiff = 0.25, normDistance = 1: score = 0.6*0.25 + 0.4*1
	assert.InDelta(t, 0.55, candidates[0].Score, 1e-9)
	// normTimeDiff = 1, normDistance = 0.25: score = 0.6*1 + 0.4*0.25
	assert.InDelta(t, 0.7, candidates[1].Score, 1e-9)
}

func TestGroupCandidatesCapAndBestFirst(t *testing.T) {
	now := time.Now().UTC()

	var candidates []Candidate
	for i := 0; i < 5; i++ {
		candidate := departureCandidate("95", 0, "stop-a", now.Add(time.Duration(5+i*5)*time.Minute), 100)
		candidates = append(candidates, candidate)
	}

	scoreCandidates(candidates, now, ScoreWeight{Distance: 0.6, Time: 0.4})
	result := groupCandidates(candidates, map[string]string{"stop-a": "Douglas at Fort"})

	group := result["95"][0]
	require.Len(t, group, maxPerGroup)

	// Best (lowest score) first, ascending after
	assert.LessOrEqual(t, group[0].Score, group[1].Score)
	assert.LessOrEqual(t, group[1].Score, group[2].Score)
	assert.Equal(t, "Douglas at Fort", group[0].StopTime.StopName)
}

func TestGroupCandidatesSameStopRule(t *testing.T) {
	now := time.Now().UTC()

	candidates := []Candidate{
		departureCandidate("95", 0, "stop-a", now.Add(5*time.Minute), 100),
		// Lower-ranked candidate at a different stop is not added to the
		// group even though the cap has room
		departureCandidate("95", 0, "stop-b", now.Add(10*time.Minute), 400),
		departureCandidate("95", 0, "stop-a", now.Add(15*time.Minute), 100),
	}

	scoreCandidates(candidates, now, ScoreWeight{Distance: 0.6, Time: 0.4})
	result := groupCandidates(candidates, nil)

	group := result["95"][0]
	require.Len(t, group, 2)
	for _, trip := range group {
		assert.Equal(t, "stop-a", trip.StopTime.StopID)
	}
}

func TestGroupCandidatesSplitsRoutesAndDirections(t *testing.T) {
	now := time.Now().UTC()

	candidates := []Candidate{
		departureCandidate("95", 0, "stop-a", now.Add(5*time.Minute), 100),
		departureCandidate("95", 1, "stop-b", now.Add(5*time.Minute), 100),
		departureCandidate("14", 0, "stop-a", now.Add(5*time.Minute), 100),
	}

	scoreCandidates(candidates, now, ScoreWeight{Distance: 0.6, Time: 0.4})
	result := groupCandidates(candidates, nil)

	require.Len(t, result, 2)
	assert.Len(t, result["95"], 2)
	assert.Len(t, result["14"], 1)
}

func TestApplyDefaults(t *testing.T) {
	now := time.Now().UTC()

	q := Query{Latitude: 48.45, Longitude: -123.35, RadiusMeters: 500}
	q.applyDefaults(now)

	assert.Equal(t, now.Add(-12*time.Hour), q.MinDate)
	assert.Equal(t, now.Add(36*time.Hour), q.MaxDate)
	assert.Equal(t, 5*time.Minute, q.RealtimeMaxAge)
	require.NotNil(t, q.ScoreWeight)
	assert.NoError(t, q.ScoreWeight.Validate())
}
