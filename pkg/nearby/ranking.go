package nearby

import (
	"math"
	"sort"
	"time"

	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/Newish0/clairvoyance/pkg/util"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Each (route, direction) group keeps at most this many departures
const maxPerGroup = 3

// Candidate is one (trip instance, stop time) pair serving a discovered stop.
type Candidate struct {
	TripInstanceID primitive.ObjectID
	TripID         string
	RouteID        string
	DirectionID    int
	StartDatetime  time.Time

	CurrentStopSequence int

	StopTime transit.StopTimeInstance

	// Metres from the query point to the stop
	StopDistance float64

	LatestPosition *transit.VehiclePosition

	Score float64
}

type RankedStopTime struct {
	transit.StopTimeInstance

	StopName string
	Distance float64
}

type RankedTrip struct {
	TripInstanceID primitive.ObjectID
	TripID         string
	RouteID        string
	DirectionID    int
	StartDatetime  time.Time

	Score float64

	StopTime RankedStopTime
}

// Result maps route id -> direction id -> departures ordered best-first.
type Result map[string]map[int][]RankedTrip

// filterUpcoming drops stop times the rider can no longer catch: the
// departure (predicted when available) is already past AND no fresh vehicle
// position places the vehicle at or before this stop.
func filterUpcoming(candidates *[]Candidate, now time.Time, realtimeMaxAge time.Duration) {
	util.InPlaceFilter(candidates, func(candidate Candidate) bool {
		if candidate.StopTime.EffectiveDeparture().After(now) {
			return true
		}

		position := candidate.LatestPosition
		if position == nil {
			return false
		}
		if now.Sub(position.Timestamp) > realtimeMaxAge {
			return false
		}

		return candidate.CurrentStopSequence <= candidate.StopTime.StopSequence
	})
}

// scoreCandidates normalises both axes across the whole candidate set and
// applies the cross-paired weights: the distance weight scales the time term
// and the time weight scales the distance term. That pairing is part of the
// engine's contract - do not swap it.
func scoreCandidates(candidates []Candidate, now time.Time, weight ScoreWeight) {
	var maxDistance, maxTimeDiff float64

	timeDiffs := make([]float64, len(candidates))
	for i, candidate := range candidates {
		timeDiffs[i] = math.Abs(candidate.StopTime.EffectiveDeparture().Sub(now).Seconds())

		maxDistance = math.Max(maxDistance, candidate.StopDistance)
		maxTimeDiff = math.Max(maxTimeDiff, timeDiffs[i])
	}

	for i := range candidates {
		var normDistance, normTimeDiff float64
		if maxDistance > 0 {
			normDistance = candidates[i].StopDistance / maxDistance
		}
		if maxTimeDiff > 0 {
			normTimeDiff = timeDiffs[i] / maxTimeDiff
		}

		candidates[i].Score = weight.Distance*normTimeDiff + weight.Time*normDistance
	}
}

// groupCandidates sorts by score and buckets by (route, direction). The best
// candidate of a group always stays; later candidates only join if they
// depart from the same stop as the best one, up to the group cap. That gives
// "next departures from your nearest stop for this route" rather than a
// flat top-N.
func groupCandidates(candidates []Candidate, stopNames map[string]string) Result {
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].Score < candidates[b].Score
	})

	result := Result{}

	for _, candidate := range candidates {
		directions, ok := result[candidate.RouteID]
		if !ok {
			directions = map[int][]RankedTrip{}
			result[candidate.RouteID] = directions
		}

		group := directions[candidate.DirectionID]

		if len(group) > 0 {
			best := group[0]
			if len(group) >= maxPerGroup || candidate.StopTime.StopID != best.StopTime.StopID {
				continue
			}
		}

		directions[candidate.DirectionID] = append(group, RankedTrip{
			TripInstanceID: candidate.TripInstanceID,
			TripID:         candidate.TripID,
			RouteID:        candidate.RouteID,
			DirectionID:    candidate.DirectionID,
			StartDatetime:  candidate.StartDatetime,

			Score: candidate.Score,

			StopTime: RankedStopTime{
				StopTimeInstance: candidate.StopTime,

				StopName: stopNames[candidate.StopTime.StopID],
				Distance: candidate.StopDistance,
			},
		})
	}

	return result
}
