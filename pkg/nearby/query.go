package nearby

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Newish0/clairvoyance/pkg/util"
	iso8601 "github.com/senseyeio/duration"
)

// ErrInvalidScoreWeight - caller contract violation, rejected before any
// store query is issued.
var ErrInvalidScoreWeight = errors.New("score weights must sum to 1")

const defaultRealtimeMaxAge = 5 * time.Minute

var defaultScoreWeight = ScoreWeight{Distance: 0.6, Time: 0.4}

// ScoreWeight controls the blend of stop distance and temporal proximity.
// Note the deliberate cross pairing in the score formula: Distance weights
// the normalised time difference and Time weights the normalised distance.
type ScoreWeight struct {
	Distance float64
	Time     float64
}

func (w ScoreWeight) Validate() error {
	if math.Abs(w.Distance+w.Time-1) > 1e-9 {
		return fmt.Errorf("%w: got distance=%v time=%v", ErrInvalidScoreWeight, w.Distance, w.Time)
	}
	return nil
}

type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

type Query struct {
	Latitude  float64
	Longitude float64

	// RadiusMeters applies when Bbox is nil
	RadiusMeters float64
	Bbox         *BoundingBox

	// Zero values select the configured window defaults
	MinDate time.Time
	MaxDate time.Time

	// Oldest position still considered live; zero selects the default
	RealtimeMaxAge time.Duration

	ScoreWeight *ScoreWeight
}

// applyDefaults resolves the query against "now" and the window knobs.
// CLAIRVOYANCE_NEARBY_WINDOW_BACK / _FORWARD are ISO-8601 durations.
func (q *Query) applyDefaults(now time.Time) {
	if q.MinDate.IsZero() {
		q.MinDate = shiftBackward(now, util.EnvOrDefault("CLAIRVOYANCE_NEARBY_WINDOW_BACK", "PT12H"))
	}
	if q.MaxDate.IsZero() {
		q.MaxDate = shiftForward(now, util.EnvOrDefault("CLAIRVOYANCE_NEARBY_WINDOW_FORWARD", "PT36H"))
	}
	if q.RealtimeMaxAge == 0 {
		q.RealtimeMaxAge = defaultRealtimeMaxAge
	}
	if q.ScoreWeight == nil {
		weight := defaultScoreWeight
		q.ScoreWeight = &weight
	}
}

func shiftForward(now time.Time, iso string) time.Time {
	d, err := iso8601.ParseISO8601(iso)
	if err != nil {
		return now
	}
	return d.Shift(now)
}

func shiftBackward(now time.Time, iso string) time.Time {
	d, err := iso8601.ParseISO8601(iso)
	if err != nil {
		return now
	}
	return now.Add(-d.Shift(now).Sub(now))
}
