package transit

import (
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// VehiclePositionSample is the raw telemetry unit coming off the realtime
// queue. Everything except trip_id and vehicle_id is optional on the wire;
// a missing timestamp defaults to ingestion-time now.
type VehiclePositionSample struct {
	UpdateID  string `json:"update_id,omitempty"`
	TripID    string `json:"trip_id"`
	VehicleID string `json:"vehicle_id"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`

	Timestamp *time.Time `json:"timestamp,omitempty"`

	IsUpdated bool `json:"is_updated,omitempty"`
}

func (s VehiclePositionSample) MarshalBinary() ([]byte, error) {
	return json.Marshal(s)
}

// DedupKey identifies a sample for exact-duplicate rejection.
func (s *VehiclePositionSample) DedupKey() string {
	var ts int64
	if s.Timestamp != nil {
		ts = s.Timestamp.Unix()
	}
	return fmt.Sprintf("%s:%s:%d", s.TripID, s.VehicleID, ts)
}

// VehiclePosition is the persisted, enriched form of a sample. Records are
// append-only - a new sample is always a new document, forming a time series
// per trip instance.
type VehiclePosition struct {
	ID primitive.ObjectID `bson:"_id,omitempty"`

	TripInstanceID primitive.ObjectID
	TripID         string
	VehicleID      string

	Location Location
	Bearing  float64
	Speed    float64

	// Fraction of the trip shape covered, in [0,1]
	PTraveled float64

	Timestamp time.Time

	CreationDatetime time.Time
}
