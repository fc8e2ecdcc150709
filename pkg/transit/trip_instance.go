package transit

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TripInstanceState string

const (
	TripInstanceStateScheduled TripInstanceState = "SCHEDULED"
	TripInstanceStateActive    TripInstanceState = "ACTIVE"
	TripInstanceStateRemoved   TripInstanceState = "REMOVED"
	TripInstanceStateCompleted TripInstanceState = "COMPLETED"
)

type ScheduleRelationship string

const (
	ScheduleRelationshipScheduled ScheduleRelationship = "SCHEDULED"
	ScheduleRelationshipSkipped   ScheduleRelationship = "SKIPPED"
	ScheduleRelationshipNoData    ScheduleRelationship = "NO_DATA"
	ScheduleRelationshipCanceled  ScheduleRelationship = "CANCELED"
	ScheduleRelationshipAdded     ScheduleRelationship = "ADDED"
)

// TripInstance is one occurrence of a scheduled trip on a service date,
// carrying the static stop-time table with any realtime overlay applied by
// the sync process. The core reads these and appends position references -
// everything else on the document is owned by the realtime sync.
type TripInstance struct {
	ID primitive.ObjectID `bson:"_id,omitempty"`

	TripID      string
	RouteID     string
	AgencyID    string
	DirectionID int
	ShapeID     string

	StartDatetime time.Time

	State                TripInstanceState
	ScheduleRelationship ScheduleRelationship

	CurrentStopSequence int
	CurrentPosition     *Location

	StopTimes []StopTimeInstance

	// ObjectIDs of vehicle_positions documents, appended in ingestion order
	Positions []primitive.ObjectID

	CreationDatetime     time.Time
	ModificationDatetime time.Time
}

type StopTimeInstance struct {
	StopID       string
	StopSequence int

	ArrivalDatetime   time.Time
	DepartureDatetime time.Time

	PredictedArrivalDatetime   *time.Time
	PredictedDepartureDatetime *time.Time

	ScheduleRelationship ScheduleRelationship
}

// EffectiveDeparture prefers the realtime prediction when one exists.
func (s *StopTimeInstance) EffectiveDeparture() time.Time {
	if s.PredictedDepartureDatetime != nil {
		return *s.PredictedDepartureDatetime
	}
	return s.DepartureDatetime
}

func (s *StopTimeInstance) EffectiveArrival() time.Time {
	if s.PredictedArrivalDatetime != nil {
		return *s.PredictedArrivalDatetime
	}
	return s.ArrivalDatetime
}

func (t *TripInstance) IsRemoved() bool {
	return t.State == TripInstanceStateRemoved
}
