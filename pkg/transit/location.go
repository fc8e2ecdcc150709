package transit

import "math"

const earthRadiusMeters = 6371000

// Location is a GeoJSON point - Coordinates are [longitude, latitude]
type Location struct {
	Type        string    `json:"-"`
	Coordinates []float64 `json:"coordinates"`
}

func NewLocation(lng float64, lat float64) Location {
	return Location{
		Type:        "Point",
		Coordinates: []float64{lng, lat},
	}
}

func (l *Location) Longitude() float64 {
	return l.Coordinates[0]
}

func (l *Location) Latitude() float64 {
	return l.Coordinates[1]
}

// Haversine great-circle distance in meters
func (l *Location) Distance(other *Location) float64 {
	lat1 := l.Coordinates[1] * math.Pi / 180
	lat2 := other.Coordinates[1] * math.Pi / 180
	deltaLat := (other.Coordinates[1] - l.Coordinates[1]) * math.Pi / 180
	deltaLng := (other.Coordinates[0] - l.Coordinates[0]) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(deltaLng/2)*math.Sin(deltaLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// ProjectOntoSegment returns the closest point to l on the segment a-b using
// planar vector projection with the parameter clamped to [0,1]. Treating
// lng/lat as Cartesian is only valid at the sub-kilometre scale of shape
// segments.
func (l *Location) ProjectOntoSegment(a Location, b Location) Location {
	A := l.Coordinates[0] - a.Coordinates[0]
	B := l.Coordinates[1] - a.Coordinates[1]
	C := b.Coordinates[0] - a.Coordinates[0]
	D := b.Coordinates[1] - a.Coordinates[1]

	dot := A*C + B*D
	lenSq := C*C + D*D

	param := -1.0
	if lenSq != 0 {
		param = dot / lenSq
	}

	var xx, yy float64

	if param < 0 {
		xx = a.Coordinates[0]
		yy = a.Coordinates[1]
	} else if param > 1 {
		xx = b.Coordinates[0]
		yy = b.Coordinates[1]
	} else {
		xx = a.Coordinates[0] + param*C
		yy = a.Coordinates[1] + param*D
	}

	return NewLocation(xx, yy)
}
