package transit

type Shape struct {
	PrimaryIdentifier string

	Points []ShapePoint
}

// ShapePoint sequences are strictly increasing; consecutive points define
// the line segments of the route path.
type ShapePoint struct {
	Sequence     int
	Latitude     float64
	Longitude    float64
	DistTraveled float64
}

func (p *ShapePoint) Location() Location {
	return NewLocation(p.Longitude, p.Latitude)
}
