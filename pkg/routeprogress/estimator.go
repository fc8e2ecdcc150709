package routeprogress

import (
	"errors"

	"github.com/Newish0/clairvoyance/pkg/transit"
)

var (
	ErrShapeTooShort   = errors.New("shape polyline must contain at least 2 points")
	ErrZeroLengthShape = errors.New("shape polyline has zero total length")
)

type Progress struct {
	// Fraction of the shape covered, in [0,1]
	PTraveled float64

	// Metres along the shape up to the projected vehicle position
	DistanceTraveled float64

	// Total shape length in metres
	TotalDistance float64
}

// Estimate projects the target location onto the shape polyline and returns
// how far along the shape it lies. The nearest vertex is found with
// great-circle distances; the projection onto the adjacent segment is planar
// vector math on raw lng/lat. That mix is only sound while shape segments
// stay well under a kilometre, which holds for real-world route shapes.
func Estimate(points []transit.ShapePoint, target transit.Location) (*Progress, error) {
	if len(points) < 2 {
		return nil, ErrShapeTooShort
	}

	vertices := make([]transit.Location, len(points))
	for i, point := range points {
		vertices[i] = point.Location()
	}

	nearestIndex := 0
	nearestDistance := target.Distance(&vertices[0])
	for i := 1; i < len(vertices); i++ {
		distance := target.Distance(&vertices[i])
		if distance < nearestDistance {
			nearestDistance = distance
			nearestIndex = i
		}
	}

	neighbourIndex := chooseNeighbour(vertices, target, nearestIndex)

	segmentStart := nearestIndex
	if neighbourIndex < nearestIndex {
		segmentStart = neighbourIndex
	}
	segmentEnd := segmentStart + 1

	projected := target.ProjectOntoSegment(vertices[segmentStart], vertices[segmentEnd])

	var distanceTraveled float64
	for i := 0; i < segmentStart; i++ {
		distanceTraveled += vertices[i].Distance(&vertices[i+1])
	}
	distanceTraveled += vertices[segmentStart].Distance(&projected)

	var totalDistance float64
	for i := 0; i < len(vertices)-1; i++ {
		totalDistance += vertices[i].Distance(&vertices[i+1])
	}

	if totalDistance == 0 {
		return nil, ErrZeroLengthShape
	}

	pTraveled := distanceTraveled / totalDistance
	if pTraveled < 0 {
		pTraveled = 0
	} else if pTraveled > 1 {
		pTraveled = 1
	}

	return &Progress{
		PTraveled:        pTraveled,
		DistanceTraveled: distanceTraveled,
		TotalDistance:    totalDistance,
	}, nil
}

func chooseNeighbour(vertices []transit.Location, target transit.Location, nearestIndex int) int {
	if nearestIndex == 0 {
		return 1
	}
	if nearestIndex == len(vertices)-1 {
		return nearestIndex - 1
	}

	previousDistance := target.Distance(&vertices[nearestIndex-1])
	nextDistance := target.Distance(&vertices[nearestIndex+1])

	if previousDistance < nextDistance {
		return nearestIndex - 1
	}
	return nearestIndex + 1
}
