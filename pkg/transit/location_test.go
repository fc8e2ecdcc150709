package transit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	// One degree of latitude at the equator is about 111.2km
	a := NewLocation(0, 0)
	b := NewLocation(0, 1)

	assert.InDelta(t, 111195, a.Distance(&b), 200)
	assert.InDelta(t, a.Distance(&b), b.Distance(&a), 1e-6)
	assert.Zero(t, a.Distance(&a))
}

func TestProjectOntoSegmentClamps(t *testing.T) {
	a := NewLocation(0, 0)
	b := NewLocation(1, 0)

	// Beyond either endpoint clamps to that endpoint
	before := NewLocation(-0.5, 0.2)
	assert.Equal(t, a.Coordinates, before.ProjectOntoSegment(a, b).Coordinates)

	after := NewLocation(1.5, -0.2)
	assert.Equal(t, b.Coordinates, after.ProjectOntoSegment(a, b).Coordinates)

	// Interior projection lands on the segment
	mid := NewLocation(0.25, 0.7)
	projected := mid.ProjectOntoSegment(a, b)
	assert.InDelta(t, 0.25, projected.Coordinates[0], 1e-9)
	assert.InDelta(t, 0, projected.Coordinates[1], 1e-9)
}

func TestProjectOntoDegenerateSegment(t *testing.T) {
	a := NewLocation(1, 1)

	target := NewLocation(2, 2)
	projected := target.ProjectOntoSegment(a, a)
	assert.Equal(t, a.Coordinates, projected.Coordinates)
}
