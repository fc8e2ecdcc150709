package ingest

import "errors"

var (
	// ErrDuplicateSample - same (trip, vehicle, timestamp) already persisted.
	// Benign; the caller skips the sample and must not retry.
	ErrDuplicateSample = errors.New("sample already ingested")

	// ErrNoMatchingTrip - no trip instance exists for the sample's trip id
	// within the matching window. Reference data gap; retrying won't help.
	ErrNoMatchingTrip = errors.New("no matching trip instance")

	// ErrNoShape - the matched trip has no resolvable shape.
	ErrNoShape = errors.New("trip has no resolvable shape")

	// ErrEstimationFailed - malformed coordinates or shape geometry.
	ErrEstimationFailed = errors.New("route progress estimation failed")
)
