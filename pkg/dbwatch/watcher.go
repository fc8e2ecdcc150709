package dbwatch

import (
	"context"

	"github.com/Newish0/clairvoyance/pkg/transit"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PositionUpdate is emitted whenever a new vehicle position lands on a trip
// instance within the watched scope.
type PositionUpdate struct {
	TripInstanceID primitive.ObjectID
	Position       *transit.VehiclePosition
}

// StopTimeUpdate is emitted when a watched (trip, stop) pair's stop time
// record changes, carrying the updated record.
type StopTimeUpdate struct {
	TripInstanceID primitive.ObjectID
	StopTime       transit.StopTimeInstance
}

// Watcher owns the change-feed registries. One Watcher per process; callers
// share its upstream streams through the filter-signature registry.
type Watcher struct {
	positions *Registry[PositionUpdate]
	stopTimes *Registry[StopTimeUpdate]
}

func NewWatcher() *Watcher {
	return &Watcher{
		positions: NewRegistry[PositionUpdate](),
		stopTimes: NewRegistry[StopTimeUpdate](),
	}
}

// WatchLivePositions yields new positions for trips matching the scope until
// ctx is cancelled. Cancellation closes the event channel silently; a
// store-side stream failure is delivered on the error channel before the
// event channel closes.
func (w *Watcher) WatchLivePositions(ctx context.Context, scope PositionScope) (<-chan PositionUpdate, <-chan error) {
	events, errs, cancelSubscription := w.positions.Subscribe(scope.signature(), watchPositionsUpstream(scope))

	return pump(ctx, events, errs, cancelSubscription)
}

// WatchLiveStopTimes yields updated stop-time records for the requested
// (trip instance, stop) pairs. Same termination semantics as
// WatchLivePositions.
func (w *Watcher) WatchLiveStopTimes(ctx context.Context, pairs []TripStopPair) (<-chan StopTimeUpdate, <-chan error) {
	events, errs, cancelSubscription := w.stopTimes.Subscribe(pairSignature(pairs), watchStopTimesUpstream(pairs))

	return pump(ctx, events, errs, cancelSubscription)
}

// pump bridges a registry subscription to a caller-facing channel pair,
// tying subscription lifetime to the caller's context.
func pump[T any](ctx context.Context, events <-chan T, errs <-chan error, cancelSubscription func()) (<-chan T, <-chan error) {
	out := make(chan T)
	outErrs := make(chan error, 1)

	go func() {
		defer close(out)
		defer cancelSubscription()

		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errs:
				outErrs <- err
				return
			case event := <-events:
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, outErrs
}
