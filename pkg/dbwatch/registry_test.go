package dbwatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// emits integers on an interval until cancelled
func countingUpstream(started *atomic.Int32) StartFunc[int] {
	return func(ctx context.Context, emit func(int)) error {
		started.Add(1)

		value := 0
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
				emit(value)
				value++
			}
		}
	}
}

func TestRegistrySharesUpstreamPerSignature(t *testing.T) {
	registry := NewRegistry[int]()

	var started atomic.Int32
	upstream := countingUpstream(&started)

	eventsA, _, cancelA := registry.Subscribe("sig", upstream)
	eventsB, _, cancelB := registry.Subscribe("sig", upstream)
	defer cancelA()
	defer cancelB()

	// Both subscribers see events from the single shared stream
	select {
	case <-eventsA:
	case <-time.After(time.Second):
		t.Fatal("subscriber A timed out")
	}
	select {
	case <-eventsB:
	case <-time.After(time.Second):
		t.Fatal("subscriber B timed out")
	}

	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, 2, registry.Subscriptions())
}

func TestRegistryDistinctSignaturesGetDistinctUpstreams(t *testing.T) {
	registry := NewRegistry[int]()

	var started atomic.Int32
	upstream := countingUpstream(&started)

	_, _, cancelA := registry.Subscribe("sig-a", upstream)
	_, _, cancelB := registry.Subscribe("sig-b", upstream)
	defer cancelA()
	defer cancelB()

	assert.Eventually(t, func() bool {
		return started.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestRegistryLastCancelStopsUpstream(t *testing.T) {
	registry := NewRegistry[int]()

	upstreamStopped := make(chan struct{})
	upstream := func(ctx context.Context, emit func(int)) error {
		<-ctx.Done()
		close(upstreamStopped)
		return ctx.Err()
	}

	_, _, cancelA := registry.Subscribe("sig", upstream)
	_, _, cancelB := registry.Subscribe("sig", upstream)

	cancelA()
	select {
	case <-upstreamStopped:
		t.Fatal("upstream stopped while a subscriber remained")
	case <-time.After(20 * time.Millisecond):
	}

	cancelB()
	select {
	case <-upstreamStopped:
	case <-time.After(time.Second):
		t.Fatal("upstream not stopped after last cancel")
	}

	assert.Equal(t, 0, registry.Subscriptions())
}

func TestRegistryCancelIsIdempotent(t *testing.T) {
	registry := NewRegistry[int]()

	_, _, cancel := registry.Subscribe("sig", func(ctx context.Context, emit func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	})

	cancel()
	cancel()

	assert.Equal(t, 0, registry.Subscriptions())
}

func TestRegistryPropagatesUpstreamFailure(t *testing.T) {
	registry := NewRegistry[int]()

	storeFailure := errors.New("change stream torn down")

	_, errsA, cancelA := registry.Subscribe("sig", func(ctx context.Context, emit func(int)) error {
		return storeFailure
	})
	defer cancelA()

	select {
	case err := <-errsA:
		assert.ErrorIs(t, err, storeFailure)
	case <-time.After(time.Second):
		t.Fatal("store failure not propagated")
	}

	assert.Equal(t, 0, registry.Subscriptions())
}

func TestRegistryReleasesContextOnUpstreamFailure(t *testing.T) {
	registry := NewRegistry[int]()

	var upstreamCtx context.Context
	_, errs, cancel := registry.Subscribe("sig", func(ctx context.Context, emit func(int)) error {
		upstreamCtx = ctx
		return errors.New("change stream torn down")
	})
	defer cancel()

	select {
	case <-errs:
	case <-time.After(time.Second):
		t.Fatal("store failure not propagated")
	}

	require.Eventually(t, func() bool {
		return upstreamCtx.Err() != nil
	}, time.Second, 5*time.Millisecond)
}

func TestPumpClosesSilentlyOnCancellation(t *testing.T) {
	registry := NewRegistry[int]()

	var started atomic.Int32
	events, errs, cancelSubscription := registry.Subscribe("sig", countingUpstream(&started))

	ctx, cancel := context.WithCancel(context.Background())
	out, outErrs := pump(ctx, events, errs, cancelSubscription)

	select {
	case <-out:
	case <-time.After(time.Second):
		t.Fatal("no event before cancellation")
	}

	cancel()

	// Cancellation closes the stream without surfacing an error
	assert.Eventually(t, func() bool {
		_, open := <-out
		return !open
	}, time.Second, 5*time.Millisecond)

	select {
	case err := <-outErrs:
		t.Fatalf("unexpected error after cancellation: %v", err)
	default:
	}

	assert.Equal(t, 0, registry.Subscriptions())
}

func TestUpdatedFieldPrefixExprToleratesMissingUpdateDescription(t *testing.T) {
	// Inserts and deletes carry no updateDescription; $objectToArray must
	// receive a document even then or the server errors the whole stream.
	expr := updatedFieldPrefixExpr("positions")

	comparison, ok := expr["$gt"].(bson.A)
	require.True(t, ok)

	size, ok := comparison[0].(bson.M)
	require.True(t, ok)
	filter, ok := size["$size"].(bson.M)
	require.True(t, ok)
	filterSpec, ok := filter["$filter"].(bson.M)
	require.True(t, ok)

	input, ok := filterSpec["input"].(bson.M)
	require.True(t, ok)
	operand, ok := input["$objectToArray"].(bson.M)
	require.True(t, ok, "operand must be guarded, not a raw field path")

	fallback, ok := operand["$ifNull"].(bson.A)
	require.True(t, ok)
	assert.Equal(t, "$updateDescription.updatedFields", fallback[0])
	assert.Equal(t, bson.M{}, fallback[1])
}

func TestUpdatedStopTimeIndices(t *testing.T) {
	updatedFields := bson.M{
		"stoptimes.2.predicteddeparturedatetime": "x",
		"stoptimes.2.predictedarrivaldatetime":   "x",
		"stoptimes.5.schedulerelationship":       "x",
		"modificationdatetime":                   "x",
		"stoptimes.99.stopid":                    "x", // out of range
	}

	indices := updatedStopTimeIndices(updatedFields, 10)
	assert.Equal(t, []int{2, 5}, indices)
}

func TestUpdatedStopTimeIndicesWholeArray(t *testing.T) {
	indices := updatedStopTimeIndices(bson.M{"stoptimes": "x"}, 3)
	assert.Equal(t, []int{0, 1, 2}, indices)
}

func TestPairSignatureIsOrderIndependent(t *testing.T) {
	pairA := TripStopPair{StopID: "stop-a"}
	pairB := TripStopPair{StopID: "stop-b"}

	require.Equal(t,
		pairSignature([]TripStopPair{pairA, pairB}),
		pairSignature([]TripStopPair{pairB, pairA}),
	)
}
