package nearby

import (
	"context"
	"errors"
	"time"

	"github.com/Newish0/clairvoyance/pkg/database"
	"github.com/Newish0/clairvoyance/pkg/transit"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// StopNameFetch loads a stop's display name on cache miss.
type StopNameFetch func(ctx context.Context, stopID string) (string, error)

// StopNameCache is a read-through cache over stop display names. It is an
// explicit dependency of the engine - the composition root decides cache
// store and lifetime, one cache per logical store connection. A miss
// triggers one underlying fetch per key in the common case; duplicate
// in-flight fetches under race are fine since the fetch is idempotent.
type StopNameCache struct {
	cache *cache.Cache[string]
	fetch StopNameFetch
}

func NewStopNameCache(names *cache.Cache[string], fetch StopNameFetch) *StopNameCache {
	return &StopNameCache{
		cache: names,
		fetch: fetch,
	}
}

// NewRedisStopNameCache wires the standard composition: redis-backed gocache
// with TTL eviction, misses loaded from the stops collection.
func NewRedisStopNameCache(redisClient *redis.Client, ttl time.Duration) *StopNameCache {
	redisStore := redisstore.NewRedis(redisClient, store.WithExpiration(ttl))

	return NewStopNameCache(cache.New[string](redisStore), fetchStopNameFromMongo)
}

func (c *StopNameCache) Get(ctx context.Context, stopID string) (string, error) {
	cacheKey := "stop_name:" + stopID

	cached, err := c.cache.Get(ctx, cacheKey)
	if err == nil && cached != "" {
		return cached, nil
	}

	name, err := c.fetch(ctx, stopID)
	if err != nil {
		return "", err
	}

	c.cache.Set(ctx, cacheKey, name)

	return name, nil
}

func fetchStopNameFromMongo(ctx context.Context, stopID string) (string, error) {
	stopsCollection := database.GetCollection("stops")

	var stop *transit.Stop
	err := stopsCollection.FindOne(ctx, bson.M{"primaryidentifier": stopID}).Decode(&stop)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return stop.Name, nil
}
