package querycache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/agentic-memory/epimem/logging"
)

// RemoteCache is an optional Redis-backed tier sitting behind the
// in-process LRU Cache, for deployments sharing a query cache across
// multiple epimem instances. Keys are namespaced under "epimem:qc:" to
// avoid collision with other framework consumers of the same Redis
// instance, following the teacher's RedisClient namespacing convention
// (core/redis_client.go).
type RemoteCache struct {
	client    *redis.Client
	namespace string
	logger    logging.Logger
}

const remoteCacheNamespace = "epimem:qc"

// NewRemoteCache parses redisURL, verifies connectivity with a short
// Ping, and returns a ready RemoteCache.
func NewRemoteCache(ctx context.Context, redisURL string, logger logging.Logger) (*RemoteCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid query cache redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("query cache redis connection failed: %w", err)
	}

	if logger != nil {
		logger.Info("query cache redis tier connected", map[string]interface{}{"namespace": remoteCacheNamespace})
	}
	return &RemoteCache{client: client, namespace: remoteCacheNamespace, logger: logger}, nil
}

func (r *RemoteCache) formatKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%d", r.namespace, key.QueryText, key.Domain, key.TaskType, key.TimeRange, key.Limit)
}

// remoteEnvelope carries a cached value alongside the table
// dependencies it was computed from, so a dependency-scoped
// invalidation (InvalidateDeps) can recognize which remote entries a
// local Cache.Invalidate(deps...) call must also drop.
type remoteEnvelope struct {
	Value json.RawMessage `json:"value"`
	Deps  []Dependency    `json:"deps"`
}

// Get fetches and unmarshals a cached value into dest (a pointer),
// reporting false on miss or any deserialization failure.
func (r *RemoteCache) Get(ctx context.Context, key Key, dest interface{}) bool {
	raw, err := r.client.Get(ctx, r.formatKey(key)).Result()
	if err != nil {
		return false
	}
	var env remoteEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return false
	}
	if err := json.Unmarshal(env.Value, dest); err != nil {
		return false
	}
	return true
}

// Put stores value with the given dependencies and TTL. Failures are
// logged, not returned: the remote tier is a best-effort accelerator,
// never a dependency the hot path blocks on.
func (r *RemoteCache) Put(ctx context.Context, key Key, value interface{}, deps []Dependency, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	env, err := json.Marshal(remoteEnvelope{Value: payload, Deps: deps})
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.formatKey(key), env, ttl).Err(); err != nil && r.logger != nil {
		r.logger.WarnWithContext(ctx, "query cache redis tier write failed", map[string]interface{}{"error": err.Error()})
	}
}

// Invalidate deletes a single remote entry.
func (r *RemoteCache) Invalidate(ctx context.Context, key Key) {
	r.client.Del(ctx, r.formatKey(key))
}

// InvalidateDeps mirrors Cache.Invalidate on the remote tier: every
// entry under this namespace whose stored dependency set intersects
// deps (or every entry, if deps is empty) is deleted. Scans the
// namespace with SCAN rather than KEYS to avoid blocking the Redis
// event loop; best-effort, like Put.
func (r *RemoteCache) InvalidateDeps(ctx context.Context, deps ...Dependency) {
	pattern := r.namespace + ":*"
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			if r.logger != nil {
				r.logger.WarnWithContext(ctx, "query cache redis scan failed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		for _, k := range keys {
			if len(deps) == 0 {
				r.client.Del(ctx, k)
				continue
			}
			raw, err := r.client.Get(ctx, k).Result()
			if err != nil {
				continue
			}
			var env remoteEnvelope
			if err := json.Unmarshal([]byte(raw), &env); err != nil {
				continue
			}
			if dependsOnAny(env.Deps, deps) {
				r.client.Del(ctx, k)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

func dependsOnAny(entryDeps, invalidated []Dependency) bool {
	for _, d := range entryDeps {
		for _, inv := range invalidated {
			if d == inv {
				return true
			}
		}
	}
	return false
}

// Close releases the underlying connection.
func (r *RemoteCache) Close() error {
	return r.client.Close()
}
