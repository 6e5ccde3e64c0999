package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// Prefix namespaces keys when the Redis instance is shared.
	Prefix string `yaml:"prefix"`
}

// redisEnvelope is the JSON document stored per key. Deadlines travel with the
// value so that Replace can re-apply the original policy.
type redisEnvelope[V any] struct {
	Value      V     `json:"value"`
	Size       int64 `json:"size"`
	AbsoluteMs int64 `json:"absoluteMs,omitempty"`
	SlidingMs  int64 `json:"slidingMs,omitempty"`
	AccessMs   int64 `json:"accessMs"`
}

func (e redisEnvelope[V]) timing() deadlines {
	d := deadlines{
		sliding:    time.Duration(e.SlidingMs) * time.Millisecond,
		lastAccess: time.UnixMilli(e.AccessMs),
	}
	if e.AbsoluteMs > 0 {
		d.absolute = time.UnixMilli(e.AbsoluteMs)
	}
	return d
}

// RedisStore implements Store on top of Redis. Values are JSON encoded and the
// Redis key TTL follows the entry's next deadline. Capacity is left to the
// server's maxmemory policy, so Policy.Size is recorded but not enforced.
type RedisStore[V any] struct {
	redisClient *redis.Client
	clock       clockwork.Clock
	prefix      string
	logger      zerolog.Logger
}

// NewRedisStore creates and connects a new RedisStore.
// It pings the Redis server to ensure connectivity before returning.
func NewRedisStore[V any](
	ctx context.Context,
	cfg *RedisConfig,
	clock clockwork.Clock,
	logger zerolog.Logger,
) (*RedisStore[V], error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, errors.CodeNetwork, "failed to connect to redis")
	}

	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")

	return &RedisStore[V]{
		redisClient: rdb,
		clock:       clock,
		prefix:      cfg.Prefix,
		logger:      logger.With().Str("component", "RedisStore").Logger(),
	}, nil
}

// touchAttempts bounds how often TryGet retries the sliding-deadline refresh
// when a concurrent writer changes the key between the read and the write.
const touchAttempts = 8

// TryGet returns the live value for key and resets its sliding deadline.
//
// The refresh is a WATCH/MULTI transaction that only commits when the key is
// unchanged since it was read, so a reader never writes back a value that a
// concurrent Replace has superseded. When every attempt collides, the value
// read last is returned without refreshing the deadline.
func (s *RedisStore[V]) TryGet(ctx context.Context, key string) (V, bool, error) {
	var (
		zero V
		env  redisEnvelope[V]
		ok   bool
	)
	for attempt := 0; attempt < touchAttempts; attempt++ {
		err := s.redisClient.Watch(ctx, func(tx *redis.Tx) error {
			now := s.clock.Now()
			var err error
			env, ok, err = s.read(ctx, tx, key, now)
			if err != nil || !ok {
				return err
			}
			env.AccessMs = now.UnixMilli()
			return s.touch(ctx, tx, key, env, now)
		}, s.redisKey(key))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.GetCode(err) == errors.CodeUnknown {
				err = errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("redis watch failed for key %s", key))
			}
			return zero, false, err
		}
		if !ok {
			return zero, false, nil
		}
		s.logger.Debug().Str("key", key).Msg("Redis cache hit.")
		return env.Value, true, nil
	}

	if !ok {
		return zero, false, nil
	}
	s.logger.Debug().Str("key", key).Msg("Redis cache hit without deadline refresh, key under write contention.")
	return env.Value, true, nil
}

// Set stores value under key with an explicit policy.
func (s *RedisStore[V]) Set(ctx context.Context, key string, value V, policy Policy) error {
	now := s.clock.Now()
	d := newDeadlines(policy, now)
	env := redisEnvelope[V]{
		Value:     value,
		Size:      policy.Size,
		SlidingMs: d.sliding.Milliseconds(),
		AccessMs:  now.UnixMilli(),
	}
	if !d.absolute.IsZero() {
		env.AbsoluteMs = d.absolute.UnixMilli()
	}
	_, err := s.write(ctx, key, env, now, false)
	return err
}

// Replace swaps the value of a live entry, keeping the deadlines it was written with.
func (s *RedisStore[V]) Replace(ctx context.Context, key string, value V) (bool, error) {
	now := s.clock.Now()
	env, ok, err := s.read(ctx, s.redisClient, key, now)
	if err != nil || !ok {
		return false, err
	}
	env.Value = value
	env.AccessMs = now.UnixMilli()
	return s.write(ctx, key, env, now, true)
}

// Remove deletes key from Redis.
func (s *RedisStore[V]) Remove(ctx context.Context, key string) error {
	if err := s.redisClient.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("redis del failed for key %s", key))
	}
	return nil
}

// Close closes the Redis client connection.
func (s *RedisStore[V]) Close() error {
	if s.redisClient != nil {
		s.logger.Info().Msg("Closing Redis client connection...")
		return s.redisClient.Close()
	}
	return nil
}

// redisConn is the subset of commands shared by *redis.Client and *redis.Tx.
type redisConn interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

func (s *RedisStore[V]) read(ctx context.Context, conn redisConn, key string, now time.Time) (redisEnvelope[V], bool, error) {
	var env redisEnvelope[V]
	data, err := conn.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return env, false, nil
		}
		return env, false, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("redis get failed for key %s", key))
	}
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to unmarshal cached data.")
		return env, false, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("failed to unmarshal data for key %s", key))
	}
	if env.timing().expired(now) {
		_ = conn.Del(ctx, s.redisKey(key)).Err()
		return env, false, nil
	}
	return env, true, nil
}

// write stores env with a TTL matching its next deadline. When onlyExisting is
// set the write is skipped if the key vanished in the meantime.
func (s *RedisStore[V]) write(ctx context.Context, key string, env redisEnvelope[V], now time.Time, onlyExisting bool) (bool, error) {
	data, ttl, err := s.encode(key, env, now)
	if err != nil {
		return false, err
	}
	if onlyExisting {
		ok, err := s.redisClient.SetXX(ctx, s.redisKey(key), data, ttl).Result()
		if err != nil {
			return false, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("failed to set in redis for key %s", key))
		}
		return ok, nil
	}
	if err := s.redisClient.Set(ctx, s.redisKey(key), data, ttl).Err(); err != nil {
		return false, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("failed to set in redis for key %s", key))
	}
	return true, nil
}

// touch writes env back inside tx's MULTI/EXEC. It fails with
// redis.TxFailedErr when the watched key changed after it was read.
func (s *RedisStore[V]) touch(ctx context.Context, tx *redis.Tx, key string, env redisEnvelope[V], now time.Time) error {
	data, ttl, err := s.encode(key, env, now)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetXX(ctx, s.redisKey(key), data, ttl)
		return nil
	})
	if err == nil || errors.Is(err, redis.TxFailedErr) {
		return err
	}
	return errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("failed to refresh redis key %s", key))
}

func (s *RedisStore[V]) encode(key string, env redisEnvelope[V], now time.Time) ([]byte, time.Duration, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.CodeInternal, fmt.Sprintf("failed to marshal data for key %s", key))
	}
	return data, env.timing().ttl(now), nil
}

func (s *RedisStore[V]) redisKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

var _ Store[int] = (*RedisStore[int])(nil)
