package classifier

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/logging"
)

// Cache abstracts the Redis operations used by CachedClient to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis.
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

// CachedClient answers repeated submissions of identical bytes from Redis.
// Only Success outcomes are cached. Cache trouble is logged and never turns
// into a Failure; the wrapped client still makes at most one request.
type CachedClient struct {
	next           Client
	cache          Cache
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedOutcome struct {
	IsLicit    bool      `json:"is_licit"`
	Confidence float64   `json:"confidence"`
	CachedAt   time.Time `json:"cached_at"`
}

// NewCachedClient wraps next with a Redis lookaside cache.
func NewCachedClient(next Client, cache Cache, ttl time.Duration, logger *zap.Logger) *CachedClient {
	return &CachedClient{
		next:           next,
		cache:          cache,
		ttl:            ttl,
		logger:         logger.Named("classifier_cache"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CacheKey derives the cache key from the image content.
func CacheKey(data []byte) string {
	sum := sha1.Sum(data)
	return "classification:" + hex.EncodeToString(sum[:])
}

// Submit implements Client.
func (c *CachedClient) Submit(ctx context.Context, file *intake.SelectedFile) Outcome {
	key := CacheKey(file.Data)
	opLogger := c.logger.With(zap.String("file_id", file.ID.String()), zap.String("cache_key", key))

	var raw string
	err := c.withRetry(ctx, "cache.get.outcome", func() error {
		value, err := c.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		raw = value
		return nil
	})
	switch {
	case err == nil:
		var cached cachedOutcome
		if decodeErr := json.Unmarshal([]byte(raw), &cached); decodeErr != nil {
			opLogger.Warn("failed to decode cached outcome", zap.Error(decodeErr))
			break
		}
		if cached.Confidence < 0 || cached.Confidence > 1 {
			opLogger.Warn("ignoring cached outcome with invalid confidence", zap.Float64("confidence", cached.Confidence))
			break
		}
		opLogger.Debug("classification cache hit")
		return Success(cached.IsLicit, cached.Confidence)
	case errors.Is(err, redis.Nil):
	default:
		opLogger.Warn("failed to read classification cache", zap.Error(err))
	}

	outcome := c.next.Submit(ctx, file)
	if outcome.Kind != KindSuccess {
		return outcome
	}

	serialized, err := json.Marshal(cachedOutcome{
		IsLicit:    outcome.IsLicit,
		Confidence: outcome.Confidence,
		CachedAt:   time.Now().UTC(),
	})
	if err != nil {
		opLogger.Error("failed to serialize outcome", zap.Error(err))
		return outcome
	}
	if err := c.withRetry(ctx, "cache.set.outcome", func() error {
		return c.cache.Set(ctx, key, string(serialized), c.ttl)
	}); err != nil {
		opLogger.Warn("failed to cache classification outcome", zap.Error(err))
	}
	return outcome
}

func (c *CachedClient) withRetry(ctx context.Context, operation string, fn func() error) error {
	if c.retryAttempts <= 1 {
		return logging.NewOperationError(operation, "", fn())
	}

	backoff := c.initialBackoff
	opLogger := logging.WithOperation(c.logger, operation, "")
	var err error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, "", ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= c.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}
		if errors.Is(err, redis.Nil) {
			return logging.NewOperationError(operation, "", err)
		}

		if !isTransientError(err) || attempt == c.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, "", err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, "", err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
