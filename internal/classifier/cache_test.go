package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/optic/internal/intake"
	"github.com/example/optic/internal/logging"
)

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type stubClient struct {
	outcome Outcome
	calls   int
}

func (s *stubClient) Submit(ctx context.Context, file *intake.SelectedFile) Outcome {
	s.calls++
	return s.outcome
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func newTestCachedClient(next Client, cache Cache) *CachedClient {
	c := NewCachedClient(next, cache, time.Minute, zap.NewNop())
	c.initialBackoff = time.Millisecond
	c.maxBackoff = 2 * time.Millisecond
	return c
}

func TestCachedClientMissCallsThroughAndStores(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	next := &stubClient{outcome: Success(true, 0.8)}
	c := newTestCachedClient(next, cache)
	file := testFile()

	outcome := c.Submit(context.Background(), file)
	if outcome.Kind != KindSuccess || outcome.Confidence != 0.8 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if next.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", next.calls)
	}
	if len(cache.getKeys) != 1 {
		t.Fatalf("expected a cache miss not to be retried, got %d gets", len(cache.getKeys))
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != CacheKey(file.Data) {
		t.Fatalf("expected outcome cached under content key, got %v", cache.setKeys)
	}
}

func TestCachedClientHitSkipsUpstream(t *testing.T) {
	cache := &stubCache{getValues: []string{`{"is_licit":false,"confidence":0.66}`}}
	next := &stubClient{outcome: Failure("should not be called", nil)}
	c := newTestCachedClient(next, cache)

	outcome := c.Submit(context.Background(), testFile())
	if outcome.Kind != KindSuccess || outcome.IsLicit || outcome.Confidence != 0.66 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if next.calls != 0 {
		t.Fatalf("expected no upstream call, got %d", next.calls)
	}
}

func TestCachedClientDoesNotCacheFailures(t *testing.T) {
	cache := &stubCache{getErrs: []error{redis.Nil}}
	next := &stubClient{outcome: Failure(MessageModelNotReady, ErrServiceUnavailable)}
	c := newTestCachedClient(next, cache)

	outcome := c.Submit(context.Background(), testFile())
	if outcome.Kind != KindFailure || !errors.Is(outcome.Err, ErrServiceUnavailable) {
		t.Fatalf("expected failure to pass through, got %+v", outcome)
	}
	if len(cache.setKeys) != 0 {
		t.Fatalf("expected no cache writes, got %v", cache.setKeys)
	}
}

func TestCachedClientRetriesTransientGet(t *testing.T) {
	cache := &stubCache{
		getErrs:   []error{transientRedisError{}, nil},
		getValues: []string{"", `{"is_licit":true,"confidence":0.9}`},
	}
	next := &stubClient{}
	c := newTestCachedClient(next, cache)

	outcome := c.Submit(context.Background(), testFile())
	if outcome.Kind != KindSuccess {
		t.Fatalf("expected cached success after retry, got %+v", outcome)
	}
	if len(cache.getKeys) != 2 || cache.getKeys[0] != cache.getKeys[1] {
		t.Fatalf("expected retry against same key, got %v", cache.getKeys)
	}
}

func TestCachedClientSurvivesCacheOutage(t *testing.T) {
	cache := &stubCache{getErrs: []error{errors.New("connection refused")}, setErrs: []error{errors.New("connection refused")}}
	next := &stubClient{outcome: Success(true, 0.5)}
	c := newTestCachedClient(next, cache)

	outcome := c.Submit(context.Background(), testFile())
	if outcome.Kind != KindSuccess {
		t.Fatalf("expected upstream outcome despite cache outage, got %+v", outcome)
	}
	if next.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", next.calls)
	}
}

func TestWithRetryReturnsOperationError(t *testing.T) {
	c := newTestCachedClient(&stubClient{}, &stubCache{})

	attempts := 0
	err := c.withRetry(context.Background(), "cache.test", func() error {
		attempts++
		return errors.New("boom")
	})
	if attempts != 1 {
		t.Fatalf("expected permanent errors not to be retried, got %d attempts", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "cache.test" {
		t.Fatalf("expected OperationError for cache.test, got %v", err)
	}
}
