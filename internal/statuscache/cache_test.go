package statuscache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AwesomeGRV/ErrorBudget/internal/status"
)

func TestMemory_Basics(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cache := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)

	cache.Set(ctx, &Entry{
		ServiceID: 1,
		Statuses:  []status.SLOStatus{{SLOID: 10, Status: status.StatusHealthy}},
		UpdatedAt: now,
		TTL:       10 * time.Second,
	})
	assert.Equal(t, 1, cache.Size())

	e, ok := cache.Get(ctx, 1)
	require.True(t, ok)
	require.Len(t, e.Statuses, 1)
	assert.Equal(t, status.StatusHealthy, e.Statuses[0].Status)

	cache.Invalidate(ctx, 1)
	_, ok = cache.Get(ctx, 1)
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Size())
}

func TestMemory_Staleness(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	cache := NewMemory(func() time.Time { return now })
	ctx := context.Background()

	cache.Set(ctx, &Entry{ServiceID: 1, UpdatedAt: now, TTL: 10 * time.Second})

	now = now.Add(10 * time.Second)
	_, ok := cache.Get(ctx, 1)
	assert.True(t, ok, "an entry exactly at its TTL is still fresh")

	now = now.Add(time.Second)
	_, ok = cache.Get(ctx, 1)
	assert.False(t, ok)
}

func TestMemory_Concurrency(t *testing.T) {
	cache := NewMemory(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				cache.Set(ctx, &Entry{ServiceID: id, UpdatedAt: time.Now(), TTL: time.Minute})
				cache.Get(ctx, id)
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 10, cache.Size())
}

func TestRedis_UnavailableBackendOpensBreaker(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { rdb.Close() })

	cache := NewRedis(rdb, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, ok := cache.Get(ctx, 1)
		assert.False(t, ok)
	}
	assert.Equal(t, gobreaker.StateOpen, cache.State())

	// Open breaker short-circuits without touching Redis.
	cache.Set(ctx, &Entry{ServiceID: 1, UpdatedAt: time.Now(), TTL: time.Minute})
	_, ok := cache.Get(ctx, 1)
	assert.False(t, ok)
}

func TestRedis_StalenessUsesInjectedClock(t *testing.T) {
	updated := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(&Entry{
		ServiceID: 7,
		Statuses:  []status.SLOStatus{{SLOID: 3, Status: status.StatusHealthy}},
		UpdatedAt: updated,
		TTL:       time.Minute,
	})
	require.NoError(t, err)

	tests := map[string]struct {
		now   time.Time
		expOK bool
	}{
		"Within the TTL of the injected clock is fresh.": {now: updated.Add(30 * time.Second), expOK: true},
		"Past the TTL of the injected clock is stale.":   {now: updated.Add(2 * time.Minute), expOK: false},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cache := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), nil, func() time.Time { return test.now })

			e, ok := cache.decode(7, raw)
			require.Equal(t, test.expOK, ok)
			if ok {
				assert.Equal(t, int64(7), e.ServiceID)
				assert.Equal(t, status.StatusHealthy, e.Statuses[0].Status)
			}
		})
	}

	cache := NewRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), nil, nil)
	_, ok := cache.decode(7, []byte("{not json"))
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "errorbudget:slo-status:42", key(42))
}
