package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const keyPrefix = "errorbudget:slo-status:"

func key(serviceID int64) string {
	return keyPrefix + strconv.FormatInt(serviceID, 10)
}

// Redis is a Cache shared between replicas. Calls go through a circuit
// breaker so an unavailable Redis costs one fast miss per request.
type Redis struct {
	rdb    *redis.Client
	cb     *gobreaker.CircuitBreaker
	now    func() time.Time
	logger *zap.Logger
}

// NewRedis creates a Redis-backed cache. A nil now uses time.Now.
func NewRedis(rdb *redis.Client, logger *zap.Logger, now func() time.Time) *Redis {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("statuscache")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "status-cache-redis",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})

	return &Redis{rdb: rdb, cb: cb, now: now, logger: logger}
}

// Get returns the entry of a service unless it is missing, stale or Redis is unavailable
func (r *Redis) Get(ctx context.Context, serviceID int64) (*Entry, bool) {
	res, err := r.cb.Execute(func() (interface{}, error) {
		raw, err := r.rdb.Get(ctx, key(serviceID)).Bytes()
		if errors.Is(err, redis.Nil) {
			// A miss is not a failure of the backend.
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		r.logger.Debug("status cache get failed", zap.Int64("service_id", serviceID), zap.Error(err))
		return nil, false
	}

	raw, _ := res.([]byte)
	if raw == nil {
		return nil, false
	}
	return r.decode(serviceID, raw)
}

// decode parses a stored entry and drops it when stale.
func (r *Redis) decode(serviceID int64, raw []byte) (*Entry, bool) {
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		r.logger.Warn("dropping undecodable status cache entry", zap.Int64("service_id", serviceID), zap.Error(err))
		return nil, false
	}
	if e.IsStale(r.now()) {
		return nil, false
	}
	return &e, true
}

// Set stores an entry with the entry's TTL as Redis expiry
func (r *Redis) Set(ctx context.Context, e *Entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		r.logger.Warn("failed to encode status cache entry", zap.Int64("service_id", e.ServiceID), zap.Error(err))
		return
	}

	_, err = r.cb.Execute(func() (interface{}, error) {
		return nil, r.rdb.Set(ctx, key(e.ServiceID), raw, e.TTL).Err()
	})
	if err != nil {
		r.logger.Debug("status cache set failed", zap.Int64("service_id", e.ServiceID), zap.Error(err))
	}
}

// Invalidate deletes the entry of a service
func (r *Redis) Invalidate(ctx context.Context, serviceID int64) {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.rdb.Del(ctx, key(serviceID)).Err()
	})
	if err != nil {
		r.logger.Debug("status cache invalidate failed", zap.Int64("service_id", serviceID), zap.Error(err))
	}
}

// State exposes the breaker state
func (r *Redis) State() gobreaker.State {
	return r.cb.State()
}
