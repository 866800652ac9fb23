package metricstore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryConfig is the configuration of the in-memory store.
type MemoryConfig struct {
	// FineRetention is how long minute buckets are kept before compaction into hour buckets.
	FineRetention time.Duration
	// DefaultRetention applies to series without an explicit retention.
	DefaultRetention time.Duration
	// MaxRetention caps any per-series retention.
	MaxRetention time.Duration
	// ClockSkew is how far in the future a sample timestamp may be.
	ClockSkew   time.Duration
	TimeNowFunc func() time.Time
}

func (c *MemoryConfig) defaults() error {
	if c.FineRetention == 0 {
		c.FineRetention = 48 * time.Hour
	}
	if c.DefaultRetention == 0 {
		c.DefaultRetention = 30 * 24 * time.Hour
	}
	if c.MaxRetention == 0 {
		c.MaxRetention = 400 * 24 * time.Hour
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = 5 * time.Minute
	}
	if c.TimeNowFunc == nil {
		c.TimeNowFunc = time.Now
	}

	if c.FineRetention < FineResolution {
		return fmt.Errorf("fine retention must be at least %s", FineResolution)
	}
	if c.MaxRetention < c.DefaultRetention {
		return fmt.Errorf("max retention %s is below default retention %s", c.MaxRetention, c.DefaultRetention)
	}
	return nil
}

type bucket struct {
	num float64
	den float64
}

// rollup holds the buckets of one resolution, keyed by bucket start in Unix
// seconds. keys is kept sorted so range reads and expiry touch only the
// buckets involved.
type rollup struct {
	res     time.Duration
	buckets map[int64]*bucket
	keys    []int64
}

func newRollup(res time.Duration) *rollup {
	return &rollup{res: res, buckets: make(map[int64]*bucket)}
}

func (r *rollup) add(ts time.Time, num, den float64) {
	key := ts.Truncate(r.res).Unix()
	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{}
		r.buckets[key] = b
		i, _ := slices.BinarySearch(r.keys, key)
		r.keys = slices.Insert(r.keys, i, key)
	}
	b.num += num
	b.den += den
}

// overlapping returns the keys of buckets whose span intersects [start, end).
// A zero start or end leaves that side open.
func (r *rollup) overlapping(start, end time.Time) []int64 {
	lo, hi := 0, len(r.keys)
	if !start.IsZero() {
		first := start.Add(-r.res).Unix()
		lo = sort.Search(len(r.keys), func(i int) bool { return r.keys[i] > first })
	}
	if !end.IsZero() {
		last := end.Unix()
		hi = sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= last })
	}
	if lo >= hi {
		return nil
	}
	return r.keys[lo:hi]
}

// before returns the number of buckets starting before cutoff.
func (r *rollup) before(cutoff int64) int {
	return sort.Search(len(r.keys), func(i int) bool { return r.keys[i] >= cutoff })
}

// dropFirst removes the n oldest buckets.
func (r *rollup) dropFirst(n int) {
	for _, key := range r.keys[:n] {
		delete(r.buckets, key)
	}
	r.keys = slices.Delete(r.keys, 0, n)
}

type series struct {
	mu        sync.RWMutex
	retention time.Duration
	fine      *rollup
	coarse    *rollup
}

func newSeries(retention time.Duration) *series {
	return &series{
		retention: retention,
		fine:      newRollup(FineResolution),
		coarse:    newRollup(CoarseResolution),
	}
}

// Memory is an in-memory Store. Each series has its own lock, so appends
// to different SLOs never contend.
type Memory struct {
	cfg MemoryConfig

	mu         sync.RWMutex
	series     map[int64]*series
	retentions map[int64]time.Duration
}

// NewMemory returns an empty in-memory store.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid metric store configuration: %w", err)
	}

	return &Memory{
		cfg:        cfg,
		series:     make(map[int64]*series),
		retentions: make(map[int64]time.Duration),
	}, nil
}

// SetRetention sets how long samples of sloID are kept, capped at the configured maximum.
func (m *Memory) SetRetention(sloID int64, retention time.Duration) {
	if retention <= 0 {
		retention = m.cfg.DefaultRetention
	}
	if retention > m.cfg.MaxRetention {
		retention = m.cfg.MaxRetention
	}

	m.mu.Lock()
	m.retentions[sloID] = retention
	s := m.series[sloID]
	m.mu.Unlock()

	if s != nil {
		s.mu.Lock()
		s.retention = retention
		s.mu.Unlock()
	}
}

// Append validates and counts s into the bucket its timestamp falls in.
// The Resolution of s is ignored.
func (m *Memory) Append(ctx context.Context, sloID int64, s Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.cfg.TimeNowFunc()
	if err := m.validate(s, now); err != nil {
		return err
	}

	ser := m.getOrCreateSeries(sloID)

	ser.mu.Lock()
	defer ser.mu.Unlock()

	if s.Timestamp.Before(now.Add(-ser.retention)) {
		return fmt.Errorf("%w: timestamp %s is older than retention %s", ErrInvalidSample, s.Timestamp.Format(time.RFC3339), ser.retention)
	}

	// Late samples for already compacted time go straight into the hour bucket.
	if s.Timestamp.Before(now.Add(-m.cfg.FineRetention)) {
		ser.coarse.add(s.Timestamp, s.Numerator, s.Denominator)
	} else {
		ser.fine.add(s.Timestamp, s.Numerator, s.Denominator)
	}

	return nil
}

func (m *Memory) validate(s Sample, now time.Time) error {
	switch {
	case s.Timestamp.IsZero():
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	case math.IsNaN(s.Numerator) || math.IsNaN(s.Denominator) || math.IsInf(s.Numerator, 0) || math.IsInf(s.Denominator, 0):
		return fmt.Errorf("%w: values must be finite", ErrInvalidSample)
	case s.Denominator <= 0:
		return fmt.Errorf("%w: denominator must be positive, got %g", ErrInvalidSample, s.Denominator)
	case s.Numerator < 0:
		return fmt.Errorf("%w: numerator must not be negative, got %g", ErrInvalidSample, s.Numerator)
	case s.Numerator > s.Denominator:
		return fmt.Errorf("%w: numerator %g exceeds denominator %g", ErrInvalidSample, s.Numerator, s.Denominator)
	case s.Timestamp.After(now.Add(m.cfg.ClockSkew)):
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidSample, s.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func (m *Memory) getOrCreateSeries(sloID int64) *series {
	m.mu.RLock()
	s, ok := m.series[sloID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.series[sloID]; ok {
		return s
	}
	retention, ok := m.retentions[sloID]
	if !ok {
		retention = m.cfg.DefaultRetention
	}
	s = newSeries(retention)
	m.series[sloID] = s
	return s
}

// Query returns a snapshot of the rollups of sloID whose span overlaps
// [start, end). An hour rollup at either edge is returned whole.
func (m *Memory) Query(ctx context.Context, sloID int64, start, end time.Time) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	ser, ok := m.series[sloID]
	m.mu.RUnlock()
	if !ok {
		return []Sample{}, nil
	}

	ser.mu.RLock()
	coarse := ser.coarse.overlapping(start, end)
	fine := ser.fine.overlapping(start, end)
	samples := make([]Sample, 0, len(coarse)+len(fine))
	collect := func(r *rollup, keys []int64) {
		for _, key := range keys {
			b := r.buckets[key]
			samples = append(samples, Sample{
				Timestamp:   time.Unix(key, 0).UTC(),
				Numerator:   b.num,
				Denominator: b.den,
				Resolution:  r.res,
			})
		}
	}
	collect(ser.coarse, coarse)
	collect(ser.fine, fine)
	ser.mu.RUnlock()

	// Late data can leave an hour bucket after the oldest minute buckets.
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// Compact moves minute buckets older than the fine retention into hour buckets
// and drops buckets older than the series retention.
func (m *Memory) Compact(ctx context.Context, now time.Time) (CompactStats, error) {
	m.mu.RLock()
	all := make([]*series, 0, len(m.series))
	for _, s := range m.series {
		all = append(all, s)
	}
	m.mu.RUnlock()

	var stats CompactStats
	fineCutoff := now.Add(-m.cfg.FineRetention).Unix()

	for _, ser := range all {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ser.mu.Lock()
		n := ser.fine.before(fineCutoff)
		for _, key := range ser.fine.keys[:n] {
			b := ser.fine.buckets[key]
			ser.coarse.add(time.Unix(key, 0), b.num, b.den)
		}
		ser.fine.dropFirst(n)
		stats.Moved += n

		expired := now.Add(-ser.retention).Unix()
		for _, r := range []*rollup{ser.fine, ser.coarse} {
			n := r.before(expired)
			r.dropFirst(n)
			stats.Dropped += n
		}
		ser.mu.Unlock()
	}

	return stats, nil
}
